package transcode

import (
	"fmt"
	"strings"

	"clipflow/internal/config"
	"clipflow/internal/models"
)

// MasterPlaylist renders the top-level HLS playlist. Entries are written in
// the order given, which callers keep ascending by bandwidth.
func MasterPlaylist(renditions []models.Rendition) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, r := range renditions {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,AVERAGE-BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=%q\n",
			r.Bandwidth, r.AverageBandwidth, r.Width, r.Height, r.Label)
		fmt.Fprintf(&b, "%s/%s\n", r.Label, playlistName)
	}
	return b.String()
}

// describe builds the published entry for a rendition encoded from a source
// of srcW x srcH.
func describe(sessionID string, r config.Rendition, srcW, srcH int) models.Rendition {
	w, h := fit(srcW, srcH, r.Width, r.Height)
	avg := (r.VideoBitrateKbps + r.AudioBitrateKbps) * 1000
	return models.Rendition{
		Label:            r.Label,
		Width:            w,
		Height:           h,
		TargetHeight:     r.Height,
		Bandwidth:        avg * 11 / 10,
		AverageBandwidth: avg,
		ManifestKey:      RenditionKey(sessionID, r.Label, playlistName),
	}
}

// fit mirrors ffmpeg's force_original_aspect_ratio=decrease followed by
// rounding down to even dimensions.
func fit(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return maxW &^ 1, maxH &^ 1
	}
	w, h := maxW, srcH*maxW/srcW
	if h > maxH {
		w, h = srcW*maxH/srcH, maxH
	}
	return w &^ 1, h &^ 1
}

// selectRenditions drops targets taller than the source when skipUpscale is
// set, always keeping the lowest one.
func selectRenditions(all []config.Rendition, srcHeight int, skipUpscale bool) []config.Rendition {
	if !skipUpscale || srcHeight <= 0 || len(all) == 0 {
		return all
	}
	out := make([]config.Rendition, 0, len(all))
	for _, r := range all {
		if r.Height <= srcHeight {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		lowest := all[0]
		for _, r := range all[1:] {
			if r.Height < lowest.Height {
				lowest = r
			}
		}
		out = append(out, lowest)
	}
	return out
}
