package models

import "sort"

// Rendition is one encoded variant stored under the session's HLS prefix.
type Rendition struct {
	Label  string `json:"label"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	// TargetHeight is the ladder height the rendition was encoded for. Height
	// can be lower when the source aspect ratio is wider than the target's.
	TargetHeight int `json:"target_height,omitempty"`
	// Bandwidth is the peak bits per second advertised in the master playlist.
	Bandwidth        int    `json:"bandwidth"`
	AverageBandwidth int    `json:"average_bandwidth,omitempty"`
	ManifestKey      string `json:"manifest_key"`
}

// RenditionSet is the published result of a transcode.
type RenditionSet struct {
	MasterKey  string      `json:"master_key"`
	Renditions []Rendition `json:"renditions"`
	PosterKeys []string    `json:"poster_keys,omitempty"`
}

// SortByBandwidth orders renditions ascending, the order players and the
// playback resolver rely on.
func (s *RenditionSet) SortByBandwidth() {
	sort.SliceStable(s.Renditions, func(i, j int) bool {
		return s.Renditions[i].Bandwidth < s.Renditions[j].Bandwidth
	})
}

// NominalHeight is the height tier ceilings are checked against. Sets
// stored before TargetHeight was recorded fall back to the encoded height.
func (r Rendition) NominalHeight() int {
	if r.TargetHeight > 0 {
		return r.TargetHeight
	}
	return r.Height
}

// Within reports whether r is allowed under maxHeight. maxHeight <= 0 means
// no ceiling.
func (r Rendition) Within(maxHeight int) bool {
	return maxHeight <= 0 || r.NominalHeight() <= maxHeight
}

// Highest returns the highest rendition whose nominal height does not
// exceed maxHeight. maxHeight <= 0 means no ceiling.
func (s *RenditionSet) Highest(maxHeight int) (Rendition, bool) {
	var best Rendition
	found := false
	for _, r := range s.Renditions {
		if !r.Within(maxHeight) {
			continue
		}
		if !found || r.Bandwidth > best.Bandwidth {
			best = r
			found = true
		}
	}
	return best, found
}
