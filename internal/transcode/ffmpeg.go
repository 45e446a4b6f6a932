package transcode

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"clipflow/internal/config"
)

const (
	playlistName   = "index.m3u8"
	segmentPattern = "seg_%05d.ts"
)

// EncodeRequest is one rendition encode of a local source.
type EncodeRequest struct {
	Source    string
	OutputDir string
	Rendition config.Rendition
}

// Encoder writes index.m3u8 and its .ts segments for one rendition into
// OutputDir.
type Encoder interface {
	Encode(ctx context.Context, req EncodeRequest) error
}

// FFmpegEncoder shells out to ffmpeg's HLS muxer.
type FFmpegEncoder struct {
	Binary   string
	Encoding config.EncodingOptions
}

func (e *FFmpegEncoder) Encode(ctx context.Context, req EncodeRequest) error {
	source, err := filepath.Abs(req.Source)
	if err != nil {
		return fmt.Errorf("resolve source path: %w", err)
	}
	binary := strings.TrimSpace(e.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, binary, e.Args(source, req.Rendition)...)
	cmd.Dir = req.OutputDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg %s: %w: %s", req.Rendition.Label, err, tail(output, 512))
	}
	return nil
}

// Args builds the ffmpeg command line for one rendition. Output paths are
// relative to the working directory so the playlist references bare segment
// names.
func (e *FFmpegEncoder) Args(source string, r config.Rendition) []string {
	enc := e.Encoding
	segment := enc.SegmentSeconds
	if segment <= 0 {
		segment = 10
	}
	preset := enc.Preset
	if preset == "" {
		preset = "veryfast"
	}
	video := kbps(r.VideoBitrateKbps)

	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", source,
		"-map", "0:v:0", "-map", "0:a:0?",
		"-vf", fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2", r.Width, r.Height),
		"-c:v", "libx264", "-preset", preset, "-profile:v", "main", "-pix_fmt", "yuv420p",
		"-b:v", video, "-minrate", video, "-maxrate", video, "-bufsize", kbps(2 * r.VideoBitrateKbps),
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", segment),
		"-sc_threshold", "0",
		"-c:a", "aac", "-ar", strconv.Itoa(enc.AudioSampleRate), "-ac", strconv.Itoa(enc.AudioChannels), "-b:a", kbps(r.AudioBitrateKbps),
		"-f", "hls",
		"-hls_time", strconv.Itoa(segment),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", segmentPattern,
		playlistName,
	}
}

func kbps(v int) string { return strconv.Itoa(v) + "k" }

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}
