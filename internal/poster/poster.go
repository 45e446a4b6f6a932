// Package poster extracts a still frame from a source video and publishes it
// at the configured widths.
package poster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"clipflow/internal/config"
)

// Storage is where posters are written.
type Storage interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentType string) error
}

type Generator struct {
	ffmpeg  string
	storage Storage
	opts    config.PosterOptions
}

func NewGenerator(ffmpeg string, storage Storage, opts config.PosterOptions) *Generator {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &Generator{ffmpeg: ffmpeg, storage: storage, opts: opts}
}

func (g *Generator) Enabled() bool { return g.opts.Enabled && len(g.opts.Sizes) > 0 }

// Generate grabs one frame of source into workDir and uploads a resized copy
// per configured size under videos/{sessionID}/poster/. It returns the keys
// written.
func (g *Generator) Generate(ctx context.Context, sessionID, source, workDir string) ([]string, error) {
	frame, err := g.extractFrame(ctx, source, workDir)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("failed to decode poster frame: %w", err)
	}

	keys := make([]string, 0, len(g.opts.Sizes))
	for _, sizeStr := range g.opts.Sizes {
		width, err := strconv.Atoi(strings.TrimSpace(sizeStr))
		if err != nil || width <= 0 {
			return keys, fmt.Errorf("invalid poster size: %q", sizeStr)
		}

		data, err := Render(img, width, g.opts.Quality, g.opts.ConvertTo)
		if err != nil {
			return keys, fmt.Errorf("failed to render poster for size %d: %w", width, err)
		}

		key := Key(sessionID, width, g.opts.ConvertTo)
		if err := g.storage.PutObject(ctx, key, bytes.NewReader(data), ContentType(g.opts.ConvertTo)); err != nil {
			return keys, fmt.Errorf("failed to upload poster for size %d: %w", width, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (g *Generator) extractFrame(ctx context.Context, source, workDir string) ([]byte, error) {
	out := filepath.Join(workDir, "poster.png")
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", strconv.FormatFloat(g.opts.OffsetSecond, 'f', 3, 64),
		"-i", source,
		"-frames:v", "1",
		out,
	}
	cmd := exec.CommandContext(ctx, g.ffmpeg, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame extraction: %w: %s", err, strings.TrimSpace(string(output)))
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read poster frame: %w", err)
	}
	return data, nil
}

// Render scales img to width, keeping its aspect ratio, and encodes it as
// convertTo. Unknown formats fall back to JPEG.
func Render(img image.Image, width, quality int, convertTo string) ([]byte, error) {
	resized := imaging.Resize(img, width, 0, imaging.Lanczos)

	var buf bytes.Buffer
	var err error
	switch normalize(convertTo) {
	case "png":
		err = png.Encode(&buf, resized)
	case "webp":
		err = webp.Encode(&buf, resized, &webp.Options{Quality: float32(quality)})
	default:
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: quality})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode poster: %w", err)
	}
	return buf.Bytes(), nil
}

// Key is the object key of the poster of sessionID at width.
func Key(sessionID string, width int, convertTo string) string {
	return fmt.Sprintf("videos/%s/poster/poster_%d.%s", sessionID, width, normalize(convertTo))
}

func ContentType(convertTo string) string {
	switch normalize(convertTo) {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func normalize(convertTo string) string {
	f := strings.ToLower(strings.TrimSpace(convertTo))
	switch {
	case strings.Contains(f, "png"):
		return "png"
	case strings.Contains(f, "webp"):
		return "webp"
	default:
		return "jpg"
	}
}
