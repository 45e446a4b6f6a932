package poster

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipflow/internal/config"
)

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStorage) PutObject(_ context.Context, key string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestRender(t *testing.T) {
	src := testImage(200, 100)

	tests := []struct {
		name      string
		convertTo string
		format    string
	}{
		{"jpeg", "jpeg", "jpeg"},
		{"png", "png", "png"},
		{"unknown falls back to jpeg", "tiff", "jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Render(src, 50, 80, tt.convertTo)
			require.NoError(t, err)

			cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, tt.format, format)
			assert.Equal(t, 50, cfg.Width)
			assert.Equal(t, 25, cfg.Height)
		})
	}
}

func TestRenderWebP(t *testing.T) {
	data, err := Render(testImage(64, 64), 32, 75, "webp")
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))
}

func TestKeyAndContentType(t *testing.T) {
	assert.Equal(t, "videos/s1/poster/poster_640.jpg", Key("s1", 640, "jpeg"))
	assert.Equal(t, "videos/s1/poster/poster_320.webp", Key("s1", 320, "webp"))
	assert.Equal(t, "image/png", ContentType("png"))
	assert.Equal(t, "image/jpeg", ContentType(""))
}

func TestGenerate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub")
	}
	dir := t.TempDir()

	// The stub ffmpeg copies a prepared PNG to its last argument.
	frame := filepath.Join(dir, "frame.png")
	f, err := os.Create(frame)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, testImage(160, 90)))
	require.NoError(t, f.Close())

	stub := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\ncp " + frame + " \"$last\"\n"
	require.NoError(t, os.WriteFile(stub, []byte(script), 0o755))

	store := newMemStorage()
	gen := NewGenerator(stub, store, config.PosterOptions{
		Enabled: true, OffsetSecond: 1, Sizes: []string{"80", "40"}, Quality: 85, ConvertTo: "png",
	})
	require.True(t, gen.Enabled())

	work := t.TempDir()
	keys, err := gen.Generate(context.Background(), "s1", filepath.Join(dir, "source.mp4"), work)
	require.NoError(t, err)
	assert.Equal(t, []string{"videos/s1/poster/poster_80.png", "videos/s1/poster/poster_40.png"}, keys)
	assert.Equal(t, "image/png", store.types[keys[0]])

	cfg, _, err := image.DecodeConfig(bytes.NewReader(store.objects[keys[1]]))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
}

func TestGenerateInvalidSize(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub")
	}
	dir := t.TempDir()
	frame := filepath.Join(dir, "frame.png")
	f, err := os.Create(frame)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, testImage(16, 16)))
	require.NoError(t, f.Close())

	stub := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\nfor last; do :; done\ncp "+frame+" \"$last\"\n"), 0o755))

	gen := NewGenerator(stub, newMemStorage(), config.PosterOptions{Enabled: true, Sizes: []string{"abc"}})
	_, err = gen.Generate(context.Background(), "s1", "in.mp4", t.TempDir())
	assert.Error(t, err)
}
