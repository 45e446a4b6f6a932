package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"clipflow/internal/media/ffprobe"
)

type memStorage struct {
	mu      sync.Mutex
	sources map[string][]byte
	objects map[string][]byte
	types   map[string]string
	order   []string
	// failPut makes PutObject fail for matching keys.
	failPut func(key string) bool
}

func newMemStorage() *memStorage {
	return &memStorage{sources: map[string][]byte{}, objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStorage) Download(_ context.Context, key string, w io.Writer) (int64, error) {
	m.mu.Lock()
	data, ok := m.sources[key]
	m.mu.Unlock()
	if !ok {
		return 0, errors.New("NoSuchKey")
	}
	return io.Copy(w, bytes.NewReader(data))
}

func (m *memStorage) PutObject(_ context.Context, key string, body io.Reader, contentType string) error {
	if m.failPut != nil && m.failPut(key) {
		return fmt.Errorf("put %s: connection reset", key)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	m.order = append(m.order, key)
	return nil
}

func (m *memStorage) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// fakeEncoder writes a playlist and a fixed number of segments per rendition.
type fakeEncoder struct {
	mu       sync.Mutex
	segments int
	fail     map[string]error
	calls    []string
}

func (f *fakeEncoder) Encode(_ context.Context, req EncodeRequest) error {
	f.mu.Lock()
	f.calls = append(f.calls, req.Rendition.Label)
	f.mu.Unlock()
	if err := f.fail[req.Rendition.Label]; err != nil {
		return err
	}
	if _, err := os.Stat(req.Source); err != nil {
		return err
	}
	var playlist strings.Builder
	playlist.WriteString("#EXTM3U\n#EXT-X-PLAYLIST-TYPE:VOD\n")
	for i := 0; i < f.segments; i++ {
		name := fmt.Sprintf("seg_%05d.ts", i)
		if err := os.WriteFile(filepath.Join(req.OutputDir, name), []byte(req.Rendition.Label+name), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(&playlist, "#EXTINF:10.0,\n%s\n", name)
	}
	playlist.WriteString("#EXT-X-ENDLIST\n")
	return os.WriteFile(filepath.Join(req.OutputDir, playlistName), []byte(playlist.String()), 0o644)
}

func probeResult(width, height int) Prober {
	return func(context.Context, string) (ffprobe.Result, error) {
		return ffprobe.Result{Streams: []ffprobe.Stream{
			{CodecType: "video", Width: width, Height: height},
			{CodecType: "audio", Channels: 2},
		}}, nil
	}
}

type fakePoster struct {
	err   error
	calls int
}

func (f *fakePoster) Enabled() bool { return true }

func (f *fakePoster) Generate(_ context.Context, sessionID, _, _ string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []string{"videos/" + sessionID + "/poster/poster_320.jpg"}, nil
}
