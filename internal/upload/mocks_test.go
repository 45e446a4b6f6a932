package upload

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"clipflow/internal/config"
	"clipflow/internal/logging"
	"clipflow/internal/models"
	"clipflow/internal/s3"
	"clipflow/internal/session"
	"clipflow/internal/transcode"
)

// MockStorage is an in-memory object store. Func fields override the
// default behaviour of single calls.
type MockStorage struct {
	mu        sync.Mutex
	nextID    int
	objects   map[string]bool
	uploads   map[string]string
	completed map[string][]s3.PartInfo
	aborted   []string
	copies    []string
	deletes   []string

	createMultipartUploadFunc   func(ctx context.Context, key string, headers map[string]string) (string, error)
	completeMultipartUploadFunc func(ctx context.Context, key, uploadID string, parts []s3.PartInfo) error
	copyObjectFunc              func(ctx context.Context, src, dst string) error
	presignUploadPartFunc       func(ctx context.Context, key, uploadID string, partNumber int32) (string, error)
	abortMultipartUploadFunc    func(ctx context.Context, key, uploadID string) error
}

func NewMockStorage() *MockStorage {
	return &MockStorage{
		objects:   map[string]bool{},
		uploads:   map[string]string{},
		completed: map[string][]s3.PartInfo{},
	}
}

func (m *MockStorage) CreateMultipartUpload(ctx context.Context, key string, headers map[string]string) (string, error) {
	if m.createMultipartUploadFunc != nil {
		return m.createMultipartUploadFunc(ctx, key, headers)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("upload-%d", m.nextID)
	m.uploads[id] = key
	return id, nil
}

func (m *MockStorage) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, expires time.Duration) (string, error) {
	if m.presignUploadPartFunc != nil {
		return m.presignUploadPartFunc(ctx, key, uploadID, partNumber)
	}
	return fmt.Sprintf("https://test.s3.amazonaws.com/bucket/%s?partNumber=%d&uploadId=%s&X-Amz-Expires=%d",
		key, partNumber, uploadID, int(expires.Seconds())), nil
}

// CompleteMultipartUpload rejects part lists that are not 1..n, the way S3
// rejects parts it never received.
func (m *MockStorage) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []s3.PartInfo) error {
	if m.completeMultipartUploadFunc != nil {
		return m.completeMultipartUploadFunc(ctx, key, uploadID, parts)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.uploads[uploadID]; !ok {
		return fmt.Errorf("NoSuchUpload: %w", s3.ErrObjectNotFound)
	}
	for i, p := range parts {
		if p.PartNumber != i+1 {
			return fmt.Errorf("InvalidPart: one or more of the specified parts could not be found")
		}
	}
	delete(m.uploads, uploadID)
	m.completed[key] = parts
	m.objects[key] = true
	return nil
}

func (m *MockStorage) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if m.abortMultipartUploadFunc != nil {
		if err := m.abortMultipartUploadFunc(ctx, key, uploadID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, uploadID)
	m.aborted = append(m.aborted, uploadID)
	return nil
}

func (m *MockStorage) CopyObject(ctx context.Context, src, dst string) error {
	if m.copyObjectFunc != nil {
		return m.copyObjectFunc(ctx, src, dst)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.objects[src] {
		return fmt.Errorf("NoSuchKey: %w", s3.ErrObjectNotFound)
	}
	m.objects[dst] = true
	m.copies = append(m.copies, src+"->"+dst)
	return nil
}

func (m *MockStorage) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deletes = append(m.deletes, key)
	return nil
}

func (m *MockStorage) HeadObject(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.objects[key] {
		return 0, fmt.Errorf("NotFound: %w", s3.ErrObjectNotFound)
	}
	return 1, nil
}

func (m *MockStorage) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key]
}

func (m *MockStorage) open(uploadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.uploads[uploadID]
	return ok
}

func (m *MockStorage) wasAborted(uploadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.aborted {
		if id == uploadID {
			return true
		}
	}
	return false
}

// MockTranscoder returns a one-rendition set unless transcodeFunc says
// otherwise.
type MockTranscoder struct {
	mu            sync.Mutex
	jobs          []transcode.Job
	transcodeFunc func(ctx context.Context, job transcode.Job) (*models.RenditionSet, error)
}

func (m *MockTranscoder) Transcode(ctx context.Context, job transcode.Job) (*models.RenditionSet, error) {
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
	if m.transcodeFunc != nil {
		return m.transcodeFunc(ctx, job)
	}
	return &models.RenditionSet{
		MasterKey: transcode.MasterKey(job.SessionID),
		Renditions: []models.Rendition{{
			Label: "720p", Width: 1280, Height: 720, Bandwidth: 3220800,
			ManifestKey: transcode.RenditionKey(job.SessionID, "720p", "index.m3u8"),
		}},
	}, nil
}

func (m *MockTranscoder) jobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// inlinePool runs Do on the caller's goroutine and Go on a tracked one.
type inlinePool struct {
	wg sync.WaitGroup
}

func (p *inlinePool) Do(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (p *inlinePool) Go(ctx context.Context, fn func(context.Context)) error {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn(ctx)
	}()
	return nil
}

type testEnv struct {
	repo         *session.MemoryRepository
	storage      *MockStorage
	transcoder   *MockTranscoder
	pool         *inlinePool
	svc          *Service
	coordinator  *Coordinator
	orchestrator *Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:       session.NewMemoryRepository(),
		storage:    NewMockStorage(),
		transcoder: &MockTranscoder{},
		pool:       &inlinePool{},
	}
	cfg := &config.Config{PartSizeMB: 5, PartURLTTL: time.Hour}
	env.svc = NewService(env.repo, env.storage, cfg, logging.Nop())
	env.coordinator = NewCoordinator(env.repo, env.storage, cfg.PartURLTTL)
	env.orchestrator = NewOrchestrator(env.repo, env.storage, env.transcoder, env.pool, logging.Nop())
	return env
}

const mb = 1024 * 1024

// begin opens a 12MB session (three 5MB parts) for owner.
func (e *testEnv) begin(t *testing.T, owner string) *BeginResult {
	t.Helper()
	res, err := e.svc.BeginSession(context.Background(), BeginRequest{
		OwnerID:     owner,
		WorkspaceID: "ws-1",
		FileName:    "holiday clip.MP4",
		ContentType: "video/mp4",
		ByteSize:    12 * mb,
	})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return res
}

func (e *testEnv) ack(t *testing.T, id, owner string, indices ...int) {
	t.Helper()
	for _, i := range indices {
		if err := e.svc.AcknowledgePart(context.Background(), id, owner, i, fmt.Sprintf("etag-%d", i)); err != nil {
			t.Fatalf("ack %d: %v", i, err)
		}
	}
}

func reported(indices ...int) []CompletedPart {
	out := make([]CompletedPart, 0, len(indices))
	for _, i := range indices {
		out = append(out, CompletedPart{PartNumber: i, ETag: fmt.Sprintf("etag-%d", i)})
	}
	return out
}
