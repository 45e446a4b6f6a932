package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clipflow/internal/auth"
	"clipflow/internal/config"
	"clipflow/internal/logging"
	"clipflow/internal/models"
	"clipflow/internal/playback"
	"clipflow/internal/s3"
	"clipflow/internal/session"
	"clipflow/internal/transcode"
	"clipflow/internal/upload"
	"clipflow/internal/webhook"
)

// nopStorage satisfies the upload and playback storage contracts without
// touching anything.
type nopStorage struct{}

func (nopStorage) CreateMultipartUpload(context.Context, string, map[string]string) (string, error) {
	return "upload-1", nil
}
func (nopStorage) PresignUploadPart(context.Context, string, string, int32, time.Duration) (string, error) {
	return "https://s3.test/part", nil
}
func (nopStorage) CompleteMultipartUpload(context.Context, string, string, []s3.PartInfo) error {
	return nil
}
func (nopStorage) AbortMultipartUpload(context.Context, string, string) error { return nil }
func (nopStorage) CopyObject(context.Context, string, string) error           { return nil }
func (nopStorage) DeleteObject(context.Context, string) error                 { return nil }
func (nopStorage) HeadObject(context.Context, string) (int64, error) {
	return 0, s3.ErrObjectNotFound
}
func (nopStorage) PresignGetObject(context.Context, string, time.Duration) (string, error) {
	return "https://s3.test/get", nil
}

type nopTranscoder struct{}

func (nopTranscoder) Transcode(context.Context, transcode.Job) (*models.RenditionSet, error) {
	return nil, errors.New("not used")
}

const (
	testSecret = "router-secret"
	testAPIKey = "router-key"
)

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	handler, _ := newKeyedAPI(t, testAPIKey)
	return handler
}

func newKeyedAPI(t *testing.T, apiKey string) (http.Handler, playback.TierStore) {
	t.Helper()
	logger := logging.Nop()
	cfg := &config.Config{PartSizeMB: 5, PartURLTTL: time.Hour, PlaybackURLTTL: time.Hour}
	pipeline := config.DefaultPipelineConfig()
	repo := session.NewMemoryRepository()
	storage := nopStorage{}
	pool := transcode.NewPool(1, logger)
	t.Cleanup(func() { _ = pool.Wait(context.Background()) })

	svc := upload.NewService(repo, storage, cfg, logger)
	coordinator := upload.NewCoordinator(repo, storage, cfg.PartURLTTL)
	orchestrator := upload.NewOrchestrator(repo, storage, nopTranscoder{}, pool, logger)
	tiers := playback.NewStaticTierStore(pipeline.DefaultTier, nil)

	a := &API{
		Uploads:   upload.NewHandler(svc, svc, coordinator, orchestrator, logger),
		Playback:  playback.NewHandler(playback.NewResolver(repo, storage, tiers, pipeline, cfg, logger), logger),
		Webhooks:  webhook.NewHandler(tiers, pipeline, logger),
		JWTSecret: []byte(testSecret),
		APIKey:    apiKey,
		Logger:    logger,
	}
	return a.Routes(), tiers
}

func TestRoutes(t *testing.T) {
	handler := newTestAPI(t)
	token, err := auth.GenerateToken("owner-1", []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		headers        map[string]string
		expectedStatus int
		expectedBody   string
	}{
		{name: "health", method: http.MethodGet, path: "/health", expectedStatus: http.StatusOK, expectedBody: "OK"},
		{name: "uploads need a caller", method: http.MethodGet, path: "/uploads", expectedStatus: http.StatusUnauthorized},
		{
			name: "uploads with caller", method: http.MethodGet, path: "/uploads",
			headers:        map[string]string{"Authorization": "Bearer " + token},
			expectedStatus: http.StatusOK, expectedBody: `"sessions":[]`,
		},
		{
			name: "garbage token rejected", method: http.MethodGet, path: "/uploads",
			headers:        map[string]string{"Authorization": "Bearer nope"},
			expectedStatus: http.StatusUnauthorized,
		},
		{name: "playback of unknown video", method: http.MethodGet, path: "/videos/missing/playback", expectedStatus: http.StatusNotFound},
		{name: "metrics need the key", method: http.MethodGet, path: "/metrics", expectedStatus: http.StatusUnauthorized},
		{
			name: "metrics with key", method: http.MethodGet, path: "/metrics",
			headers:        map[string]string{"X-API-Key": testAPIKey},
			expectedStatus: http.StatusOK, expectedBody: "clipflow_",
		},
		{
			name: "webhook caller token is not the key", method: http.MethodPost, path: "/webhooks/billing",
			body:           `{"type":"subscription.canceled","id":"e1","data":{"viewer_id":"v1"}}`,
			headers:        map[string]string{"Authorization": "Bearer " + token},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "webhook with key", method: http.MethodPost, path: "/webhooks/billing",
			body:           `{"type":"subscription.canceled","id":"e1","data":{"viewer_id":"v1"}}`,
			headers:        map[string]string{"Authorization": "Bearer " + testAPIKey},
			expectedStatus: http.StatusOK,
		},
		{name: "wrong method", method: http.MethodPut, path: "/health", expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			if tt.expectedBody != "" {
				body, _ := io.ReadAll(rr.Body)
				if !strings.Contains(string(body), tt.expectedBody) {
					t.Errorf("Expected body to contain %q, got %q", tt.expectedBody, body)
				}
			}
		})
	}
}

func TestRoutes_WithoutAPIKeyIntegrationsAreUnmounted(t *testing.T) {
	handler, tiers := newKeyedAPI(t, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing",
		strings.NewReader(`{"type":"subscription.activated","id":"e1","data":{"viewer_id":"viewer-9","tier":"paid"}}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusNotFound, rr.Code, rr.Body.String())
	}

	tier, err := tiers.Tier(context.Background(), "viewer-9")
	if err != nil {
		t.Fatalf("tier: %v", err)
	}
	if tier != config.DefaultPipelineConfig().DefaultTier {
		t.Errorf("Expected default tier, got %q", tier)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected metrics to be unmounted, got %d", rr.Code)
	}
}
