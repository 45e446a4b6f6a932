package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"clipflow/internal/response"
)

const integrationKey = "billing-shared-key"

// integrationRoutes mirrors what the key guards in the API: the billing
// webhook and the metrics endpoint.
func integrationRoutes(key string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/billing", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "applied"})
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		response.Plain(w, http.StatusOK, "clipflow_sessions_started_total 0")
	})
	return APIKeyMiddleware(&Config{APIKey: key})(mux)
}

func TestAPIKeyMiddleware_GuardedRoutes(t *testing.T) {
	tests := []struct {
		name           string
		configuredKey  string
		method         string
		path           string
		headers        map[string]string
		expectedStatus int
	}{
		{
			name: "webhook with bearer key", configuredKey: integrationKey,
			method: http.MethodPost, path: "/webhooks/billing",
			headers:        map[string]string{"Authorization": "Bearer " + integrationKey},
			expectedStatus: http.StatusOK,
		},
		{
			name: "bearer key with surrounding space", configuredKey: integrationKey,
			method: http.MethodPost, path: "/webhooks/billing",
			headers:        map[string]string{"Authorization": "Bearer   " + integrationKey + " "},
			expectedStatus: http.StatusOK,
		},
		{
			name: "metrics with X-API-Key", configuredKey: integrationKey,
			method: http.MethodGet, path: "/metrics",
			headers:        map[string]string{"X-API-Key": integrationKey},
			expectedStatus: http.StatusOK,
		},
		{
			name: "bearer with empty token", configuredKey: integrationKey,
			method: http.MethodPost, path: "/webhooks/billing",
			headers:        map[string]string{"Authorization": "Bearer "},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "bearer prefix only matches with a space", configuredKey: integrationKey,
			method: http.MethodPost, path: "/webhooks/billing",
			headers:        map[string]string{"Authorization": "Bearer" + integrationKey},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "key prefix is not the key", configuredKey: integrationKey,
			method: http.MethodGet, path: "/metrics",
			headers:        map[string]string{"X-API-Key": integrationKey[:5]},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "wrong bearer falls back to a valid X-API-Key", configuredKey: integrationKey,
			method: http.MethodPost, path: "/webhooks/billing",
			headers: map[string]string{
				"Authorization": "Bearer caller-jwt",
				"X-API-Key":     integrationKey,
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "no credentials", configuredKey: integrationKey,
			method: http.MethodGet, path: "/metrics",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "no key configured rejects everything", configuredKey: "",
			method: http.MethodPost, path: "/webhooks/billing",
			headers:        map[string]string{"Authorization": "Bearer ", "X-API-Key": ""},
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			integrationRoutes(tt.configuredKey).ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAPIKeyMiddleware_UnauthorizedEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", nil)
	req.Header.Set("X-API-Key", "guess")
	rr := httptest.NewRecorder()
	integrationRoutes(integrationKey).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}

	var body response.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode error envelope: %v", err)
	}
	if body.Code != "unauthorized" {
		t.Errorf("Expected code unauthorized, got %q", body.Code)
	}
	if body.Message != "Invalid or missing API key" {
		t.Errorf("Unexpected message %q", body.Message)
	}
	if body.Hint == "" {
		t.Error("Expected a hint on how to pass the key")
	}
}

func TestKeyMatches(t *testing.T) {
	tests := []struct {
		got, want string
		match     bool
	}{
		{integrationKey, integrationKey, true},
		{integrationKey + "x", integrationKey, false},
		{"", integrationKey, false},
		{"", "", false},
		{"anything", "", false},
	}
	for _, tt := range tests {
		if got := keyMatches(tt.got, tt.want); got != tt.match {
			t.Errorf("keyMatches(%q, %q) = %v, want %v", tt.got, tt.want, got, tt.match)
		}
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"Bearer  abc  ", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		token, ok := bearerToken(req)
		if token != tt.token || ok != tt.ok {
			t.Errorf("bearerToken(%q) = (%q, %v), want (%q, %v)", tt.header, token, ok, tt.token, tt.ok)
		}
	}
}
