// Package api assembles the HTTP surface from the domain handlers.
package api

import (
	"net/http"
	"time"

	"clipflow/internal/auth"
	"clipflow/internal/logging"
	"clipflow/internal/metrics"
	"clipflow/internal/playback"
	"clipflow/internal/response"
	"clipflow/internal/upload"
	"clipflow/internal/webhook"
)

type API struct {
	Uploads   *upload.Handler
	Playback  *playback.Handler
	Webhooks  *webhook.Handler
	JWTSecret []byte
	APIKey    string
	Logger    logging.Logger
}

// Routes returns the root handler. Caller routes resolve a JWT identity;
// webhook and metrics routes require the API key and are not mounted at all
// without one.
func (a *API) Routes() http.Handler {
	callers := http.NewServeMux()
	a.Uploads.Register(callers)
	a.Playback.Register(callers)
	identified := auth.JWTIdentity(a.JWTSecret)(callers)

	mux := http.NewServeMux()
	mux.Handle("/uploads", identified)
	mux.Handle("/uploads/", identified)
	mux.Handle("/videos/", identified)
	if a.APIKey != "" {
		integrations := http.NewServeMux()
		a.Webhooks.Register(integrations)
		integrations.Handle("GET /metrics", metrics.Handler())
		keyed := auth.APIKeyMiddleware(&auth.Config{APIKey: a.APIKey})(integrations)

		mux.Handle("/webhooks/", keyed)
		mux.Handle("/metrics", keyed)
	}
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		response.Plain(w, http.StatusOK, "OK")
	})

	return accessLog(a.Logger, mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func accessLog(logger logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/health" {
			return
		}
		logger.Info(r.Context(), "request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
