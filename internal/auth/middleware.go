package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"clipflow/internal/response"
)

type Config struct {
	APIKey string
}

// APIKeyMiddleware guards operator and integration routes (billing webhooks,
// metrics) with a shared key. With no key configured every request is
// rejected.
func APIKeyMiddleware(config *Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := bearerToken(r); ok && keyMatches(token, config.APIKey) {
				next.ServeHTTP(w, r)
				return
			}
			if keyMatches(r.Header.Get("X-API-Key"), config.APIKey) {
				next.ServeHTTP(w, r)
				return
			}

			writeUnauthorized(w)
		})
	}
}

func keyMatches(got, want string) bool {
	return got != "" && want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

func writeUnauthorized(w http.ResponseWriter) {
	response.WriteError(w, http.StatusUnauthorized,
		"unauthorized",
		"Invalid or missing API key",
		"Provide API key via Authorization: Bearer <key> or X-API-Key: <key>",
	)
}
