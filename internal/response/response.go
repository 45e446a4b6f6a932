package response

import (
	"encoding/json"
	"net/http"

	"clipflow/internal/apperr"
)

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Plain writes a text body with status.
func Plain(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}

// WriteError writes a standardized error response.
func WriteError(w http.ResponseWriter, status int, code, message, hint string) {
	JSON(w, status, ErrorResponse{Code: code, Message: message, Hint: hint})
}

// Error maps err's kind to a status code and writes it. Unclassified errors
// are reported as internal without leaking their text.
func Error(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	if kind == apperr.KindUnknown {
		WriteError(w, status, "internal", "internal server error", "")
		return
	}
	WriteError(w, status, kind.String(), err.Error(), hintFor(kind))
}

func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindStorage, apperr.KindTranscode:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func hintFor(kind apperr.Kind) string {
	switch kind {
	case apperr.KindStorage, apperr.KindTranscode:
		return "Retry by calling finalize again"
	}
	return ""
}
