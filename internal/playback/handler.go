package playback

import (
	"net/http"

	"clipflow/internal/apperr"
	"clipflow/internal/auth"
	"clipflow/internal/logging"
	"clipflow/internal/response"
)

type Handler struct {
	resolver *Resolver
	logger   logging.Logger
}

func NewHandler(resolver *Resolver, logger logging.Logger) *Handler {
	return &Handler{resolver: resolver, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /videos/{id}/playback", h.HandlePlayback)
}

// HandlePlayback handles GET /videos/{id}/playback. Anonymous viewers are
// served at the default tier.
func (h *Handler) HandlePlayback(w http.ResponseWriter, r *http.Request) {
	viewer, _ := auth.CallerID(r.Context())

	out, err := h.resolver.Resolve(r.Context(), r.PathValue("id"), viewer)
	if err != nil {
		if k := apperr.KindOf(err); k == apperr.KindUnknown || k == apperr.KindStorage {
			h.logger.Error(r.Context(), "playback resolution failed", "video_id", r.PathValue("id"), "error", err)
		}
		response.Error(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	response.JSON(w, http.StatusOK, out)
}
