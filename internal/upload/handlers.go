package upload

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"clipflow/internal/apperr"
	"clipflow/internal/auth"
	"clipflow/internal/logging"
	"clipflow/internal/response"
	"clipflow/internal/session"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	tracker      Tracker
	sessions     *Service
	coordinator  *Coordinator
	orchestrator *Orchestrator
	logger       logging.Logger
}

func NewHandler(tracker Tracker, sessions *Service, coordinator *Coordinator, orchestrator *Orchestrator, logger logging.Logger) *Handler {
	return &Handler{
		tracker:      tracker,
		sessions:     sessions,
		coordinator:  coordinator,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Register mounts the upload routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /uploads", h.HandleBegin)
	mux.HandleFunc("GET /uploads", h.HandleList)
	mux.HandleFunc("GET /uploads/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /uploads/{id}", h.HandleDelete)
	mux.HandleFunc("POST /uploads/{id}/parts/{n}/authorize", h.HandleAuthorizePart)
	mux.HandleFunc("POST /uploads/{id}/parts/{n}/ack", h.HandleAcknowledgePart)
	mux.HandleFunc("POST /uploads/{id}/finalize", h.HandleFinalize)
	mux.HandleFunc("POST /uploads/{id}/abort", h.HandleAbort)
}

// HandleBegin handles POST /uploads
func (h *Handler) HandleBegin(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.CallerID(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}

	var req BeginRequest
	if err := decodeBody(r, &req, false); err != nil {
		response.Error(w, err)
		return
	}
	req.OwnerID = owner

	res, err := h.tracker.BeginSession(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, res)
}

// HandleList handles GET /uploads?state=&limit=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.CallerID(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			response.Error(w, apperr.Validation("list sessions", "limit must be a non-negative integer"))
			return
		}
	}

	list, err := h.sessions.ListSessions(r.Context(), owner, session.State(r.URL.Query().Get("state")), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]*SessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, newSessionResponse(s))
	}
	response.JSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// HandleGet handles GET /uploads/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.CallerID(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	sess, err := h.sessions.GetSession(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, newSessionResponse(sess))
}

// HandleDelete handles DELETE /uploads/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.CallerID(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	if err := h.sessions.DeleteSession(r.Context(), r.PathValue("id"), owner); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAuthorizePart handles POST /uploads/{id}/parts/{n}/authorize
func (h *Handler) HandleAuthorizePart(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.CallerID(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	n, err := partNumber(r, "authorize part")
	if err != nil {
		response.Error(w, err)
		return
	}

	part, err := h.coordinator.AuthorizePart(r.Context(), r.PathValue("id"), owner, n)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, part)
}

// HandleAcknowledgePart handles POST /uploads/{id}/parts/{n}/ack
func (h *Handler) HandleAcknowledgePart(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.CallerID(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	n, err := partNumber(r, "acknowledge part")
	if err != nil {
		response.Error(w, err)
		return
	}

	var req AckRequest
	if err := decodeBody(r, &req, false); err != nil {
		response.Error(w, err)
		return
	}

	if err := h.tracker.AcknowledgePart(r.Context(), r.PathValue("id"), owner, n, req.ETag); err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{"status": "acknowledged", "part_number": n})
}

// HandleFinalize handles POST /uploads/{id}/finalize. Assembly and
// transcoding continue in the background; clients poll GET /uploads/{id}.
func (h *Handler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.CallerID(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}

	// An empty body is allowed when retrying an errored session.
	var req CompleteMultipartRequest
	if err := decodeBody(r, &req, true); err != nil {
		response.Error(w, err)
		return
	}

	sess, err := h.orchestrator.FinalizeAsync(r.Context(), r.PathValue("id"), owner, req.Parts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusAccepted
	if sess.State == session.StateReady {
		status = http.StatusOK
	}
	response.JSON(w, status, newSessionResponse(sess))
}

// HandleAbort handles POST /uploads/{id}/abort
func (h *Handler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.CallerID(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	id := r.PathValue("id")
	if err := h.tracker.AbortSession(r.Context(), id, owner); err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"status": "aborted", "session_id": id})
}

// fail logs unexpected errors before replying.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindUnknown, apperr.KindStorage, apperr.KindTranscode, apperr.KindIO:
		h.logger.Error(r.Context(), "upload request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	response.Error(w, err)
}

func partNumber(r *http.Request, op string) (int, error) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		return 0, apperr.Validation(op, "part number must be an integer, got %q", r.PathValue("n"))
	}
	return n, nil
}

func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Validation("decode request", "invalid request body: %v", err)
	}
	return nil
}
