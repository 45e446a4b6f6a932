package webhook

import (
	"context"
	"io"
	"net/http"

	"clipflow/internal/apperr"
	"clipflow/internal/config"
	"clipflow/internal/logging"
	"clipflow/internal/response"
)

const maxEventBytes = 64 << 10

// TierWriter records a viewer's tier.
type TierWriter interface {
	SetTier(ctx context.Context, viewerID, tier string) error
}

type Handler struct {
	tiers    TierWriter
	pipeline *config.PipelineConfig
	logger   logging.Logger
}

func NewHandler(tiers TierWriter, pipeline *config.PipelineConfig, logger logging.Logger) *Handler {
	return &Handler{tiers: tiers, pipeline: pipeline, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/billing", h.HandleBilling)
}

// Apply updates the viewer's tier for ev. Activations must name a tier with
// a configured ceiling; cancellations fall back to the default tier.
func (h *Handler) Apply(ctx context.Context, ev Event) error {
	const op = "apply billing event"

	var tier string
	switch e := ev.(type) {
	case SubscriptionActivated:
		if _, ok := h.pipeline.TierCeilings[e.Tier]; !ok {
			return apperr.Validation(op, "event %s names unknown tier %q", e.ID, e.Tier)
		}
		tier = e.Tier
	case SubscriptionCanceled:
		tier = h.pipeline.DefaultTier
	default:
		return apperr.Validation(op, "unsupported event %T", ev)
	}

	if err := h.tiers.SetTier(ctx, ev.Viewer(), tier); err != nil {
		return apperr.Wrapf(apperr.KindStorage, op, err, "record tier for viewer %s", ev.Viewer())
	}
	h.logger.Info(ctx, "viewer tier updated", "event_id", ev.EventID(), "viewer_id", ev.Viewer(), "tier", tier)
	return nil
}

// HandleBilling handles POST /webhooks/billing
func (h *Handler) HandleBilling(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		response.Error(w, apperr.Wrap(apperr.KindIO, "read billing event", err))
		return
	}

	ev, err := Decode(body)
	if err == nil {
		err = h.Apply(r.Context(), ev)
	}
	if err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			h.logger.Warn(r.Context(), "billing event rejected", "error", err)
		} else {
			h.logger.Error(r.Context(), "billing event failed", "error", err)
		}
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"status": "applied", "event_id": ev.EventID()})
}
