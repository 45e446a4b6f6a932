// Package webhook accepts billing platform events and applies them to viewer
// tiers.
package webhook

import (
	"bytes"
	"encoding/json"
	"strings"

	"clipflow/internal/apperr"
)

const (
	TypeSubscriptionActivated = "subscription.activated"
	TypeSubscriptionCanceled  = "subscription.canceled"
)

// Event is one decoded billing event. The concrete types are
// SubscriptionActivated and SubscriptionCanceled.
type Event interface {
	EventID() string
	Viewer() string
}

type envelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

type SubscriptionActivated struct {
	ID       string `json:"-"`
	ViewerID string `json:"viewer_id"`
	Tier     string `json:"tier"`
}

func (e SubscriptionActivated) EventID() string { return e.ID }
func (e SubscriptionActivated) Viewer() string  { return e.ViewerID }

type SubscriptionCanceled struct {
	ID       string `json:"-"`
	ViewerID string `json:"viewer_id"`
}

func (e SubscriptionCanceled) EventID() string { return e.ID }
func (e SubscriptionCanceled) Viewer() string  { return e.ViewerID }

// Decode parses a billing event envelope. Unknown types and missing
// required fields are validation errors.
func Decode(body []byte) (Event, error) {
	const op = "decode billing event"

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperr.Validation(op, "malformed event: %v", err)
	}
	if strings.TrimSpace(env.ID) == "" {
		return nil, apperr.Validation(op, "event id is required")
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, apperr.Validation(op, "event %s has no data", env.ID)
	}

	switch env.Type {
	case TypeSubscriptionActivated:
		var ev SubscriptionActivated
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, apperr.Validation(op, "event %s: malformed data: %v", env.ID, err)
		}
		ev.ID = env.ID
		if err := required(op, env, "viewer_id", ev.ViewerID, "tier", ev.Tier); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeSubscriptionCanceled:
		var ev SubscriptionCanceled
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, apperr.Validation(op, "event %s: malformed data: %v", env.ID, err)
		}
		ev.ID = env.ID
		if err := required(op, env, "viewer_id", ev.ViewerID); err != nil {
			return nil, err
		}
		return ev, nil

	case "":
		return nil, apperr.Validation(op, "event %s has no type", env.ID)
	default:
		return nil, apperr.Validation(op, "event %s has unsupported type %q", env.ID, env.Type)
	}
}

// required takes name/value pairs and rejects the first blank value.
func required(op string, env envelope, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return apperr.Validation(op, "%s event %s is missing %s", env.Type, env.ID, pairs[i])
		}
	}
	return nil
}
