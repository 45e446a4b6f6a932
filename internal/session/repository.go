package session

import (
	"context"
	"time"

	"clipflow/internal/models"
)

// Repository persists sessions. State changes are compare-and-swap: a call
// whose expected state no longer holds returns ErrStateConflict and changes
// nothing.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	// Get loads a session with its parts.
	Get(ctx context.Context, id string) (*Session, error)
	// GetOwned is Get restricted to ownerID; other owners see ErrNotFound.
	GetOwned(ctx context.Context, id, ownerID string) (*Session, error)
	List(ctx context.Context, f Filter) ([]*Session, error)

	// UpsertPart inserts or replaces one part of an uploading session owned by
	// ownerID. ErrNotFound when no such uploading session exists.
	UpsertPart(ctx context.Context, id, ownerID string, p Part) error

	Transition(ctx context.Context, id string, from, to State) error
	MarkAssembled(ctx context.Context, id string) error
	SetFinalKey(ctx context.Context, id, key string) error
	// MarkReady moves processing -> ready and stores the published result.
	// set is nil when the source is published without renditions.
	MarkReady(ctx context.Context, id string, set *models.RenditionSet) error
	// MarkErrored moves processing -> errored with detail.
	MarkErrored(ctx context.Context, id, detail string) error
	// Abort moves an uploading session owned by ownerID to errored.
	Abort(ctx context.Context, id, ownerID, detail string) error
	// Delete removes a session that is not processing.
	Delete(ctx context.Context, id, ownerID string) error

	IncrementViews(ctx context.Context, id string) (int64, error)
	// Heartbeat refreshes updated_at of a processing session so
	// ReclaimProcessing treats it as live.
	Heartbeat(ctx context.Context, id string) error
	// ReclaimProcessing moves sessions processing whose last update is older
	// than before to errored.
	ReclaimProcessing(ctx context.Context, before time.Time, detail string) (int64, error)
}
