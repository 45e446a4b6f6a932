package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"clipflow/internal/session"
)

// DefaultHeartbeatInterval is how often a processing session's updated_at is
// refreshed. It must stay well below PROCESSING_STALE_AFTER.
const DefaultHeartbeatInterval = time.Minute

// WithHeartbeat sets the heartbeat interval. Zero or less disables it.
func (o *Orchestrator) WithHeartbeat(interval time.Duration) *Orchestrator {
	o.heartbeatInterval = interval
	return o
}

// startHeartbeat keeps the session visibly alive while it is processed.
// The returned stop ends the loop and waits for it.
func (o *Orchestrator) startHeartbeat(ctx context.Context, sessionID string) (stop func()) {
	if o.heartbeatInterval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(o.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := o.repo.Heartbeat(ctx, sessionID)
				switch {
				case err == nil, errors.Is(err, context.Canceled):
				case errors.Is(err, session.ErrStateConflict), errors.Is(err, session.ErrNotFound):
					// The session already left processing.
					return
				default:
					o.logger.Warn(ctx, "heartbeat update failed", "session_id", sessionID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}
