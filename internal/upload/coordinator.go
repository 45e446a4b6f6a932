package upload

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"clipflow/internal/apperr"
	"clipflow/internal/metrics"
	"clipflow/internal/session"
)

// Coordinator issues per-part write URLs. It never sees part bytes.
type Coordinator struct {
	repo    session.Repository
	storage Storage
	ttl     time.Duration
	now     func() time.Time
}

func NewCoordinator(repo session.Repository, storage Storage, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Coordinator{repo: repo, storage: storage, ttl: ttl, now: time.Now}
}

// AuthorizePart returns a write URL for one part of an uploading session.
// Parts may be authorized in any order and more than once.
func (c *Coordinator) AuthorizePart(ctx context.Context, sessionID, ownerID string, partIndex int) (*PartURL, error) {
	const op = "authorize part"
	if ownerID == "" {
		return nil, apperr.Auth(op, "caller identity required")
	}
	if err := validatePartIndex(op, partIndex); err != nil {
		return nil, err
	}

	sess, err := c.repo.GetOwned(ctx, sessionID, ownerID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, apperr.NotFound(op, "session %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sess.State != session.StateUploading {
		return nil, apperr.Conflict(op, "session %s is %s, not uploading", sessionID, sess.State)
	}

	return c.presign(ctx, sess, partIndex)
}

// presignRange authorizes parts 1..count of sess. Used by managed uploads.
func (c *Coordinator) presignRange(ctx context.Context, sess *session.Session, count int) ([]PartURL, error) {
	parts := make([]PartURL, 0, count)
	for i := 1; i <= count; i++ {
		p, err := c.presign(ctx, sess, i)
		if err != nil {
			return nil, err
		}
		parts = append(parts, *p)
	}
	return parts, nil
}

func (c *Coordinator) presign(ctx context.Context, sess *session.Session, partIndex int) (*PartURL, error) {
	expiresAt := c.now().Add(c.ttl)
	url, err := c.storage.PresignUploadPart(ctx, sess.StorageKey, sess.StorageUploadID, int32(partIndex), c.ttl)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindStorage, "authorize part", err, "presign part %d", partIndex)
	}
	metrics.PartsAuthorized.Inc()
	return &PartURL{
		PartNumber: partIndex,
		Method:     http.MethodPut,
		URL:        url,
		ExpiresAt:  expiresAt,
	}, nil
}
