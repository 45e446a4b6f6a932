// Package playback turns a ready video into a time-limited URL capped at
// what the viewer's tier is entitled to.
package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clipflow/internal/apperr"
	"clipflow/internal/config"
	"clipflow/internal/logging"
	"clipflow/internal/metrics"
	"clipflow/internal/models"
	"clipflow/internal/session"
)

type Storage interface {
	PresignGetObject(ctx context.Context, key string, expires time.Duration) (string, error)
}

// Sessions is the read side of the session store the resolver needs.
type Sessions interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	IncrementViews(ctx context.Context, id string) (int64, error)
}

// LadderEntry is one rendition as presented to the player. Allowed is the
// client-side cap hint.
type LadderEntry struct {
	Label     string `json:"label"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bandwidth int    `json:"bandwidth"`
	Allowed   bool   `json:"allowed"`
}

type Playback struct {
	VideoID    string `json:"video_id"`
	URL        string `json:"url"`
	IsAdaptive bool   `json:"is_adaptive"`
	Tier       string `json:"tier"`
	// MaxAllowedRendition is empty for non-adaptive playback.
	MaxAllowedRendition string `json:"max_allowed_rendition,omitempty"`
	// MaxAllowedHeight is 0 when the tier is unlimited.
	MaxAllowedHeight int           `json:"max_allowed_height"`
	Renditions       []LadderEntry `json:"renditions,omitempty"`
	PosterURLs       []string      `json:"poster_urls,omitempty"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
}

type Resolver struct {
	sessions      Sessions
	storage       Storage
	tiers         TierStore
	pipeline      *config.PipelineConfig
	publicBaseURL string
	ttl           time.Duration
	logger        logging.Logger
	now           func() time.Time
}

func NewResolver(sessions Sessions, storage Storage, tiers TierStore, pipeline *config.PipelineConfig, cfg *config.Config, logger logging.Logger) *Resolver {
	return &Resolver{
		sessions:      sessions,
		storage:       storage,
		tiers:         tiers,
		pipeline:      pipeline,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		ttl:           cfg.PlaybackURLTTL,
		logger:        logger,
		now:           time.Now,
	}
}

// Resolve issues the playback URL for videoID. An empty viewerID is an
// anonymous viewer and gets the default tier.
func (r *Resolver) Resolve(ctx context.Context, videoID, viewerID string) (*Playback, error) {
	const op = "resolve playback"

	sess, err := r.sessions.Get(ctx, videoID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, apperr.NotFound(op, "video %s", videoID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sess.State != session.StateReady {
		return nil, apperr.Conflict(op, "video %s is %s, not ready", videoID, sess.State)
	}

	tier := r.pipeline.DefaultTier
	if viewerID != "" {
		if tier, err = r.tiers.Tier(ctx, viewerID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	ceiling := r.pipeline.CeilingFor(tier)

	out := &Playback{VideoID: videoID, Tier: tier, MaxAllowedHeight: ceiling}
	key := sess.FinalStorageKey
	if set := sess.Renditions; set != nil && len(set.Renditions) > 0 {
		top, ok := set.Highest(ceiling)
		if !ok {
			return nil, apperr.Forbidden(op, "tier %q does not cover any rendition of video %s", tier, videoID)
		}
		key = set.MasterKey
		out.IsAdaptive = true
		out.MaxAllowedRendition = top.Label
		out.Renditions = ladder(set, ceiling)
	}
	if key == "" {
		return nil, apperr.Conflict(op, "video %s has nothing published", videoID)
	}

	delivery := "cdn"
	if out.URL, out.ExpiresAt, err = r.url(ctx, key); err != nil {
		return nil, apperr.Wrapf(apperr.KindStorage, op, err, "authorize read of %s", key)
	}
	if out.ExpiresAt != nil {
		delivery = "presigned"
	}
	if sess.Renditions != nil {
		for _, k := range sess.Renditions.PosterKeys {
			u, _, err := r.url(ctx, k)
			if err != nil {
				r.logger.Warn(ctx, "failed to authorize poster read", "video_id", videoID, "key", k, "error", err)
				continue
			}
			out.PosterURLs = append(out.PosterURLs, u)
		}
	}

	if _, err := r.sessions.IncrementViews(ctx, videoID); err != nil {
		r.logger.Warn(ctx, "failed to count view", "video_id", videoID, "error", err)
	}
	metrics.PlaybackResolved.WithLabelValues(tier, delivery).Inc()
	return out, nil
}

// url is a CDN URL when a public base is configured and a presigned GET
// otherwise. Only presigned URLs expire.
func (r *Resolver) url(ctx context.Context, key string) (string, *time.Time, error) {
	if r.publicBaseURL != "" {
		return r.publicBaseURL + "/" + key, nil, nil
	}
	u, err := r.storage.PresignGetObject(ctx, key, r.ttl)
	if err != nil {
		return "", nil, err
	}
	expires := r.now().Add(r.ttl)
	return u, &expires, nil
}

func ladder(set *models.RenditionSet, ceiling int) []LadderEntry {
	out := make([]LadderEntry, 0, len(set.Renditions))
	for _, r := range set.Renditions {
		out = append(out, LadderEntry{
			Label:     r.Label,
			Width:     r.Width,
			Height:    r.Height,
			Bandwidth: r.Bandwidth,
			Allowed:   r.Within(ceiling),
		})
	}
	return out
}
