package playback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// TierStore resolves and records viewer entitlements.
type TierStore interface {
	Tier(ctx context.Context, viewerID string) (string, error)
	SetTier(ctx context.Context, viewerID, tier string) error
}

// PostgresTierStore keeps tiers in the viewer_tiers table. Viewers without a
// row get the default tier.
type PostgresTierStore struct {
	db          *sql.DB
	defaultTier string
}

func NewPostgresTierStore(db *sql.DB, defaultTier string) *PostgresTierStore {
	return &PostgresTierStore{db: db, defaultTier: defaultTier}
}

func (s *PostgresTierStore) Tier(ctx context.Context, viewerID string) (string, error) {
	if viewerID == "" {
		return s.defaultTier, nil
	}
	var tier string
	err := s.db.QueryRowContext(ctx, `SELECT tier FROM viewer_tiers WHERE viewer_id = $1`, viewerID).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return s.defaultTier, nil
	}
	if err != nil {
		return "", fmt.Errorf("select viewer tier: %w", err)
	}
	return tier, nil
}

func (s *PostgresTierStore) SetTier(ctx context.Context, viewerID, tier string) error {
	query := `INSERT INTO viewer_tiers (viewer_id, tier, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (viewer_id) DO UPDATE SET tier = EXCLUDED.tier, updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query, viewerID, tier); err != nil {
		return fmt.Errorf("upsert viewer tier: %w", err)
	}
	return nil
}

// StaticTierStore is an in-memory TierStore for development and tests.
type StaticTierStore struct {
	mu          sync.RWMutex
	tiers       map[string]string
	defaultTier string
}

func NewStaticTierStore(defaultTier string, tiers map[string]string) *StaticTierStore {
	s := &StaticTierStore{tiers: make(map[string]string, len(tiers)), defaultTier: defaultTier}
	for viewer, tier := range tiers {
		s.tiers[viewer] = tier
	}
	return s
}

func (s *StaticTierStore) Tier(_ context.Context, viewerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tier, ok := s.tiers[viewerID]; ok {
		return tier, nil
	}
	return s.defaultTier, nil
}

func (s *StaticTierStore) SetTier(_ context.Context, viewerID, tier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers[viewerID] = tier
	return nil
}

var (
	_ TierStore = (*PostgresTierStore)(nil)
	_ TierStore = (*StaticTierStore)(nil)
)
