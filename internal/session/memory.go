package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"clipflow/internal/models"
)

// MemoryRepository keeps sessions in process memory. It backs development
// runs without DATABASE_URL and the service tests.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*Session
	parts    map[string]map[int]Part
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*Session),
		parts:    make(map[string]map[int]Part),
		now:      time.Now,
	}
}

func (r *MemoryRepository) Create(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; ok {
		return ErrStateConflict
	}
	now := r.now()
	cp := *s
	cp.Parts = nil
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.sessions[s.ID] = &cp
	r.parts[s.ID] = make(map[int]Part)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.snapshot(s), nil
}

func (r *MemoryRepository) GetOwned(_ context.Context, id, ownerID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return r.snapshot(s), nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Session
	for _, s := range r.sessions {
		if f.OwnerID != "" && s.OwnerID != f.OwnerID {
			continue
		}
		if f.State != "" && s.State != f.State {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) UpsertPart(_ context.Context, id, ownerID string, p Part) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.OwnerID != ownerID || s.State != StateUploading {
		return ErrNotFound
	}
	if p.AcknowledgedAt.IsZero() {
		p.AcknowledgedAt = r.now()
	}
	r.parts[id][p.Index] = p
	return nil
}

func (r *MemoryRepository) Transition(_ context.Context, id string, from, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.expect(id, from)
	if err != nil {
		return err
	}
	s.State = to
	s.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) MarkAssembled(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.expect(id, StateProcessing)
	if err != nil {
		return err
	}
	now := r.now()
	s.AssembledAt = &now
	s.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) SetFinalKey(_ context.Context, id, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.expect(id, StateProcessing)
	if err != nil {
		return err
	}
	s.FinalStorageKey = key
	s.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) MarkReady(_ context.Context, id string, set *models.RenditionSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.expect(id, StateProcessing)
	if err != nil {
		return err
	}
	now := r.now()
	s.State = StateReady
	s.ErrorDetail = ""
	s.ReadyAt = &now
	s.UpdatedAt = now
	s.ManifestKey = ""
	s.Renditions = nil
	if set != nil {
		cp := *set
		cp.Renditions = append([]models.Rendition(nil), set.Renditions...)
		cp.PosterKeys = append([]string(nil), set.PosterKeys...)
		s.ManifestKey = set.MasterKey
		s.Renditions = &cp
	}
	return nil
}

func (r *MemoryRepository) MarkErrored(_ context.Context, id, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.expect(id, StateProcessing)
	if err != nil {
		return err
	}
	s.State = StateErrored
	s.ErrorDetail = detail
	s.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) Abort(_ context.Context, id, ownerID, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.OwnerID != ownerID {
		return ErrNotFound
	}
	if s.State != StateUploading {
		return ErrStateConflict
	}
	now := r.now()
	s.State = StateErrored
	s.ErrorDetail = detail
	s.AbortedAt = &now
	s.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.OwnerID != ownerID {
		return ErrNotFound
	}
	if s.State == StateProcessing {
		return ErrStateConflict
	}
	delete(r.sessions, id)
	delete(r.parts, id)
	return nil
}

func (r *MemoryRepository) IncrementViews(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.State != StateReady {
		return 0, ErrNotFound
	}
	s.ViewCount++
	return s.ViewCount, nil
}

func (r *MemoryRepository) Heartbeat(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.expect(id, StateProcessing)
	if err != nil {
		return err
	}
	s.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) ReclaimProcessing(_ context.Context, before time.Time, detail string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, s := range r.sessions {
		if s.State == StateProcessing && s.UpdatedAt.Before(before) {
			s.State = StateErrored
			s.ErrorDetail = detail
			s.UpdatedAt = r.now()
			n++
		}
	}
	return n, nil
}

// expect returns the live record when it is in state want. Callers hold mu.
func (r *MemoryRepository) expect(id string, want State) (*Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.State != want {
		return nil, ErrStateConflict
	}
	return s, nil
}

// snapshot copies s with its parts sorted by index. Callers hold mu.
func (r *MemoryRepository) snapshot(s *Session) *Session {
	cp := *s
	cp.Parts = make([]Part, 0, len(r.parts[s.ID]))
	for _, p := range r.parts[s.ID] {
		cp.Parts = append(cp.Parts, p)
	}
	sort.Slice(cp.Parts, func(i, j int) bool { return cp.Parts[i].Index < cp.Parts[j].Index })
	if s.Renditions != nil {
		set := *s.Renditions
		set.Renditions = append([]models.Rendition(nil), s.Renditions.Renditions...)
		cp.Renditions = &set
	}
	return &cp
}
