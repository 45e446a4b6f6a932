package upload

import (
	"context"

	"clipflow/internal/config"
	"clipflow/internal/session"
)

// ManagedTracker is the managed-upload variant: every part URL is issued up
// front with the session so an upload widget can drive the transfer without
// further round trips. Acknowledgment, abort and everything after are the
// direct tracker's.
type ManagedTracker struct {
	*Service
	coordinator *Coordinator
}

func NewManagedTracker(svc *Service, coordinator *Coordinator) *ManagedTracker {
	return &ManagedTracker{Service: svc, coordinator: coordinator}
}

func (m *ManagedTracker) Mode() string { return config.UploadModeManaged }

func (m *ManagedTracker) BeginSession(ctx context.Context, req BeginRequest) (*BeginResult, error) {
	res, err := m.Service.begin(ctx, req, m.Mode())
	if err != nil {
		return nil, err
	}

	sess := &session.Session{ID: res.SessionID, StorageKey: res.StorageKey, StorageUploadID: res.StorageUploadID}
	res.Parts, err = m.coordinator.presignRange(ctx, sess, res.PartCount)
	if err != nil {
		m.discard(ctx, res, req.OwnerID)
		return nil, err
	}
	return res, nil
}

// NewTracker picks the tracker for the configured upload mode.
func NewTracker(mode string, svc *Service, coordinator *Coordinator) Tracker {
	if mode == config.UploadModeManaged {
		return NewManagedTracker(svc, coordinator)
	}
	return svc
}

var _ Tracker = (*ManagedTracker)(nil)
