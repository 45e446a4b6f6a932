package upload

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"clipflow/internal/apperr"
	"clipflow/internal/config"
	"clipflow/internal/logging"
	"clipflow/internal/metrics"
	"clipflow/internal/s3"
	"clipflow/internal/session"
)

const (
	// MaxParts is the multipart part-count limit of S3-compatible stores.
	MaxParts = 10000

	abortedDetail = "aborted by caller"
	keyTemplate   = "uploads/{shard}/{session_id}/{file_name}"
)

// Service is the direct-chunking Upload Session Tracker: the client asks the
// coordinator for each part URL itself.
type Service struct {
	repo     session.Repository
	storage  Storage
	partSize int64
	logger   logging.Logger
	newID    func() string
}

func NewService(repo session.Repository, storage Storage, cfg *config.Config, logger logging.Logger) *Service {
	return &Service{
		repo:     repo,
		storage:  storage,
		partSize: cfg.PartSizeMB * 1024 * 1024,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

func (s *Service) Mode() string { return config.UploadModeDirect }

// BeginSession opens the storage-side multipart handle and then persists the
// session. If persisting fails the handle is aborted again.
func (s *Service) BeginSession(ctx context.Context, req BeginRequest) (*BeginResult, error) {
	return s.begin(ctx, req, s.Mode())
}

func (s *Service) begin(ctx context.Context, req BeginRequest, mode string) (*BeginResult, error) {
	const op = "begin session"
	if req.OwnerID == "" {
		return nil, apperr.Auth(op, "caller identity required")
	}
	if err := s.validateBegin(req); err != nil {
		return nil, err
	}

	id := s.newID()
	key := buildObjectKey(keyTemplate, id, req.FileName)
	headers := map[string]string{"Content-Type": req.ContentType}

	uploadID, err := s.storage.CreateMultipartUpload(ctx, key, headers)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindStorage, op, err, "open multipart upload")
	}

	sess := &session.Session{
		ID:              id,
		OwnerID:         req.OwnerID,
		WorkspaceID:     req.WorkspaceID,
		Mode:            mode,
		StorageKey:      key,
		StorageUploadID: uploadID,
		FileName:        req.FileName,
		ByteSize:        req.ByteSize,
		ContentType:     req.ContentType,
		State:           session.StateUploading,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		if abortErr := s.storage.AbortMultipartUpload(context.WithoutCancel(ctx), key, uploadID); abortErr != nil {
			s.logger.Warn(ctx, "failed to abort orphaned multipart upload", "key", key, "upload_id", uploadID, "error", abortErr)
		}
		return nil, fmt.Errorf("%s: persist: %w", op, err)
	}

	metrics.SessionsStarted.WithLabelValues(mode).Inc()
	s.logger.Info(ctx, "upload session started", "session_id", id, "owner_id", req.OwnerID, "mode", mode, "byte_size", req.ByteSize)

	return &BeginResult{
		SessionID:       id,
		StorageKey:      key,
		StorageUploadID: uploadID,
		Mode:            mode,
		PartSize:        s.partSize,
		PartCount:       partCount(req.ByteSize, s.partSize),
	}, nil
}

// discard undoes a begin whose result never reached the caller: the handle
// is aborted and the record removed.
func (s *Service) discard(ctx context.Context, res *BeginResult, ownerID string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.storage.AbortMultipartUpload(ctx, res.StorageKey, res.StorageUploadID); err != nil && !s3.IsNotFound(err) {
		s.logger.Warn(ctx, "failed to abort orphaned multipart upload", "key", res.StorageKey, "upload_id", res.StorageUploadID, "error", err)
	}
	if err := s.repo.Delete(ctx, res.SessionID, ownerID); err != nil {
		s.logger.Warn(ctx, "failed to remove unissued session", "session_id", res.SessionID, "error", err)
	}
}

func (s *Service) validateBegin(req BeginRequest) error {
	const op = "begin session"
	if req.ByteSize <= 0 {
		return apperr.Validation(op, "byte_size must be greater than 0")
	}
	if strings.TrimSpace(req.FileName) == "" {
		return apperr.Validation(op, "file_name is required")
	}
	if strings.TrimSpace(req.WorkspaceID) == "" {
		return apperr.Validation(op, "workspace_id is required")
	}
	if !isVideoMime(req.ContentType) {
		return apperr.Validation(op, "mime type not allowed: %q", req.ContentType)
	}
	if partCount(req.ByteSize, s.partSize) > MaxParts {
		return apperr.Validation(op, "file of %d bytes needs more than %d parts of %d bytes", req.ByteSize, MaxParts, s.partSize)
	}
	return nil
}

// AcknowledgePart records a part completion. Re-acknowledging an index
// replaces its integrity tag.
func (s *Service) AcknowledgePart(ctx context.Context, sessionID, ownerID string, partIndex int, integrityTag string) error {
	const op = "acknowledge part"
	if ownerID == "" {
		return apperr.Auth(op, "caller identity required")
	}
	if err := validatePartIndex(op, partIndex); err != nil {
		return err
	}
	tag := strings.TrimSpace(integrityTag)
	if tag == "" {
		return apperr.Validation(op, "part %d has no integrity tag", partIndex)
	}

	err := s.repo.UpsertPart(ctx, sessionID, ownerID, session.Part{Index: partIndex, IntegrityTag: tag})
	if errors.Is(err, session.ErrNotFound) {
		return apperr.NotFound(op, "no uploading session %s", sessionID)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.PartsAcknowledged.Inc()
	return nil
}

// AbortSession discards the storage-side handle and then marks the session
// errored. A failed discard leaves the session uploading so the caller can
// retry. Sessions already ready or errored are left alone, except that an
// aborted session has its discard re-issued.
func (s *Service) AbortSession(ctx context.Context, sessionID, ownerID string) error {
	const op = "abort session"
	sess, err := s.owned(ctx, op, sessionID, ownerID)
	if err != nil {
		return err
	}

	switch sess.State {
	case session.StateErrored:
		if sess.Aborted() {
			return s.discardHandle(ctx, op, sess)
		}
		return nil
	case session.StateReady:
		return nil
	case session.StateProcessing:
		return apperr.Conflict(op, "session %s is processing and cannot be aborted", sessionID)
	}

	if err := s.discardHandle(ctx, op, sess); err != nil {
		return err
	}

	err = s.repo.Abort(ctx, sessionID, ownerID, abortedDetail)
	if errors.Is(err, session.ErrStateConflict) {
		// Lost a race with finalize or another abort; report whatever won.
		cur, getErr := s.repo.Get(ctx, sessionID)
		if getErr == nil && (cur.State == session.StateReady || cur.State == session.StateErrored) {
			return nil
		}
		return apperr.Conflict(op, "session %s changed state during abort", sessionID)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info(ctx, "upload session aborted", "session_id", sessionID)
	return nil
}

// discardHandle aborts the session's multipart upload. A handle storage no
// longer knows counts as discarded.
func (s *Service) discardHandle(ctx context.Context, op string, sess *session.Session) error {
	err := s.storage.AbortMultipartUpload(ctx, sess.StorageKey, sess.StorageUploadID)
	if err != nil && !s3.IsNotFound(err) {
		return apperr.Wrapf(apperr.KindStorage, op, err, "discard multipart upload")
	}
	return nil
}

func (s *Service) GetSession(ctx context.Context, sessionID, ownerID string) (*session.Session, error) {
	return s.owned(ctx, "get session", sessionID, ownerID)
}

func (s *Service) ListSessions(ctx context.Context, ownerID string, state session.State, limit int) ([]*session.Session, error) {
	const op = "list sessions"
	if ownerID == "" {
		return nil, apperr.Auth(op, "caller identity required")
	}
	if state != "" && !state.Valid() {
		return nil, apperr.Validation(op, "unknown state %q", state)
	}
	list, err := s.repo.List(ctx, session.Filter{OwnerID: ownerID, State: state, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// DeleteSession removes the record, aborting a live multipart handle first.
func (s *Service) DeleteSession(ctx context.Context, sessionID, ownerID string) error {
	const op = "delete session"
	sess, err := s.owned(ctx, op, sessionID, ownerID)
	if err != nil {
		return err
	}
	if sess.State == session.StateProcessing {
		return apperr.Conflict(op, "session %s is processing", sessionID)
	}
	if sess.State == session.StateUploading || sess.Aborted() {
		if err := s.discardHandle(ctx, op, sess); err != nil {
			return err
		}
	}

	err = s.repo.Delete(ctx, sessionID, ownerID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return apperr.NotFound(op, "session %s", sessionID)
	case errors.Is(err, session.ErrStateConflict):
		return apperr.Conflict(op, "session %s is processing", sessionID)
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Info(ctx, "upload session deleted", "session_id", sessionID, "state", string(sess.State))
	return nil
}

func (s *Service) owned(ctx context.Context, op, sessionID, ownerID string) (*session.Session, error) {
	if ownerID == "" {
		return nil, apperr.Auth(op, "caller identity required")
	}
	sess, err := s.repo.GetOwned(ctx, sessionID, ownerID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, apperr.NotFound(op, "session %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess, nil
}

// Helper methods

func validatePartIndex(op string, partIndex int) error {
	if partIndex < 1 || partIndex > MaxParts {
		return apperr.Validation(op, "part index %d outside 1..%d", partIndex, MaxParts)
	}
	return nil
}

func isVideoMime(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	return strings.HasPrefix(mime, "video/") && len(mime) > len("video/")
}

func partCount(size, partSize int64) int {
	if partSize <= 0 {
		return 0
	}
	return int((size + partSize - 1) / partSize)
}

func buildObjectKey(template, sessionID, fileName string) string {
	objectKey := template
	objectKey = strings.ReplaceAll(objectKey, "{shard}", GenerateShard(sessionID))
	objectKey = strings.ReplaceAll(objectKey, "{session_id}", sessionID)
	objectKey = strings.ReplaceAll(objectKey, "{file_name}", sanitizeFileName(fileName))
	return objectKey
}

// sanitizeFileName keeps the base name and replaces characters that are
// awkward in object keys.
func sanitizeFileName(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "source"
	}
	return out
}

// GenerateShard spreads keys across prefixes using the first byte of the
// SHA1 of key.
func GenerateShard(key string) string {
	hash := sha1.Sum([]byte(key))
	return fmt.Sprintf("%02x", hash[:1])
}

// permanentKey is where a finalized source lives, derived from the session id.
func permanentKey(sessionID, fileName string) string {
	ext := strings.ToLower(path.Ext(sanitizeFileName(fileName)))
	return fmt.Sprintf("videos/%s/source%s", sessionID, ext)
}

var _ Tracker = (*Service)(nil)
