package upload

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"clipflow/internal/apperr"
	"clipflow/internal/logging"
	"clipflow/internal/metrics"
	"clipflow/internal/s3"
	"clipflow/internal/session"
	"clipflow/internal/transcode"
)

const interruptedDetail = "processing interrupted"

// Orchestrator drives a session from its last acknowledged part to ready:
// multipart completion, relocation to the permanent key and transcoding.
type Orchestrator struct {
	repo       session.Repository
	storage    Storage
	transcoder Transcoder
	pool       WorkerPool
	logger     logging.Logger
	now        func() time.Time

	heartbeatInterval time.Duration
}

func NewOrchestrator(repo session.Repository, storage Storage, transcoder Transcoder, pool WorkerPool, logger logging.Logger) *Orchestrator {
	return &Orchestrator{
		repo:       repo,
		storage:    storage,
		transcoder: transcoder,
		pool:       pool,
		logger:     logger,
		now:        time.Now,

		heartbeatInterval: DefaultHeartbeatInterval,
	}
}

// Finalize claims the session and runs assembly and transcoding to
// completion on a worker slot, returning the session in its final state.
// A ready session is returned unchanged.
func (o *Orchestrator) Finalize(ctx context.Context, sessionID, ownerID string, reported []CompletedPart) (*session.Session, error) {
	sess, parts, err := o.claim(ctx, sessionID, ownerID, reported)
	if err != nil || sess.State == session.StateReady {
		return sess, err
	}

	// Processing cannot be cancelled once claimed.
	ran := false
	err = o.pool.Do(context.WithoutCancel(ctx), func(ctx context.Context) error {
		ran = true
		return o.process(ctx, sess, parts)
	})
	if err != nil && !ran {
		return nil, o.fail(ctx, sess.ID, apperr.Wrapf(apperr.KindTranscode, "finalize", err, "schedule transcode"))
	}
	if err != nil {
		return nil, err
	}
	return o.repo.Get(context.WithoutCancel(ctx), sess.ID)
}

// FinalizeAsync claims the session and validates the part list, then hands
// the rest to the worker pool. Conflicts and validation errors are returned
// before anything is scheduled.
func (o *Orchestrator) FinalizeAsync(ctx context.Context, sessionID, ownerID string, reported []CompletedPart) (*session.Session, error) {
	sess, parts, err := o.claim(ctx, sessionID, ownerID, reported)
	if err != nil || sess.State == session.StateReady {
		return sess, err
	}

	err = o.pool.Go(context.WithoutCancel(ctx), func(ctx context.Context) {
		if err := o.process(ctx, sess, parts); err != nil {
			o.logger.Warn(ctx, "finalize failed", "session_id", sess.ID, "error", err)
		}
	})
	if err != nil {
		return nil, o.fail(ctx, sess.ID, apperr.Wrapf(apperr.KindTranscode, "finalize", err, "schedule transcode"))
	}
	return sess, nil
}

// Reclaim errors out processing sessions whose heartbeat is older than
// staleAfter, which only happens when a process died mid-finalize.
func (o *Orchestrator) Reclaim(ctx context.Context, staleAfter time.Duration) (int64, error) {
	n, err := o.repo.ReclaimProcessing(ctx, o.now().Add(-staleAfter), interruptedDetail)
	if err != nil {
		return 0, fmt.Errorf("reclaim processing sessions: %w", err)
	}
	if n > 0 {
		o.logger.Warn(ctx, "reclaimed interrupted sessions", "count", n)
	}
	return n, nil
}

// claim performs the exclusive move into processing and resolves the part
// list to hand to storage. For a ready session it returns that session and
// no parts.
func (o *Orchestrator) claim(ctx context.Context, sessionID, ownerID string, reported []CompletedPart) (*session.Session, []s3.PartInfo, error) {
	const op = "finalize"
	if ownerID == "" {
		return nil, nil, apperr.Auth(op, "caller identity required")
	}

	sess, err := o.repo.GetOwned(ctx, sessionID, ownerID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil, apperr.NotFound(op, "session %s", sessionID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	switch sess.State {
	case session.StateReady:
		return sess, nil, nil
	case session.StateProcessing:
		return nil, nil, apperr.Conflict(op, "session %s is already processing", sessionID)
	case session.StateErrored:
		return o.claimRetry(ctx, sess, reported)
	}

	if err := o.transition(ctx, op, sessionID, session.StateUploading, session.StateProcessing); err != nil {
		return nil, nil, err
	}
	// Parts are frozen from here on; reload to validate against the final set.
	sess, err = o.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, o.fail(ctx, sessionID, fmt.Errorf("%s: reload: %w", op, err))
	}

	parts, err := validateParts(op, reported, sess.Parts)
	if err != nil {
		if revertErr := o.repo.Transition(context.WithoutCancel(ctx), sessionID, session.StateProcessing, session.StateUploading); revertErr != nil {
			o.logger.Error(ctx, "failed to revert session to uploading", "session_id", sessionID, "error", revertErr)
		}
		metrics.Finalizations.WithLabelValues("rejected").Inc()
		return nil, nil, err
	}

	o.logger.Info(ctx, "finalize started", "session_id", sessionID, "parts", len(parts))
	return sess, parts, nil
}

// claimRetry re-enters processing from errored. Steps already recorded on
// the session are not repeated.
func (o *Orchestrator) claimRetry(ctx context.Context, sess *session.Session, reported []CompletedPart) (*session.Session, []s3.PartInfo, error) {
	const op = "finalize retry"
	if sess.Aborted() {
		return nil, nil, apperr.Conflict(op, "session %s was aborted", sess.ID)
	}

	var parts []s3.PartInfo
	if !sess.Assembled() {
		if len(reported) == 0 {
			reported = acknowledgedAsReported(sess.Parts)
		}
		var err error
		if parts, err = validateParts(op, reported, sess.Parts); err != nil {
			return nil, nil, err
		}
	}

	if err := o.transition(ctx, op, sess.ID, session.StateErrored, session.StateProcessing); err != nil {
		return nil, nil, err
	}
	sess.State = session.StateProcessing
	o.logger.Info(ctx, "finalize retry started", "session_id", sess.ID,
		"assembled", sess.Assembled(), "relocated", sess.FinalStorageKey != "")
	return sess, parts, nil
}

func (o *Orchestrator) transition(ctx context.Context, op, id string, from, to session.State) error {
	err := o.repo.Transition(ctx, id, from, to)
	switch {
	case errors.Is(err, session.ErrStateConflict):
		metrics.Finalizations.WithLabelValues("conflict").Inc()
		return apperr.Conflict(op, "session %s is no longer %s", id, from)
	case errors.Is(err, session.ErrNotFound):
		return apperr.NotFound(op, "session %s", id)
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// process runs completion, relocation and transcoding for a session the
// caller has moved into processing. Every failure leaves it errored.
func (o *Orchestrator) process(ctx context.Context, sess *session.Session, parts []s3.PartInfo) error {
	const op = "finalize"
	stop := o.startHeartbeat(ctx, sess.ID)
	defer stop()

	if !sess.Assembled() {
		if err := o.storage.CompleteMultipartUpload(ctx, sess.StorageKey, sess.StorageUploadID, parts); err != nil {
			wrapped := apperr.Wrapf(apperr.KindStorage, op, err, "complete multipart upload%s", missingNote(parts, sess.Parts))
			return o.fail(ctx, sess.ID, wrapped)
		}
		if err := o.repo.MarkAssembled(ctx, sess.ID); err != nil {
			return o.fail(ctx, sess.ID, fmt.Errorf("%s: record assembly: %w", op, err))
		}
	}

	key := sess.FinalStorageKey
	if key == "" {
		var err error
		if key, err = o.relocate(ctx, sess); err != nil {
			return o.fail(ctx, sess.ID, err)
		}
		if err := o.repo.SetFinalKey(ctx, sess.ID, key); err != nil {
			return o.fail(ctx, sess.ID, fmt.Errorf("%s: record final key: %w", op, err))
		}
	}

	set, err := o.transcoder.Transcode(ctx, transcode.Job{SessionID: sess.ID, SourceKey: key, ExpectedSize: sess.ByteSize})
	if err != nil {
		return o.fail(ctx, sess.ID, err)
	}

	if err := o.repo.MarkReady(ctx, sess.ID, set); err != nil {
		return o.fail(ctx, sess.ID, fmt.Errorf("%s: mark ready: %w", op, err))
	}
	metrics.Finalizations.WithLabelValues("ready").Inc()
	o.logger.Info(ctx, "session ready", "session_id", sess.ID, "source_key", key, "adaptive", set != nil)
	return nil
}

// relocate moves the assembled object to its permanent key. A copy that
// already landed is not repeated; the temporary object is removed best-effort.
func (o *Orchestrator) relocate(ctx context.Context, sess *session.Session) (string, error) {
	const op = "relocate source"
	dst := permanentKey(sess.ID, sess.FileName)

	_, err := o.storage.HeadObject(ctx, dst)
	switch {
	case err == nil:
		o.logger.Info(ctx, "source already relocated", "session_id", sess.ID, "key", dst)
	case s3.IsNotFound(err):
		if err := o.storage.CopyObject(ctx, sess.StorageKey, dst); err != nil {
			return "", apperr.Wrapf(apperr.KindStorage, op, err, "copy %s to %s", sess.StorageKey, dst)
		}
	default:
		return "", apperr.Wrapf(apperr.KindStorage, op, err, "stat %s", dst)
	}

	if err := o.storage.DeleteObject(ctx, sess.StorageKey); err != nil && !s3.IsNotFound(err) {
		o.logger.Warn(ctx, "failed to delete temporary object", "session_id", sess.ID, "key", sess.StorageKey, "error", err)
	}
	return dst, nil
}

// fail records err as the session's error detail and returns it.
func (o *Orchestrator) fail(ctx context.Context, id string, err error) error {
	metrics.Finalizations.WithLabelValues("errored").Inc()
	if markErr := o.repo.MarkErrored(context.WithoutCancel(ctx), id, err.Error()); markErr != nil {
		o.logger.Error(ctx, "failed to mark session errored", "session_id", id, "cause", err, "error", markErr)
	} else {
		o.logger.Warn(ctx, "session errored", "session_id", id, "error", err)
	}
	return err
}

// validateParts sorts the reported parts and checks each against the
// acknowledged set.
func validateParts(op string, reported []CompletedPart, acknowledged []session.Part) ([]s3.PartInfo, error) {
	if len(reported) == 0 {
		return nil, apperr.Validation(op, "no parts reported")
	}
	acked := make(map[int]bool, len(acknowledged))
	for _, p := range acknowledged {
		acked[p.Index] = true
	}

	sorted := append([]CompletedPart(nil), reported...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	parts := make([]s3.PartInfo, 0, len(sorted))
	for i, p := range sorted {
		if i > 0 && sorted[i-1].PartNumber == p.PartNumber {
			return nil, apperr.Validation(op, "part %d reported more than once", p.PartNumber)
		}
		if strings.TrimSpace(p.ETag) == "" {
			return nil, apperr.Validation(op, "part %d has no integrity tag", p.PartNumber)
		}
		if !acked[p.PartNumber] {
			return nil, apperr.Validation(op, "part %d was never acknowledged", p.PartNumber)
		}
		parts = append(parts, s3.PartInfo{PartNumber: p.PartNumber, ETag: strings.TrimSpace(p.ETag)})
	}
	return parts, nil
}

func acknowledgedAsReported(acknowledged []session.Part) []CompletedPart {
	out := make([]CompletedPart, 0, len(acknowledged))
	for _, p := range acknowledged {
		out = append(out, CompletedPart{PartNumber: p.Index, ETag: p.IntegrityTag})
	}
	return out
}

// missingNote names the indices a completion most likely failed on: gaps in
// 1..max(reported) and acknowledged parts left out of the report.
func missingNote(parts []s3.PartInfo, acknowledged []session.Part) string {
	reported := make(map[int]bool, len(parts))
	highest := 0
	for _, p := range parts {
		reported[p.PartNumber] = true
		if p.PartNumber > highest {
			highest = p.PartNumber
		}
	}

	missing := map[int]bool{}
	for i := 1; i <= highest; i++ {
		if !reported[i] {
			missing[i] = true
		}
	}
	for _, p := range acknowledged {
		if !reported[p.Index] {
			missing[p.Index] = true
		}
	}
	if len(missing) == 0 {
		return ""
	}

	idx := make([]int, 0, len(missing))
	for i := range missing {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	names := make([]string, len(idx))
	for i, n := range idx {
		names[i] = strconv.Itoa(n)
	}
	return " (parts not reported: " + strings.Join(names, ", ") + ")"
}
