package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clipflow/internal/dbx"
	"clipflow/internal/models"
)

const sessionColumns = `id, owner_id, workspace_id, mode, storage_key, storage_upload_id,
	file_name, byte_size, content_type, state, final_storage_key, manifest_key, renditions,
	error_detail, view_count, assembled_at, aborted_at, ready_at, created_at, updated_at`

const defaultListLimit = 100

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *Session) error {
	query := `INSERT INTO upload_sessions (id, owner_id, workspace_id, mode, storage_key, storage_upload_id,
		file_name, byte_size, content_type, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query, s.ID, s.OwnerID, s.WorkspaceID, s.Mode, s.StorageKey,
		s.StorageUploadID, s.FileName, s.ByteSize, s.ContentType, string(s.State))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Session, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return r.load(ctx, `SELECT `+sessionColumns+` FROM upload_sessions WHERE id = $1`, id)
}

func (r *PostgresRepository) GetOwned(ctx context.Context, id, ownerID string) (*Session, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return r.load(ctx, `SELECT `+sessionColumns+` FROM upload_sessions WHERE id = $1 AND owner_id = $2`, id, ownerID)
}

// load reads the session row and its parts from one snapshot.
func (r *PostgresRepository) load(ctx context.Context, query string, args ...any) (*Session, error) {
	var s *Session
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := dbx.WithTx(ctx, r.db, opts, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		s, err = scanSession(tx.QueryRowContext(ctx, query, args...))
		if err != nil {
			return err
		}
		s.Parts, err = selectParts(ctx, tx, s.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]*Session, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions
		WHERE ($1 = '' OR owner_id = $1) AND ($2 = '' OR state = $2)
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, f.OwnerID, string(f.State), limit)
	if err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	defer rows.Close()

	var result []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertPart holds a share lock on the session row while the part is
// written, so a concurrent move out of uploading waits for it and a part
// arriving after that move finds no uploading session.
func (r *PostgresRepository) UpsertPart(ctx context.Context, id, ownerID string, p Part) error {
	if !validID(id) {
		return ErrNotFound
	}
	lock := `SELECT 1 FROM upload_sessions
		WHERE id = $1 AND owner_id = $2 AND state = 'uploading'
		FOR SHARE`
	query := `INSERT INTO upload_parts (session_id, part_index, integrity_tag, acknowledged_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id, part_index)
		DO UPDATE SET
			integrity_tag = EXCLUDED.integrity_tag,
			acknowledged_at = EXCLUDED.acknowledged_at`

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var one int
		err := tx.QueryRowContext(ctx, lock, id, ownerID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, id, p.Index, p.IntegrityTag); err != nil {
			return fmt.Errorf("upsert part: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) Transition(ctx context.Context, id string, from, to State) error {
	query := `UPDATE upload_sessions SET state = $3, updated_at = now() WHERE id = $1 AND state = $2`
	return r.swap(ctx, id, query, id, string(from), string(to))
}

func (r *PostgresRepository) MarkAssembled(ctx context.Context, id string) error {
	query := `UPDATE upload_sessions SET assembled_at = now(), updated_at = now()
		WHERE id = $1 AND state = 'processing'`
	return r.swap(ctx, id, query, id)
}

func (r *PostgresRepository) SetFinalKey(ctx context.Context, id, key string) error {
	query := `UPDATE upload_sessions SET final_storage_key = $2, updated_at = now()
		WHERE id = $1 AND state = 'processing'`
	return r.swap(ctx, id, query, id, key)
}

func (r *PostgresRepository) MarkReady(ctx context.Context, id string, set *models.RenditionSet) error {
	var manifestKey sql.NullString
	var renditions []byte
	if set != nil {
		manifestKey = sql.NullString{String: set.MasterKey, Valid: set.MasterKey != ""}
		var err error
		renditions, err = json.Marshal(set)
		if err != nil {
			return fmt.Errorf("encode renditions: %w", err)
		}
	}
	query := `UPDATE upload_sessions
		SET state = 'ready', manifest_key = $2, renditions = $3, error_detail = NULL,
			ready_at = now(), updated_at = now()
		WHERE id = $1 AND state = 'processing'`
	return r.swap(ctx, id, query, id, manifestKey, renditions)
}

func (r *PostgresRepository) MarkErrored(ctx context.Context, id, detail string) error {
	query := `UPDATE upload_sessions SET state = 'errored', error_detail = $2, updated_at = now()
		WHERE id = $1 AND state = 'processing'`
	return r.swap(ctx, id, query, id, detail)
}

func (r *PostgresRepository) Abort(ctx context.Context, id, ownerID, detail string) error {
	if !validID(id) {
		return ErrNotFound
	}
	query := `UPDATE upload_sessions
		SET state = 'errored', error_detail = $3, aborted_at = now(), updated_at = now()
		WHERE id = $1 AND owner_id = $2 AND state = 'uploading'`

	res, err := r.db.ExecContext(ctx, query, id, ownerID, detail)
	if err != nil {
		return fmt.Errorf("abort session: %w", err)
	}
	return r.ownedOutcome(ctx, res, id, ownerID)
}

func (r *PostgresRepository) Delete(ctx context.Context, id, ownerID string) error {
	if !validID(id) {
		return ErrNotFound
	}
	query := `DELETE FROM upload_sessions WHERE id = $1 AND owner_id = $2 AND state <> 'processing'`

	res, err := r.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return r.ownedOutcome(ctx, res, id, ownerID)
}

func (r *PostgresRepository) IncrementViews(ctx context.Context, id string) (int64, error) {
	if !validID(id) {
		return 0, ErrNotFound
	}
	query := `UPDATE upload_sessions SET view_count = view_count + 1
		WHERE id = $1 AND state = 'ready'
		RETURNING view_count`

	var count int64
	err := r.db.QueryRowContext(ctx, query, id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment views: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) Heartbeat(ctx context.Context, id string) error {
	query := `UPDATE upload_sessions SET updated_at = now() WHERE id = $1 AND state = 'processing'`
	return r.swap(ctx, id, query, id)
}

func (r *PostgresRepository) ReclaimProcessing(ctx context.Context, before time.Time, detail string) (int64, error) {
	query := `UPDATE upload_sessions SET state = 'errored', error_detail = $2, updated_at = now()
		WHERE state = 'processing' AND updated_at < $1`

	res, err := r.db.ExecContext(ctx, query, before, detail)
	if err != nil {
		return 0, fmt.Errorf("reclaim processing: %w", err)
	}
	return res.RowsAffected()
}

// swap runs a guarded UPDATE. Zero rows means the session is missing or no
// longer in the expected state.
func (r *PostgresRepository) swap(ctx context.Context, id, query string, args ...any) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM upload_sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStateConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) ownedOutcome(ctx context.Context, res sql.Result, id, ownerID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM upload_sessions WHERE id = $1 AND owner_id = $2)`
	if err := r.db.QueryRowContext(ctx, query, id, ownerID).Scan(&exists); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStateConflict
}

// validID reports whether id can name a session row. The id column is a
// UUID, and Postgres fails the whole statement on anything else.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func selectParts(ctx context.Context, db dbx.DBTX, id string) ([]Part, error) {
	query := `SELECT part_index, integrity_tag, acknowledged_at FROM upload_parts
		WHERE session_id = $1 ORDER BY part_index`

	rows, err := db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("select parts: %w", err)
	}
	defer rows.Close()

	var parts []Part
	for rows.Next() {
		var p Part
		if err := rows.Scan(&p.Index, &p.IntegrityTag, &p.AcknowledgedAt); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s                      Session
		state                  string
		finalKey, manifestKey  sql.NullString
		errorDetail            sql.NullString
		renditions             []byte
		assembled, aborted, rd sql.NullTime
	)
	err := row.Scan(&s.ID, &s.OwnerID, &s.WorkspaceID, &s.Mode, &s.StorageKey, &s.StorageUploadID,
		&s.FileName, &s.ByteSize, &s.ContentType, &state, &finalKey, &manifestKey, &renditions,
		&errorDetail, &s.ViewCount, &assembled, &aborted, &rd, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	s.State = State(state)
	s.FinalStorageKey = finalKey.String
	s.ManifestKey = manifestKey.String
	s.ErrorDetail = errorDetail.String
	s.AssembledAt = nullTime(assembled)
	s.AbortedAt = nullTime(aborted)
	s.ReadyAt = nullTime(rd)
	if len(renditions) > 0 {
		var set models.RenditionSet
		if err := json.Unmarshal(renditions, &set); err != nil {
			return nil, fmt.Errorf("decode renditions: %w", err)
		}
		s.Renditions = &set
	}
	return &s, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
