package upload

import (
	"time"

	"clipflow/internal/session"
)

// BeginRequest is the body of POST /uploads. OwnerID comes from the caller
// identity, never from the body.
type BeginRequest struct {
	OwnerID     string `json:"-"`
	WorkspaceID string `json:"workspace_id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	ByteSize    int64  `json:"byte_size"`
}

// BeginResult describes a freshly opened session. Parts is only populated by
// the managed upload mode.
type BeginResult struct {
	SessionID       string    `json:"session_id"`
	StorageKey      string    `json:"storage_key"`
	StorageUploadID string    `json:"storage_upload_id"`
	Mode            string    `json:"mode"`
	PartSize        int64     `json:"part_size"`
	PartCount       int       `json:"part_count"`
	Parts           []PartURL `json:"parts,omitempty"`
}

// PartURL is a single-part write authorization.
type PartURL struct {
	PartNumber int       `json:"part_number"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AckRequest is the body of POST /uploads/{id}/parts/{n}/ack.
type AckRequest struct {
	ETag string `json:"etag"`
}

// CompleteMultipartRequest is the body of POST /uploads/{id}/finalize.
type CompleteMultipartRequest struct {
	Parts []CompletedPart `json:"parts"`
}

// CompletedPart represents a completed part with its ETag
type CompletedPart struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
}

// SessionResponse is the owner's view of a session.
type SessionResponse struct {
	*session.Session
	PartCount int `json:"acknowledged_part_count"`
}

func newSessionResponse(s *session.Session) *SessionResponse {
	return &SessionResponse{Session: s, PartCount: len(s.Parts)}
}
