// Package session owns the persisted state of chunked uploads: the session
// record, its acknowledged parts and the state machine guarding both.
package session

import (
	"errors"
	"time"

	"clipflow/internal/models"
)

// State is the lifecycle position of an upload session.
//
//	uploading -> processing -> ready | errored
//
// errored sessions may re-enter processing through a finalize retry.
type State string

const (
	StateUploading  State = "uploading"
	StateProcessing State = "processing"
	StateReady      State = "ready"
	StateErrored    State = "errored"
)

func (s State) Valid() bool {
	switch s {
	case StateUploading, StateProcessing, StateReady, StateErrored:
		return true
	}
	return false
}

var (
	ErrNotFound      = errors.New("session not found")
	ErrStateConflict = errors.New("session state conflict")
)

// Part is one acknowledged chunk. Index is 1-based.
type Part struct {
	Index          int       `json:"part_index"`
	IntegrityTag   string    `json:"integrity_tag"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
}

type Session struct {
	ID          string `json:"session_id"`
	OwnerID     string `json:"owner_id"`
	WorkspaceID string `json:"workspace_id"`
	Mode        string `json:"mode"`

	StorageKey      string `json:"storage_key"`
	StorageUploadID string `json:"storage_upload_id"`

	FileName    string `json:"file_name"`
	ByteSize    int64  `json:"byte_size"`
	ContentType string `json:"content_type"`

	State State  `json:"state"`
	Parts []Part `json:"parts,omitempty"`

	FinalStorageKey string               `json:"final_storage_key,omitempty"`
	ManifestKey     string               `json:"manifest_key,omitempty"`
	Renditions      *models.RenditionSet `json:"renditions,omitempty"`
	ErrorDetail     string               `json:"error_detail,omitempty"`
	ViewCount       int64                `json:"view_count"`

	AssembledAt *time.Time `json:"assembled_at,omitempty"`
	AbortedAt   *time.Time `json:"aborted_at,omitempty"`
	ReadyAt     *time.Time `json:"ready_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Assembled reports whether the multipart object was completed in storage.
func (s *Session) Assembled() bool { return s.AssembledAt != nil }

// Aborted reports whether the owner cancelled the upload.
func (s *Session) Aborted() bool { return s.AbortedAt != nil }

// Filter narrows List results. Zero values match everything.
type Filter struct {
	OwnerID string
	State   State
	Limit   int
}
