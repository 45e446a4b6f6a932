package upload

import (
	"context"
	"time"

	"clipflow/internal/models"
	"clipflow/internal/s3"
	"clipflow/internal/transcode"
)

// Storage is the part of the object store the upload flow drives.
type Storage interface {
	CreateMultipartUpload(ctx context.Context, key string, headers map[string]string) (string, error)
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, expires time.Duration) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []s3.PartInfo) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	CopyObject(ctx context.Context, src, dst string) error
	DeleteObject(ctx context.Context, key string) error
	HeadObject(ctx context.Context, key string) (int64, error)
}

// Tracker is the upload session contract. Both upload modes implement it and
// share everything downstream of part acknowledgment.
type Tracker interface {
	Mode() string
	BeginSession(ctx context.Context, req BeginRequest) (*BeginResult, error)
	AcknowledgePart(ctx context.Context, sessionID, ownerID string, partIndex int, integrityTag string) error
	AbortSession(ctx context.Context, sessionID, ownerID string) error
}

type Transcoder interface {
	Transcode(ctx context.Context, job transcode.Job) (*models.RenditionSet, error)
}

// WorkerPool runs finalizations off the request path.
type WorkerPool interface {
	Do(ctx context.Context, fn func(context.Context) error) error
	Go(ctx context.Context, fn func(context.Context)) error
}
