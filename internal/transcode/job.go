// Package transcode turns a finalized source object into an HLS rendition
// ladder and runs that work on a bounded worker pool.
package transcode

import (
	"context"
	"io"
)

// Job identifies one source to transcode.
type Job struct {
	SessionID string
	SourceKey string
	// ExpectedSize is the byte count the materialized source must have. Zero
	// skips the comparison.
	ExpectedSize int64
}

// Storage is the object store the transcoder reads sources from and writes
// renditions to.
type Storage interface {
	Download(ctx context.Context, key string, w io.Writer) (int64, error)
	PutObject(ctx context.Context, key string, body io.Reader, contentType string) error
}

// Key layout of a published rendition tree.
func hlsPrefix(sessionID string) string { return "videos/" + sessionID + "/hls/" }

func MasterKey(sessionID string) string { return hlsPrefix(sessionID) + "master.m3u8" }

func RenditionKey(sessionID, label, name string) string {
	return hlsPrefix(sessionID) + label + "/" + name
}
