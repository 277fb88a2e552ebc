// Package testutil provides a builder for assembling session records.
package testutil

import (
	"time"

	"github.com/hollowave/upstream/uptypes"
)

// SessionBuilder provides a fluent interface for building session
// records that tests seed into the store. Timestamps are fixed so
// asserted records compare deterministically.
type SessionBuilder struct {
	sess uptypes.UploadSession
}

// NewSessionBuilder creates a builder for an in-progress multipart
// session with sensible defaults.
func NewSessionBuilder(id string) *SessionBuilder {
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return &SessionBuilder{
		sess: uptypes.UploadSession{
			SessionID:    id,
			LocalPath:    "/data/source.bin",
			RemoteBucket: "test-bucket",
			RemoteKey:    "objects/source.bin",
			Status:       uptypes.StatusInProgress,
			Concurrency:  1,
			CreatedAt:    created,
			UpdatedAt:    created,
		},
	}
}

// WithDestination sets the remote bucket and key.
func (b *SessionBuilder) WithDestination(bucket, key string) *SessionBuilder {
	b.sess.RemoteBucket = bucket
	b.sess.RemoteKey = key
	return b
}

// WithSource sets the local path and total size.
func (b *SessionBuilder) WithSource(path string, size int64) *SessionBuilder {
	b.sess.LocalPath = path
	b.sess.TotalSize = size
	return b
}

// WithChunking sets the chunk size and worker count.
func (b *SessionBuilder) WithChunking(chunkSize int64, concurrency int) *SessionBuilder {
	b.sess.ChunkSize = chunkSize
	b.sess.Concurrency = concurrency
	return b
}

// WithUploadID sets the remote multipart upload id.
func (b *SessionBuilder) WithUploadID(uploadID string) *SessionBuilder {
	b.sess.RemoteUploadID = uploadID
	return b
}

// WithStatus sets the session status.
func (b *SessionBuilder) WithStatus(status uptypes.SessionStatus) *SessionBuilder {
	b.sess.Status = status
	return b
}

// WithParts sets the part ledger. Builders that split a file should pair
// this with GenerateParts so offsets stay contiguous.
func (b *SessionBuilder) WithParts(parts []uptypes.PartRecord) *SessionBuilder {
	b.sess.Parts = parts
	if b.sess.TotalSize == 0 {
		var total int64
		for i := range parts {
			total += parts[i].Length
		}
		b.sess.TotalSize = total
	}
	return b
}

// WithContentType sets the detected content type.
func (b *SessionBuilder) WithContentType(contentType string) *SessionBuilder {
	b.sess.ContentType = contentType
	return b
}

// WithETag sets the final object etag, as a completed session would
// carry.
func (b *SessionBuilder) WithETag(etag string) *SessionBuilder {
	b.sess.ETag = etag
	return b
}

// Build returns a copy of the configured session.
func (b *SessionBuilder) Build() *uptypes.UploadSession {
	sess := b.sess
	if len(b.sess.Parts) > 0 {
		sess.Parts = make([]uptypes.PartRecord, len(b.sess.Parts))
		copy(sess.Parts, b.sess.Parts)
	}
	return &sess
}
