package upstream

import (
	"context"
	"time"

	uperrors "github.com/hollowave/upstream/errors"
	"github.com/hollowave/upstream/internal/validation"
	"github.com/hollowave/upstream/uptypes"
)

// Stat returns metadata for an object in the role's bucket without
// reading its content.
func (m *Manager) Stat(ctx context.Context, role uptypes.BucketRole, key string) (*uptypes.ObjectInfo, error) {
	bucket, err := m.bucketFor(role)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateObjectKey(key); err != nil {
		return nil, err
	}
	return m.remote.Head(ctx, bucket, key)
}

// PresignURL returns a presigned GET URL for an object, valid for ttl.
func (m *Manager) PresignURL(ctx context.Context, role uptypes.BucketRole, key string, ttl time.Duration) (string, error) {
	bucket, err := m.bucketFor(role)
	if err != nil {
		return "", err
	}
	if err := validation.ValidateObjectKey(key); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", uperrors.NewObjectError("presign", bucket, key, uperrors.ErrInvalidInput).
			WithMessage("ttl must be positive")
	}
	return m.remote.PresignGet(ctx, bucket, key, ttl)
}

// AbortStaleUploads lists the in-progress multipart uploads under prefix
// in the role's bucket and aborts those initiated before now-olderThan.
// Uploads this process is actively driving are skipped. It returns the
// number aborted; individual abort failures are logged, not fatal.
//
// This is the janitorial counterpart to crash-orphaned uploads: parts
// of an abandoned multipart upload accrue storage costs until the upload
// is aborted or a bucket lifecycle rule expires it.
func (m *Manager) AbortStaleUploads(ctx context.Context, role uptypes.BucketRole, prefix string, olderThan time.Duration) (int, error) {
	bucket, err := m.bucketFor(role)
	if err != nil {
		return 0, err
	}

	uploads, err := m.remote.ListUploads(ctx, bucket, prefix)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	aborted := 0
	for _, u := range uploads {
		if !u.Initiated.Before(cutoff) {
			continue
		}
		if m.lookupActive(uptypes.SessionID(bucket, u.Key)) != nil {
			continue
		}
		if err := m.remote.Abort(ctx, bucket, u.Key, u.UploadID); err != nil {
			m.logger.WarnContext(ctx, "failed to abort stale upload",
				"bucket", bucket,
				"key", u.Key,
				"upload_id", u.UploadID,
				"error", err)
			continue
		}
		aborted++
	}
	return aborted, nil
}
