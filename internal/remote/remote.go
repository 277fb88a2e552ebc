package remote

import (
	"context"
	"io"
	"time"

	"github.com/hollowave/upstream/uptypes"
)

// InitiateInput carries the parameters for starting a multipart upload.
type InitiateInput struct {
	Bucket       string
	Key          string
	ContentType  string
	Metadata     map[string]string
	StorageClass uptypes.StorageClass
}

// PartInput identifies one part of a multipart upload and the bytes to send.
type PartInput struct {
	Bucket     string
	Key        string
	UploadID   string
	PartNumber int32
	Body       io.Reader
	Length     int64
}

// CompletedPart pairs a part number with the etag the backend returned for it.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// CompleteInput carries the part manifest for finishing a multipart upload.
type CompleteInput struct {
	Bucket   string
	Key      string
	UploadID string
	Parts    []CompletedPart
}

// CompleteResult describes the object assembled by a completed multipart
// upload.
type CompleteResult struct {
	ETag     string
	Location string
}

// PutInput carries the parameters for a single-shot upload.
type PutInput struct {
	Bucket       string
	Key          string
	Body         io.Reader
	Length       int64
	ContentType  string
	Metadata     map[string]string
	StorageClass uptypes.StorageClass
}

// PutResult describes the object written by a single-shot upload.
type PutResult struct {
	ETag string
}

// Part describes one part the backend has accepted for an in-progress
// multipart upload.
type Part struct {
	PartNumber int32
	Size       int64
	ETag       string
}

// Upload describes one in-progress multipart upload tracked by the backend.
type Upload struct {
	UploadID  string
	Key       string
	Initiated time.Time
}

// Store is the backend capability set the upload manager depends on. The S3
// type implements it over the AWS SDK; tests substitute in-memory fakes.
type Store interface {
	// PutObject uploads an object in a single request. Used below the
	// multipart threshold.
	PutObject(ctx context.Context, in PutInput) (PutResult, error)

	// Initiate starts a multipart upload and returns the backend's upload id.
	Initiate(ctx context.Context, in InitiateInput) (string, error)

	// UploadPart sends one part and returns the etag the backend assigned.
	UploadPart(ctx context.Context, in PartInput) (string, error)

	// Complete assembles the uploaded parts into the final object.
	Complete(ctx context.Context, in CompleteInput) (CompleteResult, error)

	// Abort discards an in-progress multipart upload. Aborting an upload the
	// backend no longer tracks is not an error.
	Abort(ctx context.Context, bucket, key, uploadID string) error

	// ListParts returns every part the backend has recorded for an upload.
	ListParts(ctx context.Context, bucket, key, uploadID string) ([]Part, error)

	// ListUploads returns the in-progress multipart uploads under a key
	// prefix. An empty prefix lists the whole bucket.
	ListUploads(ctx context.Context, bucket, prefix string) ([]Upload, error)

	// Head returns object metadata without fetching the body.
	Head(ctx context.Context, bucket, key string) (*uptypes.ObjectInfo, error)

	// PresignGet returns a time-limited download URL for an object.
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}
