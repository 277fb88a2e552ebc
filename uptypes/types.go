// Package uptypes provides shared type definitions for the upstream module.
package uptypes

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
)

// Backend part-size limits for S3-compatible multipart uploads.
const (
	// MinPartSize is the smallest size the backend accepts for any
	// non-final part (5 MiB).
	MinPartSize int64 = 5 * 1024 * 1024

	// MaxPartSize is the largest size the backend accepts for a single
	// part (5 GiB).
	MaxPartSize int64 = 5 * 1024 * 1024 * 1024

	// MaxPartCount is the largest number of parts the backend tracks for
	// one multipart upload.
	MaxPartCount = 10000
)

// SessionStatus is the lifecycle state of an upload session.
type SessionStatus string

// Session lifecycle states. Transitions only move forward:
// Pending -> InProgress -> {Completed, Aborted, Failed}.
const (
	StatusPending    SessionStatus = "Pending"
	StatusInProgress SessionStatus = "InProgress"
	StatusCompleted  SessionStatus = "Completed"
	StatusAborted    SessionStatus = "Aborted"
	StatusFailed     SessionStatus = "Failed"
)

// Terminal reports whether the status is absorbing: no transition leads
// out of it.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusAborted, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal
// forward transition.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress || next == StatusCompleted ||
			next == StatusAborted || next == StatusFailed
	case StatusInProgress:
		return next == StatusCompleted || next == StatusAborted || next == StatusFailed
	default:
		return false
	}
}

// PartStatus is the lifecycle state of a single part.
type PartStatus string

// Part lifecycle states. Uploaded is terminal; a part's etag is set once
// and never overwritten.
const (
	PartPending   PartStatus = "Pending"
	PartUploading PartStatus = "Uploading"
	PartUploaded  PartStatus = "Uploaded"
	PartFailed    PartStatus = "Failed"
)

// PartRecord tracks one contiguous byte range of the source file through
// its upload. Part numbers are 1-based and contiguous; the ranges cover
// [0, total_size) with no gaps or overlaps.
type PartRecord struct {
	PartNumber   int32      `json:"part_number"`
	Offset       int64      `json:"offset"`
	Length       int64      `json:"length"`
	ETag         string     `json:"etag,omitempty"`
	Status       PartStatus `json:"status"`
	AttemptCount int        `json:"attempt_count"`
}

// UploadSession is the durable record of one upload: its identity, plan,
// and per-part progress. It round-trips exactly through the session store.
type UploadSession struct {
	SessionID      string        `json:"session_id"`
	LocalPath      string        `json:"local_path"`
	RemoteBucket   string        `json:"remote_bucket"`
	RemoteKey      string        `json:"remote_key"`
	TotalSize      int64         `json:"total_size"`
	ChunkSize      int64         `json:"chunk_size"`
	Concurrency    int           `json:"concurrency"`
	RemoteUploadID string        `json:"remote_upload_id,omitempty"`
	Status         SessionStatus `json:"status"`
	Parts          []PartRecord  `json:"parts,omitempty"`
	ContentType    string        `json:"content_type,omitempty"`
	ETag           string        `json:"etag,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Snapshot computes the current progress of the session from its part
// statuses. It is derived state: recomputed on demand, never persisted.
func (s *UploadSession) Snapshot() ProgressSnapshot {
	snap := ProgressSnapshot{
		BytesTotal: s.TotalSize,
		PartsTotal: len(s.Parts),
	}

	// Single-shot sessions have no parts; they are all-or-nothing.
	if len(s.Parts) == 0 {
		if s.Status == StatusCompleted {
			snap.BytesCompleted = s.TotalSize
			snap.Percent = 100
		}
		return snap
	}

	for i := range s.Parts {
		if s.Parts[i].Status == PartUploaded {
			snap.BytesCompleted += s.Parts[i].Length
			snap.PartsCompleted++
		}
	}
	if s.TotalSize > 0 {
		snap.Percent = float64(snap.BytesCompleted) / float64(s.TotalSize) * 100
	}
	return snap
}

// SessionID derives the stable session identifier for a destination.
// It is deterministic over (bucket, key) so a resume request can locate
// the session without an explicit id.
func SessionID(bucket, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, fmt.Appendf(nil, "s3://%s/%s", bucket, key)).String()
}

// ProgressSnapshot is a point-in-time view of an upload's progress.
type ProgressSnapshot struct {
	BytesCompleted int64   `json:"bytes_completed"`
	BytesTotal     int64   `json:"bytes_total"`
	PartsCompleted int     `json:"parts_completed"`
	PartsTotal     int     `json:"parts_total"`
	Percent        float64 `json:"percent"`
}

// ProgressFunc receives progress notifications during an upload.
// Invocations are serialized; implementations must not block for long.
type ProgressFunc func(percent float64, bytesCompleted, bytesTotal int64)

// SizeTier maps a file-size range to the chunk size and worker count used
// to upload files in that range.
type SizeTier struct {
	// MaxSize is the exclusive upper bound of the tier in bytes.
	// Zero means unbounded (the last tier).
	MaxSize int64

	// ChunkSize is the part size used within this tier.
	ChunkSize int64

	// Concurrency is the number of upload workers used within this tier.
	Concurrency int
}

// PartPolicy decides how a file of a given size is split and how many
// workers upload it. Sizes below MultipartThreshold are uploaded in a
// single request.
type PartPolicy struct {
	MultipartThreshold int64
	Tiers              []SizeTier
}

// DefaultPartPolicy returns the standard size-tiered policy:
//
//	< 64 MiB            single-shot
//	64 MiB - 1 GiB      8 MiB chunks, 10 workers
//	1 GiB - 10 GiB      32 MiB chunks, 5 workers
//	>= 10 GiB           64 MiB chunks, 2 workers
func DefaultPartPolicy() PartPolicy {
	const (
		mib = int64(1024 * 1024)
		gib = 1024 * mib
	)
	return PartPolicy{
		MultipartThreshold: 64 * mib,
		Tiers: []SizeTier{
			{MaxSize: 1 * gib, ChunkSize: 8 * mib, Concurrency: 10},
			{MaxSize: 10 * gib, ChunkSize: 32 * mib, Concurrency: 5},
			{MaxSize: 0, ChunkSize: 64 * mib, Concurrency: 2},
		},
	}
}

// UploadPlan is the part planner's output: the chunking and concurrency
// chosen for one upload. An empty Parts slice means single-shot.
type UploadPlan struct {
	ChunkSize   int64
	Concurrency int
	Parts       []PartRecord
}

// BucketRole names the purpose a bucket serves in the pipeline. Callers
// address buckets by role; the injected BucketMap resolves the actual
// bucket name once at the API boundary.
type BucketRole string

// The closed set of bucket roles.
const (
	RoleModels  BucketRole = "models"
	RoleOutputs BucketRole = "outputs"
	RoleUploads BucketRole = "uploads"
	RoleBackups BucketRole = "backups"
	RoleTemp    BucketRole = "temp"
)

// Valid reports whether the role is one of the known roles.
func (r BucketRole) Valid() bool {
	switch r {
	case RoleModels, RoleOutputs, RoleUploads, RoleBackups, RoleTemp:
		return true
	default:
		return false
	}
}

// String returns the role name.
func (r BucketRole) String() string { return string(r) }

// ParseBucketRole converts a string into a BucketRole, for callers that
// accept role names from flags or configuration.
func ParseBucketRole(s string) (BucketRole, error) {
	r := BucketRole(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown bucket role %q", s)
	}
	return r, nil
}

// BucketMap resolves bucket roles to bucket names.
type BucketMap map[BucketRole]string

// StorageClass represents the S3 storage class for uploaded objects.
type StorageClass string

// Predefined S3 storage classes.
const (
	StorageClassStandard           StorageClass = "STANDARD"
	StorageClassReducedRedundancy  StorageClass = "REDUCED_REDUNDANCY"
	StorageClassStandardIA         StorageClass = "STANDARD_IA"
	StorageClassOneZoneIA          StorageClass = "ONEZONE_IA"
	StorageClassIntelligentTiering StorageClass = "INTELLIGENT_TIERING"
	StorageClassGlacier            StorageClass = "GLACIER"
	StorageClassDeepArchive        StorageClass = "DEEP_ARCHIVE"
	StorageClassGlacierIR          StorageClass = "GLACIER_IR"
)

// UploadResult contains the result of a completed upload.
type UploadResult struct {
	// SessionID identifies the session that produced the object
	SessionID string

	// Bucket is the bucket the object was uploaded to
	Bucket string

	// Key is the object key that was uploaded
	Key string

	// Size is the size of the uploaded object in bytes
	Size int64

	// ETag is the entity tag of the final object
	ETag string

	// Location is the backend-reported object URL, when available
	Location string

	// Duration is how long the upload (or resumed remainder) took
	Duration time.Duration
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	// Key is the object key
	Key string

	// Size is the object size in bytes
	Size int64

	// ETag is the entity tag for the object
	ETag string

	// ContentType is the MIME type of the object
	ContentType string

	// LastModified is when the object was last modified
	LastModified time.Time

	// Metadata contains user-defined metadata
	Metadata map[string]string
}

// Configuration types for functional options

// ClientConfig holds configuration for the upload manager.
type ClientConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool
	MaxRetries      int
	Timeout         time.Duration
	CustomAWSConfig *aws.Config

	Buckets          BucketMap
	StateDir         string
	StateFilesystem  billy.Filesystem // overrides StateDir when set
	SessionRetention time.Duration

	PartPolicy       *PartPolicy
	PartTimeout      time.Duration
	RetryBaseDelay   time.Duration
	RetryMaxAttempts int
	ProgressInterval time.Duration

	Logger     *slog.Logger
	Filesystem billy.Filesystem // source-file reads go through this
}

// UploadOptionConfig holds per-upload configuration via functional options.
type UploadOptionConfig struct {
	ContentType  string
	Metadata     map[string]string
	StorageClass StorageClass
	Progress     ProgressFunc
	ChunkSize    int64
	Concurrency  int
}

// Option is a functional option for configuring the upload manager.
type (
	Option func(*ClientConfig)
	// UploadOption is a functional option for configuring a single upload.
	UploadOption func(*UploadOptionConfig)
)
