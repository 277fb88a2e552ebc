// Package upstream provides functional options for configuring manager
// behavior. Manager options apply at construction; upload options apply
// per call and override manager defaults where both exist.
package upstream

import (
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-git/go-billy/v5"

	"github.com/hollowave/upstream/uptypes"
)

// WithRegion sets the AWS region.
// If not specified, uses the default region from the credential chain.
func WithRegion(region string) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.Region = region
	}
}

// WithEndpoint sets a custom S3 endpoint URL.
// This is useful for S3-compatible services (MinIO, Ceph RGW) or local
// testing with LocalStack.
func WithEndpoint(endpoint string) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.Endpoint = endpoint
	}
}

// WithStaticCredentials injects a fixed credential set instead of the
// AWS default chain. sessionToken may be empty for long-lived keys.
func WithStaticCredentials(accessKeyID, secretAccessKey, sessionToken string) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.AccessKeyID = accessKeyID
		c.SecretAccessKey = secretAccessKey
		c.SessionToken = sessionToken
	}
}

// WithForcePathStyle forces path-style URLs instead of virtual-hosted
// style. Required for most S3-compatible services.
// Default is false (virtual-hosted style).
func WithForcePathStyle(forcePathStyle bool) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.ForcePathStyle = forcePathStyle
	}
}

// WithMaxRetries sets the AWS SDK's retry budget for individual API
// calls. This is separate from the part retry budget, which is set with
// WithRetryMaxAttempts. Default is 3.
func WithMaxRetries(maxRetries int) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.MaxRetries = maxRetries
	}
}

// WithTimeout sets the HTTP client timeout for individual requests.
// Default is no timeout (0).
func WithTimeout(timeout time.Duration) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.Timeout = timeout
	}
}

// WithAWSConfig supplies a complete AWS configuration, overriding the
// default loading behavior. Use this for fine-grained control over the
// SDK (custom credential providers, middlewares).
func WithAWSConfig(config *aws.Config) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.CustomAWSConfig = config
	}
}

// WithBuckets sets the full role-to-bucket mapping. Operations address
// buckets by role; roles missing from the map fail with
// ErrBucketNotConfigured.
func WithBuckets(buckets uptypes.BucketMap) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.Buckets = buckets
	}
}

// WithBucket maps a single role to a bucket, merging with any mapping
// set earlier.
func WithBucket(role uptypes.BucketRole, bucket string) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		if c.Buckets == nil {
			c.Buckets = make(uptypes.BucketMap)
		}
		c.Buckets[role] = bucket
	}
}

// WithStateDir sets the directory for session records.
// Default is ~/.upstream/sessions.
func WithStateDir(dir string) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.StateDir = dir
	}
}

// WithStateFilesystem mounts the session store on a caller-provided
// filesystem, overriding WithStateDir. This allows in-memory session
// state for testing.
func WithStateFilesystem(fsys billy.Filesystem) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.StateFilesystem = fsys
	}
}

// WithSessionRetention sets how long terminal session records are kept
// before the startup sweep removes them. Zero disables sweeping.
// Default is 7 days.
func WithSessionRetention(retention time.Duration) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.SessionRetention = retention
	}
}

// WithPartPolicy replaces the size-tiered chunking policy used to plan
// multipart uploads.
func WithPartPolicy(policy uptypes.PartPolicy) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.PartPolicy = &policy
	}
}

// WithPartTimeout bounds each single part-upload attempt.
// Default is 5 minutes.
func WithPartTimeout(timeout time.Duration) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		if timeout > 0 {
			c.PartTimeout = timeout
		}
	}
}

// WithRetryBaseDelay sets the initial backoff delay for part retries.
// Delays grow exponentially with jitter from this base. Default is
// 500ms.
func WithRetryBaseDelay(delay time.Duration) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		if delay > 0 {
			c.RetryBaseDelay = delay
		}
	}
}

// WithRetryMaxAttempts sets how many times a part is attempted before
// its transient failures count as fatal. Default is 5.
func WithRetryMaxAttempts(attempts int) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		if attempts > 0 {
			c.RetryMaxAttempts = attempts
		}
	}
}

// WithProgressInterval coalesces progress callbacks to at most one per
// interval. Zero reports every completed part. Default is 100ms.
func WithProgressInterval(interval time.Duration) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		if interval >= 0 {
			c.ProgressInterval = interval
		}
	}
}

// WithLogger sets the structured logger for manager internals.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.Logger = logger
	}
}

// WithFilesystem sets the filesystem source files are read through.
// This allows in-memory filesystems for testing or virtual filesystems.
// If not specified, defaults to the OS filesystem.
func WithFilesystem(fsys billy.Filesystem) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.Filesystem = fsys
	}
}

// WithContentType sets the content type for this upload, skipping
// detection.
func WithContentType(contentType string) uptypes.UploadOption {
	return func(c *uptypes.UploadOptionConfig) {
		c.ContentType = contentType
	}
}

// WithMetadata sets user metadata for this upload, merging with any
// metadata set earlier.
func WithMetadata(metadata map[string]string) uptypes.UploadOption {
	return func(c *uptypes.UploadOptionConfig) {
		if c.Metadata == nil {
			c.Metadata = make(map[string]string)
		}
		for k, v := range metadata {
			c.Metadata[k] = v
		}
	}
}

// WithStorageClass sets the storage class for this upload.
func WithStorageClass(storageClass uptypes.StorageClass) uptypes.UploadOption {
	return func(c *uptypes.UploadOptionConfig) {
		c.StorageClass = storageClass
	}
}

// WithProgress registers a callback for upload progress. Callbacks are
// serialized and reported values never decrease.
func WithProgress(fn uptypes.ProgressFunc) uptypes.UploadOption {
	return func(c *uptypes.UploadOptionConfig) {
		c.Progress = fn
	}
}

// WithChunkSize overrides the planned part size for this upload.
// The value is still validated against backend part limits.
func WithChunkSize(size int64) uptypes.UploadOption {
	return func(c *uptypes.UploadOptionConfig) {
		if size > 0 {
			c.ChunkSize = size
		}
	}
}

// WithUploadConcurrency overrides the planned worker count for this
// upload.
func WithUploadConcurrency(concurrency int) uptypes.UploadOption {
	return func(c *uptypes.UploadOptionConfig) {
		if concurrency > 0 {
			c.Concurrency = concurrency
		}
	}
}
