// Package errors provides error types and handling for upload operations.
package errors

import (
	"errors"
	"fmt"
)

// Error represents an upload operation error with context about where it
// failed. It wraps the underlying error with the operation, destination,
// and session coordinates needed to resume or intervene.
type Error struct {
	// Op is the operation that failed (e.g., "upload", "resume", "abort")
	Op string

	// Bucket is the destination bucket (if applicable)
	Bucket string

	// Key is the destination object key (if applicable)
	Key string

	// SessionID identifies the upload session (if applicable)
	SessionID string

	// Part is the 1-based part number (0 when not part-scoped)
	Part int32

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	msg := "upstream." + e.Op
	switch {
	case e.Bucket != "" && e.Key != "":
		msg += " " + e.Bucket + "/" + e.Key
	case e.Bucket != "":
		msg += " bucket " + e.Bucket
	case e.Key != "":
		msg += " object " + e.Key
	}
	if e.SessionID != "" {
		msg += " session " + e.SessionID
	}
	if e.Part > 0 {
		msg = fmt.Sprintf("%s part %d", msg, e.Part)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithBucket adds bucket context to an existing error.
func (e *Error) WithBucket(bucket string) *Error {
	e.Bucket = bucket
	return e
}

// WithKey adds object key context to an existing error.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithSession adds session context to an existing error.
func (e *Error) WithSession(sessionID string) *Error {
	e.SessionID = sessionID
	return e
}

// WithPart adds part-number context to an existing error.
func (e *Error) WithPart(partNumber int32) *Error {
	e.Part = partNumber
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// New creates a new Error with the given operation and underlying error.
func New(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// NewObjectError creates a new Error with bucket and key context.
func NewObjectError(op, bucket, key string, err error) *Error {
	return &Error{
		Op:     op,
		Bucket: bucket,
		Key:    key,
		Err:    err,
	}
}

// NewSessionError creates a new Error with session context.
func NewSessionError(op, sessionID string, err error) *Error {
	return &Error{
		Op:        op,
		SessionID: sessionID,
		Err:       err,
	}
}

// Sentinel errors for upload failures. These can be used with errors.Is()
// for error checking; the adapter classifies backend responses onto them.
var (
	// ErrTransient indicates a retryable network or service failure
	// (timeout, 5xx, throttle). Retried per-part with backoff; it only
	// surfaces after the retry budget is exhausted.
	ErrTransient = errors.New("upstream: transient network error")

	// ErrAccessDenied indicates the backend rejected the credentials or
	// the operation. Non-retryable.
	ErrAccessDenied = errors.New("upstream: access denied")

	// ErrPartTooSmall indicates the backend rejected a part below its
	// minimum part size.
	ErrPartTooSmall = errors.New("upstream: part below minimum size")

	// ErrPartTooLarge indicates the backend rejected a part above its
	// maximum part size.
	ErrPartTooLarge = errors.New("upstream: part above maximum size")

	// ErrInvalidSizePolicy indicates a misconfigured part policy; caught
	// before any network call.
	ErrInvalidSizePolicy = errors.New("upstream: invalid part size policy")

	// ErrSessionCorrupted indicates the local session record and the
	// remote upload state disagree; a fresh upload is required.
	ErrSessionCorrupted = errors.New("upstream: session state diverged from remote")

	// ErrQuotaExceeded indicates the backend refused the upload for
	// quota or storage-capacity reasons. Non-retryable.
	ErrQuotaExceeded = errors.New("upstream: storage quota exceeded")

	// ErrAborted indicates the upload was cancelled by an Abort call.
	// It marks an acknowledged stop, not a failure.
	ErrAborted = errors.New("upstream: upload aborted")

	// ErrSessionNotFound indicates no session record exists for the id.
	ErrSessionNotFound = errors.New("upstream: session not found")

	// ErrSessionTerminal indicates the session already reached a
	// terminal state and cannot be resumed.
	ErrSessionTerminal = errors.New("upstream: session already terminal")

	// ErrSessionActive indicates another upload for the same session is
	// running in this process.
	ErrSessionActive = errors.New("upstream: session already active")

	// ErrUploadNotFound indicates the backend no longer tracks the
	// multipart upload id.
	ErrUploadNotFound = errors.New("upstream: multipart upload not found")

	// ErrObjectNotFound indicates the requested object does not exist.
	ErrObjectNotFound = errors.New("upstream: object not found")

	// ErrBucketNotConfigured indicates no bucket is mapped for the
	// requested role.
	ErrBucketNotConfigured = errors.New("upstream: no bucket configured for role")

	// ErrInvalidInput indicates the provided input is invalid.
	ErrInvalidInput = errors.New("upstream: invalid input")

	// ErrInvalidBucketName indicates the bucket name is invalid.
	ErrInvalidBucketName = errors.New("upstream: invalid bucket name")

	// ErrInvalidObjectKey indicates the object key is invalid.
	ErrInvalidObjectKey = errors.New("upstream: invalid object key")
)

// IsTransient checks if an error is a retryable transient failure.
// This is a convenience function that handles both sentinel errors and wrapped errors.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsAccessDenied checks if an error indicates access was denied.
// This is a convenience function that handles both sentinel errors and wrapped errors.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsSessionNotFound checks if an error indicates a missing session record.
// This is a convenience function that handles both sentinel errors and wrapped errors.
func IsSessionNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// IsSessionCorrupted checks if an error indicates local/remote divergence.
// This is a convenience function that handles both sentinel errors and wrapped errors.
func IsSessionCorrupted(err error) bool {
	return errors.Is(err, ErrSessionCorrupted)
}

// IsAborted checks if an error acknowledges a user abort.
// This is a convenience function that handles both sentinel errors and wrapped errors.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// IsQuotaExceeded checks if an error indicates a storage quota failure.
// This is a convenience function that handles both sentinel errors and wrapped errors.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}
