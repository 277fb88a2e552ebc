package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	uperrors "github.com/hollowave/upstream/errors"
	"github.com/hollowave/upstream/internal/s3api"
	"github.com/hollowave/upstream/uptypes"
)

// Backend error codes the adapter classifies onto sentinel errors.
const (
	// Retryable service conditions.
	CodeSlowDown             = "SlowDown"
	CodeRequestTimeout       = "RequestTimeout"
	CodeInternalError        = "InternalError"
	CodeServiceUnavailable   = "ServiceUnavailable"
	CodeThrottling           = "Throttling"
	CodeThrottlingException  = "ThrottlingException"
	CodeRequestLimitExceeded = "RequestLimitExceeded"

	// Credential and permission failures.
	CodeAccessDenied          = "AccessDenied"
	CodeInvalidAccessKeyID    = "InvalidAccessKeyId"
	CodeSignatureDoesNotMatch = "SignatureDoesNotMatch"
	CodeExpiredToken          = "ExpiredToken"
	CodeTokenRefreshRequired  = "TokenRefreshRequired"

	// Part size rejections.
	CodeEntityTooSmall = "EntityTooSmall"
	CodeEntityTooLarge = "EntityTooLarge"

	// Missing resources.
	CodeNoSuchUpload = "NoSuchUpload"
	CodeNoSuchKey    = "NoSuchKey"
	CodeNotFound     = "NotFound"

	// Capacity refusals from S3-compatible backends.
	CodeQuotaExceeded        = "QuotaExceeded"
	CodeServiceQuotaExceeded = "ServiceQuotaExceededException"
	CodeInsufficientStorage  = "InsufficientStorage"
)

// S3 implements Store over the AWS SDK v2 S3 client.
type S3 struct {
	api       s3api.S3API
	presigner s3api.Presigner
	logger    *slog.Logger
}

// NewS3 creates an adapter over the given API client. presigner may be nil,
// in which case PresignGet fails; a nil logger falls back to slog.Default().
func NewS3(api s3api.S3API, presigner s3api.Presigner, logger *slog.Logger) *S3 {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3{
		api:       api,
		presigner: presigner,
		logger:    logger,
	}
}

// PutObject uploads an object in a single request.
func (s *S3) PutObject(ctx context.Context, in PutInput) (PutResult, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(in.Bucket),
		Key:           aws.String(in.Key),
		Body:          in.Body,
		ContentLength: aws.Int64(in.Length),
	}
	if in.ContentType != "" {
		input.ContentType = aws.String(in.ContentType)
	}
	if in.StorageClass != "" {
		input.StorageClass = awstypes.StorageClass(in.StorageClass)
	}
	if len(in.Metadata) > 0 {
		input.Metadata = in.Metadata
	}

	output, err := s.api.PutObject(ctx, input)
	if err != nil {
		return PutResult{}, uperrors.NewObjectError("putObject", in.Bucket, in.Key, classify(err))
	}

	return PutResult{ETag: aws.ToString(output.ETag)}, nil
}

// Initiate starts a multipart upload and returns the backend's upload id.
func (s *S3) Initiate(ctx context.Context, in InitiateInput) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(in.Bucket),
		Key:    aws.String(in.Key),
	}
	if in.ContentType != "" {
		input.ContentType = aws.String(in.ContentType)
	}
	if in.StorageClass != "" {
		input.StorageClass = awstypes.StorageClass(in.StorageClass)
	}
	if len(in.Metadata) > 0 {
		input.Metadata = in.Metadata
	}

	output, err := s.api.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", uperrors.NewObjectError("initiateUpload", in.Bucket, in.Key, classify(err))
	}

	uploadID := aws.ToString(output.UploadId)
	s.logger.DebugContext(ctx, "multipart upload initiated",
		"bucket", in.Bucket,
		"key", in.Key,
		"upload_id", uploadID)
	return uploadID, nil
}

// UploadPart sends one part and returns the etag the backend assigned.
func (s *S3) UploadPart(ctx context.Context, in PartInput) (string, error) {
	input := &s3.UploadPartInput{
		Bucket:        aws.String(in.Bucket),
		Key:           aws.String(in.Key),
		UploadId:      aws.String(in.UploadID),
		PartNumber:    aws.Int32(in.PartNumber),
		Body:          in.Body,
		ContentLength: aws.Int64(in.Length),
	}

	output, err := s.api.UploadPart(ctx, input)
	if err != nil {
		return "", uperrors.NewObjectError("uploadPart", in.Bucket, in.Key, classify(err)).
			WithPart(in.PartNumber)
	}

	etag := aws.ToString(output.ETag)
	if etag == "" {
		// Without an etag the part cannot be referenced at completion time,
		// so treat the response as a failed attempt.
		return "", uperrors.NewObjectError("uploadPart", in.Bucket, in.Key,
			fmt.Errorf("%w: backend returned no etag", uperrors.ErrTransient)).
			WithPart(in.PartNumber)
	}
	return etag, nil
}

// Complete assembles the uploaded parts into the final object. Parts are
// submitted sorted by part number regardless of input order.
func (s *S3) Complete(ctx context.Context, in CompleteInput) (CompleteResult, error) {
	sorted := append([]CompletedPart(nil), in.Parts...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PartNumber < sorted[j].PartNumber
	})

	parts := make([]awstypes.CompletedPart, 0, len(sorted))
	for _, p := range sorted {
		parts = append(parts, awstypes.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		})
	}

	input := &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(in.Bucket),
		Key:      aws.String(in.Key),
		UploadId: aws.String(in.UploadID),
		MultipartUpload: &awstypes.CompletedMultipartUpload{
			Parts: parts,
		},
	}

	output, err := s.api.CompleteMultipartUpload(ctx, input)
	if err != nil {
		return CompleteResult{}, uperrors.NewObjectError("completeUpload", in.Bucket, in.Key, classify(err))
	}

	s.logger.DebugContext(ctx, "multipart upload completed",
		"bucket", in.Bucket,
		"key", in.Key,
		"parts", len(parts))
	return CompleteResult{
		ETag:     aws.ToString(output.ETag),
		Location: aws.ToString(output.Location),
	}, nil
}

// Abort discards an in-progress multipart upload. An upload the backend no
// longer tracks counts as already aborted.
func (s *S3) Abort(ctx context.Context, bucket, key, uploadID string) error {
	input := &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}

	if _, err := s.api.AbortMultipartUpload(ctx, input); err != nil {
		classified := classify(err)
		if errors.Is(classified, uperrors.ErrUploadNotFound) {
			return nil
		}
		return uperrors.NewObjectError("abortUpload", bucket, key, classified)
	}

	s.logger.DebugContext(ctx, "multipart upload aborted",
		"bucket", bucket,
		"key", key,
		"upload_id", uploadID)
	return nil
}

// ListParts returns every part the backend has recorded for an upload,
// following pagination markers.
func (s *S3) ListParts(ctx context.Context, bucket, key, uploadID string) ([]Part, error) {
	input := &s3.ListPartsInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}

	var parts []Part
	for {
		output, err := s.api.ListParts(ctx, input)
		if err != nil {
			return nil, uperrors.NewObjectError("listParts", bucket, key, classify(err))
		}

		for _, p := range output.Parts {
			parts = append(parts, Part{
				PartNumber: aws.ToInt32(p.PartNumber),
				Size:       aws.ToInt64(p.Size),
				ETag:       aws.ToString(p.ETag),
			})
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		input.PartNumberMarker = output.NextPartNumberMarker
	}

	return parts, nil
}

// ListUploads returns the in-progress multipart uploads under a key prefix,
// following pagination markers.
func (s *S3) ListUploads(ctx context.Context, bucket, prefix string) ([]Upload, error) {
	input := &s3.ListMultipartUploadsInput{
		Bucket: aws.String(bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var uploads []Upload
	for {
		output, err := s.api.ListMultipartUploads(ctx, input)
		if err != nil {
			return nil, uperrors.New("listUploads", classify(err)).WithBucket(bucket)
		}

		for _, u := range output.Uploads {
			uploads = append(uploads, Upload{
				UploadID:  aws.ToString(u.UploadId),
				Key:       aws.ToString(u.Key),
				Initiated: aws.ToTime(u.Initiated),
			})
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		input.KeyMarker = output.NextKeyMarker
		input.UploadIdMarker = output.NextUploadIdMarker
	}

	return uploads, nil
}

// Head returns object metadata without fetching the body.
func (s *S3) Head(ctx context.Context, bucket, key string) (*uptypes.ObjectInfo, error) {
	input := &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}

	output, err := s.api.HeadObject(ctx, input)
	if err != nil {
		return nil, uperrors.NewObjectError("head", bucket, key, classify(err))
	}

	return &uptypes.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(output.ContentLength),
		ETag:         aws.ToString(output.ETag),
		ContentType:  aws.ToString(output.ContentType),
		LastModified: aws.ToTime(output.LastModified),
		Metadata:     output.Metadata,
	}, nil
}

// PresignGet returns a time-limited download URL for an object.
func (s *S3) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if s.presigner == nil {
		return "", uperrors.NewObjectError("presignGet", bucket, key, uperrors.ErrInvalidInput).
			WithMessage("no presigner configured")
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}

	request, err := s.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", uperrors.NewObjectError("presignGet", bucket, key, classify(err))
	}

	return request.URL, nil
}

// classify maps backend failures onto the module's sentinel errors so callers
// can test them with errors.Is. Unrecognized errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case CodeSlowDown, CodeRequestTimeout, CodeInternalError,
			CodeServiceUnavailable, CodeThrottling, CodeThrottlingException,
			CodeRequestLimitExceeded:
			return fmt.Errorf("%w: %v", uperrors.ErrTransient, err)
		case CodeAccessDenied, CodeInvalidAccessKeyID, CodeSignatureDoesNotMatch,
			CodeExpiredToken, CodeTokenRefreshRequired:
			return fmt.Errorf("%w: %v", uperrors.ErrAccessDenied, err)
		case CodeEntityTooSmall:
			return fmt.Errorf("%w: %v", uperrors.ErrPartTooSmall, err)
		case CodeEntityTooLarge:
			return fmt.Errorf("%w: %v", uperrors.ErrPartTooLarge, err)
		case CodeNoSuchUpload:
			return fmt.Errorf("%w: %v", uperrors.ErrUploadNotFound, err)
		case CodeNoSuchKey, CodeNotFound:
			return fmt.Errorf("%w: %v", uperrors.ErrObjectNotFound, err)
		case CodeQuotaExceeded, CodeServiceQuotaExceeded, CodeInsufficientStorage:
			return fmt.Errorf("%w: %v", uperrors.ErrQuotaExceeded, err)
		}
		return err
	}

	// Caller cancellation is not retryable; everything else that timed out is.
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", uperrors.ErrTransient, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", uperrors.ErrTransient, err)
	}

	return err
}

// Ensure S3 satisfies the Store interface.
var _ Store = (*S3)(nil)
