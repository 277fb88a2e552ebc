// Package testutil provides test utilities and mocks for upload operations.
// This package is internal and should only be used for testing within the
// module.
package testutil

import (
	"context"
	"fmt"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hollowave/upstream/internal/remote"
	"github.com/hollowave/upstream/internal/s3api"
	"github.com/hollowave/upstream/uptypes"
)

// MockS3Client is a mock implementation of the S3API interface for testing.
// It allows customization of each S3 operation through function fields.
type MockS3Client struct {
	PutObjectFunc               func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObjectFunc              func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CreateMultipartUploadFunc   func(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPartFunc              func(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUploadFunc func(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUploadFunc    func(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListPartsFunc               func(context.Context, *s3.ListPartsInput, ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	ListMultipartUploadsFunc    func(context.Context, *s3.ListMultipartUploadsInput, ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
}

// PutObject mocks the S3 PutObject operation.
func (m *MockS3Client) PutObject(
	ctx context.Context,
	params *s3.PutObjectInput,
	optFns ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	if m.PutObjectFunc != nil {
		return m.PutObjectFunc(ctx, params, optFns...)
	}
	return &s3.PutObjectOutput{}, nil
}

// HeadObject mocks the S3 HeadObject operation.
func (m *MockS3Client) HeadObject(
	ctx context.Context,
	params *s3.HeadObjectInput,
	optFns ...func(*s3.Options),
) (*s3.HeadObjectOutput, error) {
	if m.HeadObjectFunc != nil {
		return m.HeadObjectFunc(ctx, params, optFns...)
	}
	return &s3.HeadObjectOutput{}, nil
}

// CreateMultipartUpload mocks the S3 CreateMultipartUpload operation.
func (m *MockS3Client) CreateMultipartUpload(
	ctx context.Context,
	params *s3.CreateMultipartUploadInput,
	optFns ...func(*s3.Options),
) (*s3.CreateMultipartUploadOutput, error) {
	if m.CreateMultipartUploadFunc != nil {
		return m.CreateMultipartUploadFunc(ctx, params, optFns...)
	}
	return &s3.CreateMultipartUploadOutput{}, nil
}

// UploadPart mocks the S3 UploadPart operation.
func (m *MockS3Client) UploadPart(
	ctx context.Context,
	params *s3.UploadPartInput,
	optFns ...func(*s3.Options),
) (*s3.UploadPartOutput, error) {
	if m.UploadPartFunc != nil {
		return m.UploadPartFunc(ctx, params, optFns...)
	}
	return &s3.UploadPartOutput{}, nil
}

// CompleteMultipartUpload mocks the S3 CompleteMultipartUpload operation.
func (m *MockS3Client) CompleteMultipartUpload(
	ctx context.Context,
	params *s3.CompleteMultipartUploadInput,
	optFns ...func(*s3.Options),
) (*s3.CompleteMultipartUploadOutput, error) {
	if m.CompleteMultipartUploadFunc != nil {
		return m.CompleteMultipartUploadFunc(ctx, params, optFns...)
	}
	return &s3.CompleteMultipartUploadOutput{}, nil
}

// AbortMultipartUpload mocks the S3 AbortMultipartUpload operation.
func (m *MockS3Client) AbortMultipartUpload(
	ctx context.Context,
	params *s3.AbortMultipartUploadInput,
	optFns ...func(*s3.Options),
) (*s3.AbortMultipartUploadOutput, error) {
	if m.AbortMultipartUploadFunc != nil {
		return m.AbortMultipartUploadFunc(ctx, params, optFns...)
	}
	return &s3.AbortMultipartUploadOutput{}, nil
}

// ListParts mocks the S3 ListParts operation.
func (m *MockS3Client) ListParts(
	ctx context.Context,
	params *s3.ListPartsInput,
	optFns ...func(*s3.Options),
) (*s3.ListPartsOutput, error) {
	if m.ListPartsFunc != nil {
		return m.ListPartsFunc(ctx, params, optFns...)
	}
	return &s3.ListPartsOutput{}, nil
}

// ListMultipartUploads mocks the S3 ListMultipartUploads operation.
func (m *MockS3Client) ListMultipartUploads(
	ctx context.Context,
	params *s3.ListMultipartUploadsInput,
	optFns ...func(*s3.Options),
) (*s3.ListMultipartUploadsOutput, error) {
	if m.ListMultipartUploadsFunc != nil {
		return m.ListMultipartUploadsFunc(ctx, params, optFns...)
	}
	return &s3.ListMultipartUploadsOutput{}, nil
}

// MockPresigner is a mock implementation of the Presigner interface.
type MockPresigner struct {
	PresignGetObjectFunc func(context.Context, *s3.GetObjectInput, ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// PresignGetObject mocks presigned GET URL generation.
func (m *MockPresigner) PresignGetObject(
	ctx context.Context,
	params *s3.GetObjectInput,
	optFns ...func(*s3.PresignOptions),
) (*v4.PresignedHTTPRequest, error) {
	if m.PresignGetObjectFunc != nil {
		return m.PresignGetObjectFunc(ctx, params, optFns...)
	}
	return &v4.PresignedHTTPRequest{}, nil
}

// MockStore is a mock implementation of the remote.Store interface for
// testing the orchestration layers without an S3 client. Unset function
// fields return canned successes so tests only configure the calls they
// care about.
type MockStore struct {
	PutObjectFunc   func(ctx context.Context, in remote.PutInput) (remote.PutResult, error)
	InitiateFunc    func(ctx context.Context, in remote.InitiateInput) (string, error)
	UploadPartFunc  func(ctx context.Context, in remote.PartInput) (string, error)
	CompleteFunc    func(ctx context.Context, in remote.CompleteInput) (remote.CompleteResult, error)
	AbortFunc       func(ctx context.Context, bucket, key, uploadID string) error
	ListPartsFunc   func(ctx context.Context, bucket, key, uploadID string) ([]remote.Part, error)
	ListUploadsFunc func(ctx context.Context, bucket, prefix string) ([]remote.Upload, error)
	HeadFunc        func(ctx context.Context, bucket, key string) (*uptypes.ObjectInfo, error)
	PresignGetFunc  func(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// PutObject mocks a single-shot upload.
func (m *MockStore) PutObject(ctx context.Context, in remote.PutInput) (remote.PutResult, error) {
	if m.PutObjectFunc != nil {
		return m.PutObjectFunc(ctx, in)
	}
	return remote.PutResult{ETag: `"mock-etag"`}, nil
}

// Initiate mocks starting a multipart upload.
func (m *MockStore) Initiate(ctx context.Context, in remote.InitiateInput) (string, error) {
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, in)
	}
	return "mock-upload-id", nil
}

// UploadPart mocks sending one part.
func (m *MockStore) UploadPart(ctx context.Context, in remote.PartInput) (string, error) {
	if m.UploadPartFunc != nil {
		return m.UploadPartFunc(ctx, in)
	}
	return fmt.Sprintf(`"etag-%d"`, in.PartNumber), nil
}

// Complete mocks assembling the final object.
func (m *MockStore) Complete(ctx context.Context, in remote.CompleteInput) (remote.CompleteResult, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, in)
	}
	return remote.CompleteResult{ETag: `"mock-etag"`}, nil
}

// Abort mocks discarding an in-progress upload.
func (m *MockStore) Abort(ctx context.Context, bucket, key, uploadID string) error {
	if m.AbortFunc != nil {
		return m.AbortFunc(ctx, bucket, key, uploadID)
	}
	return nil
}

// ListParts mocks listing the parts of an in-progress upload.
func (m *MockStore) ListParts(ctx context.Context, bucket, key, uploadID string) ([]remote.Part, error) {
	if m.ListPartsFunc != nil {
		return m.ListPartsFunc(ctx, bucket, key, uploadID)
	}
	return nil, nil
}

// ListUploads mocks listing in-progress uploads under a prefix.
func (m *MockStore) ListUploads(ctx context.Context, bucket, prefix string) ([]remote.Upload, error) {
	if m.ListUploadsFunc != nil {
		return m.ListUploadsFunc(ctx, bucket, prefix)
	}
	return nil, nil
}

// Head mocks an object metadata read.
func (m *MockStore) Head(ctx context.Context, bucket, key string) (*uptypes.ObjectInfo, error) {
	if m.HeadFunc != nil {
		return m.HeadFunc(ctx, bucket, key)
	}
	return &uptypes.ObjectInfo{Key: key}, nil
}

// PresignGet mocks presigned URL generation.
func (m *MockStore) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if m.PresignGetFunc != nil {
		return m.PresignGetFunc(ctx, bucket, key, ttl)
	}
	return "https://mock.example.com/" + bucket + "/" + key, nil
}

// Interface conformance checks.
var (
	_ s3api.S3API     = (*MockS3Client)(nil)
	_ s3api.Presigner = (*MockPresigner)(nil)
	_ remote.Store    = (*MockStore)(nil)
)
