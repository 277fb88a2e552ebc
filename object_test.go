package upstream_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uperrors "github.com/hollowave/upstream/errors"
	"github.com/hollowave/upstream/internal/remote"
	"github.com/hollowave/upstream/internal/testutil"
	"github.com/hollowave/upstream/uptypes"
)

func TestStat(t *testing.T) {
	e := newEnv(t)
	modified := time.Date(2026, 5, 2, 11, 0, 0, 0, time.UTC)

	var gotBucket, gotKey string
	e.mock.HeadFunc = func(_ context.Context, bucket, key string) (*uptypes.ObjectInfo, error) {
		gotBucket, gotKey = bucket, key
		return &uptypes.ObjectInfo{
			Key:          key,
			Size:         4096,
			ETag:         `"head-etag"`,
			ContentType:  "video/mp4",
			LastModified: modified,
		}, nil
	}

	info, err := e.mgr.Stat(context.Background(), uptypes.RoleOutputs, "renders/final.mp4")
	require.NoError(t, err)
	assert.Equal(t, testBucket, gotBucket)
	assert.Equal(t, "renders/final.mp4", gotKey)
	assert.Equal(t, int64(4096), info.Size)
	assert.Equal(t, `"head-etag"`, info.ETag)
	assert.Equal(t, "video/mp4", info.ContentType)
	assert.Equal(t, modified, info.LastModified)
}

func TestStatInvalidKey(t *testing.T) {
	e := newEnv(t)

	var headCalls int
	e.mock.HeadFunc = func(_ context.Context, _, key string) (*uptypes.ObjectInfo, error) {
		headCalls++
		return &uptypes.ObjectInfo{Key: key}, nil
	}

	_, err := e.mgr.Stat(context.Background(), uptypes.RoleOutputs, "../escape")
	require.ErrorIs(t, err, uperrors.ErrInvalidObjectKey)
	assert.Zero(t, headCalls)

	_, err = e.mgr.Stat(context.Background(), uptypes.RoleBackups, "renders/final.mp4")
	require.ErrorIs(t, err, uperrors.ErrBucketNotConfigured)
}

func TestPresignURL(t *testing.T) {
	e := newEnv(t)

	var gotTTL time.Duration
	e.mock.PresignGetFunc = func(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
		gotTTL = ttl
		return "https://signed.example.com/" + bucket + "/" + key, nil
	}

	url, err := e.mgr.PresignURL(context.Background(), uptypes.RoleOutputs, "renders/final.mp4", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example.com/"+testBucket+"/renders/final.mp4", url)
	assert.Equal(t, 15*time.Minute, gotTTL)
}

func TestPresignURLRequiresPositiveTTL(t *testing.T) {
	e := newEnv(t)

	var presignCalls int
	e.mock.PresignGetFunc = func(_ context.Context, _, _ string, _ time.Duration) (string, error) {
		presignCalls++
		return "", nil
	}

	for _, ttl := range []time.Duration{0, -time.Minute} {
		_, err := e.mgr.PresignURL(context.Background(), uptypes.RoleOutputs, "renders/final.mp4", ttl)
		require.ErrorIs(t, err, uperrors.ErrInvalidInput)
	}
	assert.Zero(t, presignCalls)
}

func TestAbortStaleUploads(t *testing.T) {
	e := newEnv(t)
	now := time.Now()

	var gotPrefix string
	e.mock.ListUploadsFunc = func(_ context.Context, _, prefix string) ([]remote.Upload, error) {
		gotPrefix = prefix
		return []remote.Upload{
			{UploadID: "u-old", Key: "renders/old.bin", Initiated: now.Add(-2 * time.Hour)},
			{UploadID: "u-older", Key: "renders/older.bin", Initiated: now.Add(-3 * time.Hour)},
			{UploadID: "u-fresh", Key: "renders/fresh.bin", Initiated: now.Add(-time.Minute)},
		}, nil
	}

	var mu sync.Mutex
	var aborted []string
	e.mock.AbortFunc = func(_ context.Context, _, _, uploadID string) error {
		mu.Lock()
		aborted = append(aborted, uploadID)
		mu.Unlock()
		return nil
	}

	n, err := e.mgr.AbortStaleUploads(context.Background(), uptypes.RoleOutputs, "renders/", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "renders/", gotPrefix)
	assert.ElementsMatch(t, []string{"u-old", "u-older"}, aborted)
}

func TestAbortStaleUploadsToleratesFailures(t *testing.T) {
	e := newEnv(t)
	now := time.Now()

	e.mock.ListUploadsFunc = func(_ context.Context, _, _ string) ([]remote.Upload, error) {
		return []remote.Upload{
			{UploadID: "u-1", Key: "renders/one.bin", Initiated: now.Add(-2 * time.Hour)},
			{UploadID: "u-2", Key: "renders/two.bin", Initiated: now.Add(-2 * time.Hour)},
		}, nil
	}
	e.mock.AbortFunc = func(_ context.Context, _, _, uploadID string) error {
		if uploadID == "u-1" {
			return uperrors.ErrTransient
		}
		return nil
	}

	n, err := e.mgr.AbortStaleUploads(context.Background(), uptypes.RoleOutputs, "renders/", time.Hour)
	require.NoError(t, err, "individual abort failures are logged, not fatal")
	assert.Equal(t, 1, n)
}

func TestAbortStaleUploadsSkipsActive(t *testing.T) {
	e := newEnv(t)
	e.writeSource("/data/busy.bin", testutil.PatternData(int(2*uptypes.MinPartSize)))
	key := "renders/busy.bin"

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e.mock.UploadPartFunc = func(_ context.Context, in remote.PartInput) (string, error) {
		once.Do(func() { close(started) })
		<-release
		return testutil.PartETag(in.PartNumber), nil
	}
	e.mock.ListUploadsFunc = func(_ context.Context, _, _ string) ([]remote.Upload, error) {
		// Listed as ancient, but this process is driving it right now.
		return []remote.Upload{{UploadID: "busy-upload", Key: key, Initiated: time.Now().Add(-2 * time.Hour)}}, nil
	}

	var mu sync.Mutex
	var abortCalls int
	e.mock.AbortFunc = func(_ context.Context, _, _, _ string) error {
		mu.Lock()
		abortCalls++
		mu.Unlock()
		return nil
	}

	uploadErr := make(chan error, 1)
	go func() {
		_, err := e.mgr.Upload(context.Background(), uptypes.RoleOutputs, key, "/data/busy.bin")
		uploadErr <- err
	}()
	<-started

	n, err := e.mgr.AbortStaleUploads(context.Background(), uptypes.RoleOutputs, "renders/", time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
	mu.Lock()
	assert.Zero(t, abortCalls)
	mu.Unlock()

	close(release)
	require.NoError(t, <-uploadErr)
}

func TestAbortStaleUploadsListFailure(t *testing.T) {
	e := newEnv(t)

	e.mock.ListUploadsFunc = func(_ context.Context, _, _ string) ([]remote.Upload, error) {
		return nil, uperrors.ErrAccessDenied
	}

	_, err := e.mgr.AbortStaleUploads(context.Background(), uptypes.RoleOutputs, "", time.Hour)
	require.ErrorIs(t, err, uperrors.ErrAccessDenied)
}
