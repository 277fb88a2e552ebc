package upstream_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	upstream "github.com/hollowave/upstream"
	uperrors "github.com/hollowave/upstream/errors"
	"github.com/hollowave/upstream/internal/remote"
	"github.com/hollowave/upstream/internal/testutil"
	"github.com/hollowave/upstream/uptypes"
)

// seedChunk keeps seeded sessions small. Records written directly to the
// store never pass through the planner, so backend part-size minimums do
// not apply here.
const seedChunk = int64(1024)

// seedResumable persists an interrupted multipart session: total bytes
// split into seedChunk parts, the first uploaded of them already stored
// remotely under upload id "upload-1".
func seedResumable(e *env, key, path string, total int64, uploaded int) *uptypes.UploadSession {
	parts := testutil.MarkUploaded(testutil.GenerateParts(total, seedChunk), uploaded)
	sess := testutil.NewSessionBuilder(uptypes.SessionID(testBucket, key)).
		WithDestination(testBucket, key).
		WithSource(path, total).
		WithChunking(seedChunk, 1).
		WithUploadID("upload-1").
		WithStatus(uptypes.StatusInProgress).
		WithParts(parts).
		Build()
	e.seedSession(sess)
	return sess
}

func TestResumeUploadsOnlyMissingParts(t *testing.T) {
	e := newEnv(t)
	data := testutil.PatternData(10 * 1024)
	e.writeSource("/data/video.bin", data)
	sess := seedResumable(e, "renders/video.bin", "/data/video.bin", 10*1024, 6)

	var mu sync.Mutex
	var listedUploadID string
	var initiates int
	var uploadedNums []int32
	bodies := make(map[int32][]byte)
	var completes []remote.CompleteInput

	e.mock.ListPartsFunc = func(_ context.Context, _, _, uploadID string) ([]remote.Part, error) {
		mu.Lock()
		listedUploadID = uploadID
		mu.Unlock()
		return testutil.RemoteParts(sess.Parts), nil
	}
	e.mock.InitiateFunc = func(_ context.Context, _ remote.InitiateInput) (string, error) {
		mu.Lock()
		initiates++
		mu.Unlock()
		return "", nil
	}
	e.mock.UploadPartFunc = func(_ context.Context, in remote.PartInput) (string, error) {
		body, err := io.ReadAll(in.Body)
		if err != nil {
			return "", err
		}
		mu.Lock()
		uploadedNums = append(uploadedNums, in.PartNumber)
		bodies[in.PartNumber] = body
		mu.Unlock()
		return testutil.PartETag(in.PartNumber), nil
	}
	e.mock.CompleteFunc = func(_ context.Context, in remote.CompleteInput) (remote.CompleteResult, error) {
		mu.Lock()
		completes = append(completes, in)
		mu.Unlock()
		return remote.CompleteResult{ETag: `"resumed-etag"`}, nil
	}

	res, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, "renders/video.bin", "/data/video.bin")
	require.NoError(t, err)
	assert.Equal(t, `"resumed-etag"`, res.ETag)

	assert.Equal(t, "upload-1", listedUploadID)
	assert.Zero(t, initiates, "resume must reuse the existing remote upload")
	assert.Equal(t, []int32{7, 8, 9, 10}, uploadedNums)
	for _, n := range []int32{7, 8, 9, 10} {
		off := int64(n-1) * seedChunk
		assert.Equal(t, data[off:off+seedChunk], bodies[n], "part %d bytes", n)
	}

	require.Len(t, completes, 1)
	assert.Equal(t, "upload-1", completes[0].UploadID)
	require.Len(t, completes[0].Parts, 10)
	for i, p := range completes[0].Parts {
		assert.Equal(t, int32(i+1), p.PartNumber)
		assert.Equal(t, testutil.PartETag(p.PartNumber), p.ETag)
	}

	final := e.loadSession(sess.SessionID)
	assert.Equal(t, uptypes.StatusCompleted, final.Status)
}

func TestResumeCompletedReturnsStoredResult(t *testing.T) {
	e := newEnv(t)
	key := "renders/done.bin"
	sessionID := uptypes.SessionID(testBucket, key)
	e.seedSession(testutil.NewSessionBuilder(sessionID).
		WithDestination(testBucket, key).
		WithSource("/data/done.bin", 2048).
		WithStatus(uptypes.StatusCompleted).
		WithETag(`"done-etag"`).
		Build())

	var mu sync.Mutex
	var remoteCalls int
	count := func() {
		mu.Lock()
		remoteCalls++
		mu.Unlock()
	}
	e.mock.ListPartsFunc = func(_ context.Context, _, _, _ string) ([]remote.Part, error) {
		count()
		return nil, nil
	}
	e.mock.UploadPartFunc = func(_ context.Context, _ remote.PartInput) (string, error) {
		count()
		return "", nil
	}
	e.mock.CompleteFunc = func(_ context.Context, _ remote.CompleteInput) (remote.CompleteResult, error) {
		count()
		return remote.CompleteResult{}, nil
	}
	e.mock.HeadFunc = func(_ context.Context, _, key string) (*uptypes.ObjectInfo, error) {
		count()
		return &uptypes.ObjectInfo{Key: key}, nil
	}

	res, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, key, "/data/done.bin")
	require.NoError(t, err)
	assert.Equal(t, sessionID, res.SessionID)
	assert.Equal(t, testBucket, res.Bucket)
	assert.Equal(t, key, res.Key)
	assert.Equal(t, int64(2048), res.Size)
	assert.Equal(t, `"done-etag"`, res.ETag)
	assert.Zero(t, remoteCalls, "a completed session must resolve without network calls")
}

func TestResumeTerminalSessions(t *testing.T) {
	for _, status := range []uptypes.SessionStatus{uptypes.StatusFailed, uptypes.StatusAborted} {
		t.Run(string(status), func(t *testing.T) {
			e := newEnv(t)
			key := "renders/stuck.bin"
			e.seedSession(testutil.NewSessionBuilder(uptypes.SessionID(testBucket, key)).
				WithDestination(testBucket, key).
				WithSource("/data/stuck.bin", 2048).
				WithStatus(status).
				Build())

			_, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, key, "/data/stuck.bin")
			require.ErrorIs(t, err, uperrors.ErrSessionTerminal)
		})
	}
}

func TestResumeSourceMismatch(t *testing.T) {
	t.Run("size changed", func(t *testing.T) {
		e := newEnv(t)
		e.writeSource("/data/video.bin", testutil.PatternData(9*1024))
		sess := seedResumable(e, "renders/video.bin", "/data/video.bin", 10*1024, 6)

		_, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, "renders/video.bin", "/data/video.bin")
		require.ErrorIs(t, err, uperrors.ErrSessionCorrupted)
		assert.Equal(t, uptypes.StatusFailed, e.loadSession(sess.SessionID).Status)
	})

	t.Run("file missing", func(t *testing.T) {
		e := newEnv(t)
		sess := seedResumable(e, "renders/video.bin", "/data/video.bin", 10*1024, 6)

		_, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, "renders/video.bin", "/data/video.bin")
		require.ErrorIs(t, err, uperrors.ErrSessionCorrupted)
		assert.Equal(t, uptypes.StatusFailed, e.loadSession(sess.SessionID).Status)
	})

	t.Run("path changed", func(t *testing.T) {
		e := newEnv(t)
		e.writeSource("/data/video.bin", testutil.PatternData(10*1024))
		e.writeSource("/data/other.bin", testutil.PatternData(10*1024))
		sess := seedResumable(e, "renders/video.bin", "/data/video.bin", 10*1024, 6)

		_, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, "renders/video.bin", "/data/other.bin")
		require.ErrorIs(t, err, uperrors.ErrSessionCorrupted)
		assert.Equal(t, uptypes.StatusFailed, e.loadSession(sess.SessionID).Status)
	})
}

func TestResumeRemotePartUnknown(t *testing.T) {
	e := newEnv(t)
	e.writeSource("/data/video.bin", testutil.PatternData(10*1024))
	sess := seedResumable(e, "renders/video.bin", "/data/video.bin", 10*1024, 6)

	e.mock.ListPartsFunc = func(_ context.Context, _, _, _ string) ([]remote.Part, error) {
		return []remote.Part{{PartNumber: 99, Size: seedChunk, ETag: `"x"`}}, nil
	}

	_, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, "renders/video.bin", "/data/video.bin")
	require.ErrorIs(t, err, uperrors.ErrSessionCorrupted)
	assert.Equal(t, uptypes.StatusFailed, e.loadSession(sess.SessionID).Status)
}

func TestResumeRemotePartSizeMismatch(t *testing.T) {
	e := newEnv(t)
	e.writeSource("/data/video.bin", testutil.PatternData(10*1024))
	sess := seedResumable(e, "renders/video.bin", "/data/video.bin", 10*1024, 6)

	e.mock.ListPartsFunc = func(_ context.Context, _, _, _ string) ([]remote.Part, error) {
		return []remote.Part{{PartNumber: 2, Size: 999, ETag: `"etag-2"`}}, nil
	}

	_, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, "renders/video.bin", "/data/video.bin")
	require.ErrorIs(t, err, uperrors.ErrSessionCorrupted)

	var opErr *uperrors.Error
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, int32(2), opErr.Part)
	assert.Equal(t, uptypes.StatusFailed, e.loadSession(sess.SessionID).Status)
}

func TestResumeRemoteLostParts(t *testing.T) {
	e := newEnv(t)
	data := testutil.PatternData(10 * 1024)
	e.writeSource("/data/video.bin", data)
	sess := seedResumable(e, "renders/video.bin", "/data/video.bin", 10*1024, 6)

	var mu sync.Mutex
	var uploadedNums []int32
	e.mock.ListPartsFunc = func(_ context.Context, _, _, _ string) ([]remote.Part, error) {
		// The backend only kept the first three of the six parts the
		// ledger believes are stored.
		return testutil.RemoteParts(sess.Parts[:3]), nil
	}
	e.mock.UploadPartFunc = func(_ context.Context, in remote.PartInput) (string, error) {
		mu.Lock()
		uploadedNums = append(uploadedNums, in.PartNumber)
		mu.Unlock()
		return testutil.PartETag(in.PartNumber), nil
	}

	_, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, "renders/video.bin", "/data/video.bin")
	require.NoError(t, err)
	assert.Equal(t, []int32{4, 5, 6, 7, 8, 9, 10}, uploadedNums,
		"parts the backend lost must be uploaded again")

	final := e.loadSession(sess.SessionID)
	assert.Equal(t, uptypes.StatusCompleted, final.Status)
}

func TestResumeAdoptsRemoteParts(t *testing.T) {
	e := newEnv(t)
	data := testutil.PatternData(10 * 1024)
	e.writeSource("/data/video.bin", data)
	seedResumable(e, "renders/video.bin", "/data/video.bin", 10*1024, 2)

	var mu sync.Mutex
	var uploadedNums []int32
	var completes []remote.CompleteInput
	e.mock.ListPartsFunc = func(_ context.Context, _, _, _ string) ([]remote.Part, error) {
		// Parts 3-5 landed remotely before the crash could persist them.
		// The backend also reports different etags for 1 and 2.
		return []remote.Part{
			{PartNumber: 1, Size: seedChunk, ETag: `"other-1"`},
			{PartNumber: 2, Size: seedChunk, ETag: `"other-2"`},
			{PartNumber: 3, Size: seedChunk, ETag: `"remote-3"`},
			{PartNumber: 4, Size: seedChunk, ETag: `"remote-4"`},
			{PartNumber: 5, Size: seedChunk, ETag: `"remote-5"`},
		}, nil
	}
	e.mock.UploadPartFunc = func(_ context.Context, in remote.PartInput) (string, error) {
		mu.Lock()
		uploadedNums = append(uploadedNums, in.PartNumber)
		mu.Unlock()
		return testutil.PartETag(in.PartNumber), nil
	}
	e.mock.CompleteFunc = func(_ context.Context, in remote.CompleteInput) (remote.CompleteResult, error) {
		mu.Lock()
		completes = append(completes, in)
		mu.Unlock()
		return remote.CompleteResult{ETag: `"resumed"`}, nil
	}

	_, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, "renders/video.bin", "/data/video.bin")
	require.NoError(t, err)
	assert.Equal(t, []int32{6, 7, 8, 9, 10}, uploadedNums)

	require.Len(t, completes, 1)
	want := []remote.CompletedPart{
		{PartNumber: 1, ETag: testutil.PartETag(1)},
		{PartNumber: 2, ETag: testutil.PartETag(2)},
		{PartNumber: 3, ETag: `"remote-3"`},
		{PartNumber: 4, ETag: `"remote-4"`},
		{PartNumber: 5, ETag: `"remote-5"`},
		{PartNumber: 6, ETag: testutil.PartETag(6)},
		{PartNumber: 7, ETag: testutil.PartETag(7)},
		{PartNumber: 8, ETag: testutil.PartETag(8)},
		{PartNumber: 9, ETag: testutil.PartETag(9)},
		{PartNumber: 10, ETag: testutil.PartETag(10)},
	}
	assert.Equal(t, want, completes[0].Parts,
		"locally recorded etags win, remote etags fill the gaps")
}

func TestResumeUploadGone(t *testing.T) {
	t.Run("object landed", func(t *testing.T) {
		e := newEnv(t)
		e.writeSource("/data/video.bin", testutil.PatternData(10*1024))
		sess := seedResumable(e, "renders/video.bin", "/data/video.bin", 10*1024, 10)

		var mu sync.Mutex
		var partCalls int
		e.mock.ListPartsFunc = func(_ context.Context, _, _, _ string) ([]remote.Part, error) {
			return nil, uperrors.ErrUploadNotFound
		}
		e.mock.HeadFunc = func(_ context.Context, _, key string) (*uptypes.ObjectInfo, error) {
			return &uptypes.ObjectInfo{Key: key, Size: 10 * 1024, ETag: `"landed"`}, nil
		}
		e.mock.UploadPartFunc = func(_ context.Context, _ remote.PartInput) (string, error) {
			mu.Lock()
			partCalls++
			mu.Unlock()
			return "", nil
		}

		res, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, "renders/video.bin", "/data/video.bin")
		require.NoError(t, err)
		assert.Equal(t, `"landed"`, res.ETag)
		assert.Zero(t, partCalls)
		assert.Equal(t, uptypes.StatusCompleted, e.loadSession(sess.SessionID).Status)
	})

	t.Run("object missing", func(t *testing.T) {
		e := newEnv(t)
		e.writeSource("/data/video.bin", testutil.PatternData(10*1024))
		sess := seedResumable(e, "renders/video.bin", "/data/video.bin", 10*1024, 10)

		e.mock.ListPartsFunc = func(_ context.Context, _, _, _ string) ([]remote.Part, error) {
			return nil, uperrors.ErrUploadNotFound
		}
		e.mock.HeadFunc = func(_ context.Context, _, _ string) (*uptypes.ObjectInfo, error) {
			return nil, uperrors.ErrObjectNotFound
		}

		_, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, "renders/video.bin", "/data/video.bin")
		require.ErrorIs(t, err, uperrors.ErrUploadNotFound)
		assert.Equal(t, uptypes.StatusFailed, e.loadSession(sess.SessionID).Status)
	})

	t.Run("object has wrong size", func(t *testing.T) {
		e := newEnv(t)
		e.writeSource("/data/video.bin", testutil.PatternData(10*1024))
		sess := seedResumable(e, "renders/video.bin", "/data/video.bin", 10*1024, 10)

		e.mock.ListPartsFunc = func(_ context.Context, _, _, _ string) ([]remote.Part, error) {
			return nil, uperrors.ErrUploadNotFound
		}
		e.mock.HeadFunc = func(_ context.Context, _, key string) (*uptypes.ObjectInfo, error) {
			return &uptypes.ObjectInfo{Key: key, Size: 4 * 1024, ETag: `"stale"`}, nil
		}

		_, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, "renders/video.bin", "/data/video.bin")
		require.ErrorIs(t, err, uperrors.ErrUploadNotFound)
		assert.Equal(t, uptypes.StatusFailed, e.loadSession(sess.SessionID).Status)
	})
}

func TestResumeRecoversFromRemoteListing(t *testing.T) {
	e := newEnv(t)
	size := 6 * mib
	e.writeSource("/data/big.bin", testutil.PatternData(int(size)))
	key := "renders/big.bin"

	now := time.Now()
	var mu sync.Mutex
	var initiates int
	var uploadIDs []string
	var uploadedNums []int32
	e.mock.ListUploadsFunc = func(_ context.Context, _, prefix string) ([]remote.Upload, error) {
		assert.Equal(t, key, prefix)
		return []remote.Upload{
			{UploadID: "orphan-1", Key: key, Initiated: now.Add(-2 * time.Hour)},
			{UploadID: "other", Key: "renders/other.bin", Initiated: now},
			{UploadID: "orphan-2", Key: key, Initiated: now.Add(-10 * time.Minute)},
		}, nil
	}
	e.mock.ListPartsFunc = func(_ context.Context, _, _, uploadID string) ([]remote.Part, error) {
		// The adopted upload already holds part 1.
		return []remote.Part{{PartNumber: 1, Size: uptypes.MinPartSize, ETag: `"r1"`}}, nil
	}
	e.mock.InitiateFunc = func(_ context.Context, _ remote.InitiateInput) (string, error) {
		mu.Lock()
		initiates++
		mu.Unlock()
		return "", nil
	}
	e.mock.UploadPartFunc = func(_ context.Context, in remote.PartInput) (string, error) {
		mu.Lock()
		uploadIDs = append(uploadIDs, in.UploadID)
		uploadedNums = append(uploadedNums, in.PartNumber)
		mu.Unlock()
		return testutil.PartETag(in.PartNumber), nil
	}

	res, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, key, "/data/big.bin")
	require.NoError(t, err)

	assert.Zero(t, initiates)
	assert.Equal(t, []string{"orphan-2"}, uploadIDs, "the newest matching upload is adopted")
	assert.Equal(t, []int32{2}, uploadedNums)

	sess := e.loadSession(res.SessionID)
	assert.Equal(t, uptypes.StatusCompleted, sess.Status)
	assert.Equal(t, "orphan-2", sess.RemoteUploadID)
	assert.Equal(t, "/data/big.bin", sess.LocalPath)
}

func TestResumeFreshWhenNothingToRecover(t *testing.T) {
	e := newEnv(t)
	e.writeSource("/data/small.bin", testutil.PatternData(2048))

	var mu sync.Mutex
	var putCalls int
	e.mock.PutObjectFunc = func(_ context.Context, _ remote.PutInput) (remote.PutResult, error) {
		mu.Lock()
		putCalls++
		mu.Unlock()
		return remote.PutResult{ETag: `"fresh"`}, nil
	}

	res, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, "renders/small.bin", "/data/small.bin")
	require.NoError(t, err)
	assert.Equal(t, `"fresh"`, res.ETag)
	assert.Equal(t, 1, putCalls, "with nothing to recover, resume degrades to a fresh upload")

	sess := e.loadSession(res.SessionID)
	assert.Equal(t, uptypes.StatusCompleted, sess.Status)
}

func TestResumeDropsOrphanBelowThreshold(t *testing.T) {
	e := newEnv(t)
	e.writeSource("/data/small.bin", testutil.PatternData(2048))
	key := "renders/small.bin"

	var mu sync.Mutex
	var aborted []string
	var putCalls int
	e.mock.ListUploadsFunc = func(_ context.Context, _, _ string) ([]remote.Upload, error) {
		return []remote.Upload{{UploadID: "orphan", Key: key, Initiated: time.Now()}}, nil
	}
	e.mock.AbortFunc = func(_ context.Context, _, _, uploadID string) error {
		mu.Lock()
		aborted = append(aborted, uploadID)
		mu.Unlock()
		return nil
	}
	e.mock.PutObjectFunc = func(_ context.Context, _ remote.PutInput) (remote.PutResult, error) {
		mu.Lock()
		putCalls++
		mu.Unlock()
		return remote.PutResult{ETag: `"fresh"`}, nil
	}

	_, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, key, "/data/small.bin")
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, aborted,
		"a multipart orphan cannot match a below-threshold file")
	assert.Equal(t, 1, putCalls)
}

func TestResumeSession(t *testing.T) {
	e := newEnv(t)
	data := testutil.PatternData(4 * 1024)
	e.writeSource("/data/video.bin", data)
	sess := seedResumable(e, "renders/video.bin", "/data/video.bin", 4*1024, 2)

	var mu sync.Mutex
	var uploadedNums []int32
	e.mock.ListPartsFunc = func(_ context.Context, _, _, _ string) ([]remote.Part, error) {
		return testutil.RemoteParts(sess.Parts), nil
	}
	e.mock.UploadPartFunc = func(_ context.Context, in remote.PartInput) (string, error) {
		mu.Lock()
		uploadedNums = append(uploadedNums, in.PartNumber)
		mu.Unlock()
		return testutil.PartETag(in.PartNumber), nil
	}

	res, err := e.mgr.ResumeSession(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, res.SessionID)
	assert.Equal(t, []int32{3, 4}, uploadedNums)
	assert.Equal(t, uptypes.StatusCompleted, e.loadSession(sess.SessionID).Status)
}

func TestResumeSessionMissing(t *testing.T) {
	e := newEnv(t)

	_, err := e.mgr.ResumeSession(context.Background(), "no-such-session")
	require.ErrorIs(t, err, uperrors.ErrSessionNotFound)
}

func TestResumeProgressSeeded(t *testing.T) {
	e := newEnv(t, upstream.WithProgressInterval(0))
	data := testutil.PatternData(10 * 1024)
	e.writeSource("/data/video.bin", data)
	sess := seedResumable(e, "renders/video.bin", "/data/video.bin", 10*1024, 6)

	e.mock.ListPartsFunc = func(_ context.Context, _, _, _ string) ([]remote.Part, error) {
		return testutil.RemoteParts(sess.Parts), nil
	}

	rec := &testutil.ProgressRecorder{}
	_, err := e.mgr.Resume(context.Background(), uptypes.RoleOutputs, "renders/video.bin", "/data/video.bin",
		upstream.WithProgress(rec.Func()))
	require.NoError(t, err)

	// Four pending parts and the final report; the seeded bytes are
	// counted in the first report rather than re-announced one by one.
	reports := rec.Reports()
	require.Len(t, reports, 5)
	assert.Equal(t, int64(7*1024), reports[0].Completed)
	last := reports[len(reports)-1]
	assert.Equal(t, 100.0, last.Percent)
	assert.Equal(t, int64(10*1024), last.Completed)
	assert.Equal(t, int64(10*1024), last.Total)
}
