package upstream

import (
	"context"
	"errors"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"

	uperrors "github.com/hollowave/upstream/errors"
	"github.com/hollowave/upstream/internal/planner"
	"github.com/hollowave/upstream/internal/progress"
	"github.com/hollowave/upstream/internal/remote"
	"github.com/hollowave/upstream/internal/validation"
	"github.com/hollowave/upstream/uptypes"
)

// DefaultContentType is used when neither content sniffing nor the file
// extension yields a MIME type.
const DefaultContentType = "application/octet-stream"

// Upload stores the file at localPath as an object in the role's bucket
// under key. Files below the multipart threshold go up in a single
// request; larger files are split into parts per the configured size
// policy and uploaded concurrently, with per-part state persisted so an
// interrupted transfer can be resumed.
//
// The session id is derived from (bucket, key): a fresh Upload to a
// destination with a stale session record supersedes it, aborting any
// remote multipart upload the old session left behind. An upload already
// running in this process for the same destination fails with
// ErrSessionActive.
//
// Errors:
//   - ErrBucketNotConfigured: the role has no bucket mapping
//   - ErrInvalidBucketName, ErrInvalidObjectKey, ErrInvalidInput: validation
//   - ErrInvalidSizePolicy: the plan would violate backend part limits
//   - ErrSessionActive: the destination is being uploaded by this process
//   - ErrAborted: Abort was called while the upload was running
//   - ErrAccessDenied, ErrTransient, ErrQuotaExceeded: classified backend
//     failures after per-part retries are exhausted
func (m *Manager) Upload(ctx context.Context, role uptypes.BucketRole, key, localPath string, opts ...uptypes.UploadOption) (*uptypes.UploadResult, error) {
	start := time.Now()

	bucket, err := m.bucketFor(role)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateBucketName(bucket); err != nil {
		return nil, err
	}
	if err := validation.ValidateObjectKey(key); err != nil {
		return nil, err
	}

	cfg := applyUploadOptions(opts)
	if err := validation.ValidateMetadata(cfg.Metadata); err != nil {
		return nil, err
	}

	sessionID := uptypes.SessionID(bucket, key)
	run, err := m.register(sessionID)
	if err != nil {
		return nil, err
	}
	defer m.unregister(sessionID, run)

	// Safe only after register: the slot guarantees no live run in this
	// process still owns the record we are about to replace.
	m.supersede(ctx, sessionID)

	return m.startFresh(ctx, bucket, key, localPath, cfg, run, start)
}

// startFresh plans and persists a new session, then drives it. The
// caller holds the active-run slot and has cleared any stale record for
// the destination.
func (m *Manager) startFresh(ctx context.Context, bucket, key, localPath string, cfg *uptypes.UploadOptionConfig, run *activeRun, start time.Time) (*uptypes.UploadResult, error) {
	info, err := m.source.Stat(localPath)
	if err != nil {
		return nil, uperrors.NewObjectError("upload", bucket, key, err)
	}
	if info.IsDir() {
		return nil, uperrors.NewObjectError("upload", bucket, key, uperrors.ErrInvalidInput).
			WithMessage(localPath + " is a directory")
	}

	plan, err := planner.Plan(planner.Request{
		TotalSize:   info.Size(),
		Policy:      m.policy,
		ChunkSize:   cfg.ChunkSize,
		Concurrency: cfg.Concurrency,
	})
	if err != nil {
		return nil, err
	}

	contentType := cfg.ContentType
	if contentType == "" {
		contentType = m.detectContentType(localPath)
	}

	now := time.Now().UTC()
	sess := &uptypes.UploadSession{
		SessionID:    uptypes.SessionID(bucket, key),
		LocalPath:    localPath,
		RemoteBucket: bucket,
		RemoteKey:    key,
		TotalSize:    info.Size(),
		ChunkSize:    plan.ChunkSize,
		Concurrency:  plan.Concurrency,
		Status:       uptypes.StatusPending,
		Parts:        plan.Parts,
		ContentType:  contentType,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.sessions.Create(sess); err != nil {
		return nil, err
	}

	return m.execute(ctx, sess, run, cfg, start)
}

// supersede releases remote multipart state left by an earlier session
// for the same destination. Completed sessions keep their object and
// aborted ones were already cleaned up; anything else with a remote id
// is a crashed or failed transfer whose upload would otherwise linger
// until a lifecycle rule reaps it.
func (m *Manager) supersede(ctx context.Context, sessionID string) {
	old, err := m.sessions.Load(sessionID)
	if err != nil || old.RemoteUploadID == "" {
		return
	}
	if old.Status == uptypes.StatusCompleted || old.Status == uptypes.StatusAborted {
		return
	}
	if err := m.remote.Abort(ctx, old.RemoteBucket, old.RemoteKey, old.RemoteUploadID); err != nil {
		m.logger.WarnContext(ctx, "failed to abort superseded upload",
			"session_id", sessionID,
			"upload_id", old.RemoteUploadID,
			"error", err)
	}
}

// execute drives a planned session to a terminal state. The caller holds
// the active-run slot and has already persisted the record.
func (m *Manager) execute(ctx context.Context, sess *uptypes.UploadSession, run *activeRun, cfg *uptypes.UploadOptionConfig, start time.Time) (*uptypes.UploadResult, error) {
	if len(sess.Parts) == 0 {
		return m.uploadSingle(ctx, sess, cfg, start)
	}

	if sess.RemoteUploadID == "" {
		uploadID, err := m.remote.Initiate(ctx, remote.InitiateInput{
			Bucket:       sess.RemoteBucket,
			Key:          sess.RemoteKey,
			ContentType:  sess.ContentType,
			Metadata:     cfg.Metadata,
			StorageClass: cfg.StorageClass,
		})
		if err != nil {
			m.fail(sess)
			return nil, err
		}
		sess.RemoteUploadID = uploadID
	}

	if sess.Status == uptypes.StatusInProgress {
		// Resumed session: persist the possibly recovered upload id and
		// reconciled part states before workers start.
		if err := m.sessions.Save(sess); err != nil {
			return nil, err
		}
	} else if err := m.transition(sess, uptypes.StatusInProgress); err != nil {
		return nil, err
	}

	agg := progress.New(sess.TotalSize, m.progressInterval, cfg.Progress)
	var done int64
	for i := range sess.Parts {
		if sess.Parts[i].Status == uptypes.PartUploaded {
			done += sess.Parts[i].Length
		}
	}
	agg.Seed(done)

	if err := m.pool.Run(ctx, sess, agg, run.stop); err != nil {
		return nil, m.failRun(ctx, sess, err)
	}

	result, err := m.completeWithRetry(ctx, sess)
	if err != nil {
		return nil, m.failRun(ctx, sess, err)
	}

	sess.ETag = result.ETag
	if err := m.transition(sess, uptypes.StatusCompleted); err != nil {
		return nil, err
	}
	agg.Finish()

	m.logger.InfoContext(ctx, "upload completed",
		"session_id", sess.SessionID,
		"bucket", sess.RemoteBucket,
		"key", sess.RemoteKey,
		"size", sess.TotalSize,
		"parts", len(sess.Parts),
		"duration", time.Since(start))

	return &uptypes.UploadResult{
		SessionID: sess.SessionID,
		Bucket:    sess.RemoteBucket,
		Key:       sess.RemoteKey,
		Size:      sess.TotalSize,
		ETag:      result.ETag,
		Location:  result.Location,
		Duration:  time.Since(start),
	}, nil
}

// uploadSingle stores a below-threshold file in one request. The session
// jumps straight from Pending to Completed; there is no remote multipart
// state to resume or abort.
func (m *Manager) uploadSingle(ctx context.Context, sess *uptypes.UploadSession, cfg *uptypes.UploadOptionConfig, start time.Time) (*uptypes.UploadResult, error) {
	file, err := m.source.Open(sess.LocalPath)
	if err != nil {
		m.fail(sess)
		return nil, uperrors.NewSessionError("openSource", sess.SessionID, err)
	}
	defer file.Close()

	result, err := m.remote.PutObject(ctx, remote.PutInput{
		Bucket:       sess.RemoteBucket,
		Key:          sess.RemoteKey,
		Body:         file,
		Length:       sess.TotalSize,
		ContentType:  sess.ContentType,
		Metadata:     cfg.Metadata,
		StorageClass: cfg.StorageClass,
	})
	if err != nil {
		m.fail(sess)
		return nil, err
	}

	sess.ETag = result.ETag
	if err := m.transition(sess, uptypes.StatusCompleted); err != nil {
		return nil, err
	}

	if cfg.Progress != nil {
		agg := progress.New(sess.TotalSize, 0, cfg.Progress)
		agg.Seed(sess.TotalSize)
		agg.Finish()
	}

	m.logger.InfoContext(ctx, "upload completed",
		"session_id", sess.SessionID,
		"bucket", sess.RemoteBucket,
		"key", sess.RemoteKey,
		"size", sess.TotalSize,
		"duration", time.Since(start))

	return &uptypes.UploadResult{
		SessionID: sess.SessionID,
		Bucket:    sess.RemoteBucket,
		Key:       sess.RemoteKey,
		Size:      sess.TotalSize,
		ETag:      result.ETag,
		Duration:  time.Since(start),
	}, nil
}

// completeWithRetry finishes the multipart upload from the persisted part
// manifest. Only the completion call is retried; parts are never redone
// here.
func (m *Manager) completeWithRetry(ctx context.Context, sess *uptypes.UploadSession) (remote.CompleteResult, error) {
	parts := make([]remote.CompletedPart, 0, len(sess.Parts))
	for i := range sess.Parts {
		p := &sess.Parts[i]
		if p.Status != uptypes.PartUploaded || p.ETag == "" {
			return remote.CompleteResult{}, uperrors.NewSessionError("complete", sess.SessionID, uperrors.ErrInvalidInput).
				WithPart(p.PartNumber).
				WithMessage("part missing from manifest")
		}
		parts = append(parts, remote.CompletedPart{PartNumber: p.PartNumber, ETag: p.ETag})
	}

	in := remote.CompleteInput{
		Bucket:   sess.RemoteBucket,
		Key:      sess.RemoteKey,
		UploadID: sess.RemoteUploadID,
		Parts:    parts,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.retryBaseDelay
	bo.MaxElapsedTime = 0

	var result remote.CompleteResult
	operation := func() error {
		res, err := m.remote.Complete(ctx, in)
		if err != nil {
			return err
		}
		result = res
		return nil
	}
	notify := func(err error, delay time.Duration) {
		m.logger.WarnContext(ctx, "completion rejected, retrying",
			"session_id", sess.SessionID,
			"delay", delay,
			"error", err)
	}

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, completeAttempts-1), ctx), notify)
	if err != nil {
		return remote.CompleteResult{}, err
	}
	return result, nil
}

// failRun maps a run error onto the session record. Aborts persist the
// Aborted state and release the remote upload; caller cancellation leaves
// the record InProgress so the transfer stays resumable; anything else
// marks the session Failed. The remote upload is not aborted on failure:
// the next Upload to the destination supersedes it, and strays are
// reaped by AbortStaleUploads.
func (m *Manager) failRun(ctx context.Context, sess *uptypes.UploadSession, err error) error {
	switch {
	case uperrors.IsAborted(err):
		m.finishAbort(ctx, sess)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
	default:
		m.fail(sess)
	}
	return err
}

// finishAbort persists the Aborted state, then releases the remote
// upload. A remote failure here is only logged: the record is already
// terminal and AbortStaleUploads can reap the leftover later.
func (m *Manager) finishAbort(ctx context.Context, sess *uptypes.UploadSession) {
	if err := m.transition(sess, uptypes.StatusAborted); err != nil {
		m.logger.WarnContext(ctx, "failed to persist aborted session",
			"session_id", sess.SessionID,
			"error", err)
	}
	if sess.RemoteUploadID == "" {
		return
	}
	if err := m.remote.Abort(ctx, sess.RemoteBucket, sess.RemoteKey, sess.RemoteUploadID); err != nil {
		m.logger.WarnContext(ctx, "failed to abort remote upload",
			"session_id", sess.SessionID,
			"upload_id", sess.RemoteUploadID,
			"error", err)
	}
}

func (m *Manager) fail(sess *uptypes.UploadSession) {
	if err := m.transition(sess, uptypes.StatusFailed); err != nil {
		m.logger.Warn("failed to persist failed session",
			"session_id", sess.SessionID,
			"error", err)
	}
}

// detectContentType sniffs the leading bytes of the file, falling back
// to extension-based lookup when the file cannot be read.
func (m *Manager) detectContentType(path string) string {
	file, err := m.source.Open(path)
	if err != nil {
		return contentTypeFromExtension(path)
	}
	defer file.Close()

	buf := make([]byte, 512)
	n, _ := file.Read(buf)
	if n > 0 {
		if mt := mimetype.Detect(buf[:n]); mt != nil {
			return mt.String()
		}
	}
	return contentTypeFromExtension(path)
}

func contentTypeFromExtension(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return byExt
		}
	}
	return DefaultContentType
}

func applyUploadOptions(opts []uptypes.UploadOption) *uptypes.UploadOptionConfig {
	cfg := &uptypes.UploadOptionConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
