package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	uperrors "github.com/hollowave/upstream/errors"
	"github.com/hollowave/upstream/internal/planner"
	"github.com/hollowave/upstream/internal/remote"
	"github.com/hollowave/upstream/internal/validation"
	"github.com/hollowave/upstream/uptypes"
)

// Resume continues an interrupted upload of localPath to the role's
// bucket under key. Parts the backend already holds are never sent
// again: the persisted session is reconciled against ListParts and only
// the remainder is uploaded.
//
// When no session record exists (state directory wiped, different host)
// but the destination has a live multipart upload, the newest one is
// adopted and a rebuilt session is seeded from its parts. With neither a
// record nor a remote upload, Resume degrades to a plain fresh Upload.
//
// A Completed session returns the stored result without network calls.
// Aborted and Failed sessions return ErrSessionTerminal; starting over
// requires a fresh Upload, which supersedes the record.
func (m *Manager) Resume(ctx context.Context, role uptypes.BucketRole, key, localPath string, opts ...uptypes.UploadOption) (*uptypes.UploadResult, error) {
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

	sess, err := m.sessions.Load(sessionID)
	switch {
	case err == nil:
	case uperrors.IsSessionNotFound(err):
		sess, err = m.recoverSession(ctx, bucket, key, localPath, cfg)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return m.startFresh(ctx, bucket, key, localPath, cfg, run, start)
		}
	default:
		return nil, err
	}

	switch sess.Status {
	case uptypes.StatusCompleted:
		return completedResult(sess, start), nil
	case uptypes.StatusAborted, uptypes.StatusFailed:
		return nil, uperrors.NewSessionError("resume", sessionID, uperrors.ErrSessionTerminal)
	}

	return m.resumeExisting(ctx, sess, localPath, cfg, run, start)
}

// ResumeSession continues an interrupted upload by session id. The
// record must exist; bucket, key, and source path all come from it.
func (m *Manager) ResumeSession(ctx context.Context, sessionID string, opts ...uptypes.UploadOption) (*uptypes.UploadResult, error) {
	start := time.Now()

	cfg := applyUploadOptions(opts)
	if err := validation.ValidateMetadata(cfg.Metadata); err != nil {
		return nil, err
	}

	run, err := m.register(sessionID)
	if err != nil {
		return nil, err
	}
	defer m.unregister(sessionID, run)

	sess, err := m.sessions.Load(sessionID)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case uptypes.StatusCompleted:
		return completedResult(sess, start), nil
	case uptypes.StatusAborted, uptypes.StatusFailed:
		return nil, uperrors.NewSessionError("resume", sessionID, uperrors.ErrSessionTerminal)
	}

	return m.resumeExisting(ctx, sess, "", cfg, run, start)
}

// resumeExisting verifies the source file still matches the session,
// reconciles the part ledger against the backend, and drives the
// remainder. localPath is the caller-supplied source path, or empty to
// trust the record.
func (m *Manager) resumeExisting(ctx context.Context, sess *uptypes.UploadSession, localPath string, cfg *uptypes.UploadOptionConfig, run *activeRun, start time.Time) (*uptypes.UploadResult, error) {
	if localPath != "" && localPath != sess.LocalPath {
		m.fail(sess)
		return nil, uperrors.NewSessionError("resume", sess.SessionID, uperrors.ErrSessionCorrupted).
			WithMessage("source path changed")
	}

	info, err := m.source.Stat(sess.LocalPath)
	if err != nil {
		m.fail(sess)
		return nil, uperrors.NewSessionError("resume", sess.SessionID, uperrors.ErrSessionCorrupted).
			WithMessage("source file unreadable")
	}
	if info.Size() != sess.TotalSize {
		m.fail(sess)
		return nil, uperrors.NewSessionError("resume", sess.SessionID, uperrors.ErrSessionCorrupted).
			WithMessage(fmt.Sprintf("source size %d, session expects %d", info.Size(), sess.TotalSize))
	}

	if len(sess.Parts) > 0 {
		if sess.RemoteUploadID != "" {
			if err := m.reconcile(ctx, sess); err != nil {
				return nil, err
			}
			// The completion may have landed before the crash; reconcile
			// detects that and finishes the session on its own.
			if sess.Status == uptypes.StatusCompleted {
				return completedResult(sess, start), nil
			}
		} else {
			resetPending(sess)
		}
	}

	uploaded := 0
	for i := range sess.Parts {
		if sess.Parts[i].Status == uptypes.PartUploaded {
			uploaded++
		}
	}
	m.logger.InfoContext(ctx, "resuming upload",
		"session_id", sess.SessionID,
		"bucket", sess.RemoteBucket,
		"key", sess.RemoteKey,
		"uploaded_parts", uploaded,
		"pending_parts", len(sess.Parts)-uploaded)

	return m.execute(ctx, sess, run, cfg, start)
}

// reconcile aligns the local part ledger with what the backend holds for
// the upload id. The backend is authoritative for which parts exist; the
// plan is authoritative for their layout.
func (m *Manager) reconcile(ctx context.Context, sess *uptypes.UploadSession) error {
	remoteParts, err := m.remote.ListParts(ctx, sess.RemoteBucket, sess.RemoteKey, sess.RemoteUploadID)
	if err != nil {
		if errors.Is(err, uperrors.ErrUploadNotFound) {
			return m.adoptFinishedUpload(ctx, sess)
		}
		return err
	}

	stored := make(map[int32]bool, len(remoteParts))
	for _, rp := range remoteParts {
		idx := int(rp.PartNumber) - 1
		if idx < 0 || idx >= len(sess.Parts) {
			m.fail(sess)
			return uperrors.NewSessionError("reconcile", sess.SessionID, uperrors.ErrSessionCorrupted).
				WithPart(rp.PartNumber).
				WithMessage("remote part not in plan")
		}
		local := &sess.Parts[idx]
		if rp.Size != local.Length {
			m.fail(sess)
			return uperrors.NewSessionError("reconcile", sess.SessionID, uperrors.ErrSessionCorrupted).
				WithPart(rp.PartNumber).
				WithMessage(fmt.Sprintf("remote part size %d, planned %d", rp.Size, local.Length))
		}
		stored[rp.PartNumber] = true
		if local.Status != uptypes.PartUploaded {
			local.Status = uptypes.PartUploaded
			local.ETag = rp.ETag
		}
	}

	// A part the ledger considers uploaded but the backend no longer
	// lists must go around again, or completion would reference it.
	for i := range sess.Parts {
		p := &sess.Parts[i]
		if p.Status == uptypes.PartUploaded && !stored[p.PartNumber] {
			p.Status = uptypes.PartPending
			p.AttemptCount = 0
			p.ETag = ""
		}
	}

	resetPending(sess)
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

// adoptFinishedUpload handles an upload id the backend no longer knows.
// If the destination object exists at the session's size, completion won
// the race before the crash; otherwise the record is unusable and a
// fresh upload is required.
func (m *Manager) adoptFinishedUpload(ctx context.Context, sess *uptypes.UploadSession) error {
	obj, err := m.remote.Head(ctx, sess.RemoteBucket, sess.RemoteKey)
	if err == nil && obj.Size == sess.TotalSize {
		sess.ETag = obj.ETag
		return m.transition(sess, uptypes.StatusCompleted)
	}
	m.fail(sess)
	return uperrors.NewSessionError("reconcile", sess.SessionID, uperrors.ErrUploadNotFound).
		WithMessage("remote upload no longer exists")
}

// recoverSession rebuilds a session from a live remote upload when the
// local record is gone. Returns nil when the destination has no upload
// worth adopting.
func (m *Manager) recoverSession(ctx context.Context, bucket, key, localPath string, cfg *uptypes.UploadOptionConfig) (*uptypes.UploadSession, error) {
	uploads, err := m.remote.ListUploads(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	var adopt *remote.Upload
	for i := range uploads {
		if uploads[i].Key != key {
			continue
		}
		if adopt == nil || uploads[i].Initiated.After(adopt.Initiated) {
			adopt = &uploads[i]
		}
	}
	if adopt == nil {
		return nil, nil
	}

	info, err := m.source.Stat(localPath)
	if err != nil {
		return nil, uperrors.NewObjectError("resume", bucket, key, err)
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
	if len(plan.Parts) == 0 {
		// A below-threshold file cannot match a multipart upload. Drop
		// the orphan and let the caller go through a fresh upload.
		if err := m.remote.Abort(ctx, bucket, key, adopt.UploadID); err != nil {
			m.logger.WarnContext(ctx, "failed to abort orphaned upload",
				"bucket", bucket,
				"key", key,
				"upload_id", adopt.UploadID,
				"error", err)
		}
		return nil, nil
	}

	contentType := cfg.ContentType
	if contentType == "" {
		contentType = m.detectContentType(localPath)
	}

	now := time.Now().UTC()
	sess := &uptypes.UploadSession{
		SessionID:      uptypes.SessionID(bucket, key),
		LocalPath:      localPath,
		RemoteBucket:   bucket,
		RemoteKey:      key,
		TotalSize:      info.Size(),
		ChunkSize:      plan.ChunkSize,
		Concurrency:    plan.Concurrency,
		RemoteUploadID: adopt.UploadID,
		Status:         uptypes.StatusPending,
		Parts:          plan.Parts,
		ContentType:    contentType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.sessions.Create(sess); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "recovered session from remote upload",
		"session_id", sess.SessionID,
		"bucket", bucket,
		"key", key,
		"upload_id", adopt.UploadID)
	return sess, nil
}

// resetPending returns every part that is not safely stored to Pending
// so the pool will claim it again.
func resetPending(sess *uptypes.UploadSession) {
	for i := range sess.Parts {
		p := &sess.Parts[i]
		if p.Status == uptypes.PartUploaded || p.Status == uptypes.PartPending {
			continue
		}
		p.Status = uptypes.PartPending
		p.AttemptCount = 0
	}
}

// completedResult rebuilds the outcome of an already finished session
// without touching the network.
func completedResult(sess *uptypes.UploadSession, start time.Time) *uptypes.UploadResult {
	return &uptypes.UploadResult{
		SessionID: sess.SessionID,
		Bucket:    sess.RemoteBucket,
		Key:       sess.RemoteKey,
		Size:      sess.TotalSize,
		ETag:      sess.ETag,
		Duration:  time.Since(start),
	}
}
