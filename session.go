package upstream

import (
	"context"
	"fmt"
	"time"

	uperrors "github.com/hollowave/upstream/errors"
	"github.com/hollowave/upstream/uptypes"
)

// Abort cancels an upload session. For a session running in this
// process it stops new part claims, waits for in-flight parts to drain,
// and returns once the run has persisted the Aborted state and released
// the remote upload; the blocked Upload or Resume call sees ErrAborted.
// For an inactive session it releases the remote upload directly.
//
// Abort is idempotent: a terminal session or a missing record is a
// successful no-op.
func (m *Manager) Abort(ctx context.Context, sessionID string) error {
	if run := m.lookupActive(sessionID); run != nil {
		run.signalStop()
		select {
		case <-run.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	sess, err := m.sessions.Load(sessionID)
	if err != nil {
		if uperrors.IsSessionNotFound(err) {
			return nil
		}
		return err
	}
	if sess.Status.Terminal() {
		return nil
	}

	if sess.RemoteUploadID != "" {
		if err := m.remote.Abort(ctx, sess.RemoteBucket, sess.RemoteKey, sess.RemoteUploadID); err != nil {
			return err
		}
	}
	return m.transition(sess, uptypes.StatusAborted)
}

// Progress reports the session's current progress, recomputed from the
// persisted part ledger. The pool saves the record after every part
// transition, so this tracks a running upload closely without sharing
// its memory.
func (m *Manager) Progress(sessionID string) (uptypes.ProgressSnapshot, error) {
	sess, err := m.sessions.Load(sessionID)
	if err != nil {
		return uptypes.ProgressSnapshot{}, err
	}
	return sess.Snapshot(), nil
}

// ListActiveSessions returns the non-terminal sessions targeting the
// role's bucket, oldest first. It includes sessions from earlier runs of
// the process that are still resumable.
func (m *Manager) ListActiveSessions(role uptypes.BucketRole) ([]uptypes.UploadSession, error) {
	bucket, err := m.bucketFor(role)
	if err != nil {
		return nil, err
	}

	all, err := m.sessions.List()
	if err != nil {
		return nil, err
	}

	var active []uptypes.UploadSession
	for i := range all {
		if all[i].RemoteBucket != bucket || all[i].Status.Terminal() {
			continue
		}
		active = append(active, all[i])
	}
	return active, nil
}

// transition advances the session through its forward-only lifecycle and
// persists the record. The manager is the only writer of session status.
func (m *Manager) transition(sess *uptypes.UploadSession, next uptypes.SessionStatus) error {
	if !sess.Status.CanTransition(next) {
		kind := uperrors.ErrInvalidInput
		if sess.Status.Terminal() {
			kind = uperrors.ErrSessionTerminal
		}
		return uperrors.NewSessionError("transition", sess.SessionID, kind).
			WithMessage(fmt.Sprintf("%s to %s", sess.Status, next))
	}
	sess.Status = next
	sess.UpdatedAt = time.Now().UTC()
	return m.sessions.Save(sess)
}
