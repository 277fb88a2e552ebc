package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-git/go-billy/v5"
	"golang.org/x/sync/errgroup"

	uperrors "github.com/hollowave/upstream/errors"
	"github.com/hollowave/upstream/internal/progress"
	"github.com/hollowave/upstream/internal/remote"
	"github.com/hollowave/upstream/internal/sessionstore"
	"github.com/hollowave/upstream/uptypes"
)

// Retry defaults for transient part failures.
const (
	DefaultPartTimeout      = 5 * time.Minute
	DefaultRetryBaseDelay   = 500 * time.Millisecond
	DefaultRetryMaxAttempts = 5

	retryFactor = 2
	retryJitter = 0.25
)

// Config tunes worker behavior. Zero values fall back to the defaults above.
type Config struct {
	// PartTimeout bounds each UploadPart attempt.
	PartTimeout time.Duration

	// RetryBaseDelay is the first backoff interval after a transient failure.
	RetryBaseDelay time.Duration

	// RetryMaxAttempts caps the attempts per part, the first one included.
	RetryMaxAttempts int

	Logger *slog.Logger
}

// Pool uploads the parts of multipart sessions with a bounded worker set.
// A single Pool is safe for concurrent runs over different sessions.
type Pool struct {
	remote remote.Store
	store  *sessionstore.Store
	fs     billy.Filesystem
	cfg    Config
	logger *slog.Logger

	// mu serializes all session mutation and persistence, including the
	// part claims that hand each pending part to exactly one worker.
	mu sync.Mutex
}

// New creates a worker pool reading part data from fsys and persisting
// session state through store.
func New(rs remote.Store, store *sessionstore.Store, fsys billy.Filesystem, cfg Config) *Pool {
	if cfg.PartTimeout <= 0 {
		cfg.PartTimeout = DefaultPartTimeout
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		remote: rs,
		store:  store,
		fs:     fsys,
		cfg:    cfg,
		logger: logger,
	}
}

// Run uploads every pending part of the session and blocks until the workers
// drain. It returns nil once all parts are uploaded, ErrAborted when stop
// closes, and the first fatal error otherwise. Workers stop claiming new
// parts on fatal errors and abort signals but finish the parts they hold, so
// the network context for individual attempts derives from ctx rather than
// from the group.
func (p *Pool) Run(ctx context.Context, sess *uptypes.UploadSession, agg *progress.Aggregator, stop <-chan struct{}) error {
	pending := 0
	for i := range sess.Parts {
		if sess.Parts[i].Status == uptypes.PartPending {
			pending++
		}
	}
	if pending == 0 {
		return nil
	}

	workers := sess.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > pending {
		workers = pending
	}

	g, claimCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return p.worker(claimCtx, ctx, sess, agg, stop)
		})
	}
	return g.Wait()
}

// worker claims and uploads parts until none remain, the claim context is
// canceled, or stop closes.
func (p *Pool) worker(claimCtx, netCtx context.Context, sess *uptypes.UploadSession, agg *progress.Aggregator, stop <-chan struct{}) error {
	file, err := p.fs.Open(sess.LocalPath)
	if err != nil {
		return uperrors.NewSessionError("openSource", sess.SessionID, err)
	}
	defer file.Close()

	for {
		select {
		case <-claimCtx.Done():
			return claimCtx.Err()
		case <-stop:
			return uperrors.ErrAborted
		default:
		}

		part := p.claim(sess)
		if part == nil {
			return nil
		}

		if err := p.uploadClaimed(netCtx, sess, part, file, agg); err != nil {
			return err
		}
	}
}

// claim hands the next pending part to the calling worker. The transition to
// Uploading under the pool lock is what guarantees a part is never claimed
// twice. Persisting the claim is best effort: a stale Uploading record is
// demoted back to Pending on resume.
func (p *Pool) claim(sess *uptypes.UploadSession) *uptypes.PartRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range sess.Parts {
		if sess.Parts[i].Status == uptypes.PartPending {
			part := &sess.Parts[i]
			part.Status = uptypes.PartUploading
			part.AttemptCount = 0
			sess.UpdatedAt = time.Now().UTC()
			if err := p.store.Save(sess); err != nil {
				p.logger.Warn("failed to persist part claim",
					"session_id", sess.SessionID,
					"part", part.PartNumber,
					"error", err)
			}
			return part
		}
	}
	return nil
}

// uploadClaimed sends one claimed part, retrying transient failures with
// exponential backoff, and persists the resulting part state.
func (p *Pool) uploadClaimed(
	netCtx context.Context,
	sess *uptypes.UploadSession,
	part *uptypes.PartRecord,
	file billy.File,
	agg *progress.Aggregator,
) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryBaseDelay
	bo.Multiplier = retryFactor
	bo.RandomizationFactor = retryJitter
	bo.MaxElapsedTime = 0

	var etag string
	operation := func() error {
		p.mu.Lock()
		part.AttemptCount++
		p.mu.Unlock()

		tag, err := p.uploadOnce(netCtx, sess, part, file)
		if err != nil {
			if !uperrors.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		etag = tag
		return nil
	}
	notify := func(err error, delay time.Duration) {
		p.mu.Lock()
		attempt := part.AttemptCount
		p.mu.Unlock()
		p.logger.WarnContext(netCtx, "part upload failed, retrying",
			"session_id", sess.SessionID,
			"part", part.PartNumber,
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}

	retries := uint64(p.cfg.RetryMaxAttempts - 1)
	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, retries), netCtx), notify)
	if err != nil {
		var opErr *uperrors.Error
		if errors.As(err, &opErr) && opErr.SessionID == "" {
			opErr.WithSession(sess.SessionID)
		}
		p.failPart(sess, part)
		return err
	}

	p.mu.Lock()
	part.Status = uptypes.PartUploaded
	part.ETag = etag
	sess.UpdatedAt = time.Now().UTC()
	saveErr := p.store.Save(sess)
	p.mu.Unlock()
	if saveErr != nil {
		return saveErr
	}

	agg.Add(part.Length)
	p.logger.DebugContext(netCtx, "part uploaded",
		"session_id", sess.SessionID,
		"part", part.PartNumber,
		"bytes", part.Length)
	return nil
}

// uploadOnce performs a single UploadPart attempt over the part's byte range.
func (p *Pool) uploadOnce(ctx context.Context, sess *uptypes.UploadSession, part *uptypes.PartRecord, file billy.File) (string, error) {
	callCtx := ctx
	if p.cfg.PartTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.cfg.PartTimeout)
		defer cancel()
	}

	section := io.NewSectionReader(file, part.Offset, part.Length)
	return p.remote.UploadPart(callCtx, remote.PartInput{
		Bucket:     sess.RemoteBucket,
		Key:        sess.RemoteKey,
		UploadID:   sess.RemoteUploadID,
		PartNumber: part.PartNumber,
		Body:       section,
		Length:     part.Length,
	})
}

// failPart records a part failure. Persistence is best effort here since the
// run is already returning an error.
func (p *Pool) failPart(sess *uptypes.UploadSession, part *uptypes.PartRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	part.Status = uptypes.PartFailed
	sess.UpdatedAt = time.Now().UTC()
	if err := p.store.Save(sess); err != nil {
		p.logger.Warn("failed to persist part failure",
			"session_id", sess.SessionID,
			"part", part.PartNumber,
			"error", err)
	}
}
