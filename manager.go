package upstream

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	uperrors "github.com/hollowave/upstream/errors"
	"github.com/hollowave/upstream/internal/pool"
	"github.com/hollowave/upstream/internal/remote"
	"github.com/hollowave/upstream/internal/sessionstore"
	"github.com/hollowave/upstream/uptypes"
)

// Defaults applied by New when the corresponding option is not given.
const (
	// DefaultProgressInterval coalesces progress callbacks during multipart
	// transfers. An explicit zero reports every completed part.
	DefaultProgressInterval = 100 * time.Millisecond

	// DefaultSessionRetention is how long terminal session records are kept
	// on disk before the startup sweep removes them.
	DefaultSessionRetention = 7 * 24 * time.Hour
)

// completeAttempts bounds retries of the completion call after all parts
// are stored remotely.
const completeAttempts = 3

// Manager coordinates resumable uploads to S3-compatible object storage.
// It owns the remote storage adapter, the on-disk session store, and the
// part-upload worker pool, and it serializes every session state
// transition for the uploads it drives.
//
// A Manager is safe for concurrent use. At most one upload per session
// may be in flight within a process; a second Upload or Resume for the
// same destination fails with ErrSessionActive.
type Manager struct {
	remote   remote.Store
	sessions *sessionstore.Store
	source   billy.Filesystem
	pool     *pool.Pool

	buckets          uptypes.BucketMap
	policy           uptypes.PartPolicy
	progressInterval time.Duration
	sessionRetention time.Duration
	retryBaseDelay   time.Duration

	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*activeRun
}

// activeRun tracks an upload this process is currently driving. Abort
// closes stop to halt new part claims and waits on done; the running
// upload owns all session state transitions until done is closed.
type activeRun struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (r *activeRun) signalStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// New creates an upload manager. Credentials follow the AWS default
// chain unless WithStaticCredentials or WithAWSConfig overrides them,
// and session records live under WithStateDir (default
// ~/.upstream/sessions), created on first use.
func New(opts ...uptypes.Option) (*Manager, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	var awsCfg aws.Config
	var err error

	if cfg.CustomAWSConfig != nil {
		awsCfg = *cfg.CustomAWSConfig
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, uperrors.New("config", err)
		}
	}

	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	}

	if cfg.MaxRetries > 0 {
		awsCfg.RetryMaxAttempts = cfg.MaxRetries
	}

	var s3Opts []func(*s3.Options)
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	if cfg.Timeout > 0 {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		})
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	presigner := s3.NewPresignClient(client)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	adapter := remote.NewS3(client, presigner, logger)
	return newManager(adapter, cfg, logger)
}

// NewWithAdapter creates a manager on a caller-provided storage adapter,
// skipping AWS configuration entirely. Tests use it to swap in fakes.
func NewWithAdapter(store remote.Store, opts ...uptypes.Option) (*Manager, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return newManager(store, cfg, logger)
}

func defaultConfig() *uptypes.ClientConfig {
	return &uptypes.ClientConfig{
		MaxRetries:       3,
		Timeout:          0,
		ForcePathStyle:   false,
		SessionRetention: DefaultSessionRetention,
		PartTimeout:      pool.DefaultPartTimeout,
		RetryBaseDelay:   pool.DefaultRetryBaseDelay,
		RetryMaxAttempts: pool.DefaultRetryMaxAttempts,
		ProgressInterval: DefaultProgressInterval,
	}
}

func newManager(adapter remote.Store, cfg *uptypes.ClientConfig, logger *slog.Logger) (*Manager, error) {
	stateFS := cfg.StateFilesystem
	if stateFS == nil {
		dir := cfg.StateDir
		if dir == "" {
			dir = defaultStateDir()
		}
		stateFS = osfs.New(dir)
	}

	sessions, err := sessionstore.New(stateFS, logger)
	if err != nil {
		return nil, err
	}

	source := cfg.Filesystem
	if source == nil {
		source = osfs.New("/")
	}

	policy := uptypes.DefaultPartPolicy()
	if cfg.PartPolicy != nil {
		policy = *cfg.PartPolicy
	}

	workers := pool.New(adapter, sessions, source, pool.Config{
		PartTimeout:      cfg.PartTimeout,
		RetryBaseDelay:   cfg.RetryBaseDelay,
		RetryMaxAttempts: cfg.RetryMaxAttempts,
		Logger:           logger,
	})

	m := &Manager{
		remote:           adapter,
		sessions:         sessions,
		source:           source,
		pool:             workers,
		buckets:          cfg.Buckets,
		policy:           policy,
		progressInterval: cfg.ProgressInterval,
		sessionRetention: cfg.SessionRetention,
		retryBaseDelay:   cfg.RetryBaseDelay,
		logger:           logger,
		active:           make(map[string]*activeRun),
	}

	if m.sessionRetention > 0 {
		if n, err := m.sessions.Sweep(time.Now(), m.sessionRetention); err == nil && n > 0 {
			logger.Debug("swept expired session records", "removed", n)
		}
	}

	return m, nil
}

// defaultStateDir resolves ~/.upstream/sessions, falling back to a
// temp-dir path when the home directory is unknown.
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "upstream-sessions")
	}
	return filepath.Join(home, ".upstream", "sessions")
}

// Close releases resources held by the manager. The AWS SDK manages its
// own connection pooling, so this is currently a no-op.
func (m *Manager) Close() error {
	return nil
}

// bucketFor resolves a role through the configured bucket map.
func (m *Manager) bucketFor(role uptypes.BucketRole) (string, error) {
	if !role.Valid() {
		return "", uperrors.New("resolveBucket", uperrors.ErrInvalidInput).
			WithMessage("unknown bucket role " + string(role))
	}
	bucket := m.buckets[role]
	if bucket == "" {
		return "", uperrors.New("resolveBucket", uperrors.ErrBucketNotConfigured).
			WithMessage(string(role))
	}
	return bucket, nil
}

// register claims the in-process slot for a session. A second concurrent
// Upload or Resume for the same destination fails with ErrSessionActive.
func (m *Manager) register(sessionID string) (*activeRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[sessionID]; ok {
		return nil, uperrors.NewSessionError("register", sessionID, uperrors.ErrSessionActive)
	}

	run := &activeRun{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	m.active[sessionID] = run
	return run, nil
}

// unregister releases the slot and wakes any Abort waiting on the run.
// The caller must have persisted the session's final state first.
func (m *Manager) unregister(sessionID string, run *activeRun) {
	m.mu.Lock()
	delete(m.active, sessionID)
	m.mu.Unlock()
	close(run.done)
}

func (m *Manager) lookupActive(sessionID string) *activeRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[sessionID]
}
