package sessionstore

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/hollowave/upstream/errors"
	"github.com/hollowave/upstream/uptypes"
)

const recordSuffix = ".json"

// Store reads and writes session records on a filesystem rooted at the
// state directory.
type Store struct {
	fs     billy.Filesystem
	logger *slog.Logger
}

// New creates a session store over the given filesystem, creating the
// root directory if needed.
func New(fsys billy.Filesystem, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := fsys.MkdirAll(".", 0o755); err != nil {
		return nil, errors.New("openSessionStore", err)
	}
	return &Store{fs: fsys, logger: logger}, nil
}

// Create persists a new session record. An existing record for the same
// id is overwritten: a fresh upload to the same destination supersedes
// the old session.
func (s *Store) Create(sess *uptypes.UploadSession) error {
	if err := s.write(sess); err != nil {
		return errors.NewSessionError("createSession", sess.SessionID, err)
	}
	return nil
}

// Save persists the session's current state. It is called after every
// part status transition and after terminal session transitions.
func (s *Store) Save(sess *uptypes.UploadSession) error {
	if err := s.write(sess); err != nil {
		return errors.NewSessionError("saveSession", sess.SessionID, err)
	}
	return nil
}

// Load reads a session record by id. Missing records return
// ErrSessionNotFound; records that no longer decode return
// ErrSessionCorrupted.
func (s *Store) Load(id string) (*uptypes.UploadSession, error) {
	if !validID(id) {
		return nil, errors.NewSessionError("loadSession", id, errors.ErrInvalidInput)
	}

	f, err := s.fs.Open(id + recordSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewSessionError("loadSession", id, errors.ErrSessionNotFound)
		}
		return nil, errors.NewSessionError("loadSession", id, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.NewSessionError("loadSession", id, err)
	}

	var sess uptypes.UploadSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, errors.NewSessionError("loadSession", id, errors.ErrSessionCorrupted).
			WithMessage("record does not decode")
	}
	if sess.SessionID != id || sess.Status == "" {
		return nil, errors.NewSessionError("loadSession", id, errors.ErrSessionCorrupted).
			WithMessage("record does not match its id")
	}
	return &sess, nil
}

// Delete removes a session record. Deleting a missing record is a no-op.
func (s *Store) Delete(id string) error {
	if !validID(id) {
		return errors.NewSessionError("deleteSession", id, errors.ErrInvalidInput)
	}
	if err := s.fs.Remove(id + recordSuffix); err != nil && !os.IsNotExist(err) {
		return errors.NewSessionError("deleteSession", id, err)
	}
	return nil
}

// List returns all decodable session records, oldest first. Corrupt
// records are skipped with a warning rather than failing the listing.
func (s *Store) List() ([]uptypes.UploadSession, error) {
	entries, err := s.fs.ReadDir(".")
	if err != nil {
		return nil, errors.New("listSessions", err)
	}

	var sessions []uptypes.UploadSession
	for _, entry := range entries {
		id, ok := strings.CutSuffix(entry.Name(), recordSuffix)
		if !ok || entry.IsDir() {
			continue
		}
		sess, err := s.Load(id)
		if err != nil {
			s.logger.Warn("skipping unreadable session record",
				"session_id", id, "error", err)
			continue
		}
		sessions = append(sessions, *sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Sweep deletes terminal session records older than the retention window,
// along with unreadable records whose file is older than the window.
// It returns the number of records removed. A non-positive retention
// disables sweeping.
func (s *Store) Sweep(now time.Time, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}

	entries, err := s.fs.ReadDir(".")
	if err != nil {
		return 0, errors.New("sweepSessions", err)
	}

	removed := 0
	for _, entry := range entries {
		id, ok := strings.CutSuffix(entry.Name(), recordSuffix)
		if !ok || entry.IsDir() {
			continue
		}

		sess, err := s.Load(id)
		if err != nil {
			// Unreadable records are reaped once their file ages out.
			if now.Sub(entry.ModTime()) > retention {
				if err := s.Delete(id); err == nil {
					removed++
				}
			}
			continue
		}
		if sess.Status.Terminal() && now.Sub(sess.UpdatedAt) > retention {
			if err := s.Delete(id); err != nil {
				s.logger.Warn("failed to sweep session record",
					"session_id", id, "error", err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// write marshals the session and swaps it into place atomically.
func (s *Store) write(sess *uptypes.UploadSession) error {
	if !validID(sess.SessionID) {
		return errors.ErrInvalidInput
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := s.fs.TempFile(".", "session-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return err
	}

	if err := s.fs.Rename(tmpName, sess.SessionID+recordSuffix); err != nil {
		_ = s.fs.Remove(tmpName)
		return err
	}
	return nil
}

// validID rejects ids that could escape the state directory.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}
