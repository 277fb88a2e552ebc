// Package testutil provides test utilities for progress tracking.
package testutil

import (
	"sync"

	"github.com/hollowave/upstream/uptypes"
)

// ProgressReport is a single recorded progress callback.
type ProgressReport struct {
	Percent   float64
	Completed int64
	Total     int64
}

// ProgressRecorder captures progress callbacks for assertions. It is
// safe for concurrent use so tests can run uploads in parallel against
// one recorder.
type ProgressRecorder struct {
	mu      sync.Mutex
	reports []ProgressReport
}

// Func returns the callback to register with WithProgress.
func (r *ProgressRecorder) Func() uptypes.ProgressFunc {
	return func(percent float64, completed, total int64) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.reports = append(r.reports, ProgressReport{
			Percent:   percent,
			Completed: completed,
			Total:     total,
		})
	}
}

// Reports returns a copy of everything recorded so far.
func (r *ProgressRecorder) Reports() []ProgressReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProgressReport, len(r.reports))
	copy(out, r.reports)
	return out
}

// Last returns the most recent report, if any.
func (r *ProgressRecorder) Last() (ProgressReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reports) == 0 {
		return ProgressReport{}, false
	}
	return r.reports[len(r.reports)-1], true
}

// Count returns the number of callbacks recorded.
func (r *ProgressRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}
