package progress

import (
	"sync"
	"time"

	"github.com/hollowave/upstream/uptypes"
)

// Aggregator folds per-part byte counts into a running total and notifies the
// caller-supplied callback as parts land.
type Aggregator struct {
	total    int64
	interval time.Duration
	fn       uptypes.ProgressFunc

	mu        sync.Mutex
	completed int64
	lastEmit  time.Time

	emitMu       sync.Mutex
	lastReported int64
	reportedOnce bool
}

// New returns an aggregator for a transfer of total bytes. fn may be nil, in
// which case the aggregator only keeps counters. An interval of zero emits on
// every completed part.
func New(total int64, interval time.Duration, fn uptypes.ProgressFunc) *Aggregator {
	return &Aggregator{total: total, interval: interval, fn: fn}
}

// Seed records bytes that were already uploaded before this run, without
// invoking the callback. Used when resuming a session.
func (a *Aggregator) Seed(n int64) {
	a.mu.Lock()
	a.completed += n
	a.mu.Unlock()
}

// Add records n freshly uploaded bytes and invokes the callback unless an
// emission already fired within the last interval.
func (a *Aggregator) Add(n int64) {
	a.mu.Lock()
	a.completed += n
	completed := a.completed
	emit := false
	if a.fn != nil {
		now := time.Now()
		if a.interval <= 0 || now.Sub(a.lastEmit) >= a.interval {
			a.lastEmit = now
			emit = true
		}
	}
	a.mu.Unlock()
	if emit {
		a.emit(completed)
	}
}

// Finish emits the current totals regardless of the throttle. Called once by
// the orchestrator after the final part lands so the callback always observes
// the terminal value.
func (a *Aggregator) Finish() {
	if a.fn == nil {
		return
	}
	a.mu.Lock()
	completed := a.completed
	a.mu.Unlock()
	a.emit(completed)
}

// Completed reports the bytes recorded so far, seeded bytes included.
func (a *Aggregator) Completed() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed
}

// emit serializes callback invocations. An invocation that would report fewer
// bytes than one that already fired is dropped, keeping the observed sequence
// non-decreasing even when workers race past the throttle together.
func (a *Aggregator) emit(completed int64) {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	if a.reportedOnce && completed < a.lastReported {
		return
	}
	a.lastReported = completed
	a.reportedOnce = true
	a.fn(percent(completed, a.total), completed, a.total)
}

func percent(completed, total int64) float64 {
	if total <= 0 {
		return 100
	}
	return float64(completed) / float64(total) * 100
}
