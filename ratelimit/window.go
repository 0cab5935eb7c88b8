// Package ratelimit implements the hierarchical, resource-adaptive rate
// limiter: true sliding-window counters per (tier, identifier) key,
// multi-tier quota arbitration, and pressure-based limit reduction.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a single sliding-window check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

// SlidingWindow counts requests over a rolling time window. Unlike a
// fixed-bucket counter it never permits burst-at-boundary abuse: every
// check prunes expired timestamps before counting. All mutation happens
// under the window's own mutex, giving linearizable per-key behavior.
type SlidingWindow struct {
	mu         sync.Mutex
	window     time.Duration
	timestamps []time.Time
	now        func() time.Time
}

// NewSlidingWindow creates a window over the given duration.
func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{window: window, now: time.Now}
}

// newSlidingWindowWithClock is used by tests for deterministic time.
func newSlidingWindowWithClock(window time.Duration, clock func() time.Time) *SlidingWindow {
	return &SlidingWindow{window: window, now: clock}
}

// CheckAndIncrement prunes expired entries, then admits and records the
// request if fewer than limit entries remain in the window. A limit of
// zero or less always denies.
func (w *SlidingWindow) CheckAndIncrement(limit int) Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)

	d := w.peekLocked(limit, now)
	if d.Allowed {
		w.commitLocked(now)
	}
	return d
}

// Peek evaluates the window against limit without consuming quota.
func (w *SlidingWindow) Peek(limit int) Decision {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.pruneLocked(now)
	return w.peekLocked(limit, now)
}

// Count returns the number of live entries in the window.
func (w *SlidingWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return len(w.timestamps)
}

// peekLocked assumes the caller holds w.mu and has pruned.
func (w *SlidingWindow) peekLocked(limit int, now time.Time) Decision {
	if limit <= 0 {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: w.window}
	}
	count := len(w.timestamps)
	if count < limit {
		return Decision{Allowed: true, Remaining: limit - count - 1}
	}
	retry := w.timestamps[0].Add(w.window).Sub(now)
	if retry < time.Millisecond {
		retry = time.Millisecond
	}
	return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}
}

// commitLocked records the request at now. Caller holds w.mu.
func (w *SlidingWindow) commitLocked(now time.Time) {
	w.timestamps = append(w.timestamps, now)
}

// pruneLocked drops timestamps older than now-window. Caller holds w.mu.
func (w *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		remaining := len(w.timestamps) - i
		copy(w.timestamps, w.timestamps[i:])
		w.timestamps = w.timestamps[:remaining]
	}
}
