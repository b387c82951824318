package enrichment

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's position.
type BreakerState string

const (
	// BreakerClosed is normal operation; failures increment a counter.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen fails all calls fast for the cooldown duration.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen permits exactly one trial call.
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker shields one downstream dependency kind from sustained load
// while it is failing. Summarization and embedding each get their own
// breaker since they fail independently.
//
// State machine: closed → (threshold consecutive failures) → open →
// (cooldown elapses) → half-open, one probe → success closes, failure
// reopens. Any success in closed or half-open resets the failure count.
// All transitions happen under a single mutex, so concurrent failure
// bursts open the breaker exactly once and never double-count.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	threshold int
	cooldown  time.Duration
	probing   bool

	// now is swappable for deterministic tests.
	now func() time.Time
}

// BreakerSnapshot is a read-only view of breaker state for monitoring.
type BreakerSnapshot struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitzero"`
	FailureThreshold    int          `json:"failure_threshold"`
	Cooldown            time.Duration `json:"cooldown"`
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		state:     BreakerClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. While open it returns
// ErrCircuitOpen without any downstream contact; once the cooldown has
// elapsed it admits exactly one probe and holds further callers off
// until that probe's outcome is recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// RecordSuccess resets the breaker after a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	b.state = BreakerClosed
	b.openedAt = time.Time{}
}

// ReleaseProbe gives the half-open trial slot back without recording an
// outcome. A probe that was canceled before completing proves nothing
// about the dependency, so the next caller gets to probe instead of the
// breaker waiting forever on a result that will never arrive.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.probing = false
	}
}

// RecordFailure counts a failed call. Reaching the threshold while
// closed, or any failure while half-open, opens the breaker and starts
// (or restarts) the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.probing = false
		b.state = BreakerOpen
		b.openedAt = b.now()
	case BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	case BreakerOpen:
		// Already open; a straggling failure restarts nothing.
	}
}

// RetryAfter returns how long until the breaker will admit a probe.
// Zero when calls are currently allowed.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return 0
	}
	remaining := b.cooldown - b.now().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Snapshot returns a read-only view for the operational snapshot.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		OpenedAt:            b.openedAt,
		FailureThreshold:    b.threshold,
		Cooldown:            b.cooldown,
	}
}
