package enrichment

import (
	"sync"
	"time"
)

// FailureRecord is one recent job failure, kept for the operational
// snapshot so permanent failures are never silently dropped.
type FailureRecord struct {
	JobID     string    `json:"job_id"`
	Kind      Kind      `json:"kind"`
	SubjectID string    `json:"subject_id"`
	Attempt   int       `json:"attempt"`
	Permanent bool      `json:"permanent"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// failureRing is a fixed-capacity ring of recent failures, newest first
// on read.
type failureRing struct {
	mu      sync.Mutex
	entries []FailureRecord
	next    int
	full    bool
}

func newFailureRing(capacity int) *failureRing {
	if capacity <= 0 {
		capacity = 20
	}
	return &failureRing{entries: make([]FailureRecord, capacity)}
}

func (r *failureRing) add(rec FailureRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = rec
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// list returns recorded failures, newest first.
func (r *failureRing) list() []FailureRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.entries)
	}
	out := make([]FailureRecord, 0, size)
	for i := 1; i <= size; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}
