package enrichment

import (
	"sync"
	"time"
)

// Counters are the pipeline's monotonic operation counts, exposed through
// the operational snapshot.
type Counters struct {
	Submitted         int64 `json:"submitted"`
	Coalesced         int64 `json:"coalesced"`
	Rejected          int64 `json:"rejected"`
	Completed         int64 `json:"completed"`
	Retried           int64 `json:"retried"`
	Deferred          int64 `json:"deferred"`
	PermanentFailures int64 `json:"permanent_failures"`
	Canceled          int64 `json:"canceled"`
	Discarded         int64 `json:"discarded"`
}

type subjectKey struct {
	kind    Kind
	subject string
}

// Queue is the bounded, deduplicating working set of enrichment jobs.
//
// Depth counts every active job (pending, awaiting retry, or in flight);
// submissions beyond MaxDepth are rejected with ErrQueueFull rather than
// buffered, so memory stays bounded and latency for the rest of the
// system stays predictable. Jobs of the same (kind, subject) coalesce to
// the already-queued job. Dispatch preserves per-subject submission
// order; across subjects there is no ordering guarantee.
//
// All methods are safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	maxDepth int
	jobs     map[string]Job
	order    []string
	byKey    map[subjectKey]string
	counters Counters
}

// NewQueue creates a queue with the given backpressure limit.
func NewQueue(maxDepth int) *Queue {
	return &Queue{
		maxDepth: maxDepth,
		jobs:     make(map[string]Job),
		byKey:    make(map[subjectKey]string),
	}
}

// Submit adds job to the working set.
//
// A job for a (kind, subject) pair that is already queued or in flight is
// coalesced: the existing job's id is returned and nothing is added. At
// max depth, Submit returns ErrQueueFull without growing the queue.
func (q *Queue) Submit(job Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := subjectKey{kind: job.Kind, subject: job.SubjectID}
	if existing, ok := q.byKey[key]; ok {
		q.counters.Coalesced++
		return existing, nil
	}

	if len(q.jobs) >= q.maxDepth {
		q.counters.Rejected++
		return "", ErrQueueFull
	}

	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.byKey[key] = job.ID
	q.counters.Submitted++
	return job.ID, nil
}

// Restore re-inserts a previously persisted job, preserving its id,
// attempt count, and schedule. Used at startup to resume work that was
// active when the process last stopped. Returns false when the job
// cannot be taken back, either because a job for its (kind, subject) is
// already queued or because the queue is full.
func (q *Queue) Restore(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := subjectKey{kind: job.Kind, subject: job.SubjectID}
	if _, ok := q.byKey[key]; ok {
		return false
	}
	if len(q.jobs) >= q.maxDepth {
		return false
	}

	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.byKey[key] = job.ID
	q.counters.Submitted++
	return true
}

// Next leases the oldest eligible job, transitioning it in flight.
//
// A job is eligible when its NextRunAt has passed and it is the earliest
// active job for its subject (per-subject FIFO: a subject's later jobs
// never overtake an earlier one that is in flight or backing off).
// Returns false when nothing is ready.
func (q *Queue) Next(now time.Time) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]bool)
	for _, id := range q.order {
		job, ok := q.jobs[id]
		if !ok {
			continue
		}
		if seen[job.SubjectID] {
			continue
		}
		seen[job.SubjectID] = true

		if job.Status == StatusInFlight {
			continue
		}
		if job.NextRunAt.After(now) {
			continue
		}

		leased, err := Transition(job, Event{Type: EventStart}, now)
		if err != nil {
			continue
		}
		q.jobs[id] = leased
		return leased, true
	}
	return Job{}, false
}

// Release returns a leased job to the queue without consuming its
// attempt, deferring it until retryAt. Used when the circuit breaker
// fails the job fast before any downstream call was made, and on
// shutdown when an in-flight execution is interrupted.
func (q *Queue) Release(id string, retryAt time.Time) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok || job.Status != StatusInFlight {
		return Job{}, false
	}
	job.Status = StatusPending
	job.Attempt--
	job.NextRunAt = retryAt
	q.jobs[id] = job
	q.counters.Deferred++
	return job, true
}

// Has reports whether the queue still tracks id.
func (q *Queue) Has(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[id]
	return ok
}

// Requeue stores the retry-scheduled job back into the working set.
// The job keeps its submission-order slot, preserving subject FIFO.
func (q *Queue) Requeue(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[job.ID]; !ok {
		return false
	}
	q.jobs[job.ID] = job
	q.counters.Retried++
	return true
}

// Complete removes a successfully finished job. Returns false when the
// job is no longer tracked (canceled while in flight).
func (q *Queue) Complete(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.removeLocked(id) {
		return false
	}
	q.counters.Completed++
	return true
}

// FailPermanent removes a permanently failed job from the working set.
// The persisted record remains; the job is never re-enqueued.
func (q *Queue) FailPermanent(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.removeLocked(id) {
		return false
	}
	q.counters.PermanentFailures++
	return true
}

// Cancel removes every active job for (kind, subject) and returns the
// dropped jobs. In-flight jobs are untracked immediately; their eventual
// results find no queue entry and are discarded.
func (q *Queue) Cancel(kind Kind, subject string) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var dropped []Job
	for id, job := range q.jobs {
		if job.Kind == kind && job.SubjectID == subject {
			if q.removeLocked(id) {
				dropped = append(dropped, job)
			}
		}
	}
	q.counters.Canceled += int64(len(dropped))
	return dropped
}

// MarkDiscarded counts a late completion whose result was thrown away.
func (q *Queue) MarkDiscarded() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.counters.Discarded++
}

// Depth returns the number of active jobs.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Counters returns a snapshot of the operation counters.
func (q *Queue) Counters() Counters {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counters
}

func (q *Queue) removeLocked(id string) bool {
	job, ok := q.jobs[id]
	if !ok {
		return false
	}
	delete(q.jobs, id)
	delete(q.byKey, subjectKey{kind: job.Kind, subject: job.SubjectID})

	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}
