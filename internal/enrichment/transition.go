package enrichment

import (
	"fmt"
	"time"
)

// EventType names a job lifecycle event.
type EventType string

const (
	// EventStart moves a pending job in flight and consumes an attempt.
	EventStart EventType = "start"
	// EventSucceed completes an in-flight job.
	EventSucceed EventType = "succeed"
	// EventFailRetry schedules an in-flight job for another attempt.
	EventFailRetry EventType = "fail_retry"
	// EventFailPermanent terminates an in-flight job.
	EventFailPermanent EventType = "fail_permanent"
)

// Event is one input to the job state machine.
type Event struct {
	Type EventType
	// RetryAt is required for EventFailRetry.
	RetryAt time.Time
	// Err is recorded as the job's last error for failure events.
	Err error
}

// Transition applies ev to job and returns the resulting job state.
//
// Transition is pure: it never touches clocks, stores, or goroutines,
// which keeps the state machine deterministic under test. Invariants
// enforced here:
//
//   - terminal states (succeeded, failed_permanent) accept no events
//   - attempts only grow through EventStart and never exceed MaxAttempts
//   - EventStart requires pending; other events require in_flight
func Transition(job Job, ev Event, now time.Time) (Job, error) {
	if job.Status.Terminal() {
		return job, fmt.Errorf("job %s is terminal (%s), cannot apply %s", job.ID, job.Status, ev.Type)
	}

	switch ev.Type {
	case EventStart:
		if job.Status != StatusPending && job.Status != StatusFailedRetryable {
			return job, fmt.Errorf("job %s: cannot start from %s", job.ID, job.Status)
		}
		if job.Attempt >= job.MaxAttempts {
			return job, fmt.Errorf("job %s: attempts exhausted (%d/%d)", job.ID, job.Attempt, job.MaxAttempts)
		}
		job.Status = StatusInFlight
		job.Attempt++
		job.NextRunAt = time.Time{}

	case EventSucceed:
		if job.Status != StatusInFlight {
			return job, fmt.Errorf("job %s: cannot succeed from %s", job.ID, job.Status)
		}
		job.Status = StatusSucceeded
		job.LastError = ""

	case EventFailRetry:
		if job.Status != StatusInFlight {
			return job, fmt.Errorf("job %s: cannot fail from %s", job.ID, job.Status)
		}
		if job.Attempt >= job.MaxAttempts {
			return job, fmt.Errorf("job %s: no attempts remain for retry (%d/%d)", job.ID, job.Attempt, job.MaxAttempts)
		}
		if ev.RetryAt.IsZero() {
			return job, fmt.Errorf("job %s: retry event requires RetryAt", job.ID)
		}
		job.Status = StatusFailedRetryable
		job.NextRunAt = ev.RetryAt
		if ev.Err != nil {
			job.LastError = ev.Err.Error()
		}

	case EventFailPermanent:
		if job.Status != StatusInFlight {
			return job, fmt.Errorf("job %s: cannot fail from %s", job.ID, job.Status)
		}
		job.Status = StatusFailedPermanent
		if ev.Err != nil {
			job.LastError = ev.Err.Error()
		}

	default:
		return job, fmt.Errorf("job %s: unknown event %q", job.ID, ev.Type)
	}

	job.UpdatedAt = now
	return job, nil
}
