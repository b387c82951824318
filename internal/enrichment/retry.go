package enrichment

import (
	"time"
)

// BackoffMode selects how the retry delay grows with attempt number.
type BackoffMode string

const (
	// BackoffLinear grows the delay as base × attempt.
	BackoffLinear BackoffMode = "linear"
	// BackoffExponential grows the delay as base × 2^(attempt-1).
	BackoffExponential BackoffMode = "exponential"
)

// maxBackoff caps a single retry delay so exponential growth cannot
// schedule jobs arbitrarily far in the future.
const maxBackoff = 10 * time.Minute

// RetryPolicy decides whether and when a failed job is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Mode        BackoffMode
}

// Disposition is the retry controller's verdict on a failed job.
type Disposition struct {
	// Permanent marks the job failed_permanent; no further attempts.
	Permanent bool
	// RetryAt is when the job becomes eligible again (retryable only).
	RetryAt time.Time
	// Reason explains a permanent verdict.
	Reason string
}

// Delay returns the backoff before the attempt that follows attempt
// failures. Delay is monotonically non-decreasing in attempt, so repeated
// failures spread load instead of hammering the dependency.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch p.Mode {
	case BackoffExponential:
		d = p.BaseDelay
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= maxBackoff {
				return maxBackoff
			}
		}
	default: // linear
		d = p.BaseDelay * time.Duration(attempt)
	}

	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// OnFailure classifies a failed execution.
//
// Non-retryable failures (wrapped with Permanent) skip remaining
// attempts. Otherwise the job retries after Delay(job.Attempt) until its
// attempt ceiling, at which point it is permanently failed and surfaced in
// the operational snapshot rather than silently dropped.
func (p RetryPolicy) OnFailure(job Job, err error, now time.Time) Disposition {
	if IsPermanent(err) {
		return Disposition{Permanent: true, Reason: "non-retryable failure"}
	}
	if job.Attempt >= p.MaxAttempts {
		return Disposition{Permanent: true, Reason: "attempts exhausted"}
	}
	return Disposition{RetryAt: now.Add(p.Delay(job.Attempt))}
}
