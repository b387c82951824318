package enrichment

import (
	"context"
	"errors"
	"fmt"
)

// Queue and pipeline errors.
var (
	// ErrQueueFull signals backpressure: the caller should retry later
	// or drop the enrichment request. It is never fatal to the caller.
	ErrQueueFull = errors.New("enrichment queue full")

	// ErrCircuitOpen is the fast, cheap failure returned instead of
	// waiting on a timeout while a dependency's breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrJobTimeout marks a job execution that exceeded its per-kind
	// timeout. Timeouts are transient and trigger the retry policy.
	ErrJobTimeout = errors.New("job execution timed out")

	// ErrPermanent marks failures that must not be retried: the payload
	// was rejected or the subject is invalid. Downstream clients wrap
	// non-retryable failures with Permanent().
	ErrPermanent = errors.New("permanent failure")

	// ErrUnknownKind is returned when no executor is registered for a
	// job's kind.
	ErrUnknownKind = errors.New("unknown job kind")
)

// Permanent wraps err so that the retry policy skips remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err was marked non-retryable.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// classifyExecError normalizes an execution error: context deadlines
// become ErrJobTimeout so the retry policy sees a transient failure.
func classifyExecError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrJobTimeout, err)
	}
	return err
}
