// Package enrichment implements the background enrichment pipeline.
//
// # Overview
//
// Enrichment jobs (summarize a conversation, embed profile text) run off
// the request path. The pipeline is built from four pieces:
//
//   - Queue: bounded, deduplicating job queue with per-subject FIFO ordering
//   - RetryPolicy: linear or exponential backoff with an attempt ceiling
//   - Breaker: per-dependency-kind circuit breaker (closed/open/half-open)
//   - Pool: worker pool that executes jobs with per-kind timeouts
//
// Job status changes flow through the pure Transition function, so the
// state machine is testable without timers or goroutines. Job records are
// persisted through the store on every transition; the in-memory queue is
// the working set, not the source of truth.
//
// # Failure Handling
//
// A worker consults the kind's circuit breaker before calling downstream.
// While the breaker is open, jobs are deferred without consuming an
// attempt. Execution failures are classified: timeouts and 5xx-equivalent
// errors are retryable; payload rejections are permanent immediately.
// A job whose attempts are exhausted becomes failed_permanent, surfaced
// via the operational snapshot and never re-enqueued.
package enrichment
