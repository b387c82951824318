package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verdanthealth/careloop/internal/store"
)

// Executor performs one enrichment job's downstream work. Implementations
// must respect ctx: the pipeline enforces the per-kind timeout and consent
// cancellation through it.
type Executor interface {
	Execute(ctx context.Context, job Job) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job Job) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// JobStore is the slice of persistence the pool needs. *store.Store
// satisfies it; a nil JobStore disables persistence (unit tests).
type JobStore interface {
	InsertJob(store.Job) error
	UpdateJob(store.Job) error
	ListJobsByStatus(status string) ([]store.Job, error)
	PruneTerminalJobs(cutoff time.Time) (int64, error)
}

// Dependency bundles everything the pool needs to run jobs of one kind.
// Summarization and embedding are configured independently since they
// have different latency and reliability characteristics.
type Dependency struct {
	Executor Executor
	Timeout  time.Duration
	Policy   RetryPolicy
	Breaker  *Breaker

	// OnPermanent, when set, observes jobs that will never run again
	// (attempts exhausted or a non-retryable failure). It runs on the
	// worker goroutine and must not block.
	OnPermanent func(job Job, cause error)
}

// Pool drives enrichment jobs from the queue through their executors.
//
// A small set of workers shares the queue; job execution is I/O-bound and
// blocks only on downstream calls, each bounded by the kind's timeout, so
// no worker can stall another indefinitely.
type Pool struct {
	queue   *Queue
	jobs    JobStore
	deps    map[Kind]Dependency
	logger  *zap.Logger
	metrics *Metrics

	workers         int
	pollInterval    time.Duration
	retentionMaxAge time.Duration

	failures *failureRing

	mu      sync.Mutex
	cancels map[string]cancelEntry

	// now is swappable for deterministic tests.
	now func() time.Time
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers sets the worker pool size. Defaults to 4.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithPollInterval sets how long an idle worker waits before checking the
// queue again. Defaults to 250ms.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithRetention sets how long terminal job records are kept before the
// janitor prunes them. Defaults to 7 days.
func WithRetention(maxAge time.Duration) PoolOption {
	return func(p *Pool) {
		if maxAge > 0 {
			p.retentionMaxAge = maxAge
		}
	}
}

// WithClock overrides the pool's clock (tests).
func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPool creates a worker pool over queue. jobs may be nil to disable
// persistence.
func NewPool(queue *Queue, jobs JobStore, logger *zap.Logger, opts ...PoolOption) (*Pool, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	p := &Pool{
		queue:           queue,
		jobs:            jobs,
		deps:            make(map[Kind]Dependency),
		logger:          logger,
		metrics:         NewMetrics(logger),
		workers:         4,
		pollInterval:    250 * time.Millisecond,
		retentionMaxAge: 7 * 24 * time.Hour,
		failures:        newFailureRing(20),
		cancels:         make(map[string]cancelEntry),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// RegisterDependency wires the executor, timeout, retry policy, and
// circuit breaker for one job kind. Must be called before Run.
func (p *Pool) RegisterDependency(kind Kind, dep Dependency) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if dep.Executor == nil {
		return fmt.Errorf("dependency %s: executor cannot be nil", kind)
	}
	if dep.Breaker == nil {
		return fmt.Errorf("dependency %s: breaker cannot be nil", kind)
	}
	if dep.Timeout <= 0 {
		return fmt.Errorf("dependency %s: timeout must be positive", kind)
	}
	p.deps[kind] = dep
	return nil
}

// Submit enqueues a new enrichment job.
//
// Re-submitting while a job of the same kind and subject is active
// coalesces to the existing job id. At queue capacity, Submit returns
// ErrQueueFull; the caller decides whether to retry later or drop the
// request. generation is the profile embedding generation for embed
// jobs; pass 0 for summarize.
func (p *Pool) Submit(ctx context.Context, kind Kind, subjectID string, generation int64) (string, error) {
	dep, ok := p.deps[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	now := p.now()
	job := NewJob(kind, subjectID, dep.Policy.MaxAttempts, now)
	job.Generation = generation

	id, err := p.queue.Submit(job)
	if err != nil {
		return "", err
	}
	if id != job.ID {
		// Coalesced onto an already-active job.
		p.logger.Debug("enrichment job coalesced",
			zap.String("kind", string(kind)),
			zap.String("subject_id", subjectID),
			zap.String("job_id", id),
		)
		return id, nil
	}

	p.persistInsert(job)
	p.metrics.QueueDelta(ctx, 1)
	p.logger.Info("enrichment job submitted",
		zap.String("job_id", job.ID),
		zap.String("kind", string(kind)),
		zap.String("subject_id", subjectID),
	)
	return id, nil
}

// CancelSubject drops every active job for (kind, subject) and cancels
// any in-flight execution. Results of canceled executions are discarded,
// never applied.
func (p *Pool) CancelSubject(kind Kind, subjectID string) int {
	dropped := p.queue.Cancel(kind, subjectID)

	p.mu.Lock()
	for _, entry := range p.cancels {
		if entry.kind == kind && entry.subject == subjectID {
			entry.cancel()
		}
	}
	p.mu.Unlock()

	now := p.now()
	for _, job := range dropped {
		job.Status = StatusFailedPermanent
		job.LastError = "canceled: consent revoked"
		job.UpdatedAt = now
		p.persistUpdate(job)
	}

	if len(dropped) > 0 {
		p.metrics.QueueDelta(context.Background(), -int64(len(dropped)))
		p.logger.Info("enrichment jobs canceled",
			zap.String("kind", string(kind)),
			zap.String("subject_id", subjectID),
			zap.Int("count", len(dropped)),
		)
	}
	return len(dropped)
}

// Recover reloads persisted jobs that were still active when the process
// last stopped and returns how many were requeued. In-flight rows belong
// to a process that died mid-execution; they go back to pending with
// their attempt returned, the same treatment a graceful shutdown gives
// them. Call once before Run.
func (p *Pool) Recover(ctx context.Context) (int, error) {
	if p.jobs == nil {
		return 0, nil
	}

	restored := 0
	for _, status := range []Status{StatusPending, StatusFailedRetryable, StatusInFlight} {
		recs, err := p.jobs.ListJobsByStatus(string(status))
		if err != nil {
			return restored, fmt.Errorf("listing %s jobs: %w", status, err)
		}
		for _, rec := range recs {
			job := fromRecord(rec)
			if job.Status == StatusInFlight {
				job.Status = StatusPending
				if job.Attempt > 0 {
					job.Attempt--
				}
				job.NextRunAt = time.Time{}
				job.UpdatedAt = p.now()
			}
			if !p.queue.Restore(job) {
				p.logger.Warn("persisted job not restored",
					zap.String("job_id", job.ID),
					zap.String("kind", string(job.Kind)),
					zap.String("subject_id", job.SubjectID),
				)
				continue
			}
			if job.Status != Status(rec.Status) {
				p.persistUpdate(job)
			}
			restored++
		}
	}

	if restored > 0 {
		p.metrics.QueueDelta(ctx, int64(restored))
		p.logger.Info("restored persisted enrichment jobs", zap.Int("count", restored))
	}
	return restored, nil
}

// Run starts the workers and the retention janitor, blocking until ctx is
// canceled. Job failures never propagate out of Run; they surface through
// the operational snapshot and logs only.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.workerLoop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		p.janitorLoop(ctx)
		return nil
	})

	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, ok := p.queue.Next(p.now())
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}

		p.process(ctx, job)
	}
}

// process runs one leased job through breaker, executor, and retry policy.
func (p *Pool) process(ctx context.Context, job Job) {
	dep, ok := p.deps[job.Kind]
	if !ok {
		p.failPermanent(ctx, job, fmt.Errorf("%w: %s", ErrUnknownKind, job.Kind))
		return
	}

	p.persistUpdate(job)

	if err := dep.Breaker.Allow(); err != nil {
		// Fast fail: no downstream contact, no attempt consumed.
		retryAt := p.now().Add(p.deferDelay(dep))
		if released, ok := p.queue.Release(job.ID, retryAt); ok {
			p.persistUpdate(released)
		}
		p.metrics.RecordBreakerOpen(ctx, job.Kind)
		p.logger.Warn("enrichment call rejected by circuit breaker",
			zap.String("job_id", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.Time("retry_at", retryAt),
		)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, dep.Timeout)
	p.registerCancel(job, cancel)
	start := p.now()
	err := dep.Executor.Execute(execCtx, job)
	duration := p.now().Sub(start)
	p.unregisterCancel(job.ID)
	cancel()

	if err == nil {
		dep.Breaker.RecordSuccess()
		p.succeed(ctx, job, duration)
		return
	}

	err = classifyExecError(err)
	if errors.Is(err, context.Canceled) {
		// The execution produced no outcome; if it held the breaker's
		// half-open probe slot, free it for the next caller.
		dep.Breaker.ReleaseProbe()
		if p.queue.Has(job.ID) {
			// Shutdown interrupted the execution; give the attempt back.
			if released, ok := p.queue.Release(job.ID, p.now()); ok {
				p.persistUpdate(released)
			}
			return
		}
		// Consent revoked mid-flight: the job was already untracked and
		// its result must not be applied.
		p.queue.MarkDiscarded()
		p.metrics.RecordJob(ctx, job.Kind, "discarded", duration)
		p.logger.Info("enrichment job canceled mid-flight, result discarded",
			zap.String("job_id", job.ID),
			zap.String("kind", string(job.Kind)),
		)
		return
	}

	dep.Breaker.RecordFailure()
	p.fail(ctx, job, dep, err, duration)
}

func (p *Pool) succeed(ctx context.Context, job Job, duration time.Duration) {
	if !p.queue.Complete(job.ID) {
		// Canceled while executing; the executor's generation check
		// already kept the write from landing.
		p.queue.MarkDiscarded()
		p.metrics.RecordJob(ctx, job.Kind, "discarded", duration)
		return
	}

	done, err := Transition(job, Event{Type: EventSucceed}, p.now())
	if err != nil {
		p.logger.Error("invalid success transition", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	p.persistUpdate(done)
	p.metrics.RecordJob(ctx, job.Kind, "succeeded", duration)
	p.metrics.QueueDelta(ctx, -1)
	p.logger.Info("enrichment job succeeded",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("subject_id", job.SubjectID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("duration", duration),
	)
}

func (p *Pool) fail(ctx context.Context, job Job, dep Dependency, execErr error, duration time.Duration) {
	disposition := dep.Policy.OnFailure(job, execErr, p.now())

	if disposition.Permanent {
		p.metrics.RecordJob(ctx, job.Kind, "permanent", duration)
		p.failPermanent(ctx, job, fmt.Errorf("%s: %w", disposition.Reason, execErr))
		return
	}

	retried, err := Transition(job, Event{Type: EventFailRetry, RetryAt: disposition.RetryAt, Err: execErr}, p.now())
	if err != nil {
		p.logger.Error("invalid retry transition", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if !p.queue.Requeue(retried) {
		p.queue.MarkDiscarded()
		return
	}
	p.persistUpdate(retried)
	p.failures.add(FailureRecord{
		JobID:     job.ID,
		Kind:      job.Kind,
		SubjectID: job.SubjectID,
		Attempt:   job.Attempt,
		Error:     execErr.Error(),
		At:        p.now(),
	})
	p.metrics.RecordJob(ctx, job.Kind, "retried", duration)
	p.logger.Warn("enrichment job failed, retry scheduled",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.Int("attempt", job.Attempt),
		zap.Int("max_attempts", job.MaxAttempts),
		zap.Time("retry_at", disposition.RetryAt),
		zap.Error(execErr),
	)
}

func (p *Pool) failPermanent(ctx context.Context, job Job, cause error) {
	dead, err := Transition(job, Event{Type: EventFailPermanent, Err: cause}, p.now())
	if err != nil {
		p.logger.Error("invalid permanent-failure transition", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if !p.queue.FailPermanent(job.ID) {
		p.queue.MarkDiscarded()
		return
	}
	p.persistUpdate(dead)
	p.failures.add(FailureRecord{
		JobID:     job.ID,
		Kind:      job.Kind,
		SubjectID: job.SubjectID,
		Attempt:   job.Attempt,
		Permanent: true,
		Error:     cause.Error(),
		At:        p.now(),
	})
	p.metrics.QueueDelta(ctx, -1)
	p.logger.Error("enrichment job permanently failed",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("subject_id", job.SubjectID),
		zap.Int("attempt", job.Attempt),
		zap.Error(cause),
	)

	if dep, ok := p.deps[job.Kind]; ok && dep.OnPermanent != nil {
		dep.OnPermanent(dead, cause)
	}
}

// deferDelay picks how long to hold a job while the breaker is open.
func (p *Pool) deferDelay(dep Dependency) time.Duration {
	if remaining := dep.Breaker.RetryAfter(); remaining > dep.Policy.BaseDelay {
		return remaining
	}
	return dep.Policy.BaseDelay
}

func (p *Pool) janitorLoop(ctx context.Context) {
	if p.jobs == nil {
		return
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := p.now().Add(-p.retentionMaxAge)
			n, err := p.jobs.PruneTerminalJobs(cutoff)
			if err != nil {
				p.logger.Warn("job retention prune failed", zap.Error(err))
				continue
			}
			if n > 0 {
				p.logger.Info("pruned terminal job records", zap.Int64("count", n))
			}
		}
	}
}

type cancelEntry struct {
	kind    Kind
	subject string
	cancel  context.CancelFunc
}

func (p *Pool) registerCancel(job Job, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels[job.ID] = cancelEntry{kind: job.Kind, subject: job.SubjectID, cancel: cancel}
}

func (p *Pool) unregisterCancel(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancels, id)
}

func (p *Pool) persistInsert(job Job) {
	if p.jobs == nil {
		return
	}
	if err := p.jobs.InsertJob(job.toRecord()); err != nil {
		p.logger.Warn("failed to persist job insert", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (p *Pool) persistUpdate(job Job) {
	if p.jobs == nil {
		return
	}
	if err := p.jobs.UpdateJob(job.toRecord()); err != nil {
		p.logger.Warn("failed to persist job update", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Depth returns the number of active jobs.
func (p *Pool) Depth() int {
	return p.queue.Depth()
}

// Counters returns the pipeline's operation counters.
func (p *Pool) Counters() Counters {
	return p.queue.Counters()
}

// BreakerSnapshots returns the current breaker state per kind.
func (p *Pool) BreakerSnapshots() map[Kind]BreakerSnapshot {
	out := make(map[Kind]BreakerSnapshot, len(p.deps))
	for kind, dep := range p.deps {
		out[kind] = dep.Breaker.Snapshot()
	}
	return out
}

// RecentFailures returns recent job failures, newest first.
func (p *Pool) RecentFailures() []FailureRecord {
	return p.failures.list()
}
