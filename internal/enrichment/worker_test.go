package enrichment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/verdanthealth/careloop/internal/store"
)

func newTestPool(t *testing.T, st JobStore, opts ...PoolOption) (*Pool, *Queue) {
	t.Helper()
	q := NewQueue(10)
	opts = append([]PoolOption{WithWorkers(1), WithPollInterval(5 * time.Millisecond)}, opts...)
	p, err := NewPool(q, st, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return p, q
}

func startPool(t *testing.T, p *Pool) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func summarizeDep(exec Executor, policy RetryPolicy) Dependency {
	return Dependency{
		Executor: exec,
		Timeout:  time.Second,
		Policy:   policy,
		Breaker:  NewBreaker(100, time.Minute),
	}
}

func TestPoolProcessesJobSuccessfully(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p, _ := newTestPool(t, st)

	var executed atomic.Int32
	require.NoError(t, p.RegisterDependency(KindSummarize, summarizeDep(
		ExecutorFunc(func(ctx context.Context, job Job) error {
			executed.Add(1)
			return nil
		}),
		RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Mode: BackoffLinear},
	)))

	id, err := p.Submit(context.Background(), KindSummarize, "conv-1", 0)
	require.NoError(t, err)

	startPool(t, p)

	require.Eventually(t, func() bool {
		return p.Counters().Completed == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), executed.Load())
	assert.Equal(t, 0, p.Depth())

	// The persisted record reflects the terminal state.
	rec, err := st.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, string(StatusSucceeded), rec.Status)
	assert.Equal(t, 1, rec.Attempt)
}

func TestPoolRetriesUntilPermanent(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p, _ := newTestPool(t, st)

	var attempts atomic.Int32
	require.NoError(t, p.RegisterDependency(KindSummarize, summarizeDep(
		ExecutorFunc(func(ctx context.Context, job Job) error {
			attempts.Add(1)
			return errors.New("downstream 503")
		}),
		RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Mode: BackoffLinear},
	)))

	id, err := p.Submit(context.Background(), KindSummarize, "conv-1", 0)
	require.NoError(t, err)

	startPool(t, p)

	require.Eventually(t, func() bool {
		return p.Counters().PermanentFailures == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Attempt count never exceeds the configured maximum.
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, int64(2), p.Counters().Retried)
	assert.Equal(t, 0, p.Depth())

	rec, err := st.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, string(StatusFailedPermanent), rec.Status)
	assert.Equal(t, 3, rec.Attempt)

	// Permanent failures surface in recent failures, newest first.
	failures := p.RecentFailures()
	require.NotEmpty(t, failures)
	assert.True(t, failures[0].Permanent)
	assert.Equal(t, id, failures[0].JobID)
}

func TestPoolPermanentErrorSkipsRemainingRetries(t *testing.T) {
	p, _ := newTestPool(t, nil)

	var attempts atomic.Int32
	require.NoError(t, p.RegisterDependency(KindSummarize, summarizeDep(
		ExecutorFunc(func(ctx context.Context, job Job) error {
			attempts.Add(1)
			return Permanent(errors.New("payload rejected"))
		}),
		RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, Mode: BackoffLinear},
	)))

	_, err := p.Submit(context.Background(), KindSummarize, "conv-1", 0)
	require.NoError(t, err)

	startPool(t, p)

	require.Eventually(t, func() bool {
		return p.Counters().PermanentFailures == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, int64(0), p.Counters().Retried)
}

func TestPoolTimeoutIsRetryableFailure(t *testing.T) {
	p, _ := newTestPool(t, nil)

	var attempts atomic.Int32
	require.NoError(t, p.RegisterDependency(KindSummarize, Dependency{
		Executor: ExecutorFunc(func(ctx context.Context, job Job) error {
			attempts.Add(1)
			<-ctx.Done()
			return ctx.Err()
		}),
		Timeout: 10 * time.Millisecond,
		Policy:  RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, Mode: BackoffLinear},
		Breaker: NewBreaker(100, time.Minute),
	}))

	_, err := p.Submit(context.Background(), KindSummarize, "conv-1", 0)
	require.NoError(t, err)

	startPool(t, p)

	require.Eventually(t, func() bool {
		return p.Counters().PermanentFailures == 1
	}, 5*time.Second, 5*time.Millisecond)

	// The hung executor was failed by timeout, retried, then exhausted.
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, int64(1), p.Counters().Retried)
}

func TestPoolBreakerFastFailsWithoutDownstreamCall(t *testing.T) {
	p, _ := newTestPool(t, nil)

	var calls atomic.Int32
	breaker := NewBreaker(1, time.Hour)
	require.NoError(t, p.RegisterDependency(KindSummarize, Dependency{
		Executor: ExecutorFunc(func(ctx context.Context, job Job) error {
			calls.Add(1)
			return errors.New("downstream down")
		}),
		Timeout: time.Second,
		Policy:  RetryPolicy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, Mode: BackoffLinear},
		Breaker: breaker,
	}))

	_, err := p.Submit(context.Background(), KindSummarize, "conv-1", 0)
	require.NoError(t, err)
	_, err = p.Submit(context.Background(), KindSummarize, "conv-2", 0)
	require.NoError(t, err)

	startPool(t, p)

	// The first execution fails and opens the breaker (threshold 1); the
	// second job is deferred without reaching the executor.
	require.Eventually(t, func() bool {
		return p.Counters().Deferred >= 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, BreakerOpen, breaker.Snapshot().State)
	// Both jobs remain active: one backing off, one deferred.
	assert.Equal(t, 2, p.Depth())
}

func TestPoolCanceledProbeFreesBreakerSlot(t *testing.T) {
	p, _ := newTestPool(t, nil)

	breaker := NewBreaker(1, 20*time.Millisecond)
	var calls atomic.Int32
	probeStarted := make(chan struct{})
	require.NoError(t, p.RegisterDependency(KindEmbed, Dependency{
		Executor: ExecutorFunc(func(ctx context.Context, job Job) error {
			switch calls.Add(1) {
			case 1:
				return errors.New("downstream down")
			case 2:
				close(probeStarted)
				<-ctx.Done()
				return ctx.Err()
			default:
				return nil
			}
		}),
		Timeout: 10 * time.Second,
		Policy:  RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, Mode: BackoffLinear},
		Breaker: breaker,
	}))

	_, err := p.Submit(context.Background(), KindEmbed, "profile-1", 1)
	require.NoError(t, err)

	startPool(t, p)

	// The first attempt fails and opens the breaker (threshold 1); after
	// the cooldown the retry is admitted as the half-open probe, which we
	// cancel mid-flight.
	<-probeStarted
	p.CancelSubject(KindEmbed, "profile-1")

	require.Eventually(t, func() bool {
		return p.Counters().Discarded == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The canceled probe freed its slot: new work still reaches the
	// executor instead of being deferred forever.
	_, err = p.Submit(context.Background(), KindEmbed, "profile-2", 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return p.Counters().Completed == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, BreakerClosed, breaker.Snapshot().State)
}

func TestPoolPermanentFailureNotifiesHook(t *testing.T) {
	p, _ := newTestPool(t, nil)

	var notified atomic.Int32
	var gotGen atomic.Int64
	dep := summarizeDep(ExecutorFunc(func(ctx context.Context, job Job) error {
		return Permanent(errors.New("payload rejected"))
	}), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Mode: BackoffLinear})
	dep.OnPermanent = func(job Job, cause error) {
		notified.Add(1)
		gotGen.Store(job.Generation)
	}
	require.NoError(t, p.RegisterDependency(KindSummarize, dep))

	_, err := p.Submit(context.Background(), KindSummarize, "conv-1", 7)
	require.NoError(t, err)

	startPool(t, p)

	require.Eventually(t, func() bool {
		return notified.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(7), gotGen.Load())
}

func TestPoolRecoverResumesPersistedJobs(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	now := time.Now().UTC().Truncate(time.Second)
	insert := func(id, kind, subject, status string, attempt int, generation int64) {
		t.Helper()
		require.NoError(t, st.InsertJob(store.Job{
			ID: id, Kind: kind, SubjectID: subject, Status: status,
			Attempt: attempt, MaxAttempts: 3, Generation: generation,
			CreatedAt: now, UpdatedAt: now,
		}))
	}
	insert("job-1", "summarize", "conv-1", "pending", 0, 0)
	insert("job-2", "embed", "profile-1", "in_flight", 1, 5)
	insert("job-3", "summarize", "conv-2", "succeeded", 1, 0)

	p, _ := newTestPool(t, st)

	var embedGen atomic.Int64
	require.NoError(t, p.RegisterDependency(KindSummarize, summarizeDep(
		ExecutorFunc(func(ctx context.Context, job Job) error { return nil }),
		RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Mode: BackoffLinear},
	)))
	require.NoError(t, p.RegisterDependency(KindEmbed, summarizeDep(
		ExecutorFunc(func(ctx context.Context, job Job) error {
			embedGen.Store(job.Generation)
			return nil
		}),
		RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Mode: BackoffLinear},
	)))

	restored, err := p.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, restored)
	assert.Equal(t, 2, p.Depth())

	// The crashed in-flight row went back to pending with its attempt
	// returned, matching what a graceful shutdown would have persisted.
	rec, err := st.GetJob("job-2")
	require.NoError(t, err)
	assert.Equal(t, string(StatusPending), rec.Status)
	assert.Equal(t, 0, rec.Attempt)

	startPool(t, p)

	require.Eventually(t, func() bool {
		return p.Counters().Completed == 2
	}, 2*time.Second, 5*time.Millisecond)

	// The restored embed job carried its generation across the restart.
	assert.Equal(t, int64(5), embedGen.Load())

	rec, err = st.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, string(StatusSucceeded), rec.Status)
}

func TestPoolCancelSubjectDiscardsInFlightResult(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p, _ := newTestPool(t, st)

	started := make(chan struct{})
	require.NoError(t, p.RegisterDependency(KindEmbed, Dependency{
		Executor: ExecutorFunc(func(ctx context.Context, job Job) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}),
		Timeout: 10 * time.Second,
		Policy:  RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Mode: BackoffLinear},
		Breaker: NewBreaker(100, time.Minute),
	}))

	id, err := p.Submit(context.Background(), KindEmbed, "profile-1", 1)
	require.NoError(t, err)

	startPool(t, p)

	<-started
	removed := p.CancelSubject(KindEmbed, "profile-1")
	assert.Equal(t, 1, removed)

	require.Eventually(t, func() bool {
		c := p.Counters()
		return c.Canceled == 1 && c.Discarded == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, p.Depth())

	rec, err := st.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, string(StatusFailedPermanent), rec.Status)
	assert.Contains(t, rec.LastError, "consent revoked")
}

func TestPoolSubmitUnknownKind(t *testing.T) {
	p, _ := newTestPool(t, nil)
	_, err := p.Submit(context.Background(), Kind("transcode"), "x", 0)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestPoolSubmitCoalesces(t *testing.T) {
	p, _ := newTestPool(t, nil)
	require.NoError(t, p.RegisterDependency(KindSummarize, summarizeDep(
		ExecutorFunc(func(ctx context.Context, job Job) error { return nil }),
		RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Mode: BackoffLinear},
	)))

	id1, err := p.Submit(context.Background(), KindSummarize, "conv-1", 0)
	require.NoError(t, err)
	id2, err := p.Submit(context.Background(), KindSummarize, "conv-1", 0)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, p.Depth())
}

func TestRegisterDependencyValidation(t *testing.T) {
	p, _ := newTestPool(t, nil)
	exec := ExecutorFunc(func(ctx context.Context, job Job) error { return nil })

	assert.Error(t, p.RegisterDependency(Kind("bogus"), summarizeDep(exec, RetryPolicy{})))
	assert.Error(t, p.RegisterDependency(KindSummarize, Dependency{Timeout: time.Second, Breaker: NewBreaker(1, time.Second)}))
	assert.Error(t, p.RegisterDependency(KindSummarize, Dependency{Executor: exec, Timeout: time.Second}))
	assert.Error(t, p.RegisterDependency(KindSummarize, Dependency{Executor: exec, Breaker: NewBreaker(1, time.Second)}))
}

func TestFailureRingNewestFirst(t *testing.T) {
	r := newFailureRing(3)
	for i := 0; i < 5; i++ {
		r.add(FailureRecord{JobID: string(rune('a' + i))})
	}

	got := r.list()
	require.Len(t, got, 3)
	assert.Equal(t, "e", got[0].JobID)
	assert.Equal(t, "d", got[1].JobID)
	assert.Equal(t, "c", got[2].JobID)
}
