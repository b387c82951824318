package enrichment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelayLinear(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, Mode: BackoffLinear}

	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 6*time.Second, p.Delay(3))
}

func TestRetryPolicyDelayExponential(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, Mode: BackoffExponential}

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
}

func TestRetryPolicyDelayMonotonic(t *testing.T) {
	for _, mode := range []BackoffMode{BackoffLinear, BackoffExponential} {
		p := RetryPolicy{MaxAttempts: 30, BaseDelay: 500 * time.Millisecond, Mode: mode}
		prev := time.Duration(0)
		for attempt := 1; attempt <= 30; attempt++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, prev, "mode %s attempt %d", mode, attempt)
			prev = d
		}
	}
}

func TestRetryPolicyDelayCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 64, BaseDelay: time.Second, Mode: BackoffExponential}
	assert.Equal(t, maxBackoff, p.Delay(60))

	linear := RetryPolicy{MaxAttempts: 10000, BaseDelay: time.Minute, Mode: BackoffLinear}
	assert.Equal(t, maxBackoff, linear.Delay(5000))
}

func TestRetryPolicyOnFailureRetries(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Mode: BackoffLinear}
	now := time.Unix(5000, 0)

	job := pendingJob(1, 3)
	d := p.OnFailure(job, ErrJobTimeout, now)
	assert.False(t, d.Permanent)
	assert.Equal(t, now.Add(time.Second), d.RetryAt)

	job.Attempt = 2
	d = p.OnFailure(job, ErrJobTimeout, now)
	assert.False(t, d.Permanent)
	assert.Equal(t, now.Add(2*time.Second), d.RetryAt)
}

func TestRetryPolicyOnFailureExhaustsAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Mode: BackoffLinear}

	job := pendingJob(3, 3)
	d := p.OnFailure(job, ErrJobTimeout, time.Now())
	require.True(t, d.Permanent)
	assert.Equal(t, "attempts exhausted", d.Reason)
}

func TestRetryPolicyOnFailurePermanentSkipsRetries(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, Mode: BackoffLinear}

	// A permanent error on the first attempt skips all remaining retries.
	job := pendingJob(1, 5)
	d := p.OnFailure(job, Permanent(errors.New("payload rejected")), time.Now())
	require.True(t, d.Permanent)
	assert.Equal(t, "non-retryable failure", d.Reason)
}

func TestPermanentWrapping(t *testing.T) {
	base := errors.New("invalid subject")
	wrapped := Permanent(base)

	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}
