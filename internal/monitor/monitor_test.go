package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdanthealth/careloop/internal/config"
	"github.com/verdanthealth/careloop/internal/enrichment"
)

type fakePipeline struct {
	depth     int
	counters  enrichment.Counters
	breakers  map[enrichment.Kind]enrichment.BreakerSnapshot
	failures  []enrichment.FailureRecord
	readCalls int
}

func (f *fakePipeline) Depth() int {
	f.readCalls++
	return f.depth
}

func (f *fakePipeline) Counters() enrichment.Counters {
	f.readCalls++
	return f.counters
}

func (f *fakePipeline) BreakerSnapshots() map[enrichment.Kind]enrichment.BreakerSnapshot {
	f.readCalls++
	return f.breakers
}

func (f *fakePipeline) RecentFailures() []enrichment.FailureRecord {
	f.readCalls++
	return f.failures
}

func TestCollect(t *testing.T) {
	pipeline := &fakePipeline{
		depth: 3,
		counters: enrichment.Counters{
			Submitted: 10,
			Completed: 6,
			Retried:   2,
			Rejected:  1,
		},
		breakers: map[enrichment.Kind]enrichment.BreakerSnapshot{
			enrichment.KindSummarize: {State: enrichment.BreakerOpen, ConsecutiveFailures: 5},
		},
		failures: []enrichment.FailureRecord{
			{JobID: "j1", Kind: enrichment.KindSummarize, Error: "timeout"},
		},
	}

	cfg := config.NewDefaultConfig()
	collector := NewCollector(pipeline, cfg)
	collector.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	snap := collector.Collect()

	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), snap.Timestamp)
	assert.Equal(t, 3, snap.QueueDepth)
	assert.Equal(t, int64(10), snap.Counters.Submitted)
	require.Contains(t, snap.Breakers, enrichment.KindSummarize)
	assert.Equal(t, enrichment.BreakerOpen, snap.Breakers[enrichment.KindSummarize].State)
	require.Len(t, snap.RecentFailures, 1)
	assert.Equal(t, "j1", snap.RecentFailures[0].JobID)
}

func TestControlsReflectConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Queue.MaxDepth = 42
	cfg.Queue.Workers = 7
	cfg.Learning.SamplingRate = 0.25
	cfg.Enrichment.Summarize.MaxAttempts = 9
	cfg.Enrichment.Summarize.Backoff = "linear"
	cfg.Enrichment.Embed.BreakerThreshold = 11

	snap := NewCollector(&fakePipeline{}, cfg).Collect()

	assert.Equal(t, 42, snap.Controls.QueueMaxDepth)
	assert.Equal(t, 7, snap.Controls.Workers)
	assert.Equal(t, 0.25, snap.Controls.SamplingRate)
	assert.Equal(t, 9, snap.Controls.Summarize.MaxAttempts)
	assert.Equal(t, "linear", snap.Controls.Summarize.Backoff)
	assert.Equal(t, 11, snap.Controls.Embed.BreakerThreshold)
}

func TestCollectIsReadOnly(t *testing.T) {
	pipeline := &fakePipeline{depth: 1}
	collector := NewCollector(pipeline, config.NewDefaultConfig())

	before := *pipeline
	_ = collector.Collect()

	// Only the read counter moved; the collector wrote nothing.
	after := *pipeline
	after.readCalls = before.readCalls
	assert.Equal(t, before, after)
}
