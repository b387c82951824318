// Package monitor assembles the operational snapshot served to
// monitoring tools and the operator CLI. The collector is strictly
// read-only: it observes the pipeline, it never drives it.
package monitor

import (
	"time"

	"github.com/verdanthealth/careloop/internal/config"
	"github.com/verdanthealth/careloop/internal/enrichment"
)

// PipelineSource is the slice of the worker pool the collector reads.
// *enrichment.Pool satisfies it.
type PipelineSource interface {
	Depth() int
	Counters() enrichment.Counters
	BreakerSnapshots() map[enrichment.Kind]enrichment.BreakerSnapshot
	RecentFailures() []enrichment.FailureRecord
}

// DependencyControls is the effective per-kind configuration.
type DependencyControls struct {
	Timeout          string `json:"timeout"`
	MaxAttempts      int    `json:"maxAttempts"`
	RetryBaseDelay   string `json:"retryBaseDelay"`
	Backoff          string `json:"backoff"`
	BreakerThreshold int    `json:"breakerThreshold"`
	BreakerCooldown  string `json:"breakerCooldown"`
}

// Controls is the effective configuration surfaced for operators.
type Controls struct {
	QueueMaxDepth int                `json:"queueMaxDepth"`
	Workers       int                `json:"workers"`
	Summarize     DependencyControls `json:"summarize"`
	Embed         DependencyControls `json:"embed"`
	SamplingRate  float64            `json:"samplingRate"`
}

// Snapshot is one read-only observation of the enrichment pipeline.
type Snapshot struct {
	Timestamp      time.Time                                        `json:"timestamp"`
	QueueDepth     int                                              `json:"queueDepth"`
	Counters       enrichment.Counters                              `json:"counters"`
	RecentFailures []enrichment.FailureRecord                       `json:"recentFailures"`
	Breakers       map[enrichment.Kind]enrichment.BreakerSnapshot   `json:"breakers"`
	Controls       Controls                                         `json:"controls"`
}

// Collector builds snapshots from the live pipeline and the loaded
// configuration.
type Collector struct {
	pipeline PipelineSource
	controls Controls
	now      func() time.Time
}

// NewCollector creates a collector. The configuration is captured once;
// it does not change at runtime.
func NewCollector(pipeline PipelineSource, cfg *config.Config) *Collector {
	return &Collector{
		pipeline: pipeline,
		controls: Controls{
			QueueMaxDepth: cfg.Queue.MaxDepth,
			Workers:       cfg.Queue.Workers,
			Summarize:     dependencyControls(cfg.Enrichment.Summarize),
			Embed:         dependencyControls(cfg.Enrichment.Embed),
			SamplingRate:  cfg.Learning.SamplingRate,
		},
		now: time.Now,
	}
}

// Collect returns the current snapshot.
func (c *Collector) Collect() Snapshot {
	return Snapshot{
		Timestamp:      c.now().UTC(),
		QueueDepth:     c.pipeline.Depth(),
		Counters:       c.pipeline.Counters(),
		RecentFailures: c.pipeline.RecentFailures(),
		Breakers:       c.pipeline.BreakerSnapshots(),
		Controls:       c.controls,
	}
}

func dependencyControls(dep config.DependencyConfig) DependencyControls {
	return DependencyControls{
		Timeout:          dep.Timeout.Duration().String(),
		MaxAttempts:      dep.MaxAttempts,
		RetryBaseDelay:   dep.RetryBaseDelay.Duration().String(),
		Backoff:          dep.Backoff,
		BreakerThreshold: dep.BreakerThreshold,
		BreakerCooldown:  dep.BreakerCooldown.Duration().String(),
	}
}
