package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdanthealth/careloop/internal/store"
)

func TestPatternRecognizerAggregates(t *testing.T) {
	p := NewPatternRecognizer()

	p.Record("sleep", FeedbackPositive, 0.95, i64(1000), i64(100))
	p.Record("sleep", FeedbackNegative, 0.3, i64(3000), nil)
	p.Record("billing", FeedbackNeutral, 0.7, nil, nil)

	views := p.Analytics()
	require.Len(t, views, 2)

	sleep := views["sleep"]
	assert.Equal(t, 2, sleep.SampleCount)
	assert.InDelta(t, 0.625, sleep.MeanQuality, 1e-9)
	assert.InDelta(t, 2000, sleep.MeanResponseTimeMs, 1e-9)
	assert.InDelta(t, 100, sleep.MeanTokens, 1e-9)
	assert.Equal(t, map[string]int{FeedbackPositive: 1, FeedbackNegative: 1}, sleep.Feedback)

	billing := views["billing"]
	assert.Equal(t, 1, billing.SampleCount)
	assert.Zero(t, billing.MeanResponseTimeMs)
}

func TestParameterTunerBucketsNearbySettings(t *testing.T) {
	tn := NewParameterTuner()

	// 0.68 and 0.71 both round to the 0.7 temperature bucket; 900 and
	// 1000 both land in the 1024 max-tokens tier.
	tn.Record(0.68, 900, b(true), FeedbackPositive, 0.95, nil, nil)
	tn.Record(0.71, 1000, b(true), FeedbackNegative, 0.3, nil, nil)
	tn.Record(0.2, 4000, nil, FeedbackNeutral, 0.7, nil, nil)

	views := tn.Analytics()
	require.Len(t, views, 2)

	combined := views["temp=0.7|max_tokens=1024|tools=on"]
	assert.Equal(t, 2, combined.SampleCount)
	assert.InDelta(t, 0.625, combined.MeanQuality, 1e-9)

	assert.Contains(t, views, "temp=0.2|max_tokens=4096|tools=unset")
}

func TestQualityPredictorNoData(t *testing.T) {
	q := NewQualityPredictor()

	_, err := q.Predict(QualityFeatures{Theme: "sleep"})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestQualityPredictorSegmentAndFallback(t *testing.T) {
	q := NewQualityPredictor()

	q.Record(QualityFeatures{Theme: "sleep", Complexity: "low", Model: "m1"}, FeedbackPositive, 0.95)
	q.Record(QualityFeatures{Theme: "sleep", Complexity: "low", Model: "m1"}, FeedbackNegative, 0.3)
	q.Record(QualityFeatures{Theme: "billing", Complexity: "high", Model: "m1"}, FeedbackNeutral, 0.7)

	// Matching segment: mean of its own samples.
	got, err := q.Predict(QualityFeatures{Theme: "sleep", Complexity: "low", Model: "m1"})
	require.NoError(t, err)
	assert.InDelta(t, 0.625, got, 1e-9)

	// Unseen segment: global mean.
	got, err = q.Predict(QualityFeatures{Theme: "diet", Complexity: "low", Model: "m2"})
	require.NoError(t, err)
	assert.InDelta(t, (0.95+0.3+0.7)/3, got, 1e-9)
}

func TestComplexityBand(t *testing.T) {
	assert.Equal(t, "low", ComplexityBand("Simple"))
	assert.Equal(t, "high", ComplexityBand("COMPLEX"))
	assert.Equal(t, "medium", ComplexityBand(""))
	assert.Equal(t, "medium", ComplexityBand("whatever"))
}

func TestStrategyTrackerRequiresDecision(t *testing.T) {
	st := newTestStore(t)
	tr := NewStrategyTracker(st)

	err := tr.Record("strategy_missing", FeedbackPositive, 0.95, nil, nil)
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, tr.Analytics())

	require.NoError(t, st.InsertDecision(store.Decision{
		ID: "strategy_s1", Kind: "strategy", Tag: "direct", CreatedAt: time.Now(),
	}))
	require.NoError(t, tr.Record("strategy_s1", FeedbackPositive, 0.95, nil, nil))
	assert.Equal(t, 1, tr.Analytics()["direct"].SampleCount)
}

func TestClassifyDecision(t *testing.T) {
	assert.Equal(t, DecisionStrategy, ClassifyDecision("strategy_abc"))
	assert.Equal(t, DecisionMode, ClassifyDecision("mode_abc"))
	assert.Equal(t, DecisionNone, ClassifyDecision(""))
	assert.Equal(t, DecisionNone, ClassifyDecision("session-99"))
}
