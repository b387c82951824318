package learning

import (
	"errors"
	"strings"
	"sync"
)

// ErrNoData is returned by Predict when nothing has been recorded yet.
var ErrNoData = errors.New("no quality samples recorded")

// QualityFeatures identify a prediction segment.
type QualityFeatures struct {
	Theme      string
	Complexity string
	Model      string
}

// segmentKey normalizes features into a map key.
func (f QualityFeatures) segmentKey() string {
	return strings.ToLower(f.Theme) + "|" + ComplexityBand(f.Complexity) + "|" + strings.ToLower(f.Model)
}

// ComplexityBand normalizes free-form complexity labels into low,
// medium, or high. Unrecognized labels map to medium.
func ComplexityBand(complexity string) string {
	switch strings.ToLower(strings.TrimSpace(complexity)) {
	case "low", "simple", "easy":
		return "low"
	case "high", "complex", "hard":
		return "high"
	default:
		return "medium"
	}
}

// QualityPredictor keeps a running quality sample set segmented by
// (theme, complexity band, model) and predicts expected quality for a
// feature combination. Online statistics, not a trained model.
type QualityPredictor struct {
	mu          sync.Mutex
	segments    map[string]*accumulator
	globalSum   float64
	globalCount int
}

// NewQualityPredictor creates an empty predictor.
func NewQualityPredictor() *QualityPredictor {
	return &QualityPredictor{segments: make(map[string]*accumulator)}
}

// Record appends one quality sample.
func (q *QualityPredictor) Record(features QualityFeatures, feedback string, quality float64) {
	key := features.segmentKey()

	q.mu.Lock()
	defer q.mu.Unlock()

	acc, ok := q.segments[key]
	if !ok {
		acc = newAccumulator()
		q.segments[key] = acc
	}
	acc.add(feedback, quality, nil, nil)
	q.globalSum += quality
	q.globalCount++
}

// Predict returns the mean quality of samples matching the features.
// Segments without samples fall back to the global mean; with no samples
// at all, ErrNoData.
func (q *QualityPredictor) Predict(features QualityFeatures) (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.globalCount == 0 {
		return 0, ErrNoData
	}
	if acc, ok := q.segments[features.segmentKey()]; ok && acc.count > 0 {
		return acc.qualitySum / float64(acc.count), nil
	}
	return q.globalSum / float64(q.globalCount), nil
}

// QualityAnalytics is the predictor's aggregate view.
type QualityAnalytics struct {
	SampleCount int             `json:"sampleCount"`
	GlobalMean  float64         `json:"globalMeanQuality"`
	Segments    map[string]View `json:"segments"`
}

// Analytics returns the segmented quality view. Zero-sample predictors
// report an empty view rather than dividing by zero.
func (q *QualityPredictor) Analytics() QualityAnalytics {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := QualityAnalytics{
		SampleCount: q.globalCount,
		Segments:    make(map[string]View, len(q.segments)),
	}
	if q.globalCount > 0 {
		out.GlobalMean = q.globalSum / float64(q.globalCount)
	}
	for key, acc := range q.segments {
		out.Segments[key] = acc.view()
	}
	return out
}
