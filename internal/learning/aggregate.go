package learning

// View is the aggregate shape shared by all learning components. Mean
// response time and mean tokens cover only the samples that carried
// those fields.
type View struct {
	SampleCount        int            `json:"sampleCount"`
	MeanQuality        float64        `json:"meanQuality"`
	MeanResponseTimeMs float64        `json:"meanResponseTimeMs,omitempty"`
	MeanTokens         float64        `json:"meanTokens,omitempty"`
	Feedback           map[string]int `json:"feedback"`
}

// accumulator incrementally maintains one category's statistics.
// Not safe for concurrent use; owning components hold the lock.
type accumulator struct {
	count         int
	qualitySum    float64
	responseSum   int64
	responseCount int
	tokensSum     int64
	tokensCount   int
	feedback      map[string]int
}

func newAccumulator() *accumulator {
	return &accumulator{feedback: make(map[string]int)}
}

func (a *accumulator) add(feedback string, quality float64, responseTimeMs, tokensUsed *int64) {
	a.count++
	a.qualitySum += quality
	a.feedback[feedback]++
	if responseTimeMs != nil {
		a.responseSum += *responseTimeMs
		a.responseCount++
	}
	if tokensUsed != nil {
		a.tokensSum += *tokensUsed
		a.tokensCount++
	}
}

// view snapshots the accumulator. Never called with count == 0; callers
// only surface categories with at least one sample.
func (a *accumulator) view() View {
	v := View{
		SampleCount: a.count,
		MeanQuality: a.qualitySum / float64(a.count),
		Feedback:    make(map[string]int, len(a.feedback)),
	}
	if a.responseCount > 0 {
		v.MeanResponseTimeMs = float64(a.responseSum) / float64(a.responseCount)
	}
	if a.tokensCount > 0 {
		v.MeanTokens = float64(a.tokensSum) / float64(a.tokensCount)
	}
	for k, n := range a.feedback {
		v.Feedback[k] = n
	}
	return v
}
