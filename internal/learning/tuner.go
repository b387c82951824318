package learning

import (
	"fmt"
	"sync"
)

// ParameterTuner accumulates outcome statistics per generation-parameter
// combination so operators can see which settings perform best.
type ParameterTuner struct {
	mu     sync.Mutex
	combos map[string]*accumulator
}

// NewParameterTuner creates an empty tuner.
func NewParameterTuner() *ParameterTuner {
	return &ParameterTuner{combos: make(map[string]*accumulator)}
}

// parameterKey buckets a parameter combination. Temperature is bucketed
// to one decimal and max tokens to powers-of-two-ish tiers so nearby
// settings aggregate together instead of fragmenting into singletons.
func parameterKey(temperature float64, maxTokens int, toolsEnabled *bool) string {
	tools := "unset"
	if toolsEnabled != nil {
		if *toolsEnabled {
			tools = "on"
		} else {
			tools = "off"
		}
	}
	return fmt.Sprintf("temp=%.1f|max_tokens=%d|tools=%s", bucketTemperature(temperature), bucketMaxTokens(maxTokens), tools)
}

func bucketTemperature(t float64) float64 {
	if t < 0 {
		return 0
	}
	// Round to one decimal.
	return float64(int(t*10+0.5)) / 10
}

func bucketMaxTokens(n int) int {
	switch {
	case n <= 256:
		return 256
	case n <= 512:
		return 512
	case n <= 1024:
		return 1024
	case n <= 2048:
		return 2048
	default:
		return 4096
	}
}

// Record appends one parameter-combination observation.
func (t *ParameterTuner) Record(temperature float64, maxTokens int, toolsEnabled *bool, feedback string, quality float64, responseTimeMs, tokensUsed *int64) {
	key := parameterKey(temperature, maxTokens, toolsEnabled)

	t.mu.Lock()
	defer t.mu.Unlock()

	acc, ok := t.combos[key]
	if !ok {
		acc = newAccumulator()
		t.combos[key] = acc
	}
	acc.add(feedback, quality, responseTimeMs, tokensUsed)
}

// Analytics returns aggregate views keyed by bucketed parameter combination.
func (t *ParameterTuner) Analytics() map[string]View {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]View, len(t.combos))
	for key, acc := range t.combos {
		out[key] = acc.view()
	}
	return out
}
