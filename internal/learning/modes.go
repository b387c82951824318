package learning

import (
	"strings"
	"sync"
)

// ModeAnalytics accumulates outcome statistics per interaction mode.
type ModeAnalytics struct {
	mu    sync.Mutex
	modes map[string]*accumulator
}

// NewModeAnalytics creates an empty mode tracker.
func NewModeAnalytics() *ModeAnalytics {
	return &ModeAnalytics{modes: make(map[string]*accumulator)}
}

// ModeTag derives the mode label for an event: the explicit mode field
// when present, otherwise the decision id with its marker stripped.
func ModeTag(event FeedbackEvent) string {
	if event.Mode != "" {
		return event.Mode
	}
	return strings.TrimPrefix(event.DecisionID, modeMarker)
}

// Record appends one mode observation.
func (m *ModeAnalytics) Record(mode, feedback string, quality float64, responseTimeMs, tokensUsed *int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.modes[mode]
	if !ok {
		acc = newAccumulator()
		m.modes[mode] = acc
	}
	acc.add(feedback, quality, responseTimeMs, tokensUsed)
}

// Analytics returns per-mode aggregate views.
func (m *ModeAnalytics) Analytics() map[string]View {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]View, len(m.modes))
	for mode, acc := range m.modes {
		out[mode] = acc.view()
	}
	return out
}
