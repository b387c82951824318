package learning

import "sync"

// PatternRecognizer accumulates per-theme outcome statistics.
type PatternRecognizer struct {
	mu     sync.Mutex
	themes map[string]*accumulator
}

// NewPatternRecognizer creates an empty recognizer.
func NewPatternRecognizer() *PatternRecognizer {
	return &PatternRecognizer{themes: make(map[string]*accumulator)}
}

// Record appends one theme observation.
func (p *PatternRecognizer) Record(theme, feedback string, quality float64, responseTimeMs, tokensUsed *int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.themes[theme]
	if !ok {
		acc = newAccumulator()
		p.themes[theme] = acc
	}
	acc.add(feedback, quality, responseTimeMs, tokensUsed)
}

// Analytics returns per-theme aggregate views. Themes with zero samples
// never appear.
func (p *PatternRecognizer) Analytics() map[string]View {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]View, len(p.themes))
	for theme, acc := range p.themes {
		out[theme] = acc.view()
	}
	return out
}
