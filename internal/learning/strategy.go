package learning

import (
	"errors"
	"fmt"
	"sync"

	"github.com/verdanthealth/careloop/internal/store"
)

// DecisionLookup resolves decision ids to their recorded decisions.
// *store.Store satisfies it.
type DecisionLookup interface {
	GetDecision(id string) (store.Decision, error)
}

// StrategyTracker accumulates per-strategy outcome statistics. Unlike
// the other components it requires the decision to exist: an outcome for
// an unknown strategy decision is refused cleanly so a bad id can never
// corrupt another strategy's aggregates.
type StrategyTracker struct {
	mu         sync.Mutex
	decisions  DecisionLookup
	strategies map[string]*accumulator
}

// NewStrategyTracker creates a tracker backed by the decision store.
func NewStrategyTracker(decisions DecisionLookup) *StrategyTracker {
	return &StrategyTracker{
		decisions:  decisions,
		strategies: make(map[string]*accumulator),
	}
}

// Record appends one strategy outcome, keyed by the decision's tag.
// Returns store.ErrNotFound (wrapped) when the decision was never
// recorded; the caller treats that as a per-component failure.
func (t *StrategyTracker) Record(decisionID, feedback string, quality float64, responseTimeMs, tokensUsed *int64) error {
	d, err := t.decisions.GetDecision(decisionID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("strategy decision %s: %w", decisionID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("looking up decision: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	acc, ok := t.strategies[d.Tag]
	if !ok {
		acc = newAccumulator()
		t.strategies[d.Tag] = acc
	}
	acc.add(feedback, quality, responseTimeMs, tokensUsed)
	return nil
}

// Analytics returns per-strategy aggregate views.
func (t *StrategyTracker) Analytics() map[string]View {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]View, len(t.strategies))
	for tag, acc := range t.strategies {
		out[tag] = acc.view()
	}
	return out
}
