package learning

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/verdanthealth/careloop/internal/store"
)

// OutcomeStore is the slice of persistence the router needs. *store.Store
// satisfies it.
type OutcomeStore interface {
	AppendOutcome(store.Outcome) (int64, error)
	ListOutcomes() ([]store.Outcome, error)
	GetDecision(id string) (store.Decision, error)
}

// Updated reports which components received a record for one event.
type Updated struct {
	ThemePattern      bool `json:"themePattern"`
	ParameterTuning   bool `json:"parameterTuning"`
	QualityPrediction bool `json:"qualityPrediction"`
	StrategyOutcome   bool `json:"strategyOutcome"`
	ModeTracking      bool `json:"modeTracking"`
}

// RoutingResult is returned for every valid event.
type RoutingResult struct {
	QualityScore float64 `json:"qualityScore"`
	Updated      Updated `json:"learningUpdated"`

	// Sampled reports whether a full outcome row was persisted.
	Sampled bool `json:"-"`
}

// Router validates feedback events and fans them out to the learning
// components. Each component write is independently fallible.
type Router struct {
	store      OutcomeStore
	patterns   *PatternRecognizer
	tuner      *ParameterTuner
	quality    *QualityPredictor
	strategies *StrategyTracker
	modes      *ModeAnalytics
	metrics    *Metrics
	logger     *zap.Logger

	samplingRate float64
	randFloat    func() float64
	now          func() time.Time
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithSamplingRate sets the fraction of events persisted as full outcome
// rows. Events outside the sample are still counted and still update the
// in-memory aggregates. Values outside [0,1] are clamped.
func WithSamplingRate(rate float64) RouterOption {
	return func(r *Router) {
		if rate < 0 {
			rate = 0
		}
		if rate > 1 {
			rate = 1
		}
		r.samplingRate = rate
	}
}

// WithRandSource overrides the sampling randomness (tests).
func WithRandSource(f func() float64) RouterOption {
	return func(r *Router) { r.randFloat = f }
}

// WithClock overrides the router's time source (tests).
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a router with empty components.
func NewRouter(st OutcomeStore, logger *zap.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Router{
		store:        st,
		patterns:     NewPatternRecognizer(),
		tuner:        NewParameterTuner(),
		quality:      NewQualityPredictor(),
		strategies:   NewStrategyTracker(st),
		modes:        NewModeAnalytics(),
		metrics:      NewMetrics(logger),
		logger:       logger,
		samplingRate: 1.0,
		randFloat:    rand.Float64,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route validates the event, classifies its decision id once, and
// dispatches to every component whose required fields are present. A
// failing component write is logged and reported false in the result but
// never stops the remaining writes.
func (r *Router) Route(ctx context.Context, event FeedbackEvent) (*RoutingResult, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	r.metrics.RecordEvent(ctx, event.Feedback)

	score := event.QualityScore()
	class := ClassifyDecision(event.DecisionID)
	result := &RoutingResult{QualityScore: score}

	if event.Theme != "" && event.Complexity != "" {
		r.patterns.Record(event.Theme, event.Feedback, score, event.ResponseTimeMs, event.TokensUsed)
		result.Updated.ThemePattern = true
		r.metrics.RecordComponentWrite(ctx, "theme_pattern", true)
	}

	if event.Temperature != nil && event.MaxTokens != nil {
		r.tuner.Record(*event.Temperature, *event.MaxTokens, event.ToolsEnabled, event.Feedback, score, event.ResponseTimeMs, event.TokensUsed)
		result.Updated.ParameterTuning = true
		r.metrics.RecordComponentWrite(ctx, "parameter_tuning", true)
	}

	if event.Theme != "" || event.UserMessage != "" {
		r.quality.Record(qualityFeatures(event), event.Feedback, score)
		result.Updated.QualityPrediction = true
		r.metrics.RecordComponentWrite(ctx, "quality_prediction", true)
	}

	switch class {
	case DecisionStrategy:
		err := r.strategies.Record(event.DecisionID, event.Feedback, score, event.ResponseTimeMs, event.TokensUsed)
		if err != nil {
			// An unknown decision id refuses only the strategy
			// write; everything already routed stands.
			r.logger.Warn("strategy outcome not recorded",
				zap.String("decision_id", event.DecisionID),
				zap.Error(err),
			)
			r.metrics.RecordComponentWrite(ctx, "strategy_outcome", false)
		} else {
			result.Updated.StrategyOutcome = true
			r.metrics.RecordComponentWrite(ctx, "strategy_outcome", true)
		}
	case DecisionMode:
		r.modes.Record(ModeTag(event), event.Feedback, score, event.ResponseTimeMs, event.TokensUsed)
		result.Updated.ModeTracking = true
		r.metrics.RecordComponentWrite(ctx, "mode_tracking", true)
	case DecisionNone:
		if event.DecisionID != "" {
			r.logger.Debug("decision id without recognized marker",
				zap.String("decision_id", event.DecisionID))
		}
	}

	if r.randFloat() < r.samplingRate {
		result.Sampled = true
		if _, err := r.store.AppendOutcome(outcomeRow(event, class, score, r.now())); err != nil {
			// Aggregates already updated; a failed row write
			// degrades durability, not the feedback response.
			r.logger.Error("failed to persist outcome row", zap.Error(err))
			result.Sampled = false
		} else {
			r.metrics.RecordOutcomeRow(ctx)
		}
	}

	return result, nil
}

// Rebuild replays persisted outcome rows into the in-memory aggregates.
// Called once at startup, before the router serves traffic. The rebuilt
// aggregates approximate the pre-restart ones when sampling is below
// 1.0, since unsampled events updated aggregates without leaving a row.
func (r *Router) Rebuild() error {
	rows, err := r.store.ListOutcomes()
	if err != nil {
		return err
	}

	for _, row := range rows {
		r.replay(row)
	}
	r.logger.Info("learning aggregates rebuilt", zap.Int("outcomes", len(rows)))
	return nil
}

// replay applies one stored outcome using the same dispatch conditions
// as Route, minus validation, sampling, and persistence.
func (r *Router) replay(row store.Outcome) {
	theme := deref(row.Theme)
	complexity := deref(row.Complexity)
	model := deref(row.Model)

	if theme != "" && complexity != "" {
		r.patterns.Record(theme, row.Feedback, row.QualityScore, row.ResponseTimeMs, row.TokensUsed)
	}
	if row.Temperature != nil && row.MaxTokens != nil {
		r.tuner.Record(*row.Temperature, *row.MaxTokens, row.ToolsEnabled, row.Feedback, row.QualityScore, row.ResponseTimeMs, row.TokensUsed)
	}
	if theme != "" || complexity != "" {
		r.quality.Record(QualityFeatures{Theme: theme, Complexity: complexity, Model: model}, row.Feedback, row.QualityScore)
	}

	switch row.DecisionKind {
	case "strategy":
		if err := r.strategies.Record(row.DecisionID, row.Feedback, row.QualityScore, row.ResponseTimeMs, row.TokensUsed); err != nil {
			r.logger.Warn("skipping strategy outcome during rebuild",
				zap.String("decision_id", row.DecisionID),
				zap.Error(err),
			)
		}
	case "mode":
		r.modes.Record(ModeTag(FeedbackEvent{DecisionID: row.DecisionID, Mode: deref(row.Mode)}),
			row.Feedback, row.QualityScore, row.ResponseTimeMs, row.TokensUsed)
	}
}

// Predict exposes the quality predictor.
func (r *Router) Predict(features QualityFeatures) (float64, error) {
	return r.quality.Predict(features)
}

func qualityFeatures(event FeedbackEvent) QualityFeatures {
	complexity := event.Complexity
	if complexity == "" && event.UserMessage != "" {
		complexity = complexityFromMessage(event.UserMessage)
	}
	return QualityFeatures{
		Theme:      event.Theme,
		Complexity: complexity,
		Model:      event.ModelUsed,
	}
}

// complexityFromMessage estimates complexity from message length when no
// explicit label was provided.
func complexityFromMessage(msg string) string {
	switch {
	case len(msg) < 80:
		return "low"
	case len(msg) < 400:
		return "medium"
	default:
		return "high"
	}
}

func outcomeRow(event FeedbackEvent, class DecisionClass, score float64, now time.Time) store.Outcome {
	complexity := event.Complexity
	if complexity == "" && event.Theme == "" && event.UserMessage != "" {
		// The message itself is never persisted; keep the band derived
		// from it so replay reconstructs the same quality sample.
		complexity = complexityFromMessage(event.UserMessage)
	}
	return store.Outcome{
		DecisionID:     event.DecisionID,
		DecisionKind:   class.String(),
		Feedback:       event.Feedback,
		QualityScore:   score,
		Theme:          strPtr(event.Theme),
		Complexity:     strPtr(complexity),
		Model:          strPtr(event.ModelUsed),
		Temperature:    event.Temperature,
		MaxTokens:      event.MaxTokens,
		ToolsEnabled:   event.ToolsEnabled,
		Mode:           strPtr(event.Mode),
		ResponseTimeMs: event.ResponseTimeMs,
		TokensUsed:     event.TokensUsed,
		CreatedAt:      now,
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Verify interface satisfaction at compile time.
var _ OutcomeStore = (*store.Store)(nil)
