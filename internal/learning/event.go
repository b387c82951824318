package learning

import (
	"errors"
	"strings"
)

// Feedback values accepted at the ingestion boundary.
const (
	FeedbackPositive = "positive"
	FeedbackNegative = "negative"
	FeedbackNeutral  = "neutral"
)

// Quality score mapping from categorical feedback. Fixed constants, not
// learned values.
const (
	ScorePositive = 0.95
	ScoreNegative = 0.3
	ScoreNeutral  = 0.7
)

// Decision-id markers. Ids are classified once, at the router boundary.
const (
	strategyMarker = "strategy_"
	modeMarker     = "mode_"
)

// ErrInvalidFeedback rejects events whose feedback field is missing or
// not one of the enumerated values.
var ErrInvalidFeedback = errors.New("feedback must be positive, negative, or neutral")

// FeedbackEvent is one feedback observation from the chat layer. All
// fields except Feedback are optional; pointers distinguish absent
// numeric fields from zero values.
type FeedbackEvent struct {
	DecisionID     string   `json:"decisionId"`
	Feedback       string   `json:"feedback"`
	Theme          string   `json:"theme,omitempty"`
	Complexity     string   `json:"complexity,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      *int     `json:"maxTokens,omitempty"`
	ToolsEnabled   *bool    `json:"toolsEnabled,omitempty"`
	ModelUsed      string   `json:"modelUsed,omitempty"`
	Mode           string   `json:"mode,omitempty"`
	ResponseTimeMs *int64   `json:"responseTime,omitempty"`
	TokensUsed     *int64   `json:"tokensUsed,omitempty"`
	UserMessage    string   `json:"userMessage,omitempty"`
}

// Validate checks the boundary contract.
func (e FeedbackEvent) Validate() error {
	switch e.Feedback {
	case FeedbackPositive, FeedbackNegative, FeedbackNeutral:
		return nil
	default:
		return ErrInvalidFeedback
	}
}

// QualityScore maps the event's feedback to its quality score.
func (e FeedbackEvent) QualityScore() float64 {
	switch e.Feedback {
	case FeedbackPositive:
		return ScorePositive
	case FeedbackNegative:
		return ScoreNegative
	default:
		return ScoreNeutral
	}
}

// DecisionClass is the result of classifying a decision id.
type DecisionClass int

const (
	// DecisionNone means no recognized marker; not an error.
	DecisionNone DecisionClass = iota
	DecisionStrategy
	DecisionMode
)

// ClassifyDecision inspects the decision-id marker. Performed once per
// event; components receive the class, never the raw prefix.
func ClassifyDecision(decisionID string) DecisionClass {
	switch {
	case strings.HasPrefix(decisionID, strategyMarker):
		return DecisionStrategy
	case strings.HasPrefix(decisionID, modeMarker):
		return DecisionMode
	default:
		return DecisionNone
	}
}

func (c DecisionClass) String() string {
	switch c {
	case DecisionStrategy:
		return "strategy"
	case DecisionMode:
		return "mode"
	default:
		return ""
	}
}
