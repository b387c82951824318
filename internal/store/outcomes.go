package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Outcome is one append-only observation of how a decision performed.
// Contextual fields are optional; absent fields stay nil.
type Outcome struct {
	ID             int64
	DecisionID     string
	DecisionKind   string // "strategy", "mode", or "" when no marker matched
	Feedback       string
	QualityScore   float64
	Theme          *string
	Complexity     *string
	Model          *string
	Temperature    *float64
	MaxTokens      *int
	ToolsEnabled   *bool
	Mode           *string
	ResponseTimeMs *int64
	TokensUsed     *int64
	CreatedAt      time.Time
}

// AppendOutcome stores a new outcome row and returns its id.
// Outcome rows are never updated.
func (s *Store) AppendOutcome(o Outcome) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO outcomes
		(decision_id, decision_kind, feedback, quality_score, theme, complexity, model,
		 temperature, max_tokens, tools_enabled, mode, response_time_ms, tokens_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.DecisionID, o.DecisionKind, o.Feedback, o.QualityScore,
		o.Theme, o.Complexity, o.Model, o.Temperature, o.MaxTokens,
		nullableBool(o.ToolsEnabled), o.Mode, o.ResponseTimeMs, o.TokensUsed, o.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("appending outcome: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("appending outcome: %w", err)
	}
	return id, nil
}

// ListOutcomes returns all outcome rows, oldest first. Used at startup to
// rebuild in-memory aggregates; the table is the source of truth.
func (s *Store) ListOutcomes() ([]Outcome, error) {
	rows, err := s.db.Query(`SELECT id, decision_id, decision_kind, feedback, quality_score,
		theme, complexity, model, temperature, max_tokens, tools_enabled, mode,
		response_time_ms, tokens_used, created_at
		FROM outcomes ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outcomes: %w", err)
	}
	return out, nil
}

// CountOutcomes returns the total number of outcome rows.
func (s *Store) CountOutcomes() (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM outcomes").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting outcomes: %w", err)
	}
	return n, nil
}

func scanOutcome(r rowScanner) (Outcome, error) {
	var o Outcome
	var theme, complexity, model, mode sql.NullString
	var temp sql.NullFloat64
	var maxTokens, tools, respMs, tokens sql.NullInt64
	if err := r.Scan(&o.ID, &o.DecisionID, &o.DecisionKind, &o.Feedback, &o.QualityScore,
		&theme, &complexity, &model, &temp, &maxTokens, &tools, &mode,
		&respMs, &tokens, &o.CreatedAt); err != nil {
		return Outcome{}, err
	}
	if theme.Valid {
		o.Theme = &theme.String
	}
	if complexity.Valid {
		o.Complexity = &complexity.String
	}
	if model.Valid {
		o.Model = &model.String
	}
	if temp.Valid {
		o.Temperature = &temp.Float64
	}
	if maxTokens.Valid {
		v := int(maxTokens.Int64)
		o.MaxTokens = &v
	}
	if tools.Valid {
		v := tools.Int64 != 0
		o.ToolsEnabled = &v
	}
	if mode.Valid {
		o.Mode = &mode.String
	}
	if respMs.Valid {
		o.ResponseTimeMs = &respMs.Int64
	}
	if tokens.Valid {
		o.TokensUsed = &tokens.Int64
	}
	return o, nil
}
