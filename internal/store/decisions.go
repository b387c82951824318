package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Decision is a recorded choice of interaction strategy or mode.
// Decisions are immutable once written.
type Decision struct {
	ID           string
	Kind         string // "strategy" or "mode"
	Tag          string
	Temperature  *float64
	MaxTokens    *int
	ToolsEnabled *bool
	CreatedAt    time.Time
}

// InsertDecision stores a new decision record.
func (s *Store) InsertDecision(d Decision) error {
	_, err := s.db.Exec(`INSERT INTO decisions
		(id, kind, tag, temperature, max_tokens, tools_enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Kind, d.Tag, d.Temperature, d.MaxTokens, nullableBool(d.ToolsEnabled), d.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting decision: %w", err)
	}
	return nil
}

// GetDecision returns a decision by id. Returns ErrNotFound when the id
// has never been recorded.
func (s *Store) GetDecision(id string) (Decision, error) {
	row := s.db.QueryRow(`SELECT id, kind, tag, temperature, max_tokens, tools_enabled, created_at
		FROM decisions WHERE id = ?`, id)

	var d Decision
	var temp sql.NullFloat64
	var maxTokens sql.NullInt64
	var tools sql.NullInt64
	err := row.Scan(&d.ID, &d.Kind, &d.Tag, &temp, &maxTokens, &tools, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Decision{}, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Decision{}, fmt.Errorf("querying decision: %w", err)
	}
	if temp.Valid {
		d.Temperature = &temp.Float64
	}
	if maxTokens.Valid {
		v := int(maxTokens.Int64)
		d.MaxTokens = &v
	}
	if tools.Valid {
		v := tools.Int64 != 0
		d.ToolsEnabled = &v
	}
	return d, nil
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}
