package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Conversation holds a conversation transcript and its derived summary.
type Conversation struct {
	ID               string
	Transcript       string
	Summary          string
	SummaryUpdatedAt *time.Time
}

// SaveTranscript stores the raw transcript for a conversation, creating
// the row if needed. An existing summary is left untouched.
func (s *Store) SaveTranscript(id, transcript string) error {
	_, err := s.db.Exec(`INSERT INTO conversations (id, transcript)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
			transcript = excluded.transcript`,
		id, transcript)
	if err != nil {
		return fmt.Errorf("saving transcript: %w", err)
	}
	return nil
}

// SaveSummary writes a conversation summary, creating the row if needed.
// The summarize worker calls this exactly once per successful job.
func (s *Store) SaveSummary(id, summary string, now time.Time) error {
	_, err := s.db.Exec(`INSERT INTO conversations (id, summary, summary_updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			summary = excluded.summary,
			summary_updated_at = excluded.summary_updated_at`,
		id, summary, now.UTC())
	if err != nil {
		return fmt.Errorf("saving summary: %w", err)
	}
	return nil
}

// GetConversation returns a conversation by id.
func (s *Store) GetConversation(id string) (Conversation, error) {
	row := s.db.QueryRow(`SELECT id, transcript, summary, summary_updated_at FROM conversations WHERE id = ?`, id)

	var c Conversation
	var updatedAt sql.NullTime
	err := row.Scan(&c.ID, &c.Transcript, &c.Summary, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("querying conversation: %w", err)
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		c.SummaryUpdatedAt = &t
	}
	return c, nil
}
