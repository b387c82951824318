package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Profile is the persisted user profile.
//
// EmbeddingGeneration increments on every clear so that a late-arriving
// embedding result carrying a stale generation can be discarded instead
// of resurrecting cleared data.
type Profile struct {
	ID                  string
	Text                string
	Consent             bool
	EmbeddingStatus     string
	EmbeddingGeneration int64
	UpdatedAt           time.Time
}

// UpsertProfile saves profile text, marks consent granted, and sets the
// embedding status pending. Returns the stored profile.
func (s *Store) UpsertProfile(id, text string, now time.Time) (Profile, error) {
	_, err := s.db.Exec(`INSERT INTO profiles (id, text, consent, embedding_status, embedding_generation, updated_at)
		VALUES (?, ?, 1, 'pending', 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			consent = 1,
			embedding_status = 'pending',
			updated_at = excluded.updated_at`,
		id, text, now.UTC())
	if err != nil {
		return Profile{}, fmt.Errorf("upserting profile: %w", err)
	}
	return s.GetProfile(id)
}

// GetProfile returns a profile by id.
func (s *Store) GetProfile(id string) (Profile, error) {
	row := s.db.QueryRow(`SELECT id, text, consent, embedding_status, embedding_generation, updated_at
		FROM profiles WHERE id = ?`, id)

	var p Profile
	var consent int
	err := row.Scan(&p.ID, &p.Text, &consent, &p.EmbeddingStatus, &p.EmbeddingGeneration, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("querying profile: %w", err)
	}
	p.Consent = consent != 0
	return p, nil
}

// ClearProfile erases profile text, revokes consent, resets the embedding
// status, and bumps the embedding generation so in-flight embedding
// results for the old text are discarded.
func (s *Store) ClearProfile(id string, now time.Time) error {
	res, err := s.db.Exec(`UPDATE profiles SET
			text = '',
			consent = 0,
			embedding_status = 'none',
			embedding_generation = embedding_generation + 1,
			updated_at = ?
		WHERE id = ?`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("clearing profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clearing profile: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetEmbeddingStatus updates a profile's embedding status, but only when
// generation still matches the stored embedding generation. Returns false
// without error when the generation is stale (the write is discarded).
func (s *Store) SetEmbeddingStatus(id, status string, generation int64, now time.Time) (bool, error) {
	res, err := s.db.Exec(`UPDATE profiles SET embedding_status = ?, updated_at = ?
		WHERE id = ? AND embedding_generation = ?`,
		status, now.UTC(), id, generation)
	if err != nil {
		return false, fmt.Errorf("setting embedding status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("setting embedding status: %w", err)
	}
	return n > 0, nil
}
