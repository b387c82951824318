package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Job is the persisted record of an enrichment job.
type Job struct {
	ID          string
	Kind        string
	SubjectID   string
	Status      string
	Attempt     int
	MaxAttempts int
	Generation  int64
	NextRunAt   *time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// InsertJob stores a new job record.
func (s *Store) InsertJob(j Job) error {
	_, err := s.db.Exec(`INSERT INTO jobs
		(id, kind, subject_id, status, attempt, max_attempts, generation, next_run_at, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Kind, j.SubjectID, j.Status, j.Attempt, j.MaxAttempts, j.Generation,
		nullableTime(j.NextRunAt), j.LastError, j.CreatedAt.UTC(), j.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// UpdateJob persists a job's mutable fields after a status transition.
func (s *Store) UpdateJob(j Job) error {
	res, err := s.db.Exec(`UPDATE jobs
		SET status = ?, attempt = ?, next_run_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		j.Status, j.Attempt, nullableTime(j.NextRunAt), j.LastError, j.UpdatedAt.UTC(), j.ID)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("updating job %s: %w", j.ID, ErrNotFound)
	}
	return nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(id string) (Job, error) {
	row := s.db.QueryRow(`SELECT id, kind, subject_id, status, attempt, max_attempts,
		generation, next_run_at, last_error, created_at, updated_at FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Job{}, fmt.Errorf("querying job: %w", err)
	}
	return j, nil
}

// ListJobsByStatus returns all jobs with the given status, oldest first.
func (s *Store) ListJobsByStatus(status string) ([]Job, error) {
	rows, err := s.db.Query(`SELECT id, kind, subject_id, status, attempt, max_attempts,
		generation, next_run_at, last_error, created_at, updated_at FROM jobs
		WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	return jobs, nil
}

// PruneTerminalJobs deletes succeeded and permanently failed jobs whose
// last update is older than cutoff. Returns the number of rows removed.
func (s *Store) PruneTerminalJobs(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM jobs
		WHERE status IN ('succeeded', 'failed_permanent') AND updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning jobs: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var j Job
	var nextRunAt sql.NullTime
	if err := r.Scan(&j.ID, &j.Kind, &j.SubjectID, &j.Status, &j.Attempt, &j.MaxAttempts,
		&j.Generation, &nextRunAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return Job{}, err
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time
		j.NextRunAt = &t
	}
	return j, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
