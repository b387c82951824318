package enrichment

import (
	"time"

	"github.com/google/uuid"

	"github.com/verdanthealth/careloop/internal/store"
)

// Kind identifies the downstream dependency an enrichment job exercises.
type Kind string

// Job kinds are fixed; this is not a general workflow engine.
const (
	KindSummarize Kind = "summarize"
	KindEmbed     Kind = "embed"
)

// Valid reports whether k is a known job kind.
func (k Kind) Valid() bool {
	return k == KindSummarize || k == KindEmbed
}

// Status is the lifecycle state of an enrichment job.
type Status string

const (
	StatusPending         Status = "pending"
	StatusInFlight        Status = "in_flight"
	StatusSucceeded       Status = "succeeded"
	StatusFailedRetryable Status = "failed_retryable"
	StatusFailedPermanent Status = "failed_permanent"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailedPermanent
}

// Job is one unit of background enrichment work.
type Job struct {
	ID          string
	Kind        Kind
	SubjectID   string
	Status      Status
	Attempt     int
	MaxAttempts int

	// NextRunAt gates dispatch; the zero value means eligible immediately.
	NextRunAt time.Time

	// Generation carries the profile embedding generation captured at
	// submission time for embed jobs. A completion whose generation no
	// longer matches the profile's is discarded.
	Generation int64

	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewJob creates a pending job with a fresh id.
func NewJob(kind Kind, subjectID string, maxAttempts int, now time.Time) Job {
	return Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		SubjectID:   subjectID,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// toRecord converts a Job to its persisted form.
func (j Job) toRecord() store.Job {
	rec := store.Job{
		ID:          j.ID,
		Kind:        string(j.Kind),
		SubjectID:   j.SubjectID,
		Status:      string(j.Status),
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		Generation:  j.Generation,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	if !j.NextRunAt.IsZero() {
		t := j.NextRunAt
		rec.NextRunAt = &t
	}
	return rec
}

// fromRecord reconstructs a Job from its persisted form.
func fromRecord(rec store.Job) Job {
	j := Job{
		ID:          rec.ID,
		Kind:        Kind(rec.Kind),
		SubjectID:   rec.SubjectID,
		Status:      Status(rec.Status),
		Attempt:     rec.Attempt,
		MaxAttempts: rec.MaxAttempts,
		Generation:  rec.Generation,
		LastError:   rec.LastError,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if rec.NextRunAt != nil {
		j.NextRunAt = *rec.NextRunAt
	}
	return j
}
