// Package profile manages patient profile text, consent, and profile
// embeddings. Saving a profile enqueues a background embed job; revoking
// consent erases the text, cancels outstanding embed work, and deletes
// the stored vector.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verdanthealth/careloop/internal/enrichment"
	"github.com/verdanthealth/careloop/internal/store"
)

// ErrEmptyProfile is returned when a save carries no profile text.
var ErrEmptyProfile = errors.New("profile text is empty")

// Enqueuer is the slice of the worker pool the service needs.
// *enrichment.Pool satisfies it.
type Enqueuer interface {
	Submit(ctx context.Context, kind enrichment.Kind, subjectID string, generation int64) (string, error)
	CancelSubject(kind enrichment.Kind, subjectID string) int
}

// VectorDeleter removes a patient's stored embedding.
type VectorDeleter interface {
	DeleteProfile(ctx context.Context, patientID string) error
}

// Service coordinates profile persistence, embed scheduling, and consent
// revocation.
type Service struct {
	store   *store.Store
	pool    Enqueuer
	vectors VectorDeleter
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a profile service.
func NewService(st *store.Store, pool Enqueuer, vectors VectorDeleter, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if vectors == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   st,
		pool:    pool,
		vectors: vectors,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Save upserts profile text, marks the embedding pending, and enqueues an
// embed job carrying the profile's current embedding generation. The
// profile is durable even when the queue is full; the queue-full error is
// returned so callers can report the degraded state.
func (s *Service) Save(ctx context.Context, patientID, text string) (store.Profile, error) {
	if strings.TrimSpace(text) == "" {
		return store.Profile{}, ErrEmptyProfile
	}

	p, err := s.store.UpsertProfile(patientID, text, s.now())
	if err != nil {
		return store.Profile{}, err
	}

	jobID, err := s.pool.Submit(ctx, enrichment.KindEmbed, patientID, p.EmbeddingGeneration)
	if err != nil {
		s.logger.Warn("embed job not enqueued",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return p, fmt.Errorf("profile saved but embed not scheduled: %w", err)
	}

	s.logger.Debug("embed job enqueued",
		zap.String("patient_id", patientID),
		zap.String("job_id", jobID),
	)
	return p, nil
}

// Get returns a profile by id.
func (s *Service) Get(patientID string) (store.Profile, error) {
	return s.store.GetProfile(patientID)
}

// RevokeConsent erases the profile's text, revokes consent, bumps the
// embedding generation, cancels queued and in-flight embed jobs for the
// patient, and deletes the stored vector. Idempotent once the profile
// exists.
func (s *Service) RevokeConsent(ctx context.Context, patientID string) error {
	if err := s.store.ClearProfile(patientID, s.now()); err != nil {
		return err
	}

	canceled := s.pool.CancelSubject(enrichment.KindEmbed, patientID)
	if canceled > 0 {
		s.logger.Info("canceled embed jobs on consent revocation",
			zap.String("patient_id", patientID),
			zap.Int("jobs", canceled),
		)
	}

	if err := s.vectors.DeleteProfile(ctx, patientID); err != nil {
		return fmt.Errorf("deleting profile vector: %w", err)
	}
	return nil
}
