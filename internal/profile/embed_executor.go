package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/verdanthealth/careloop/internal/enrichment"
	"github.com/verdanthealth/careloop/internal/store"
)

// TextEmbedder produces an embedding vector for profile text.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorUpserter stores a computed profile embedding.
type VectorUpserter interface {
	UpsertProfile(ctx context.Context, patientID, text string, embedding []float32) error
	DeleteProfile(ctx context.Context, patientID string) error
}

// EmbedExecutor generates and stores profile embeddings. It implements
// enrichment.Executor for the embed kind.
//
// Every result is guarded by the profile's embedding generation: the
// status write succeeds only when the job's generation still matches the
// stored one, so work finishing after a consent revocation is discarded
// instead of resurrecting cleared data.
type EmbedExecutor struct {
	store    *store.Store
	embedder TextEmbedder
	vectors  VectorUpserter
	logger   *zap.Logger
	now      func() time.Time
}

var _ enrichment.Executor = (*EmbedExecutor)(nil)

// NewEmbedExecutor creates an embed executor.
func NewEmbedExecutor(st *store.Store, embedder TextEmbedder, vectors VectorUpserter, logger *zap.Logger) (*EmbedExecutor, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if vectors == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbedExecutor{
		store:    st,
		embedder: embedder,
		vectors:  vectors,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// MarkFailed records that no embedding will be produced for the job's
// generation. Wired as the embed dependency's permanent-failure hook so
// a profile never sits in "pending" after its job is exhausted. The
// write is generation-checked: a profile re-saved or revoked since the
// job was enqueued is left alone.
func (e *EmbedExecutor) MarkFailed(job enrichment.Job, cause error) {
	ok, err := e.store.SetEmbeddingStatus(job.SubjectID, "failed", job.Generation, e.now())
	if err != nil {
		e.logger.Warn("failed to mark embedding failed",
			zap.String("patient_id", job.SubjectID),
			zap.Error(err),
		)
		return
	}
	if ok {
		e.logger.Info("profile embedding marked failed",
			zap.String("patient_id", job.SubjectID),
			zap.Int64("generation", job.Generation),
			zap.Error(cause),
		)
	}
}

// Execute embeds the profile text for job.SubjectID.
func (e *EmbedExecutor) Execute(ctx context.Context, job enrichment.Job) error {
	p, err := e.store.GetProfile(job.SubjectID)
	if errors.Is(err, store.ErrNotFound) {
		return enrichment.Permanent(fmt.Errorf("profile %s not found", job.SubjectID))
	}
	if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}

	// Consent revoked or profile re-saved since this job was enqueued.
	// The job for the current generation (if any) does the work.
	if !p.Consent || p.EmbeddingGeneration != job.Generation {
		e.logger.Debug("skipping stale embed job",
			zap.String("patient_id", job.SubjectID),
			zap.Int64("job_generation", job.Generation),
			zap.Int64("profile_generation", p.EmbeddingGeneration),
		)
		return nil
	}

	vec, err := e.embedder.Embed(ctx, p.Text)
	if err != nil {
		return err
	}

	if err := e.vectors.UpsertProfile(ctx, job.SubjectID, p.Text, vec); err != nil {
		return fmt.Errorf("storing profile vector: %w", err)
	}

	ok, err := e.store.SetEmbeddingStatus(job.SubjectID, "ready", job.Generation, e.now())
	if err != nil {
		return fmt.Errorf("marking embedding ready: %w", err)
	}
	if !ok {
		// Consent revoked between the vector write and the status
		// write. Undo the vector so nothing survives the revocation.
		if delErr := e.vectors.DeleteProfile(ctx, job.SubjectID); delErr != nil {
			e.logger.Warn("failed to remove stale profile vector",
				zap.String("patient_id", job.SubjectID),
				zap.Error(delErr),
			)
		}
		e.logger.Info("discarded stale embedding result",
			zap.String("patient_id", job.SubjectID),
			zap.Int64("job_generation", job.Generation),
		)
	}
	return nil
}
