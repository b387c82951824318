// Package conversation turns finished conversation transcripts into
// stored summaries. Its executor runs inside the enrichment worker pool
// for jobs of kind summarize.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verdanthealth/careloop/internal/downstream"
	"github.com/verdanthealth/careloop/internal/enrichment"
	"github.com/verdanthealth/careloop/internal/store"
	"github.com/verdanthealth/careloop/internal/vectorstore"
)

// SummaryEmbedder is the slice of the embedding client the executor
// needs for summary vectors. Optional; nil skips summary embedding.
type SummaryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SummaryVectors receives successful summary embeddings.
type SummaryVectors interface {
	UpsertSummary(ctx context.Context, conversationID, text string, embedding []float32) error
}

// Executor summarizes a conversation's transcript and persists the
// result. It implements enrichment.Executor for the summarize kind.
type Executor struct {
	store      *store.Store
	summarizer downstream.Summarizer
	embedder   SummaryEmbedder
	vectors    SummaryVectors
	logger     *zap.Logger
	now        func() time.Time
}

var _ enrichment.Executor = (*Executor)(nil)
var _ SummaryVectors = (*vectorstore.Store)(nil)

// NewExecutor creates a summarize executor. embedder and vectors may be
// nil together to disable summary embedding.
func NewExecutor(st *store.Store, summarizer downstream.Summarizer, embedder SummaryEmbedder, vectors SummaryVectors, logger *zap.Logger) (*Executor, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if summarizer == nil {
		return nil, fmt.Errorf("summarizer is required")
	}
	if (embedder == nil) != (vectors == nil) {
		return nil, fmt.Errorf("embedder and vectors must be provided together")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		store:      st,
		summarizer: summarizer,
		embedder:   embedder,
		vectors:    vectors,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Execute fetches the transcript for job.SubjectID, summarizes it, and
// stores the summary. A missing or empty transcript will never succeed
// on retry, so it fails permanently.
func (e *Executor) Execute(ctx context.Context, job enrichment.Job) error {
	conv, err := e.store.GetConversation(job.SubjectID)
	if errors.Is(err, store.ErrNotFound) {
		return enrichment.Permanent(fmt.Errorf("conversation %s not found", job.SubjectID))
	}
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}
	if strings.TrimSpace(conv.Transcript) == "" {
		return enrichment.Permanent(fmt.Errorf("conversation %s has no transcript", job.SubjectID))
	}

	summary, err := e.summarizer.Summarize(ctx, conv.Transcript)
	if err != nil {
		return err
	}

	if err := e.store.SaveSummary(job.SubjectID, summary, e.now()); err != nil {
		return fmt.Errorf("persisting summary: %w", err)
	}

	// Summary embedding is best effort. The summary itself is already
	// durable, so an embedding failure must not fail the job and force
	// a re-summarization.
	if e.embedder != nil {
		if err := e.embedSummary(ctx, job.SubjectID, summary); err != nil {
			e.logger.Warn("summary embedding failed",
				zap.String("conversation_id", job.SubjectID),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (e *Executor) embedSummary(ctx context.Context, conversationID, summary string) error {
	vec, err := e.embedder.Embed(ctx, summary)
	if err != nil {
		return err
	}
	return e.vectors.UpsertSummary(ctx, conversationID, summary, vec)
}
