// Package vectorstore persists profile and summary embeddings in an
// embedded chromem-go database. Vectors are computed upstream by the
// enrichment pipeline; this package only stores and retrieves them.
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/verdanthealth/careloop/internal/config"
)

const (
	docTypeProfile = "profile"
	docTypeSummary = "summary"
)

// ErrVectorSize is returned when an embedding's dimension does not match
// the configured collection size.
var ErrVectorSize = fmt.Errorf("embedding dimension mismatch")

// Result is a similarity search hit.
type Result struct {
	ID         string
	Type       string
	SubjectID  string
	Content    string
	Similarity float32
}

// Store wraps a persistent chromem collection.
type Store struct {
	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
	logger     *zap.Logger
	vectorSize int
}

// New opens (or creates) the persistent store at cfg.Path.
func New(cfg config.VectorConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("vector size must be positive")
	}

	path, err := expandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening vector database: %w", err)
	}

	// All embeddings arrive precomputed. The embedding func exists only
	// to satisfy the collection contract and must never be reached.
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("store holds precomputed embeddings only")
	})
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", cfg.Collection, err)
	}

	logger.Info("vector store initialized",
		zap.String("path", path),
		zap.String("collection", cfg.Collection),
		zap.Int("vector_size", cfg.VectorSize),
	)

	return &Store{
		db:         db,
		collection: collection,
		logger:     logger,
		vectorSize: cfg.VectorSize,
	}, nil
}

// UpsertProfile stores or replaces a patient profile embedding.
func (s *Store) UpsertProfile(ctx context.Context, patientID, text string, embedding []float32) error {
	return s.upsert(ctx, profileDocID(patientID), docTypeProfile, patientID, text, embedding)
}

// UpsertSummary stores or replaces a conversation summary embedding.
func (s *Store) UpsertSummary(ctx context.Context, conversationID, text string, embedding []float32) error {
	return s.upsert(ctx, summaryDocID(conversationID), docTypeSummary, conversationID, text, embedding)
}

func (s *Store) upsert(ctx context.Context, docID, docType, subjectID, text string, embedding []float32) error {
	if len(embedding) != s.vectorSize {
		return fmt.Errorf("%w: got %d, want %d", ErrVectorSize, len(embedding), s.vectorSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// chromem AddDocuments overwrites documents with the same ID.
	err := s.collection.AddDocuments(ctx, []chromem.Document{{
		ID:      docID,
		Content: text,
		Metadata: map[string]string{
			"type":       docType,
			"subject_id": subjectID,
		},
		Embedding: embedding,
	}}, 1)
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", docID, err)
	}
	return nil
}

// DeleteProfile removes a patient's profile embedding. Missing documents
// are not an error; consent revocation must be idempotent.
func (s *Store) DeleteProfile(ctx context.Context, patientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.collection.Delete(ctx, nil, nil, profileDocID(patientID)); err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil
		}
		return fmt.Errorf("deleting profile %s: %w", patientID, err)
	}
	return nil
}

// Query runs a similarity search against stored embeddings.
func (s *Store) Query(ctx context.Context, embedding []float32, limit int) ([]Result, error) {
	if len(embedding) != s.vectorSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVectorSize, len(embedding), s.vectorSize)
	}
	if limit <= 0 {
		limit = 5
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	hits, err := s.collection.QueryEmbedding(ctx, embedding, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ID:         h.ID,
			Type:       h.Metadata["type"],
			SubjectID:  h.Metadata["subject_id"],
			Content:    h.Content,
			Similarity: h.Similarity,
		})
	}
	return results, nil
}

// Count reports the number of stored documents.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection.Count()
}

func profileDocID(patientID string) string {
	return docTypeProfile + "_" + patientID
}

func summaryDocID(conversationID string) string {
	return docTypeSummary + "_" + conversationID
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
