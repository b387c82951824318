package downstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdanthealth/careloop/internal/config"
	"github.com/verdanthealth/careloop/internal/enrichment"
)

func newSummarizer(t *testing.T, baseURL string) Summarizer {
	t.Helper()
	s, err := NewSummarizer(config.SummarizerConfig{
		BaseURL:   baseURL,
		APIKey:    config.Secret("test-key"),
		Model:     "claude-3-5-haiku-latest",
		RateLimit: 100,
	})
	require.NoError(t, err)
	return s
}

func newEmbedder(t *testing.T, baseURL string) Embedder {
	t.Helper()
	e, err := NewEmbedder(config.EmbedderConfig{
		BaseURL:   baseURL,
		APIKey:    config.Secret("test-key"),
		Model:     "text-embedding-3-small",
		RateLimit: 100,
	})
	require.NoError(t, err)
	return e
}

func TestSummarizerSuccess(t *testing.T) {
	var gotPath, gotKey, gotVersion string
	var gotReq messagesRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Patient reported improved sleep. "},{"type":"text","text":"Advised to continue current plan."}]}`))
	}))
	defer srv.Close()

	s := newSummarizer(t, srv.URL)
	summary, err := s.Summarize(context.Background(), "patient: sleeping better\nassistant: great, keep it up")
	require.NoError(t, err)

	assert.Equal(t, "Patient reported improved sleep. Advised to continue current plan.", summary)
	assert.Equal(t, "/v1/messages", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, anthropicVersion, gotVersion)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
	assert.Contains(t, gotReq.Messages[0].Content, "sleeping better")
}

func TestSummarizerEmptyTranscript(t *testing.T) {
	s := newSummarizer(t, "http://localhost:1")
	_, err := s.Summarize(context.Background(), "   ")
	require.Error(t, err)
}

func TestSummarizerNoTextContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	s := newSummarizer(t, srv.URL)
	_, err := s.Summarize(context.Background(), "hello")
	require.Error(t, err)
	assert.False(t, enrichment.IsPermanent(err))
}

func TestSummarizerRetryableStatuses(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", status)
		}))

		s := newSummarizer(t, srv.URL)
		_, err := s.Summarize(context.Background(), "hello")
		require.Error(t, err, "status %d", status)
		assert.False(t, enrichment.IsPermanent(err), "status %d should be retryable", status)
		srv.Close()
	}
}

func TestSummarizerPermanentStatuses(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad request", status)
		}))

		s := newSummarizer(t, srv.URL)
		_, err := s.Summarize(context.Background(), "hello")
		require.Error(t, err, "status %d", status)
		assert.True(t, enrichment.IsPermanent(err), "status %d should be permanent", status)
		srv.Close()
	}
}

func TestNewSummarizerValidation(t *testing.T) {
	_, err := NewSummarizer(config.SummarizerConfig{Model: "m"})
	assert.Error(t, err, "missing API key")

	_, err = NewSummarizer(config.SummarizerConfig{APIKey: config.Secret("k")})
	assert.Error(t, err, "missing model")
}

func TestEmbedderSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq embeddingsRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	e := newEmbedder(t, srv.URL)
	vec, err := e.Embed(context.Background(), "prefers morning appointments")
	require.NoError(t, err)

	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "/v1/embeddings", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	require.Len(t, gotReq.Input, 1)
	assert.Equal(t, "prefers morning appointments", gotReq.Input[0])
}

func TestEmbedderEmptyText(t *testing.T) {
	e := newEmbedder(t, "http://localhost:1")
	_, err := e.Embed(context.Background(), "")
	require.Error(t, err)
}

func TestEmbedderNoVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	e := newEmbedder(t, srv.URL)
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
}

func TestEmbedderPermanentOnBadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "input too long", http.StatusBadRequest)
	}))
	defer srv.Close()

	e := newEmbedder(t, srv.URL)
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, enrichment.IsPermanent(err))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))
}
