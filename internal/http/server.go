// Package http provides the careloopd HTTP API: feedback ingestion,
// analytics queries, the operational snapshot, enrichment submission,
// and profile management.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/verdanthealth/careloop/internal/config"
	"github.com/verdanthealth/careloop/internal/downstream"
	"github.com/verdanthealth/careloop/internal/enrichment"
	"github.com/verdanthealth/careloop/internal/learning"
	"github.com/verdanthealth/careloop/internal/monitor"
	"github.com/verdanthealth/careloop/internal/profile"
	"github.com/verdanthealth/careloop/internal/store"
	"github.com/verdanthealth/careloop/internal/vectorstore"
)

// Deps bundles the components the server exposes.
type Deps struct {
	Router    *learning.Router
	Collector *monitor.Collector
	Pool      *enrichment.Pool
	Profiles  *profile.Service
	Store     *store.Store
	Vectors   *vectorstore.Store
	Embedder  downstream.Embedder
	Logger    *zap.Logger
}

// Server serves the careloopd API.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config config.ServerConfig
}

// NewServer creates the API server with all routes registered.
func NewServer(deps Deps, cfg config.ServerConfig) (*Server, error) {
	if deps.Router == nil || deps.Collector == nil || deps.Pool == nil || deps.Profiles == nil ||
		deps.Store == nil || deps.Vectors == nil || deps.Embedder == nil {
		return nil, fmt.Errorf("all server dependencies are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(deps.Logger))

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: deps.Logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/feedback", s.handleFeedback)
	v1.GET("/snapshot", s.handleSnapshot)
	v1.GET("/analytics", s.handleAnalytics)
	v1.POST("/enrich", s.handleEnrich)
	v1.POST("/search", s.handleSearch)
	v1.POST("/decisions", s.handleCreateDecision)
	v1.PUT("/profiles/:id", s.handleSaveProfile)
	v1.DELETE("/profiles/:id", s.handleRevokeConsent)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// FeedbackResponse is the body of POST /api/v1/feedback.
type FeedbackResponse struct {
	Success         bool             `json:"success"`
	QualityScore    float64          `json:"qualityScore"`
	LearningUpdated learning.Updated `json:"learningUpdated"`
}

func (s *Server) handleFeedback(c echo.Context) error {
	var event learning.FeedbackEvent
	if err := c.Bind(&event); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.deps.Router.Route(c.Request().Context(), event)
	if errors.Is(err, learning.ErrInvalidFeedback) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		s.logger.Error("feedback routing failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to process feedback")
	}

	return c.JSON(http.StatusOK, FeedbackResponse{
		Success:         true,
		QualityScore:    result.QualityScore,
		LearningUpdated: result.Updated,
	})
}

func (s *Server) handleSnapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Collector.Collect())
}

func (s *Server) handleAnalytics(c echo.Context) error {
	var sections []string
	if raw := c.QueryParam("sections"); raw != "" {
		sections = strings.Split(raw, ",")
	}
	return c.JSON(http.StatusOK, s.deps.Router.Analytics(sections...))
}

// EnrichRequest is the body of POST /api/v1/enrich. Text is optional;
// for summarize jobs it is stored as the conversation transcript before
// the job is queued.
type EnrichRequest struct {
	Kind      string `json:"kind"`
	SubjectID string `json:"subjectId"`
	Text      string `json:"text,omitempty"`
}

// EnrichResponse is the body of a 202 enrich acceptance.
type EnrichResponse struct {
	JobID string `json:"jobId"`
}

func (s *Server) handleEnrich(c echo.Context) error {
	var req EnrichRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	kind := enrichment.Kind(req.Kind)
	if !kind.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "kind must be summarize or embed")
	}
	if req.SubjectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subjectId is required")
	}

	if kind == enrichment.KindSummarize && req.Text != "" {
		if err := s.deps.Store.SaveTranscript(req.SubjectID, req.Text); err != nil {
			s.logger.Error("failed to save transcript", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to save transcript")
		}
	}

	generation := int64(0)
	if kind == enrichment.KindEmbed {
		p, err := s.deps.Store.GetProfile(req.SubjectID)
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown profile")
		}
		if err != nil {
			s.logger.Error("failed to load profile", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to load profile")
		}
		generation = p.EmbeddingGeneration
	}

	jobID, err := s.deps.Pool.Submit(c.Request().Context(), kind, req.SubjectID, generation)
	if errors.Is(err, enrichment.ErrQueueFull) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "enrichment queue is full")
	}
	if err != nil {
		s.logger.Error("failed to submit job", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to submit job")
	}

	return c.JSON(http.StatusAccepted, EnrichResponse{JobID: jobID})
}

// SearchRequest is the body of POST /api/v1/search. Text is embedded and
// matched against the stored profile and summary vectors.
type SearchRequest struct {
	Text  string `json:"text"`
	Limit int    `json:"limit,omitempty"`
}

// SearchResult is one similarity hit.
type SearchResult struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	SubjectID  string  `json:"subjectId"`
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity"`
}

// SearchResponse is the body of POST /api/v1/search.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}
	if limit > 50 {
		limit = 50
	}

	ctx := c.Request().Context()
	vec, err := s.deps.Embedder.Embed(ctx, req.Text)
	if err != nil {
		s.logger.Error("query embedding failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "embedding service unavailable")
	}

	hits, err := s.deps.Vectors.Query(ctx, vec, limit)
	if err != nil {
		s.logger.Error("vector query failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, SearchResult{
			ID:         h.ID,
			Type:       h.Type,
			SubjectID:  h.SubjectID,
			Content:    h.Content,
			Similarity: h.Similarity,
		})
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}

// DecisionRequest is the body of POST /api/v1/decisions. The chat layer
// records each strategy or mode choice here before feedback can be
// attributed to it.
type DecisionRequest struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Tag          string   `json:"tag"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"maxTokens,omitempty"`
	ToolsEnabled *bool    `json:"toolsEnabled,omitempty"`
}

func (s *Server) handleCreateDecision(c echo.Context) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == "" || req.Tag == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id and tag are required")
	}
	if req.Kind != "strategy" && req.Kind != "mode" {
		return echo.NewHTTPError(http.StatusBadRequest, "kind must be strategy or mode")
	}

	err := s.deps.Store.InsertDecision(store.Decision{
		ID:           req.ID,
		Kind:         req.Kind,
		Tag:          req.Tag,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		ToolsEnabled: req.ToolsEnabled,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		s.logger.Error("failed to insert decision", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record decision")
	}
	return c.NoContent(http.StatusCreated)
}

// ProfileRequest is the body of PUT /api/v1/profiles/:id.
type ProfileRequest struct {
	Text string `json:"text"`
}

// ProfileResponse summarizes a stored profile. The text itself is never
// echoed back.
type ProfileResponse struct {
	ID              string    `json:"id"`
	Consent         bool      `json:"consent"`
	EmbeddingStatus string    `json:"embeddingStatus"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (s *Server) handleSaveProfile(c echo.Context) error {
	var req ProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	p, err := s.deps.Profiles.Save(c.Request().Context(), c.Param("id"), req.Text)
	if errors.Is(err, profile.ErrEmptyProfile) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, enrichment.ErrQueueFull) {
		// The profile write stuck; only the embed scheduling failed.
		return echo.NewHTTPError(http.StatusTooManyRequests, "profile saved but embedding queue is full")
	}
	if err != nil {
		s.logger.Error("failed to save profile", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save profile")
	}

	return c.JSON(http.StatusOK, ProfileResponse{
		ID:              p.ID,
		Consent:         p.Consent,
		EmbeddingStatus: p.EmbeddingStatus,
		UpdatedAt:       p.UpdatedAt,
	})
}

func (s *Server) handleRevokeConsent(c echo.Context) error {
	err := s.deps.Profiles.RevokeConsent(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown profile")
	}
	if err != nil {
		s.logger.Error("failed to revoke consent", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to revoke consent")
	}
	return c.NoContent(http.StatusNoContent)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler (tests).
func (s *Server) Handler() http.Handler {
	return s.echo
}
