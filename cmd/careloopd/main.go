// Careloopd is the adaptive-learning daemon for an AI-assisted clinical
// chat system. It runs the background enrichment pipeline (conversation
// summarization, profile embedding) and the feedback-routing learning
// engine, and serves both over an HTTP API.
//
// Configuration is loaded from an optional YAML file with CARELOOP_*
// environment overrides.
//
// Usage:
//
//	# Start with defaults
//	careloopd
//
//	# Start with a config file
//	careloopd -config /etc/careloop/config.yaml
//
//	# Configure via environment
//	CARELOOP_SERVER_PORT=9090 careloopd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verdanthealth/careloop/internal/config"
	"github.com/verdanthealth/careloop/internal/conversation"
	"github.com/verdanthealth/careloop/internal/downstream"
	"github.com/verdanthealth/careloop/internal/enrichment"
	careloophttp "github.com/verdanthealth/careloop/internal/http"
	"github.com/verdanthealth/careloop/internal/learning"
	"github.com/verdanthealth/careloop/internal/logging"
	"github.com/verdanthealth/careloop/internal/monitor"
	"github.com/verdanthealth/careloop/internal/profile"
	"github.com/verdanthealth/careloop/internal/store"
	"github.com/verdanthealth/careloop/internal/telemetry"
	"github.com/verdanthealth/careloop/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  careloopd            Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  careloopd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Shutdown complete")
}

func printVersion() {
	fmt.Printf("careloopd by Verdant Health\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every component and blocks until ctx is canceled:
// configuration, logger, telemetry, SQLite store, vector store,
// downstream clients, the enrichment worker pool, the learning router
// (with aggregates rebuilt from persisted outcomes), and the HTTP API.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting careloopd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Int("queue_max_depth", cfg.Queue.MaxDepth),
		zap.Int("workers", cfg.Queue.Workers),
	)

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Insecure: cfg.Telemetry.Insecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		_ = st.Close()
	}()

	vecs, err := vectorstore.New(cfg.Vector, logger)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}

	summarizer, err := downstream.NewSummarizer(cfg.Enrichment.Summarizer)
	if err != nil {
		return fmt.Errorf("creating summarizer client: %w", err)
	}
	embedder, err := downstream.NewEmbedder(cfg.Enrichment.Embedder)
	if err != nil {
		return fmt.Errorf("creating embedder client: %w", err)
	}

	pool, err := buildPool(cfg, st, vecs, summarizer, embedder, logger)
	if err != nil {
		return fmt.Errorf("building worker pool: %w", err)
	}
	if _, err := pool.Recover(ctx); err != nil {
		return fmt.Errorf("recovering persisted jobs: %w", err)
	}

	profiles, err := profile.NewService(st, pool, vecs, logger)
	if err != nil {
		return fmt.Errorf("creating profile service: %w", err)
	}

	router := learning.NewRouter(st, logger,
		learning.WithSamplingRate(cfg.Learning.SamplingRate))
	if err := router.Rebuild(); err != nil {
		return fmt.Errorf("rebuilding learning aggregates: %w", err)
	}

	collector := monitor.NewCollector(pool, cfg)

	srv, err := careloophttp.NewServer(careloophttp.Deps{
		Router:    router,
		Collector: collector,
		Pool:      pool,
		Profiles:  profiles,
		Store:     st,
		Vectors:   vecs,
		Embedder:  embedder,
		Logger:    logger,
	}, cfg.Server)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pool.Run(gctx)
	})

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildPool assembles the enrichment worker pool with the summarize and
// embed executors, each with its own timeout, retry policy, and breaker.
func buildPool(cfg *config.Config, st *store.Store, vecs *vectorstore.Store, summarizer downstream.Summarizer, embedder downstream.Embedder, logger *zap.Logger) (*enrichment.Pool, error) {
	pool, err := enrichment.NewPool(enrichment.NewQueue(cfg.Queue.MaxDepth), st, logger,
		enrichment.WithWorkers(cfg.Queue.Workers),
		enrichment.WithRetention(cfg.Enrichment.RetentionMaxAge.Duration()),
	)
	if err != nil {
		return nil, err
	}

	summarizeExec, err := conversation.NewExecutor(st, summarizer, embedder, vecs, logger)
	if err != nil {
		return nil, err
	}
	if err := pool.RegisterDependency(enrichment.KindSummarize,
		dependency(cfg.Enrichment.Summarize, summarizeExec)); err != nil {
		return nil, err
	}

	embedExec, err := profile.NewEmbedExecutor(st, embedder, vecs, logger)
	if err != nil {
		return nil, err
	}
	embedDep := dependency(cfg.Enrichment.Embed, embedExec)
	embedDep.OnPermanent = embedExec.MarkFailed
	if err := pool.RegisterDependency(enrichment.KindEmbed, embedDep); err != nil {
		return nil, err
	}

	return pool, nil
}

func dependency(dep config.DependencyConfig, exec enrichment.Executor) enrichment.Dependency {
	return enrichment.Dependency{
		Executor: exec,
		Timeout:  dep.Timeout.Duration(),
		Policy: enrichment.RetryPolicy{
			MaxAttempts: dep.MaxAttempts,
			BaseDelay:   dep.RetryBaseDelay.Duration(),
			Mode:        enrichment.BackoffMode(dep.Backoff),
		},
		Breaker: enrichment.NewBreaker(dep.BreakerThreshold, dep.BreakerCooldown.Duration()),
	}
}
