// Package config provides configuration loading for careloopd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the daemon.
//
// Precedence (highest to lowest): environment variables, YAML config file,
// hardcoded defaults. Components receive the sections they need through
// their constructors; nothing reads the process environment directly.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Storage    StorageConfig    `koanf:"storage"`
	Queue      QueueConfig      `koanf:"queue"`
	Enrichment EnrichmentConfig `koanf:"enrichment"`
	Learning   LearningConfig   `koanf:"learning"`
	Vector     VectorConfig     `koanf:"vector"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig controls the OpenTelemetry metrics exporter.
type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	Protocol string `koanf:"protocol"` // "grpc" or "http"
	Insecure bool   `koanf:"insecure"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DataDir is the directory for the SQLite database.
	// Pass ":memory:" for an in-memory database (tests).
	DataDir string `koanf:"data_dir"`
}

// QueueConfig holds enrichment queue settings.
type QueueConfig struct {
	// MaxDepth is the backpressure limit: submissions beyond this
	// many pending jobs are rejected with ErrQueueFull.
	MaxDepth int `koanf:"max_depth"`

	// Workers is the size of the worker pool.
	Workers int `koanf:"workers"`
}

// DependencyConfig holds per-dependency-kind enrichment settings.
// Summarization and embedding have independent latency and reliability
// characteristics, so each gets its own timeout, retry, and breaker knobs.
type DependencyConfig struct {
	Timeout          Duration `koanf:"timeout"`
	MaxAttempts      int      `koanf:"max_attempts"`
	RetryBaseDelay   Duration `koanf:"retry_base_delay"`
	Backoff          string   `koanf:"backoff"` // "linear" or "exponential"
	BreakerThreshold int      `koanf:"breaker_threshold"`
	BreakerCooldown  Duration `koanf:"breaker_cooldown"`
}

// EnrichmentConfig holds per-kind enrichment pipeline settings.
type EnrichmentConfig struct {
	Summarize DependencyConfig `koanf:"summarize"`
	Embed     DependencyConfig `koanf:"embed"`

	// RetentionMaxAge bounds how long terminal job records are kept.
	RetentionMaxAge Duration `koanf:"retention_max_age"`

	Summarizer SummarizerConfig `koanf:"summarizer"`
	Embedder   EmbedderConfig   `koanf:"embedder"`
}

// SummarizerConfig configures the downstream summarization endpoint.
type SummarizerConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  Secret `koanf:"api_key"`
	Model   string `koanf:"model"`
	// RateLimit is requests per second against the endpoint.
	RateLimit float64 `koanf:"rate_limit"`
}

// EmbedderConfig configures the downstream embedding endpoint.
type EmbedderConfig struct {
	BaseURL   string  `koanf:"base_url"`
	APIKey    Secret  `koanf:"api_key"`
	Model     string  `koanf:"model"`
	RateLimit float64 `koanf:"rate_limit"`
}

// LearningConfig holds online-learning settings.
type LearningConfig struct {
	// SamplingRate is the fraction of feedback events fully recorded
	// as outcome rows. Events outside the sample are still counted.
	SamplingRate float64 `koanf:"sampling_rate"`
}

// VectorConfig holds embedded vector store settings.
type VectorConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 9180,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Protocol: "grpc",
		},
		Storage: StorageConfig{
			DataDir: "~/.local/share/careloop",
		},
		Queue: QueueConfig{
			MaxDepth: 100,
			Workers:  4,
		},
		Enrichment: EnrichmentConfig{
			Summarize: DependencyConfig{
				Timeout:          Duration(30 * time.Second),
				MaxAttempts:      3,
				RetryBaseDelay:   Duration(2 * time.Second),
				Backoff:          "linear",
				BreakerThreshold: 5,
				BreakerCooldown:  Duration(60 * time.Second),
			},
			Embed: DependencyConfig{
				Timeout:          Duration(10 * time.Second),
				MaxAttempts:      4,
				RetryBaseDelay:   Duration(time.Second),
				Backoff:          "exponential",
				BreakerThreshold: 5,
				BreakerCooldown:  Duration(30 * time.Second),
			},
			RetentionMaxAge: Duration(7 * 24 * time.Hour),
			Summarizer: SummarizerConfig{
				BaseURL:   "https://api.anthropic.com",
				Model:     "claude-3-5-haiku-20241022",
				RateLimit: 2,
			},
			Embedder: EmbedderConfig{
				BaseURL:   "http://localhost:8900",
				Model:     "bge-small-en-v1.5",
				RateLimit: 10,
			},
		},
		Learning: LearningConfig{
			SamplingRate: 1.0,
		},
		Vector: VectorConfig{
			Path:       "~/.local/share/careloop/vectors",
			Collection: "careloop_profiles",
			VectorSize: 384,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if c.Queue.MaxDepth <= 0 {
		return fmt.Errorf("queue.max_depth must be positive, got %d", c.Queue.MaxDepth)
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive, got %d", c.Queue.Workers)
	}
	if c.Learning.SamplingRate < 0 || c.Learning.SamplingRate > 1 {
		return fmt.Errorf("learning.sampling_rate must be in [0, 1], got %f", c.Learning.SamplingRate)
	}
	for name, dep := range map[string]DependencyConfig{
		"summarize": c.Enrichment.Summarize,
		"embed":     c.Enrichment.Embed,
	} {
		if err := dep.validate(); err != nil {
			return fmt.Errorf("enrichment.%s: %w", name, err)
		}
	}
	return nil
}

func (d DependencyConfig) validate() error {
	if d.Timeout.Duration() <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if d.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive, got %d", d.MaxAttempts)
	}
	if d.RetryBaseDelay.Duration() <= 0 {
		return fmt.Errorf("retry_base_delay must be positive")
	}
	if d.Backoff != "linear" && d.Backoff != "exponential" {
		return fmt.Errorf("backoff must be %q or %q, got %q", "linear", "exponential", d.Backoff)
	}
	if d.BreakerThreshold <= 0 {
		return fmt.Errorf("breaker_threshold must be positive, got %d", d.BreakerThreshold)
	}
	if d.BreakerCooldown.Duration() <= 0 {
		return fmt.Errorf("breaker_cooldown must be positive")
	}
	return nil
}
