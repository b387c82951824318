package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.Queue.MaxDepth)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 3, cfg.Enrichment.Summarize.MaxAttempts)
	assert.Equal(t, "linear", cfg.Enrichment.Summarize.Backoff)
	assert.Equal(t, "exponential", cfg.Enrichment.Embed.Backoff)
	assert.Equal(t, 5, cfg.Enrichment.Summarize.BreakerThreshold)
	assert.Equal(t, 1.0, cfg.Learning.SamplingRate)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero queue depth",
			mutate:  func(c *Config) { c.Queue.MaxDepth = 0 },
			wantErr: "queue.max_depth",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Queue.Workers = 0 },
			wantErr: "queue.workers",
		},
		{
			name:    "negative sampling rate",
			mutate:  func(c *Config) { c.Learning.SamplingRate = -0.1 },
			wantErr: "sampling_rate",
		},
		{
			name:    "sampling rate above one",
			mutate:  func(c *Config) { c.Learning.SamplingRate = 1.5 },
			wantErr: "sampling_rate",
		},
		{
			name:    "unknown backoff mode",
			mutate:  func(c *Config) { c.Enrichment.Summarize.Backoff = "fibonacci" },
			wantErr: "backoff",
		},
		{
			name:    "zero max attempts",
			mutate:  func(c *Config) { c.Enrichment.Embed.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
		{
			name:    "zero breaker threshold",
			mutate:  func(c *Config) { c.Enrichment.Embed.BreakerThreshold = 0 },
			wantErr: "breaker_threshold",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = -1 },
			wantErr: "server.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
queue:
  max_depth: 10
enrichment:
  summarize:
    timeout: 45s
    max_attempts: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Queue.MaxDepth)
	assert.Equal(t, 45*time.Second, cfg.Enrichment.Summarize.Timeout.Duration())
	assert.Equal(t, 5, cfg.Enrichment.Summarize.MaxAttempts)
	// Unset fields keep defaults.
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, "linear", cfg.Enrichment.Summarize.Backoff)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  max_depth: 10\n"), 0o600))

	t.Setenv("CARELOOP_QUEUE_MAX_DEPTH", "25")
	t.Setenv("CARELOOP_ENRICHMENT_EMBED_BREAKER_THRESHOLD", "9")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Queue.MaxDepth)
	assert.Equal(t, 9, cfg.Enrichment.Embed.BreakerThreshold)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, NewDefaultConfig().Queue.MaxDepth, cfg.Queue.MaxDepth)
}

func TestLoadInvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  max_depth: -1\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestTransformEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CARELOOP_SERVER_PORT", "server.port"},
		{"CARELOOP_QUEUE_MAX_DEPTH", "queue.max_depth"},
		{"CARELOOP_ENRICHMENT_SUMMARIZE_MAX_ATTEMPTS", "enrichment.summarize.max_attempts"},
		{"CARELOOP_ENRICHMENT_SUMMARIZE_RETRY_BASE_DELAY", "enrichment.summarize.retry_base_delay"},
		{"CARELOOP_LEARNING_SAMPLING_RATE", "learning.sampling_rate"},
		{"CARELOOP_LOGGING_LEVEL", "logging.level"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, transformEnvKey(tt.in), tt.in)
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("sk-live-abc123")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-live-abc123", s.Value())
	assert.True(t, s.IsSet())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))

	assert.False(t, Secret("").IsSet())
	assert.Equal(t, "", Secret("").String())
}
