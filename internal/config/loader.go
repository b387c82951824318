package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// envPrefix is stripped from environment variables before mapping
	// them onto config keys: CARELOOP_QUEUE_MAX_DEPTH -> queue.max_depth.
	envPrefix = "CARELOOP_"
)

// compoundFields maps multi-word leaf field names so the env transformer
// can tell a section separator from an underscore inside a field name.
var compoundFields = []string{
	"max_depth",
	"max_attempts",
	"retry_base_delay",
	"breaker_threshold",
	"breaker_cooldown",
	"retention_max_age",
	"base_url",
	"api_key",
	"rate_limit",
	"data_dir",
	"sampling_rate",
	"vector_size",
}

// Load loads configuration from the YAML file at configPath (if it exists),
// then overrides with CARELOOP_* environment variables, on top of defaults.
//
// If configPath is empty, ~/.config/careloop/config.yaml is used.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "careloop", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file exceeds %d bytes: %d", maxConfigFileSize, info.Size())
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// transformEnvKey maps CARELOOP_* environment variables to config keys.
//
// Examples:
//
//	CARELOOP_SERVER_PORT                       -> server.port
//	CARELOOP_QUEUE_MAX_DEPTH                   -> queue.max_depth
//	CARELOOP_ENRICHMENT_SUMMARIZE_MAX_ATTEMPTS -> enrichment.summarize.max_attempts
func transformEnvKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))

	// Protect compound leaf fields from being split on their underscores.
	for _, field := range compoundFields {
		if strings.HasSuffix(s, field) {
			prefix := strings.TrimSuffix(s, field)
			return strings.ReplaceAll(strings.TrimSuffix(prefix, "_"), "_", ".") + "." + field
		}
	}

	return strings.ReplaceAll(s, "_", ".")
}
