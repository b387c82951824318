// Package logging provides structured logging for careloopd.
//
// Logging wraps Zap with JSON or console output and level-aware sampling.
// Errors are never sampled. Components receive a *zap.Logger through their
// constructors; nothing creates loggers ad hoc.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is "json" or "console".
	Format string
	// DisableSampling turns off log volume reduction (useful when debugging).
	DisableSampling bool
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
	}
}

// NewLogger creates a zap logger from config.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	switch cfg.Format {
	case "", "json":
		zapCfg.Encoding = "json"
	case "console":
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q (want json or console)", cfg.Format)
	}

	if cfg.DisableSampling {
		zapCfg.Sampling = nil
	} else {
		// First 100 entries per second per level, then 1 in 10.
		// Errors bypass sampling below.
		zapCfg.Sampling = &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 10,
		}
	}

	logger, err := zapCfg.Build(zap.WrapCore(neverSampleErrors))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

// neverSampleErrors layers an unsampled core over the sampled one so that
// entries at Error and above are always written.
func neverSampleErrors(core zapcore.Core) zapcore.Core {
	return &errorPassthroughCore{Core: core}
}

type errorPassthroughCore struct {
	zapcore.Core
}

func (c *errorPassthroughCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ent.Level >= zapcore.ErrorLevel && c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return c.Core.Check(ent, ce)
}

func (c *errorPassthroughCore) With(fields []zapcore.Field) zapcore.Core {
	return &errorPassthroughCore{Core: c.Core.With(fields)}
}
