// Package logging builds the zap loggers used across execflow.
//
// Every component accepts a *zap.Logger and falls back to a no-op logger when
// given nil, so logging is opt-in.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
	"github.com/vnykmshr/execflow/pkg/common/validation"
)

// Standard field names for structured log entries.
const (
	FieldScheduler   = "scheduler"
	FieldExecutionID = "execution_id"
	FieldStatus      = "status"
	FieldFrom        = "from"
	FieldPolicy      = "policy"
	FieldMode        = "mode"
	FieldCacheKey    = "cache_key"
	FieldDurationMS  = "duration_ms"
	FieldActive      = "active"
	FieldQueued      = "queued"
	FieldCancelled   = "cancelled"
	FieldWorkers     = "workers"
	FieldComponent   = "component"
)

// Config selects how log entries are produced.
type Config struct {
	// Level is the minimum enabled level: debug, info, warn or error (default info)
	Level string `mapstructure:"level"`

	// Development enables zap's development mode: stack traces on warnings
	// and panics on DPanic
	Development bool `mapstructure:"development"`

	// Encoding is "json" or "console" (default json)
	Encoding string `mapstructure:"encoding"`
}

// DefaultConfig returns JSON logging at info level.
func DefaultConfig() Config {
	return Config{Level: "info", Encoding: "json"}
}

// New builds a logger writing to stderr.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "json"
	}

	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, gferrors.NewValidationError("logging", "level", cfg.Level, "unknown level").
			WithHint("use debug, info, warn or error")
	}
	if err := validation.ValidateOneOf("logging", "encoding", cfg.Encoding, "json", "console"); err != nil {
		return nil, err
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = strings.ToLower(cfg.Encoding)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		return nil, gferrors.NewOperationError("logging", "New", err)
	}
	return logger, nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
