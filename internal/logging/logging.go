// Package logging builds the zap loggers used by every powermatcher component.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger for the given mode.
// "prod"/"production" selects JSON output at info level; "", "dev" and
// "development" select the human-readable encoder at debug level.
func New(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "", "dev", "development":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log mode %q (expected development or production)", mode)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// Component returns a child logger named after a cluster component.
func Component(base *zap.Logger, component, id string) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return base.Named(component).With(zap.String("node", id))
}
