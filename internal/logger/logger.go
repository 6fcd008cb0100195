// Package logger builds the zap.Logger every other package logs through.
package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a zap.Logger for level ("debug", "info", "warn", "error").
// Production encoding is used for info and above; debug gets the more
// verbose development encoder with caller info.
func New(level string) (*zap.Logger, error) {
	var cfg zap.Config
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	l, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg.Level = l

	return cfg.Build()
}
