// Package logging собирает zap-логгер по режиму и уровню из конфигурации.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New: mode "development": консольный вывод, иначе JSON production.
// Пустой level оставляет уровень режима.
func New(mode, level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch mode {
	case "development":
		cfg = zap.NewDevelopmentConfig()
	case "production", "":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log mode %q", mode)
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}
