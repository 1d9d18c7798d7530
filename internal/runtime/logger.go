package runtime

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mohammad-safakhou/cortex/config"
)

// NewLogger builds the process logger from the general section. Debug forces
// debug level and a console encoder.
func NewLogger(cfg config.GeneralConfig) (*zap.Logger, error) {
	cfg = cfg.Normalize()
	zc := zap.NewProductionConfig()
	if cfg.LogFormat == "console" || cfg.Debug {
		zc = zap.NewDevelopmentConfig()
	}

	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("general.log_level: %w", err)
	}
	if cfg.Debug {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	// stdout carries run output; logs go to stderr.
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}
