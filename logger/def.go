package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logMu sync.RWMutex
	log   *zap.Logger
)

// Init picks the logger by mode: "production" (JSON) or "development"
// (console). An empty level keeps the mode's default.
func Init(mode string, level string) error {
	var cfg zap.Config
	switch mode {
	case "", "production":
		cfg = zap.NewProductionConfig()
	case "development":
		cfg = zap.NewDevelopmentConfig()
	default:
		return fmt.Errorf("unknown log mode %q", mode)
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return err
		}
		cfg.Level = lvl
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	replace(l)
	return nil
}

// InitProduction is what main uses before the configuration is read.
func InitProduction() error {
	return Init("production", "")
}

// replace installs l as the package and zap global logger, flushing the old one.
func replace(l *zap.Logger) {
	logMu.Lock()
	old := log
	log = l
	logMu.Unlock()
	zap.ReplaceGlobals(l)
	if old != nil {
		_ = old.Sync()
	}
}

// Log falls back to zap's no-op global until Init has run.
func Log() *zap.Logger {
	logMu.RLock()
	l := log
	logMu.RUnlock()
	if l == nil {
		return zap.L()
	}
	return l
}

// Stage returns a child logger tagged with a pipeline stage.
func Stage(name string) *zap.Logger {
	return Log().With(zap.String("stage", name))
}

// Sync flushes buffered entries; call it before exit.
func Sync() {
	_ = Log().Sync()
}
