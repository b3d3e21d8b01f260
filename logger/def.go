package logger

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logMu sync.RWMutex
	log   *zap.Logger
)

// Init builds the process logger. development switches to the console encoder,
// level is a zap level name ("debug", "info", ...); empty means info.
func Init(level string, development bool) error {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", level)
		}
		cfg.Level = lvl
	}
	l, err := cfg.Build()
	if err != nil {
		return errors.Wrap(err, "can't build logger")
	}
	setLogger(l)
	return nil
}

// setLogger replaces the zap globals so zap.L()/zap.S() return the same instance
func setLogger(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	zap.ReplaceGlobals(l)
	if log != nil {
		_ = log.Sync()
	}
	log = l
}

// Log returns the process logger, never nil
func Log() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		return log
	}
	return zap.L()
}

// Named returns a child logger for one component.
func Named(component string) *zap.Logger {
	return Log().Named(component)
}

// Sync flushes buffered entries
func Sync() {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
