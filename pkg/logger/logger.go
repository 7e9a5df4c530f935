// Package logger holds the process-wide zap logger.
// Components receive a *zap.SugaredLogger by injection; this package only
// builds the root one and flushes it on shutdown.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	root *zap.SugaredLogger
	mu   sync.Mutex
)

// Init builds the root logger. Level is one of debug, info, warn, error;
// development switches to the human readable console encoder.
func Init(level string, development bool) (*zap.SugaredLogger, error) {
	mu.Lock()
	defer mu.Unlock()

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	root = l.Sugar()
	return root, nil
}

// Get returns the root logger, or a no-op logger before Init.
func Get() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		return zap.NewNop().Sugar()
	}
	return root
}

// Sync flushes any buffered log entries
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if root != nil {
		_ = root.Sync()
	}
}
