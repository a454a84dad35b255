package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger defines the interface for logging messages.
type Logger interface {
	Error(msg string, err error)
	Warn(msg string)
	Info(msg string)
	Debug(msg string)
}

type zapLogger struct {
	logger *zap.Logger
}

// Options controls how the zap backend is built.
type Options struct {
	Level       string // debug, info, warn, error
	Development bool   // console encoder instead of JSON
}

// New builds a Logger backed by zap.
func New(opts Options) (Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Level != "" {
		parsed, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	cfg := zap.NewProductionConfig()
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level

	// Skip the wrapper frame so caller points at the call site.
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}
	return &zapLogger{logger: z}, nil
}

// NewNop returns a Logger that discards everything. Used by tests.
func NewNop() Logger {
	return &zapLogger{logger: zap.NewNop()}
}

// Sync flushes buffered log entries, if the logger supports it.
func Sync(l Logger) {
	if zl, ok := l.(*zapLogger); ok {
		_ = zl.logger.Sync()
	}
}

// Error logs an error message. err may be nil.
func (l *zapLogger) Error(msg string, err error) {
	if err == nil {
		l.logger.Error(msg)
		return
	}
	l.logger.Error(msg, zap.Error(err))
}

// Warn logs a warning message.
func (l *zapLogger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Info logs an informational message.
func (l *zapLogger) Info(msg string) {
	l.logger.Info(msg)
}

// Debug logs a debug message.
func (l *zapLogger) Debug(msg string) {
	l.logger.Debug(msg)
}
