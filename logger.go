package eventide

import (
	"context"
	"log/slog"
)

// Logger defines the logging interface used by the message store and consumers.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...interface{}) {}
func (l *noopLogger) Info(msg string, args ...interface{})  {}
func (l *noopLogger) Warn(msg string, args ...interface{})  {}
func (l *noopLogger) Error(msg string, args ...interface{}) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return &noopLogger{}
}

// SlogLogger adapts a *slog.Logger to Logger. Arguments are slog key-value
// pairs or slog.Attr values.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger wraps l. A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{log: l}
}

// Debug logs msg at debug level.
func (l *SlogLogger) Debug(msg string, args ...interface{}) {
	l.log.Log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info logs msg at info level.
func (l *SlogLogger) Info(msg string, args ...interface{}) {
	l.log.Log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn logs msg at warn level.
func (l *SlogLogger) Warn(msg string, args ...interface{}) {
	l.log.Log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error logs msg at error level.
func (l *SlogLogger) Error(msg string, args ...interface{}) {
	l.log.Log(context.Background(), slog.LevelError, msg, args...)
}

// With returns a SlogLogger that includes args in every record.
func (l *SlogLogger) With(args ...interface{}) *SlogLogger {
	return &SlogLogger{log: l.log.With(args...)}
}
