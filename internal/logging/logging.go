package logging

import (
	"log/slog"
	"os"
)

// Logger is the application logger. It wraps slog so call sites can pass
// alternating key/value pairs without depending on slog directly.
type Logger struct {
	inner *slog.Logger
}

// NewLogger creates a new Logger writing structured text to stdout.
func NewLogger() *Logger {
	return &Logger{
		inner: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
}

// With returns a logger that always carries the given key/value pairs.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	l.inner.Info(msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.inner.Warn(msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.inner.Error(msg, args...)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.inner.Debug(msg, args...)
}
