// Package logging defines the narrow structured-logging surface the runtime
// writes to. Components receive a Logger at construction and never build
// one themselves; adapters bridge slog (SlogAdapter) and zerolog
// (ZerologAdapter) so hosts keep whatever logging stack they already run.
package logging

import (
	"log/slog"
)

// Logger is the structured logging contract used by every runtime
// component. Messages are short event names (e.g. "agent.provider_retry");
// keyvals are alternating key/value pairs.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// SlogAdapter forwards runtime log records to a *slog.Logger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps the given slog logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// NewDefaultSlogLogger wraps slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// Debug forwards a debug-level record.
func (a *SlogAdapter) Debug(msg string, keyvals ...any) { a.logger.Debug(msg, keyvals...) }

// Info forwards an info-level record.
func (a *SlogAdapter) Info(msg string, keyvals ...any) { a.logger.Info(msg, keyvals...) }

// Warn forwards a warn-level record.
func (a *SlogAdapter) Warn(msg string, keyvals ...any) { a.logger.Warn(msg, keyvals...) }

// Error forwards an error-level record.
func (a *SlogAdapter) Error(msg string, keyvals ...any) { a.logger.Error(msg, keyvals...) }

// NoOpLogger drops every record. It is the default when no logger is
// configured, and keeps call sites free of nil checks.
type NoOpLogger struct{}

// Debug drops the record.
func (NoOpLogger) Debug(string, ...any) {}

// Info drops the record.
func (NoOpLogger) Info(string, ...any) {}

// Warn drops the record.
func (NoOpLogger) Warn(string, ...any) {}

// Error drops the record.
func (NoOpLogger) Error(string, ...any) {}
