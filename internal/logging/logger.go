// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured logger used across every
// subsystem of the firewall daemon: the syslog tail, the enforcement
// engine, the block lifecycle manager, the scheduler, and the command
// server all report recoverable errors and operational events through
// this single sink.
package logging

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
)

// Config controls how a Logger renders and where it writes.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// Output is the destination writer. Defaults to os.Stderr.
	Output io.Writer
	// JSON selects machine-readable output instead of the default
	// human-readable formatter.
	JSON bool
	// ReportTimestamp includes a timestamp on every line.
	ReportTimestamp bool
	// ReportCaller includes the calling file:line on every line.
	ReportCaller bool
}

// DefaultConfig returns the logger configuration used when the daemon is
// started without explicit overrides: info level, human-readable,
// timestamped, writing to stderr.
func DefaultConfig() Config {
	return Config{
		Level:           "info",
		Output:          os.Stderr,
		JSON:            false,
		ReportTimestamp: true,
		ReportCaller:    false,
	}
}

// Logger wraps a charmbracelet/log.Logger with the component-scoping and
// package-level convenience functions the rest of the daemon relies on.
type Logger struct {
	inner *charmlog.Logger
}

// New builds a Logger from the given Config.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := charmlog.Options{
		ReportTimestamp: cfg.ReportTimestamp,
		ReportCaller:    cfg.ReportCaller,
	}
	if cfg.JSON {
		opts.Formatter = charmlog.JSONFormatter
	}

	l := charmlog.NewWithOptions(out, opts)
	l.SetLevel(parseLevel(cfg.Level))

	return &Logger{inner: l}
}

func parseLevel(level string) charmlog.Level {
	switch level {
	case "debug":
		return charmlog.DebugLevel
	case "warn", "warning":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// WithComponent returns a child Logger that tags every line with
// component=<name>.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{inner: l.inner.With("component", name)}
}

// With returns a child Logger with the given key/value pairs attached to
// every subsequent line.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{inner: l.inner.With(keyvals...)}
}

// SetLevel adjusts the minimum level this logger emits.
func (l *Logger) SetLevel(level string) {
	l.inner.SetLevel(parseLevel(level))
}

func (l *Logger) Debug(msg string, keyvals ...any) { l.inner.Debug(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...any)  { l.inner.Info(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...any)  { l.inner.Warn(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...any) { l.inner.Error(msg, keyvals...) }

var defaultLogger atomic.Pointer[Logger]
var defaultOnce sync.Once

// Default returns the process-wide default Logger, initializing it with
// DefaultConfig() on first use.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLogger.Store(New(DefaultConfig()))
	})
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide default Logger. Called once at
// startup after the daemon has parsed its configuration.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// Package-level convenience functions: callers that don't hold a
// component-scoped Logger can log through the default one directly.

func Debug(msg string, keyvals ...any) { Default().Debug(msg, keyvals...) }
func Info(msg string, keyvals ...any)  { Default().Info(msg, keyvals...) }
func Warn(msg string, keyvals ...any)  { Default().Warn(msg, keyvals...) }
func Error(msg string, keyvals ...any) { Default().Error(msg, keyvals...) }
