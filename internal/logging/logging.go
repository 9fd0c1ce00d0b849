// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured, component-scoped logger used by
// every long-running piece of the orchestrator (daemon, controller,
// correlator, autonomy controller, each log source).
package logging

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
)

// Level mirrors charmbracelet/log's levels so callers never import that
// package directly.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) toCharm() charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Config controls how a Logger renders output.
type Config struct {
	Output io.Writer
	Level  Level
	JSON   bool
	Syslog SyslogConfig
}

// DefaultConfig returns the logger configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		Output: os.Stderr,
		Level:  LevelInfo,
		JSON:   false,
		Syslog: DefaultSyslogConfig(),
	}
}

// Logger wraps a charmbracelet/log.Logger with the component/field
// conventions used throughout this codebase.
type Logger struct {
	base *charmlog.Logger
}

// New builds a Logger from Config. When cfg.Syslog.Enabled, log lines are
// additionally mirrored to the configured syslog target.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Syslog.Enabled {
		if w, err := NewSyslogWriter(cfg.Syslog); err == nil {
			out = io.MultiWriter(out, w)
		}
	}

	opts := charmlog.Options{
		ReportTimestamp: true,
		Formatter:       charmlog.TextFormatter,
	}
	if cfg.JSON {
		opts.Formatter = charmlog.JSONFormatter
	}
	base := charmlog.NewWithOptions(out, opts)
	base.SetLevel(cfg.Level.toCharm())
	return &Logger{base: base}
}

// WithComponent returns a child logger tagged with the given component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{base: l.base.With("component", name)}
}

// WithError returns a child logger carrying the error as a field.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{base: l.base.With("error", err.Error())}
}

// WithFields returns a child logger carrying the given key/value pairs.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	kv := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &Logger{base: l.base.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.base.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.base.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.base.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.base.Error(msg, kv...) }

var (
	defaultLogger atomic.Pointer[Logger]
	defaultOnce   sync.Once
)

func defaultLog() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	defaultOnce.Do(func() {
		if defaultLogger.Load() == nil {
			defaultLogger.Store(New(DefaultConfig()))
		}
	})
	return defaultLogger.Load()
}

// SetDefault installs l as the package-level default logger.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// WithComponent returns a component-scoped child of the package default logger.
func WithComponent(name string) *Logger { return defaultLog().WithComponent(name) }

func Debug(msg string, kv ...any) { defaultLog().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { defaultLog().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { defaultLog().Warn(msg, kv...) }
func Error(msg string, kv ...any) { defaultLog().Error(msg, kv...) }
