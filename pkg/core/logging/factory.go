// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     logging
// Description: Factory functions for component loggers backed by zerolog
// Created:     2025-12-06
// License:     MIT
// ============================================================================

package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	rootMu sync.RWMutex
	root   = newRoot(Options{})
)

// Options configures the process-wide log sink
type Options struct {
	// Level (debug, info, warn, error)
	Level string

	// Format is "console" or "json" (default: console)
	Format string

	// Output defaults to stderr
	Output io.Writer
}

func newRoot(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).
		Level(ParseLevel(opts.Level).zerolog()).
		With().Timestamp().Logger()
}

// Configure replaces the global sink. Loggers created afterwards use it.
func Configure(opts Options) {
	rootMu.Lock()
	defer rootMu.Unlock()
	root = newRoot(opts)
}

// Logger is a named key/value logger
type Logger struct {
	zl   zerolog.Logger
	name string
}

// New creates a logger for the named component
func New(name string) *Logger {
	rootMu.RLock()
	base := root
	rootMu.RUnlock()

	return &Logger{
		zl:   base.With().Str("component", name).Logger(),
		name: name,
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), name: "nop"}
}

// Name returns the component name
func (l *Logger) Name() string {
	return l.name
}

// WithLevel returns a new logger with the specified minimum level
func (l *Logger) WithLevel(level Level) *Logger {
	return &Logger{
		zl:   l.zl.Level(level.zerolog()),
		name: l.name,
	}
}

// With returns a child logger carrying the given key/value pairs
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		zl:   l.zl.With().Fields(toFields(keysAndValues...)).Logger(),
		name: l.name,
	}
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.zl.Debug().Fields(toFields(keysAndValues...)).Msg(msg)
}

// Info logs an info message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.zl.Info().Fields(toFields(keysAndValues...)).Msg(msg)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.zl.Warn().Fields(toFields(keysAndValues...)).Msg(msg)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.zl.Error().Fields(toFields(keysAndValues...)).Msg(msg)
}

// toFields converts key-value pairs to a zerolog field map.
// Non-string keys and a trailing key without value are skipped.
func toFields(keysAndValues ...interface{}) map[string]interface{} {
	if len(keysAndValues) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr && err != nil {
			fields[key] = err.Error()
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}
