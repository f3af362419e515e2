// Package utils provides logging and identifier helpers for the Raindrop MCP server.
//
// This file implements a zerolog-backed logger that is constructed once in main
// and passed to every component. Call sites log with a message and a map of
// fields, the same shape everywhere in the codebase.
package utils

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogLevel represents the logging level
type LogLevel string

// Log levels
const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
	FatalLevel LogLevel = "fatal"
)

// contextKey is a type for context value keys
type contextKey string

const requestIDKey contextKey = "request_id"

// Logger wraps a zerolog.Logger with map-field helpers
type Logger struct {
	zl zerolog.Logger
}

// NewLogger creates a logger writing to out. A nil writer means stderr,
// since stdout carries the protocol stream.
func NewLogger(level LogLevel, pretty bool, out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	zl := zerolog.New(out).
		Level(ParseLogLevel(level)).
		With().
		Timestamp().
		Logger()

	return &Logger{zl: zl}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// ParseLogLevel converts our LogLevel to zerolog.Level
func ParseLogLevel(level LogLevel) zerolog.Level {
	switch LogLevel(strings.ToLower(string(level))) {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel, "warning":
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel, "critical":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Zerolog exposes the underlying logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// With returns a child logger carrying the given fields on every event
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{zl: l.zl.With().Fields(fields).Logger()}
}

// Component returns a child logger tagged with a component name
func (l *Logger) Component(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

// Debug logs a debug message with additional fields
func (l *Logger) Debug(msg string, fields map[string]interface{}) {
	l.zl.Debug().Fields(fields).Msg(msg)
}

// Info logs an info message with additional fields
func (l *Logger) Info(msg string, fields map[string]interface{}) {
	l.zl.Info().Fields(fields).Msg(msg)
}

// Warn logs a warning message with additional fields
func (l *Logger) Warn(msg string, fields map[string]interface{}) {
	l.zl.Warn().Fields(fields).Msg(msg)
}

// Error logs an error message with additional fields
func (l *Logger) Error(err error, msg string, fields map[string]interface{}) {
	l.zl.Error().Err(err).Fields(fields).Msg(msg)
}

// WithContext stores the logger in ctx
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return l.zl.WithContext(ctx)
}

// FromContext retrieves the logger stored in ctx, or fallback when none is present
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	zl := zerolog.Ctx(ctx)
	if zl == nil || zl.GetLevel() == zerolog.Disabled {
		return fallback
	}
	return &Logger{zl: *zl}
}

// WithRequestID adds a request ID to the logger in the context
func WithRequestID(ctx context.Context, reqID string) context.Context {
	logger := zerolog.Ctx(ctx).With().Str("request_id", reqID).Logger()
	ctx = context.WithValue(ctx, requestIDKey, reqID)
	return logger.WithContext(ctx)
}

// RequestID returns the request ID stored by WithRequestID
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// NewRequestID generates a random request identifier
func NewRequestID() string {
	return uuid.NewString()
}

// Timer is a utility for measuring and logging execution times
type Timer struct {
	Name      string
	StartTime time.Time
	logger    *Logger
}

// NewTimer creates a new timer with the given name
func NewTimer(logger *Logger, name string) *Timer {
	return &Timer{
		Name:      name,
		StartTime: time.Now(),
		logger:    logger,
	}
}

// Stop stops the timer and logs the elapsed time at debug level
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.StartTime)
	t.logger.Debug(fmt.Sprintf("%s completed", t.Name), map[string]interface{}{
		"duration_ms": elapsed.Milliseconds(),
	})
	return elapsed
}
