// Package logging provides structured component logging for the session
// core, wrapping log/slog with optional NATS publishing for live log and
// event streaming.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Level represents the severity level of a log entry
type Level string

const (
	// LevelDebug represents debug-level logs
	LevelDebug Level = "DEBUG"
	// LevelInfo represents informational logs
	LevelInfo Level = "INFO"
	// LevelWarn represents warning logs
	LevelWarn Level = "WARN"
	// LevelError represents error logs
	LevelError Level = "ERROR"
)

// Entry represents a structured log entry that can be published to NATS
// for real-time streaming by diagnostic consumers.
type Entry struct {
	Timestamp string `json:"timestamp"` // RFC3339 format
	Level     Level  `json:"level"`
	Component string `json:"component"`
	Instance  string `json:"instance"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"` // error detail for ERROR entries
}

// Event is a structured domain event (e.g. a connection state change)
// published alongside logs for live consumers.
type Event struct {
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component"`
	Instance  string         `json:"instance"`
	Kind      string         `json:"kind"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger provides structured logging for session core components. It
// wraps a standard slog.Logger for local logging while optionally
// publishing entries to NATS for remote consumption. A nil NATS
// connection disables publishing; local logging always works.
type Logger struct {
	componentName string
	instanceID    string
	nc            *nats.Conn
	logger        *slog.Logger
	enabled       bool // whether NATS publishing is enabled
}

// New creates a component logger. nc may be nil for local-only logging;
// logger may be nil to default to slog.Default().
func New(componentName, instanceID string, nc *nats.Conn, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		componentName: componentName,
		instanceID:    instanceID,
		nc:            nc,
		logger:        logger,
		enabled:       nc != nil,
	}
}

// Named returns a copy of the logger scoped to a different component name.
func (l *Logger) Named(componentName string) *Logger {
	clone := *l
	clone.componentName = componentName
	return &clone
}

// Debug logs a debug-level message with optional slog attrs.
func (l *Logger) Debug(msg string, args ...any) {
	l.publish(context.Background(), LevelDebug, msg, "")
	l.logger.Debug(msg, l.withComponent(args)...)
}

// Info logs an info-level message with optional slog attrs.
func (l *Logger) Info(msg string, args ...any) {
	l.publish(context.Background(), LevelInfo, msg, "")
	l.logger.Info(msg, l.withComponent(args)...)
}

// Warn logs a warning message with optional slog attrs.
func (l *Logger) Warn(msg string, args ...any) {
	l.publish(context.Background(), LevelWarn, msg, "")
	l.logger.Warn(msg, l.withComponent(args)...)
}

// Error logs an error-level message with error details.
func (l *Logger) Error(msg string, err error, args ...any) {
	detail := ""
	if err != nil {
		detail = fmt.Sprintf("%+v", err)
	}
	l.publish(context.Background(), LevelError, msg, detail)
	l.logger.Error(msg, l.withComponent(append(args, "error", err))...)
}

// PublishEvent publishes a structured domain event to NATS subject
// "events.{instance}.{component}.{kind}". No-op without a connection.
func (l *Logger) PublishEvent(ctx context.Context, kind string, fields map[string]any) {
	if !l.enabled {
		return
	}
	select {
	case <-ctx.Done():
		return
	default:
	}

	event := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Component: l.componentName,
		Instance:  l.instanceID,
		Kind:      kind,
		Fields:    fields,
	}

	data, err := json.Marshal(event)
	if err != nil {
		l.logger.Error("failed to marshal event", "error", err, "kind", kind)
		return
	}

	nc := l.nc
	if nc == nil {
		return
	}

	subject := fmt.Sprintf("events.%s.%s.%s", l.instanceID, l.componentName, kind)
	if err := nc.Publish(subject, data); err != nil {
		l.logger.Error("failed to publish event", "error", err, "subject", subject)
	}
}

// withComponent prepends the component attr to user-supplied args.
func (l *Logger) withComponent(args []any) []any {
	out := make([]any, 0, len(args)+2)
	out = append(out, "component", l.componentName)
	return append(out, args...)
}

// publish sends a log entry to NATS with context cancellation support.
func (l *Logger) publish(ctx context.Context, level Level, message, detail string) {
	if !l.enabled {
		return
	}

	// Check context before performing I/O
	select {
	case <-ctx.Done():
		return
	default:
	}

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Component: l.componentName,
		Instance:  l.instanceID,
		Message:   message,
		Detail:    detail,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error("failed to marshal log entry", "error", err)
		return
	}

	// Re-check the connection; it may have been dropped since the
	// enabled check.
	nc := l.nc
	if nc == nil {
		return
	}

	subject := fmt.Sprintf("logs.%s.%s", l.instanceID, l.componentName)
	if err := nc.Publish(subject, data); err != nil {
		l.logger.Error("failed to publish log to NATS", "error", err, "subject", subject)
	}
}
