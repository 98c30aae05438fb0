// Package logging provides the structured logger used across candlestream.
// It exposes a small Logger interface with typed field constructors, a
// zero-dependency JSON implementation for tools and tests, and a
// zap-backed implementation for production use.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents the severity level of a log message
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of a log level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger defines the interface for logging functionality
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// WithContext adds context information to the logger
	WithContext(ctx context.Context) Logger

	// WithFields returns a logger that attaches the fields to every entry
	WithFields(fields ...Field) Logger

	// SetLevel sets the minimum log level
	SetLevel(level Level)

	// SetOutput sets the output destination
	SetOutput(w io.Writer)
}

// Field represents a key-value pair in a log entry
type Field struct {
	Key   string
	Value interface{}
}

// logger implements the Logger interface with plain JSON output
type logger struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	fields []Field
	ctx    context.Context
}

// NewLogger creates a new JSON logger writing to stdout at INFO level.
func NewLogger() Logger {
	return &logger{
		out:   os.Stdout,
		level: INFO,
	}
}

// NewNopLogger returns a logger that discards every entry. Handy as a
// default in tests and optional dependencies.
func NewNopLogger() Logger {
	return &logger{
		out:   io.Discard,
		level: ERROR + 1,
	}
}

func (l *logger) log(level Level, msg string, fields ...Field) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"level":     level.String(),
		"message":   msg,
	}

	if l.ctx != nil {
		if traceID, ok := l.ctx.Value("trace_id").(string); ok {
			entry["trace_id"] = traceID
		}
	}

	for _, field := range l.fields {
		entry[field.Key] = field.Value
	}
	for _, field := range fields {
		entry[field.Key] = field.Value
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error marshaling log entry: %v\n", err)
		return
	}

	data = append(data, '\n')
	if _, err := l.out.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "error writing log entry: %v\n", err)
	}
}

// Debug implements Logger interface
func (l *logger) Debug(msg string, fields ...Field) {
	l.log(DEBUG, msg, fields...)
}

// Info implements Logger interface
func (l *logger) Info(msg string, fields ...Field) {
	l.log(INFO, msg, fields...)
}

// Warn implements Logger interface
func (l *logger) Warn(msg string, fields ...Field) {
	l.log(WARN, msg, fields...)
}

// Error implements Logger interface
func (l *logger) Error(msg string, fields ...Field) {
	l.log(ERROR, msg, fields...)
}

// WithContext implements Logger interface
func (l *logger) WithContext(ctx context.Context) Logger {
	return &logger{
		out:    l.out,
		level:  l.level,
		fields: l.fields,
		ctx:    ctx,
	}
}

// WithFields implements Logger interface
func (l *logger) WithFields(fields ...Field) Logger {
	newFields := make([]Field, len(l.fields)+len(fields))
	copy(newFields, l.fields)
	copy(newFields[len(l.fields):], fields)
	return &logger{
		out:    l.out,
		level:  l.level,
		fields: newFields,
		ctx:    l.ctx,
	}
}

// SetLevel implements Logger interface
func (l *logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput implements Logger interface
func (l *logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

// Field constructors for common types
func String(key string, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Error(err error) Field {
	return Field{Key: "error", Value: err.Error()}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}
