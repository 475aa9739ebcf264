// Package observability provides unified logging and metrics for the
// dealmesh caching subsystem. Components receive a Logger and a
// MetricsClient by injection; nothing in this package blocks or throws
// into the caller.
package observability

import (
	"time"
)

// LogLevel defines log message severity
type LogLevel string

// Log levels
const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

// Logger defines the interface for structured logging
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Fatal(msg string, fields map[string]interface{})

	// WithPrefix returns a logger scoped to a component name
	WithPrefix(prefix string) Logger
	// With returns a logger that attaches the given fields to every message
	With(fields map[string]interface{}) Logger
}

// MetricsClient defines the interface for metrics collection.
// Implementations must be fire-and-forget: they never block and never
// return errors into the caller.
type MetricsClient interface {
	IncrementCounter(name string, value float64)
	IncrementCounterWithLabels(name string, value float64, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
	RecordHistogram(name string, value float64, labels map[string]string)
	RecordDuration(name string, duration time.Duration)

	// StartTimer returns a func that records the elapsed time when called
	StartTimer(name string, labels map[string]string) func()

	Close() error
}
