// Package observability provides the agent's diagnostics: structured
// logging, metrics, and tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// Metrics and tracing are opt-in and have no-op implementations when
// disabled. Every helper accepts a nil logger.
package observability

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// NewLogger returns the agent's default logger: text to stderr at Info,
// or Debug when debug is set.
func NewLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With(slog.String("component", "anonintent"))
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// EnrichLogger adds identity context to a logger.
// Returns a new logger with anon_id and session_id fields.
func EnrichLogger(logger *slog.Logger, anonID, sessionID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("anon_id", anonID),
		slog.String("session_id", sessionID),
	)
}

// LogEventQueued logs an accepted event.
func LogEventQueued(logger *slog.Logger, eventID, name string, queueSize int) {
	if logger == nil {
		return
	}
	logger.Debug("event queued",
		slog.String("event_id", eventID),
		slog.String("event_name", name),
		slog.Int("queue_size", queueSize),
	)
}

// LogEventDropped logs an event that was not queued.
func LogEventDropped(logger *slog.Logger, name, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("event dropped",
		slog.String("event_name", name),
		slog.String("reason", reason),
	)
}

// LogPropertiesDropped logs properties removed because they could not be encoded.
func LogPropertiesDropped(logger *slog.Logger, eventID string, paths []string) {
	if logger == nil || len(paths) == 0 {
		return
	}
	logger.Warn("unencodable properties dropped",
		slog.String("event_id", eventID),
		slog.Any("properties", paths),
	)
}

// LogFlushStart logs the start of a delivery attempt.
func LogFlushStart(logger *slog.Logger, trigger string, batchSize int) {
	if logger == nil {
		return
	}
	logger.Debug("flush starting",
		slog.String("trigger", trigger),
		slog.Int("batch_size", batchSize),
	)
}

// LogFlushComplete logs an acknowledged delivery.
func LogFlushComplete(logger *slog.Logger, trigger string, delivered, remaining int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("flush completed",
		slog.String("trigger", trigger),
		slog.Int("delivered", delivered),
		slog.Int("remaining", remaining),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogFlushError logs a failed delivery (non-fatal).
func LogFlushError(logger *slog.Logger, trigger string, err error, category string, nextAttempt time.Duration) {
	if logger == nil {
		return
	}
	logger.Warn("flush failed",
		slog.String("trigger", trigger),
		slog.String("error", err.Error()),
		slog.String("category", category),
		slog.Duration("retry_in", nextAttempt),
	)
}

// LogStorageError logs a storage failure (non-fatal).
func LogStorageError(logger *slog.Logger, op, key string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("storage failed, continuing in memory",
		slog.String("operation", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
