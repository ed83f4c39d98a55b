package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is the sentinel wrapped by every ConfigError.
var ErrInvalidConfig = errors.New("invalid configuration")

// HTTPError represents a non-2xx response from the collection endpoint.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string
	// RetryAfter is the server's requested wait, zero when not sent.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// TimeoutError reports a request that exceeded its own deadline while the
// caller's context was still live.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	Err       error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// StorageError wraps a failed read or write against the storage collaborator.
// It is logged and absorbed; the agent keeps operating in memory.
type StorageError struct {
	// Op is the storage operation ("get", "set", "remove").
	Op string
	// Key is the storage key involved.
	Key string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// EncodeError indicates that an event or payload could not be serialized.
type EncodeError struct {
	// EventID is the event that failed, empty for whole payloads.
	EventID string
	// Err is the underlying encoder error.
	Err error
}

// Error implements the error interface.
func (e *EncodeError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("encode event %s: %v", e.EventID, e.Err)
	}
	return fmt.Sprintf("encode payload: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *EncodeError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid configuration field. It is the only error
// class the agent surfaces synchronously to its host.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid configuration: %s", e.Message)
}

// Unwrap returns ErrInvalidConfig for errors.Is support.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// RetryAfter returns the wait requested by the server through err, or zero.
func RetryAfter(err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.RetryAfter
	}
	return 0
}
