// Package storage provides the key-value persistence the agent keeps its
// identity, consent decision and pending events in.
package storage

import (
	"errors"
)

// Storage persists small string values by key.
// Implementations must be safe for concurrent use.
type Storage interface {
	// GetItem retrieves the value stored for key.
	// Returns ErrNotFound if nothing is stored.
	GetItem(key string) (string, error)

	// SetItem stores value under key, overwriting any previous value.
	SetItem(key, value string) error

	// RemoveItem deletes key.
	// Returns nil if the key doesn't exist.
	RemoveItem(key string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for storage operations.
var (
	// ErrNotFound indicates no value is stored for the key.
	ErrNotFound = errors.New("storage key not found")

	// ErrStorageClosed indicates the storage has been closed.
	ErrStorageClosed = errors.New("storage closed")
)

// Keys used by the agent. Hosts sharing a storage backend with other
// components should keep this prefix reserved.
const (
	KeyAnonID        = "anonintent.anon_id"
	KeySession       = "anonintent.session"
	KeyConsent       = "anonintent.consent"
	KeyPendingEvents = "anonintent.pending_events"
	KeyLastSync      = "anonintent.last_sync"
)
