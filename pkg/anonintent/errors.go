package anonintent

import (
	"errors"
)

// Sentinel errors for tracker lifecycle.
var (
	// ErrShutdown indicates the tracker was cleaned up. A shut-down tracker
	// cannot be initialized again; create a new one.
	ErrShutdown = errors.New("tracker is shut down")

	// ErrNotInitialized indicates an operation that needs identity or
	// storage ran before Initialize.
	ErrNotInitialized = errors.New("tracker not initialized")
)
