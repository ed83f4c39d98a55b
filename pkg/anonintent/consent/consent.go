// Package consent implements the tri-state privacy consent gate.
//
// A Gate starts from the persisted decision. When nothing is persisted it
// asks the host's predicate once and persists the answer; without a
// predicate the state stays Unknown, which blocks all telemetry.
package consent

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/anonintent/pkg/anonintent/observability"
	"github.com/randalmurphal/anonintent/pkg/anonintent/storage"
)

// State is a consent decision.
type State int32

const (
	// Unknown means no decision has been made. Telemetry is blocked.
	Unknown State = iota
	// Granted allows events to be recorded and delivered.
	Granted
	// Denied blocks telemetry and implies the pending queue is cleared.
	Denied
)

// String returns the persisted form of the state.
func (s State) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// ParseState parses the persisted form of a state.
// Unrecognized input yields Unknown and false.
func ParseState(s string) (State, bool) {
	switch s {
	case "granted":
		return Granted, true
	case "denied":
		return Denied, true
	case "unknown":
		return Unknown, true
	default:
		return Unknown, false
	}
}

// FromBool maps a yes/no decision to a state.
func FromBool(granted bool) State {
	if granted {
		return Granted
	}
	return Denied
}

// Predicate supplies the initial consent decision.
type Predicate func() bool

// Gate holds the consent decision. Safe for concurrent use.
type Gate struct {
	store     storage.Storage
	predicate Predicate
	logger    *slog.Logger

	mu    sync.Mutex
	asked bool
	state atomic.Int32
}

// New loads the persisted decision from store. If none is persisted and
// predicate is non-nil, the predicate is invoked once and its answer
// persisted.
func New(store storage.Storage, predicate Predicate, logger *slog.Logger) *Gate {
	g := &Gate{
		store:     store,
		predicate: predicate,
		logger:    logger,
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.loadLocked(); ok {
		g.state.Store(int32(s))
		g.asked = true
		return g
	}
	g.askLocked()
	return g
}

// Check returns the current decision. While the decision is Unknown and the
// predicate has not been consulted yet, it is consulted and its answer
// persisted. Otherwise Check has no side effects.
func (g *Gate) Check() State {
	if s := g.State(); s != Unknown {
		return s
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.asked {
		g.askLocked()
	}
	return g.State()
}

// State returns the current decision without consulting the predicate.
func (g *Gate) State() State {
	return State(g.state.Load())
}

// Granted reports whether telemetry is allowed.
func (g *Gate) Granted() bool {
	return g.State() == Granted
}

// Set records a new decision and persists it. It returns the previous state
// so callers can apply transition side effects.
func (g *Gate) Set(granted bool) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := FromBool(granted)
	prev := State(g.state.Swap(int32(next)))
	g.asked = true
	g.persistLocked(next)
	return prev
}

func (g *Gate) askLocked() {
	if g.predicate == nil {
		return
	}
	g.asked = true
	s := FromBool(g.predicate())
	g.state.Store(int32(s))
	g.persistLocked(s)
}

func (g *Gate) loadLocked() (State, bool) {
	raw, err := g.store.GetItem(storage.KeyConsent)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			observability.LogStorageError(g.logger, "get", storage.KeyConsent, err)
		}
		return Unknown, false
	}
	s, ok := ParseState(raw)
	if !ok || s == Unknown {
		return Unknown, false
	}
	return s, true
}

func (g *Gate) persistLocked(s State) {
	if err := g.store.SetItem(storage.KeyConsent, s.String()); err != nil {
		observability.LogStorageError(g.logger, "set", storage.KeyConsent, err)
	}
}
