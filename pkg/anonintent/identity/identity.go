// Package identity owns the installation's anonymous identifier and the
// current session.
//
// The anonymous identifier is generated once and persisted; it is never
// derived from anything about the user. Sessions are time-ordered ULIDs that
// roll over when the host returns to the foreground after the idle timeout.
//
// Storage failures never surface to callers. The manager logs them and keeps
// working with in-memory values for the rest of the process.
package identity

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/randalmurphal/anonintent/pkg/anonintent/observability"
	"github.com/randalmurphal/anonintent/pkg/anonintent/storage"
)

// DefaultSessionTimeout is the idle period after which a new session starts.
const DefaultSessionTimeout = 30 * time.Minute

// Session is a bounded period of activity.
type Session struct {
	ID           string    `json:"sessionId"`
	StartedAt    time.Time `json:"startedAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// IsZero reports whether s is the zero session.
func (s Session) IsZero() bool {
	return s.ID == ""
}

// Manager owns the anonymous identifier and session lifecycle.
// All methods are safe for concurrent use.
type Manager struct {
	store   storage.Storage
	timeout time.Duration
	logger  *slog.Logger

	mu             sync.Mutex
	anonID         string
	session        Session
	backgroundedAt time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithSessionTimeout sets the idle timeout. Non-positive values are ignored.
func WithSessionTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger sets the logger used for storage diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager backed by store.
func NewManager(store storage.Storage, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		timeout: DefaultSessionTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SessionTimeout returns the configured idle timeout.
func (m *Manager) SessionTimeout() time.Duration {
	return m.timeout
}

// GetOrCreateAnonID returns the persisted anonymous identifier, generating
// and persisting one first if none exists. Concurrent callers are serialized
// so only one identifier is ever written.
func (m *Manager) GetOrCreateAnonID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anonIDLocked()
}

func (m *Manager) anonIDLocked() string {
	if m.anonID != "" {
		return m.anonID
	}

	id, err := m.store.GetItem(storage.KeyAnonID)
	switch {
	case err == nil && id != "":
		m.anonID = id
		return id
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		observability.LogStorageError(m.logger, "get", storage.KeyAnonID, err)
	}

	m.anonID = uuid.NewString()
	if err := m.store.SetItem(storage.KeyAnonID, m.anonID); err != nil {
		observability.LogStorageError(m.logger, "set", storage.KeyAnonID, err)
	}
	return m.anonID
}

// StartSession ends any current session and starts a new one at now.
// The new session is persisted before returning.
func (m *Manager) StartSession(now time.Time) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(now)
}

func (m *Manager) startLocked(now time.Time) Session {
	now = now.UTC()
	m.session = Session{
		ID:           ulid.Make().String(),
		StartedAt:    now,
		LastActiveAt: now,
	}
	m.backgroundedAt = time.Time{}
	m.persistLocked()
	return m.session
}

// CurrentSession returns the live session. The second value is false if no
// session has been started.
func (m *Manager) CurrentSession() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, !m.session.IsZero()
}

// Touch records activity in the current session. Nothing is persisted.
func (m *Manager) Touch(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.IsZero() {
		return
	}
	if now = now.UTC(); now.After(m.session.LastActiveAt) {
		m.session.LastActiveAt = now
	}
}

// MarkBackground records that the host moved to the background at now.
// The session, including its last activity, is persisted so a restarted
// process can restore it.
func (m *Manager) MarkBackground(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.IsZero() || !m.backgroundedAt.IsZero() {
		return
	}
	now = now.UTC()
	m.backgroundedAt = now
	if now.After(m.session.LastActiveAt) {
		m.session.LastActiveAt = now
	}
	m.persistLocked()
}

// Resume is called when the host returns to the foreground. It starts a new
// session when the host stayed in the background for at least the session
// timeout, or when no session exists. started reports whether a new session
// was created.
func (m *Manager) Resume(now time.Time) (session Session, started bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now = now.UTC()
	if m.session.IsZero() {
		return m.startLocked(now), true
	}

	idleSince := m.backgroundedAt
	if idleSince.IsZero() {
		idleSince = m.session.LastActiveAt
	}
	if now.Sub(idleSince) >= m.timeout {
		return m.startLocked(now), true
	}

	m.backgroundedAt = time.Time{}
	if now.After(m.session.LastActiveAt) {
		m.session.LastActiveAt = now
	}
	return m.session, false
}

// Restore reloads the persisted session if it was active within the session
// timeout of now. It reports whether a session was restored; on false the
// caller should start a new one.
func (m *Manager) Restore(now time.Time) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.store.GetItem(storage.KeySession)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			observability.LogStorageError(m.logger, "get", storage.KeySession, err)
		}
		return Session{}, false
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.IsZero() {
		if m.logger != nil {
			m.logger.Warn("discarding unreadable persisted session")
		}
		return Session{}, false
	}

	if now.UTC().Sub(s.LastActiveAt) >= m.timeout {
		return Session{}, false
	}

	m.session = s
	m.backgroundedAt = time.Time{}
	return s, true
}

// Reset discards the anonymous identifier and session and generates new
// ones. Used when the host wants to sever the link to prior telemetry.
func (m *Manager) Reset(now time.Time) (anonID string, session Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.RemoveItem(storage.KeyAnonID); err != nil {
		observability.LogStorageError(m.logger, "remove", storage.KeyAnonID, err)
	}
	m.anonID = ""
	anonID = m.anonIDLocked()
	return anonID, m.startLocked(now)
}

// Persist writes the current session, including its last activity time.
func (m *Manager) Persist() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.session.IsZero() {
		m.persistLocked()
	}
}

func (m *Manager) persistLocked() {
	data, err := json.Marshal(m.session)
	if err != nil {
		observability.LogStorageError(m.logger, "encode", storage.KeySession, err)
		return
	}
	if err := m.store.SetItem(storage.KeySession, string(data)); err != nil {
		observability.LogStorageError(m.logger, "set", storage.KeySession, err)
	}
}
