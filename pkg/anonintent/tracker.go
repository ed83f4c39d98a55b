package anonintent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/randalmurphal/anonintent/pkg/anonintent/consent"
	"github.com/randalmurphal/anonintent/pkg/anonintent/delivery"
	"github.com/randalmurphal/anonintent/pkg/anonintent/device"
	aierrors "github.com/randalmurphal/anonintent/pkg/anonintent/errors"
	"github.com/randalmurphal/anonintent/pkg/anonintent/event"
	"github.com/randalmurphal/anonintent/pkg/anonintent/identity"
	"github.com/randalmurphal/anonintent/pkg/anonintent/lifecycle"
	"github.com/randalmurphal/anonintent/pkg/anonintent/observability"
	"github.com/randalmurphal/anonintent/pkg/anonintent/queue"
	"github.com/randalmurphal/anonintent/pkg/anonintent/storage"
	"github.com/randalmurphal/anonintent/pkg/anonintent/transport"
)

// SDKVersion is stamped on every event.
const SDKVersion = transport.Version

// Reasons reported when an event is dropped.
const (
	DropRateLimited = "rate_limited"
	DropUnencodable = "unencodable"
	DropQueueFull   = "queue_full"
)

// State is the tracker's position in its lifecycle.
type State int32

// Tracker states.
const (
	StateUninitialized State = iota
	StateInitializing
	StateActive
	// StateSuspended means initialized without granted consent. Events are
	// not recorded and nothing is delivered.
	StateSuspended
	// StateShutdown is terminal.
	StateShutdown
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Tracker records anonymized events and delivers them in the background.
// All methods are safe for concurrent use.
type Tracker struct {
	// Collaborators, set by options.
	store          storage.Storage
	network        transport.Network
	locator        device.Locator
	meta           device.MetadataProvider
	lifecycle      lifecycle.Source
	logger         *slog.Logger
	loggerSet      bool
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	now            func() time.Time
	restoreSession bool

	state atomic.Int32

	// mu serializes state transitions and appends. Network and location
	// calls happen outside it.
	mu             sync.Mutex
	cfg            Config
	provenance     event.Provenance
	deviceMeta     *event.DeviceMeta
	anonID         string
	pendingConsent *bool
	identity       *identity.Manager
	consent        *consent.Gate
	queue          *queue.Store
	scheduler      *delivery.Scheduler
	limiter        *rate.Limiter
	sub            lifecycle.Subscription
}

// New creates an uninitialized tracker. Call Initialize before tracking.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	return State(t.state.Load())
}

func (t *Tracker) setState(s State) {
	t.state.Store(int32(s))
}

// Initialize validates cfg, restores persisted identity, consent and
// pending events, and starts delivery if consent is granted.
//
// An invalid cfg returns a *errors.ConfigError and leaves the tracker
// uninitialized. Calling Initialize on an initialized tracker logs and
// returns nil. After Cleanup it returns ErrShutdown.
func (t *Tracker) Initialize(ctx context.Context, cfg Config) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.State() {
	case StateShutdown:
		return ErrShutdown
	case StateActive, StateSuspended:
		if t.logger != nil {
			t.logger.Info("tracker already initialized; ignoring Initialize")
		}
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.applyDefaults()
	t.setState(StateInitializing)
	t.cfg = cfg

	if !t.loggerSet {
		t.logger = observability.NewLogger(cfg.DebugMode)
	}
	if t.store == nil {
		t.store = storage.NewMemoryStorage()
		t.logger.Warn("no storage configured; pending events will not survive restart")
	}
	if t.network == nil {
		t.network = transport.NewHTTPTransport(
			transport.WithRequestTimeout(cfg.RequestTimeout),
			transport.WithCompression(cfg.Compression),
			transport.WithLogger(t.logger),
		)
	}
	if t.meta == nil {
		t.meta = device.NewHostProvider(cfg.AppVersion)
	}

	now := t.now()
	t.identity = identity.NewManager(t.store,
		identity.WithSessionTimeout(cfg.SessionTimeout),
		identity.WithLogger(t.logger),
	)
	t.anonID = t.identity.GetOrCreateAnonID()
	session, restored := identity.Session{}, false
	if t.restoreSession {
		session, restored = t.identity.Restore(now)
	}
	if !restored {
		session = t.identity.StartSession(now)
	}
	t.logger = observability.EnrichLogger(t.logger, t.anonID, session.ID)

	t.consent = consent.New(t.store, cfg.OnConsent, t.logger)
	if t.pendingConsent != nil {
		t.consent.Set(*t.pendingConsent)
		t.pendingConsent = nil
	}

	t.queue = queue.Load(t.store,
		queue.WithMaxSize(cfg.MaxQueueSize),
		queue.WithLogger(t.logger),
	)
	t.scheduler = delivery.New(delivery.Config{
		Endpoint:      cfg.Endpoint,
		APIKey:        cfg.APIKey,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		DrainDelay:    cfg.DrainDelay,
		Retries:       cfg.RequestRetries,
	}, t.queue, t.network, t.consent,
		delivery.WithLogger(t.logger),
		delivery.WithMetrics(t.metrics),
		delivery.WithSpanManager(t.spans),
		delivery.WithStorage(t.store),
		delivery.WithClock(t.now),
	)
	if cfg.MaxEventsPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.MaxEventsPerSecond), cfg.BatchSize)
	}

	t.provenance = event.Provenance{
		Platform:    cfg.Platform,
		Environment: cfg.Environment,
		SDKVersion:  SDKVersion,
	}
	t.deviceMeta = t.meta.DeviceMeta()

	if t.lifecycle != nil {
		t.sub = t.lifecycle.Subscribe(t.HandleLifecycle)
	}

	t.metrics.RecordQueueDepth(ctx, t.queue.Size())

	state := t.consent.Check()
	if state == consent.Granted {
		t.scheduler.Start()
		t.setState(StateActive)
	} else {
		t.setState(StateSuspended)
	}

	t.logger.Info("tracker initialized",
		slog.String("state", t.State().String()),
		slog.String("consent", state.String()),
		slog.Bool("session_restored", restored),
		slog.Int("pending", t.queue.Size()),
		slog.String("environment", string(cfg.Environment)),
	)
	return nil
}

// Track records an event and returns its id. It returns false without
// error when the tracker is not active, consent is not granted, the rate
// limit is exceeded or the event cannot be encoded.
//
// Properties are copied; keys that commonly carry personal data are
// removed at every nesting level.
func (t *Tracker) Track(ctx context.Context, name string, props map[string]any) (string, bool) {
	t.mu.Lock()
	accepting := t.acceptingLocked()
	locator := t.locator
	t.mu.Unlock()
	if !accepting {
		return "", false
	}

	var pos *event.Position
	if locator != nil {
		pos = device.Locate(ctx, locator, defaultLocateTimeout)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.acceptingLocked() {
		return "", false
	}

	now := t.now()
	if t.limiter != nil && !t.limiter.AllowN(now, 1) {
		t.dropped(ctx, name, DropRateLimited)
		return "", false
	}

	t.identity.Touch(now)
	session, _ := t.identity.CurrentSession()

	e, droppedProps, err := event.Build(event.Name(name), props, event.Stamp{
		AnonID:     t.anonID,
		SessionID:  session.ID,
		Provenance: t.provenance,
		Device:     t.deviceMeta,
		Geo:        event.ReduceGeo(pos, !t.cfg.PreciseLocation),
	}, now)
	if len(droppedProps) > 0 && e != nil {
		observability.LogPropertiesDropped(t.logger, e.EventID, droppedProps)
	}
	if err != nil {
		t.dropped(ctx, name, DropUnencodable)
		return "", false
	}

	evicted, err := t.queue.Append(e)
	if evicted != nil {
		t.dropped(ctx, string(evicted.EventName), DropQueueFull)
	}
	if err != nil {
		var encodeErr *aierrors.EncodeError
		if errors.As(err, &encodeErr) {
			t.dropped(ctx, name, DropUnencodable)
			return "", false
		}
		var storageErr *aierrors.StorageError
		if errors.As(err, &storageErr) {
			observability.LogStorageError(t.logger, storageErr.Op, storageErr.Key, storageErr.Err)
		}
	}

	size := t.queue.Size()
	t.metrics.RecordEventTracked(ctx, string(e.EventName))
	t.metrics.RecordQueueDepth(ctx, size)
	observability.LogEventQueued(t.logger, e.EventID, string(e.EventName), size)

	t.scheduler.Notify(size)
	return e.EventID, true
}

func (t *Tracker) acceptingLocked() bool {
	return t.State() == StateActive && t.consent.Granted()
}

func (t *Tracker) dropped(ctx context.Context, name, reason string) {
	t.metrics.RecordEventDropped(ctx, reason)
	observability.LogEventDropped(t.logger, name, reason)
}

// Flush delivers one batch now, ignoring any backoff, and reports whether
// it succeeded. An empty queue counts as success. It returns false when the
// tracker is not active or consent is not granted.
func (t *Tracker) Flush(ctx context.Context) bool {
	t.mu.Lock()
	sched := t.scheduler
	active := t.State() == StateActive
	t.mu.Unlock()

	if !active {
		return false
	}
	return sched.Flush(ctx)
}

// SetConsent records the host's consent decision.
//
// Revoking consent clears all pending events before returning and stops
// delivery. Granting it resumes delivery if the tracker is initialized.
// Before Initialize the decision is held and applied during Initialize.
func (t *Tracker) SetConsent(granted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.State() {
	case StateShutdown:
		if t.consent == nil {
			return
		}
		prev := t.consent.Set(granted)
		if !granted {
			t.clearQueueLocked()
		}
		t.logConsentChange(prev, granted)
		return
	case StateUninitialized, StateInitializing:
		t.pendingConsent = &granted
		return
	}

	prev := t.consent.Set(granted)
	if granted {
		t.scheduler.Start()
		t.setState(StateActive)
	} else {
		t.clearQueueLocked()
		t.scheduler.Stop()
		t.setState(StateSuspended)
	}
	t.logConsentChange(prev, granted)
}

func (t *Tracker) clearQueueLocked() {
	if err := t.queue.Clear(); err != nil {
		var storageErr *aierrors.StorageError
		if errors.As(err, &storageErr) {
			observability.LogStorageError(t.logger, storageErr.Op, storageErr.Key, storageErr.Err)
		}
	}
	t.metrics.RecordQueueDepth(context.Background(), 0)
}

func (t *Tracker) logConsentChange(prev consent.State, granted bool) {
	if t.logger == nil {
		return
	}
	t.logger.Info("consent changed",
		slog.String("from", prev.String()),
		slog.String("to", consent.FromBool(granted).String()),
	)
}

// HasConsent reports whether consent is granted.
func (t *Tracker) HasConsent() bool {
	return t.ConsentState() == consent.Granted
}

// ConsentState returns the current consent decision. Before Initialize it
// reflects a decision passed to SetConsent, or Unknown.
func (t *Tracker) ConsentState() consent.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consent != nil {
		return t.consent.State()
	}
	if t.pendingConsent != nil {
		return consent.FromBool(*t.pendingConsent)
	}
	return consent.Unknown
}

// PendingEventsCount returns the number of events waiting for delivery.
func (t *Tracker) PendingEventsCount() int {
	t.mu.Lock()
	q := t.queue
	t.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.Size()
}

// Cleanup stops delivery timers and lifecycle subscriptions. Pending events
// stay persisted for the next process. An in-flight delivery completes and
// its result is applied. The tracker cannot be used afterwards.
func (t *Tracker) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == StateShutdown {
		return
	}
	if t.sub != nil {
		t.sub.Unsubscribe()
		t.sub = nil
	}
	if t.scheduler != nil {
		t.scheduler.Stop()
	}
	if t.identity != nil {
		t.identity.Persist()
	}
	t.setState(StateShutdown)

	if t.logger != nil {
		pending := 0
		if t.queue != nil {
			pending = t.queue.Size()
		}
		t.logger.Info("tracker shut down", slog.Int("pending", pending))
	}
}

// AnonID returns the anonymous installation identifier, or "" before
// Initialize.
func (t *Tracker) AnonID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.anonID
}

// CurrentSession returns the live session. The second value is false
// before Initialize.
func (t *Tracker) CurrentSession() (identity.Session, bool) {
	t.mu.Lock()
	m := t.identity
	t.mu.Unlock()
	if m == nil {
		return identity.Session{}, false
	}
	return m.CurrentSession()
}

// ResetIdentity replaces the anonymous identifier and starts a new session.
// Events already queued keep the identity they were recorded with.
func (t *Tracker) ResetIdentity() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.State() {
	case StateShutdown:
		return "", ErrShutdown
	case StateUninitialized, StateInitializing:
		return "", ErrNotInitialized
	}

	anonID, session := t.identity.Reset(t.now())
	t.anonID = anonID
	t.logger.Info("identity reset", slog.String("new_session_id", session.ID))
	return anonID, nil
}

// LastSyncTime returns when events were last acknowledged by the
// collector, or the zero time if never.
func (t *Tracker) LastSyncTime() time.Time {
	t.mu.Lock()
	sched := t.scheduler
	t.mu.Unlock()
	if sched == nil {
		return time.Time{}
	}
	return sched.LastSync()
}

// Stats returns a snapshot of delivery state, or the zero value before
// Initialize.
func (t *Tracker) Stats() delivery.Stats {
	t.mu.Lock()
	sched := t.scheduler
	t.mu.Unlock()
	if sched == nil {
		return delivery.Stats{}
	}
	return sched.Stats()
}

// HandleLifecycle applies a host lifecycle transition. Going to the
// background or terminating hands pending events to the network's
// best-effort path; returning to the foreground starts a new session if
// the host was away for longer than the session timeout.
//
// It has the lifecycle.Handler signature, so a Tracker can subscribe to
// any lifecycle.Source directly.
func (t *Tracker) HandleLifecycle(ctx context.Context, s lifecycle.State) {
	t.mu.Lock()
	st := t.State()
	if st != StateActive && st != StateSuspended {
		t.mu.Unlock()
		return
	}

	now := t.now()
	switch s {
	case lifecycle.Foreground:
		session, started := t.identity.Resume(now)
		if started {
			t.logger.Info("session started on resume", slog.String("new_session_id", session.ID))
		}
	case lifecycle.Background, lifecycle.Terminating:
		t.identity.MarkBackground(now)
	}
	sched := t.scheduler
	deliver := st == StateActive && s != lifecycle.Foreground
	t.mu.Unlock()

	if !deliver {
		return
	}
	if n := sched.FlushBestEffort(ctx); n > 0 {
		t.logger.Debug("handed off events on lifecycle transition",
			slog.String("lifecycle", s.String()),
			slog.Int("events", n),
		)
	}
}
