// Package delivery decides when queued events are sent and applies the
// result to the queue.
//
// A Scheduler flushes on four triggers: a periodic ticker, the queue
// reaching the batch size, host lifecycle transitions (best effort) and
// explicit calls. Attempts never overlap. A successful attempt removes
// exactly the delivered batch; a failed one leaves the queue untouched and
// pushes the next scheduled attempt out with capped exponential backoff.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	aierrors "github.com/randalmurphal/anonintent/pkg/anonintent/errors"
	"github.com/randalmurphal/anonintent/pkg/anonintent/observability"
	"github.com/randalmurphal/anonintent/pkg/anonintent/queue"
	"github.com/randalmurphal/anonintent/pkg/anonintent/storage"
	"github.com/randalmurphal/anonintent/pkg/anonintent/transport"
)

// Trigger names what started a flush attempt.
type Trigger string

// Flush triggers.
const (
	TriggerPeriodic  Trigger = "periodic"
	TriggerThreshold Trigger = "threshold"
	TriggerDrain     Trigger = "drain"
	TriggerExplicit  Trigger = "explicit"
	TriggerLifecycle Trigger = "lifecycle"
)

// Defaults.
const (
	DefaultBatchSize     = 50
	DefaultFlushInterval = 30 * time.Second
	DefaultDrainDelay    = time.Second
)

// ConsentChecker reports whether delivery is allowed.
type ConsentChecker interface {
	Granted() bool
}

// Config configures a Scheduler.
type Config struct {
	// Endpoint is the collection URL.
	Endpoint string
	// APIKey authenticates deliveries.
	APIKey string
	// BatchSize is the most events sent per attempt and the queue size
	// that triggers an immediate attempt.
	BatchSize int
	// FlushInterval is the periodic attempt interval.
	FlushInterval time.Duration
	// DrainDelay is the wait before the follow-up attempt when a
	// successful attempt leaves a backlog.
	DrainDelay time.Duration
	// Retries is passed to the network as the in-request retry count.
	Retries int
	// Backoff spaces out scheduled attempts after failures.
	Backoff aierrors.RetryConfig
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.DrainDelay <= 0 {
		c.DrainDelay = DefaultDrainDelay
	}
	if c.Backoff.InitialBackoff <= 0 {
		c.Backoff = aierrors.DeliveryBackoff
	}
}

// Stats is a snapshot of scheduler state.
type Stats struct {
	Running             bool
	InFlight            bool
	ConsecutiveFailures int
	NextAttempt         time.Time
	LastSync            time.Time
	LastError           error
}

// Scheduler runs flush attempts against a queue.
type Scheduler struct {
	cfg     Config
	queue   *queue.Store
	network transport.Network
	consent ConsentChecker
	store   storage.Storage
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	now     func() time.Time

	group    singleflight.Group
	inFlight atomic.Bool
	// flight is held by whichever attempt, scheduled or best-effort, is
	// talking to the network.
	flight sync.Mutex
	// scheduled tracks trigger goroutines admitted while running.
	scheduled sync.WaitGroup

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	loopDone    chan struct{}
	drainTimer  *time.Timer
	failures    int
	nextAttempt time.Time
	lastSync    time.Time
	lastErr     error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSpanManager sets the span manager.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(s *Scheduler) {
		if sm != nil {
			s.spans = sm
		}
	}
}

// WithStorage persists the last successful sync time in store.
func WithStorage(store storage.Storage) Option {
	return func(s *Scheduler) {
		s.store = store
	}
}

// WithClock replaces the time source used for backoff decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a stopped scheduler. Call Start to enable scheduled attempts.
func New(cfg Config, q *queue.Store, network transport.Network, consent ConsentChecker, opts ...Option) *Scheduler {
	cfg.applyDefaults()
	s := &Scheduler{
		cfg:     cfg,
		queue:   q,
		network: network,
		consent: consent,
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loadLastSync()
	return s
}

// Start begins periodic attempts. It is a no-op if already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.loop(s.stopCh, s.loopDone)
}

// Stop cancels the ticker and any pending drain, then waits for scheduled
// attempts admitted before it to finish. No scheduled attempt starts after
// Stop returns. An explicit Flush in progress is not waited for; its result
// is still applied.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	if s.drainTimer != nil {
		s.drainTimer.Stop()
		s.drainTimer = nil
	}
	done := s.loopDone
	s.mu.Unlock()

	<-done
	s.scheduled.Wait()
}

// Running reports whether scheduled attempts are enabled.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.trigger(TriggerPeriodic)
		case <-stop:
			return
		}
	}
}

// Notify tells the scheduler the queue now holds size events. Reaching the
// batch size starts an attempt without waiting for the ticker.
func (s *Scheduler) Notify(size int) {
	if size >= s.cfg.BatchSize {
		s.trigger(TriggerThreshold)
	}
}

// Flush runs an attempt now, ignoring the backoff window, and reports
// whether it succeeded. A caller arriving while an attempt is in flight
// waits for and shares that attempt's result. An empty queue counts as
// success; withheld consent does not.
func (s *Scheduler) Flush(ctx context.Context) bool {
	return s.attempt(ctx, TriggerExplicit)
}

// trigger starts a scheduled attempt in the background unless the
// scheduler is stopped, an attempt is in flight, or the backoff window is
// still open.
func (s *Scheduler) trigger(t Trigger) {
	if s.inFlight.Load() || !s.consent.Granted() {
		return
	}
	s.mu.Lock()
	if !s.running || s.now().Before(s.nextAttempt) {
		s.mu.Unlock()
		return
	}
	s.scheduled.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.scheduled.Done()
		s.attempt(context.Background(), t)
	}()
}

func (s *Scheduler) attempt(ctx context.Context, t Trigger) bool {
	v, _, _ := s.group.Do("flush", func() (any, error) {
		s.flight.Lock()
		defer s.flight.Unlock()
		s.inFlight.Store(true)
		defer s.inFlight.Store(false)
		return s.flushOnce(ctx, t), nil
	})
	ok, _ := v.(bool)
	return ok
}

func (s *Scheduler) flushOnce(ctx context.Context, t Trigger) bool {
	if !s.consent.Granted() {
		return false
	}

	batch := s.queue.Checkout(s.cfg.BatchSize)
	if batch.Len() == 0 {
		return true
	}

	trigger := string(t)
	observability.LogFlushStart(s.logger, trigger, batch.Len())
	ctx, span := s.spans.StartFlushSpan(ctx, trigger, batch.Len())
	elapsed := observability.TimedOperation()
	start := time.Now()

	err := s.deliver(ctx, batch)

	s.metrics.RecordFlush(ctx, trigger, batch.Len(), time.Since(start), err)
	s.spans.EndSpanWithError(span, err)

	if err != nil && ctx.Err() != nil {
		s.recordAbort(err)
		if s.logger != nil {
			s.logger.Debug("flush abandoned by caller",
				slog.String("trigger", trigger),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	if err != nil {
		wait := s.recordFailure(err)
		observability.LogFlushError(s.logger, trigger, err, aierrors.Categorize(err).String(), wait)
		return false
	}

	removed, ackErr := s.queue.Acknowledge(batch)
	if ackErr != nil {
		var storageErr *aierrors.StorageError
		if errors.As(ackErr, &storageErr) {
			observability.LogStorageError(s.logger, storageErr.Op, storageErr.Key, storageErr.Err)
		}
	}
	s.recordSuccess()

	remaining := s.queue.Size()
	s.metrics.RecordQueueDepth(ctx, remaining)
	observability.LogFlushComplete(s.logger, trigger, removed, remaining, elapsed())

	if remaining > 0 {
		s.scheduleDrain()
	}
	return true
}

func (s *Scheduler) deliver(ctx context.Context, batch queue.Batch) error {
	body, err := transport.EncodePayload(s.cfg.APIKey, batch.Raw)
	if err != nil {
		return err
	}
	return s.network.Post(ctx, transport.Request{
		URL:     s.cfg.Endpoint,
		Body:    body,
		Headers: transport.Headers(s.cfg.APIKey),
		Retries: s.cfg.Retries,
	})
}

// FlushBestEffort hands queued batches to the network's fire-and-forget
// path, for use when the process may exit at any moment. A batch is removed
// only when the network reports a successful handoff. It returns the number
// of events handed off. It sends nothing while another attempt is talking
// to the network, since that attempt holds the oldest batch.
func (s *Scheduler) FlushBestEffort(ctx context.Context) int {
	if !s.consent.Granted() {
		return 0
	}
	if !s.flight.TryLock() {
		if s.logger != nil {
			s.logger.Debug("best-effort handoff skipped; attempt in flight")
		}
		return 0
	}
	defer s.flight.Unlock()
	s.inFlight.Store(true)
	defer s.inFlight.Store(false)

	handed := 0
	for ctx.Err() == nil {
		batch := s.queue.Checkout(s.cfg.BatchSize)
		if batch.Len() == 0 {
			break
		}
		body, err := transport.EncodePayload(s.cfg.APIKey, batch.Raw)
		if err != nil {
			break
		}
		ok := s.network.SendBestEffort(ctx, transport.Request{
			URL:     s.cfg.Endpoint,
			Body:    body,
			Headers: transport.Headers(s.cfg.APIKey),
		})
		s.metrics.RecordFlush(ctx, string(TriggerLifecycle), batch.Len(), 0, handoffErr(ok))
		if !ok {
			break
		}
		removed, err := s.queue.Acknowledge(batch)
		if err != nil && s.logger != nil {
			s.logger.Warn("best-effort acknowledgment not persisted", slog.String("error", err.Error()))
		}
		if removed == 0 {
			break
		}
		handed += removed
	}

	if handed > 0 && s.logger != nil {
		s.logger.Debug("best-effort handoff",
			slog.Int("events", handed),
			slog.Int("remaining", s.queue.Size()),
		)
	}
	return handed
}

var errHandoff = errors.New("best-effort handoff refused")

func handoffErr(ok bool) error {
	if ok {
		return nil
	}
	return errHandoff
}

func (s *Scheduler) scheduleDrain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.drainTimer != nil {
		return
	}
	s.drainTimer = time.AfterFunc(s.cfg.DrainDelay, func() {
		s.mu.Lock()
		s.drainTimer = nil
		s.mu.Unlock()
		s.trigger(TriggerDrain)
	})
}

// recordFailure advances the backoff window and returns the wait until the
// next scheduled attempt. Permanent failures jump straight to the cap.
func (s *Scheduler) recordFailure(err error) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures++
	s.lastErr = err

	wait := s.cfg.Backoff.Backoff(s.failures)
	if !aierrors.IsRetryable(err) && s.cfg.Backoff.MaxBackoff > 0 {
		wait = s.cfg.Backoff.MaxBackoff
	}
	if ra := aierrors.RetryAfter(err); ra > wait {
		wait = ra
	}
	s.nextAttempt = s.now().Add(wait)
	return wait
}

// recordAbort keeps the error for Stats without counting it against the
// endpoint.
func (s *Scheduler) recordAbort(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

func (s *Scheduler) recordSuccess() {
	now := s.now().UTC()

	s.mu.Lock()
	s.failures = 0
	s.nextAttempt = time.Time{}
	s.lastErr = nil
	s.lastSync = now
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SetItem(storage.KeyLastSync, now.Format(time.RFC3339Nano)); err != nil {
			observability.LogStorageError(s.logger, "set", storage.KeyLastSync, err)
		}
	}
}

func (s *Scheduler) loadLastSync() {
	if s.store == nil {
		return
	}
	raw, err := s.store.GetItem(storage.KeyLastSync)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			observability.LogStorageError(s.logger, "get", storage.KeyLastSync, err)
		}
		return
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		s.lastSync = t
	}
}

// LastSync returns the time of the last acknowledged delivery, or the zero
// time if none.
func (s *Scheduler) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// ResetBackoff clears the failure count so the next trigger may run
// immediately.
func (s *Scheduler) ResetBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
	s.nextAttempt = time.Time{}
}

// Stats returns a snapshot of the scheduler state.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Running:             s.running,
		InFlight:            s.inFlight.Load(),
		ConsecutiveFailures: s.failures,
		NextAttempt:         s.nextAttempt,
		LastSync:            s.lastSync,
		LastError:           s.lastErr,
	}
}
