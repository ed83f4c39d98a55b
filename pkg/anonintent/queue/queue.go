// Package queue implements the durable FIFO store of events waiting for
// delivery.
//
// The whole queue is persisted as one JSON array after every mutation, so
// memory and storage agree whenever a method returns. Delivery removes a
// prefix of the queue; nothing is ever re-inserted, so the delivery order is
// the append order.
//
// Removal after delivery goes through Checkout and Acknowledge. A Batch
// records the queue generation it was taken from; Clear advances the
// generation, so an acknowledgment for a batch checked out before a clear
// removes nothing.
package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	aierrors "github.com/randalmurphal/anonintent/pkg/anonintent/errors"
	"github.com/randalmurphal/anonintent/pkg/anonintent/event"
	"github.com/randalmurphal/anonintent/pkg/anonintent/observability"
	"github.com/randalmurphal/anonintent/pkg/anonintent/storage"
)

// DefaultMaxSize bounds the queue of an offline device.
const DefaultMaxSize = 10000

// entry is one queued event with its encoded form.
type entry struct {
	event *event.IntentEvent
	raw   json.RawMessage
}

// Batch is a contiguous prefix of the queue handed out for delivery.
type Batch struct {
	// Events are the oldest events, in append order.
	Events []*event.IntentEvent
	// Raw holds the encoded form of each event, index-aligned with Events.
	Raw []json.RawMessage
	// Generation is the queue generation the batch was taken from.
	Generation uint64
}

// Len returns the number of events in the batch.
func (b Batch) Len() int {
	return len(b.Events)
}

// Store is the pending event queue. Safe for concurrent use.
type Store struct {
	store   storage.Storage
	maxSize int
	logger  *slog.Logger

	mu         sync.Mutex
	entries    []entry
	generation uint64
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSize caps the queue length. When the cap is reached the oldest
// event is evicted to make room. Zero or negative disables the cap.
func WithMaxSize(n int) Option {
	return func(s *Store) {
		s.maxSize = n
	}
}

// WithLogger sets the logger used for storage diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Load creates a Store and restores any queue persisted in store.
// Unreadable persisted data is logged and discarded.
func Load(store storage.Storage, opts ...Option) *Store {
	s := &Store{
		store:   store,
		maxSize: DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.restore()
	return s
}

func (s *Store) restore() {
	raw, err := s.store.GetItem(storage.KeyPendingEvents)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			observability.LogStorageError(s.logger, "get", storage.KeyPendingEvents, err)
		}
		return
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		if s.logger != nil {
			s.logger.Warn("discarding unreadable pending queue", slog.String("error", err.Error()))
		}
		return
	}

	for _, item := range items {
		e, err := event.Decode(item)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("discarding unreadable pending event", slog.String("error", err.Error()))
			}
			continue
		}
		s.entries = append(s.entries, entry{event: e, raw: item})
	}
}

// Append adds e to the tail of the queue and persists the queue.
//
// If e cannot be encoded it is rejected with an *errors.EncodeError and the
// queue is unchanged. If persisting fails, e stays queued in memory and an
// *errors.StorageError is returned. evicted is non-nil when the size cap
// pushed the oldest event out.
func (s *Store) Append(e *event.IntentEvent) (evicted *event.IntentEvent, err error) {
	raw, err := event.Encode(e)
	if err != nil {
		return nil, &aierrors.EncodeError{EventID: e.EventID, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		evicted = s.entries[0].event
		s.entries[0] = entry{}
		s.entries = s.entries[1:]
	}
	s.entries = append(s.entries, entry{event: e, raw: raw})
	return evicted, s.persistLocked()
}

// PeekBatch returns up to limit of the oldest events without removing them.
func (s *Store) PeekBatch(limit int) []*event.IntentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := clamp(limit, len(s.entries))
	out := make([]*event.IntentEvent, n)
	for i := 0; i < n; i++ {
		out[i] = s.entries[i].event
	}
	return out
}

// Checkout returns up to limit of the oldest events as a Batch stamped with
// the current generation. The events stay queued until acknowledged.
func (s *Store) Checkout(limit int) Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := clamp(limit, len(s.entries))
	b := Batch{
		Events:     make([]*event.IntentEvent, n),
		Raw:        make([]json.RawMessage, n),
		Generation: s.generation,
	}
	for i := 0; i < n; i++ {
		b.Events[i] = s.entries[i].event
		b.Raw[i] = s.entries[i].raw
	}
	return b
}

// Acknowledge removes a delivered batch. It returns the number of events
// removed, which is zero if the queue was cleared since the checkout.
// Events evicted by the size cap since the checkout are not removed twice.
func (s *Store) Acknowledge(b Batch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Generation != s.generation || b.Len() == 0 {
		return 0, nil
	}

	// Eviction may have removed the start of the batch. Skip to the batch
	// event at the queue head and remove the run that is still queued.
	if len(s.entries) == 0 {
		return 0, nil
	}
	head := s.entries[0].event.EventID
	start := 0
	for start < b.Len() && b.Events[start].EventID != head {
		start++
	}
	n := 0
	for i := start; i < b.Len() && n < len(s.entries); i++ {
		if s.entries[n].event.EventID != b.Events[i].EventID {
			break
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	clear(s.entries[:n])
	s.entries = s.entries[n:]
	return n, s.persistLocked()
}

// RemovePrefix removes the oldest n events and persists the queue. n larger
// than the queue is clamped. It returns the number removed.
func (s *Store) RemovePrefix(n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n = clamp(n, len(s.entries))
	if n == 0 {
		return 0, nil
	}
	clear(s.entries[:n])
	s.entries = s.entries[n:]
	return n, s.persistLocked()
}

// Size returns the number of queued events.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Generation returns the current queue generation.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Clear empties the queue, persists the empty queue, and advances the
// generation so outstanding batches can no longer be acknowledged.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.generation++
	if err := s.store.RemoveItem(storage.KeyPendingEvents); err != nil {
		return &aierrors.StorageError{Op: "remove", Key: storage.KeyPendingEvents, Err: err}
	}
	return nil
}

// persistLocked writes the whole queue as a JSON array.
func (s *Store) persistLocked() error {
	var buf bytes.Buffer
	buf.Grow(2 + len(s.entries)*256)
	buf.WriteByte('[')
	for i, e := range s.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(e.raw)
	}
	buf.WriteByte(']')

	if err := s.store.SetItem(storage.KeyPendingEvents, buf.String()); err != nil {
		return &aierrors.StorageError{Op: "set", Key: storage.KeyPendingEvents, Err: err}
	}
	return nil
}

func clamp(n, size int) int {
	if n < 0 {
		return 0
	}
	if n > size {
		return size
	}
	return n
}
