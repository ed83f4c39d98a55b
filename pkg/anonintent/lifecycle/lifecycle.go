// Package lifecycle delivers host lifecycle transitions (foreground,
// background, termination) to the agent.
//
// Hosts with their own notion of lifecycle publish into a Hub. Command-line
// tools and daemons can use SignalSource, which turns SIGINT and SIGTERM
// into Terminating.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// State is a host lifecycle state.
type State int

const (
	// Foreground means the host is active.
	Foreground State = iota
	// Background means the host is idle or hidden and may be suspended.
	Background
	// Terminating means the host is about to exit.
	Terminating
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	case Terminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Handler receives lifecycle transitions.
type Handler func(ctx context.Context, s State)

// Subscription is an active subscription handle.
type Subscription interface {
	// Unsubscribe stops delivery. It is safe to call more than once.
	Unsubscribe()
}

// Source publishes lifecycle transitions.
type Source interface {
	Subscribe(h Handler) Subscription
}

// Hub is an in-process Source. Publish calls every handler synchronously so
// a Terminating handler finishes before Publish returns.
type Hub struct {
	mu       sync.RWMutex
	handlers map[uint64]Handler
	nextID   atomic.Uint64
	last     atomic.Int64
}

// Compile-time interface check.
var _ Source = (*Hub)(nil)

// NewHub creates a hub whose initial state is Foreground.
func NewHub() *Hub {
	return &Hub{
		handlers: make(map[uint64]Handler),
	}
}

// Subscribe registers h.
func (h *Hub) Subscribe(handler Handler) Subscription {
	id := h.nextID.Add(1)

	h.mu.Lock()
	h.handlers[id] = handler
	h.mu.Unlock()

	return &hubSubscription{hub: h, id: id}
}

// Publish delivers s to every subscriber and records it as the current
// state.
func (h *Hub) Publish(ctx context.Context, s State) {
	h.last.Store(int64(s))

	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, s)
	}
}

// State returns the most recently published state.
func (h *Hub) State() State {
	return State(h.last.Load())
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}

type hubSubscription struct {
	hub  *Hub
	id   uint64
	once sync.Once
}

func (s *hubSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.handlers, s.id)
		s.hub.mu.Unlock()
	})
}

// SignalSource publishes Terminating when the process receives one of its
// signals.
type SignalSource struct {
	*Hub

	signals chan os.Signal
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NotifySignals starts listening for sigs (SIGINT and SIGTERM when none are
// given). Close releases the signal handlers.
func NotifySignals(sigs ...os.Signal) *SignalSource {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	s := &SignalSource{
		Hub:     NewHub(),
		signals: make(chan os.Signal, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	signal.Notify(s.signals, sigs...)
	go s.run()
	return s
}

func (s *SignalSource) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.signals:
			s.Publish(context.Background(), Terminating)
		case <-s.done:
			return
		}
	}
}

// Close stops listening. It waits for an in-progress publish to finish.
func (s *SignalSource) Close() error {
	s.once.Do(func() {
		signal.Stop(s.signals)
		close(s.done)
		<-s.stopped
	})
	return nil
}
