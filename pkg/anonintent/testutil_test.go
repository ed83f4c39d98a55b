package anonintent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/anonintent/pkg/anonintent/device"
	aierrors "github.com/randalmurphal/anonintent/pkg/anonintent/errors"
	"github.com/randalmurphal/anonintent/pkg/anonintent/event"
	"github.com/randalmurphal/anonintent/pkg/anonintent/observability"
	"github.com/randalmurphal/anonintent/pkg/anonintent/storage"
	"github.com/randalmurphal/anonintent/pkg/anonintent/transport"
)

// recordingNetwork captures delivered batches as decoded events.
type recordingNetwork struct {
	mu         sync.Mutex
	fail       bool
	refuse     bool
	posts      [][]*event.IntentEvent
	bestEffort [][]*event.IntentEvent
}

func (n *recordingNetwork) Post(_ context.Context, req transport.Request) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return &aierrors.HTTPError{StatusCode: 503, Message: "unavailable"}
	}
	n.posts = append(n.posts, decodeBatch(req.Body))
	return nil
}

func (n *recordingNetwork) SendBestEffort(_ context.Context, req transport.Request) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.refuse {
		return false
	}
	n.bestEffort = append(n.bestEffort, decodeBatch(req.Body))
	return true
}

func (n *recordingNetwork) postCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.posts)
}

func (n *recordingNetwork) delivered() []*event.IntentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var all []*event.IntentEvent
	for _, p := range n.posts {
		all = append(all, p...)
	}
	return all
}

func decodeBatch(body []byte) []*event.IntentEvent {
	var p transport.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil
	}
	events := make([]*event.IntentEvent, 0, len(p.Events))
	for _, raw := range p.Events {
		if e, err := event.Decode(raw); err == nil {
			events = append(events, e)
		}
	}
	return events
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{
		APIKey:        "k-test",
		Endpoint:      "https://collect.test/v1/events",
		FlushInterval: time.Hour,
	}
}

func granted() bool { return true }

// newTestTracker builds a tracker over the given storage and network with
// quiet logging and fixed device metadata.
func newTestTracker(store storage.Storage, network transport.Network, opts ...Option) *Tracker {
	base := []Option{
		WithStorage(store),
		WithNetwork(network),
		WithLogger(observability.DiscardLogger()),
		WithDeviceMetadata(device.MetadataFunc(func() *event.DeviceMeta {
			return &event.DeviceMeta{OS: "linux", Runtime: "go-test"}
		})),
	}
	return New(append(base, opts...)...)
}

// activeTracker returns an initialized tracker with consent granted.
func activeTracker(t *testing.T, network transport.Network, opts ...Option) *Tracker {
	t.Helper()
	cfg := testConfig()
	cfg.OnConsent = granted
	tr := newTestTracker(storage.NewMemoryStorage(), network, opts...)
	require.NoError(t, tr.Initialize(context.Background(), cfg))
	t.Cleanup(tr.Cleanup)
	require.Equal(t, StateActive, tr.State())
	return tr
}
