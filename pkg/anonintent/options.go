package anonintent

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/anonintent/pkg/anonintent/device"
	"github.com/randalmurphal/anonintent/pkg/anonintent/lifecycle"
	"github.com/randalmurphal/anonintent/pkg/anonintent/observability"
	"github.com/randalmurphal/anonintent/pkg/anonintent/storage"
	"github.com/randalmurphal/anonintent/pkg/anonintent/transport"
)

// Option configures a Tracker's collaborators.
type Option func(*Tracker)

// WithStorage sets where identity, consent and pending events persist.
// Default: in-memory storage, which does not survive restarts.
func WithStorage(store storage.Storage) Option {
	return func(t *Tracker) {
		t.store = store
	}
}

// WithNetwork sets the delivery transport.
// Default: an HTTPTransport built from Config.
func WithNetwork(n transport.Network) Option {
	return func(t *Tracker) {
		t.network = n
	}
}

// WithLocator attaches a location source. Without one, events carry no
// geo data.
func WithLocator(l device.Locator) Option {
	return func(t *Tracker) {
		t.locator = l
	}
}

// WithDeviceMetadata sets the device metadata source.
// Default: device.HostProvider for the running process.
func WithDeviceMetadata(p device.MetadataProvider) Option {
	return func(t *Tracker) {
		t.meta = p
	}
}

// WithLifecycle subscribes the tracker to host lifecycle transitions
// during Initialize.
//
// Example:
//
//	sigs := lifecycle.NotifySignals()
//	defer sigs.Close()
//	tracker := anonintent.New(anonintent.WithLifecycle(sigs))
func WithLifecycle(src lifecycle.Source) Option {
	return func(t *Tracker) {
		t.lifecycle = src
	}
}

// WithLogger sets the logger. When unset, Initialize builds a text logger
// on stderr at info level, or debug level when Config.DebugMode is set.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
		t.loggerSet = logger != nil
	}
}

// WithMetrics sets the metrics recorder.
// Default: observability.NoopMetrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(t *Tracker) {
		if m != nil {
			t.metrics = m
		}
	}
}

// WithSpanManager sets the tracer used for delivery spans.
// Default: observability.NoopSpanManager.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(t *Tracker) {
		if sm != nil {
			t.spans = sm
		}
	}
}

// WithOpenTelemetry records metrics and spans through the global
// OpenTelemetry providers.
func WithOpenTelemetry() Option {
	return func(t *Tracker) {
		t.metrics = observability.NewMetricsRecorder()
		t.spans = observability.NewSpanManager()
	}
}

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithSessionRestore makes Initialize continue the persisted session when
// it was active within the session timeout, instead of always starting a
// new one. Short-lived processes such as CLIs use this to keep one session
// across invocations.
func WithSessionRestore() Option {
	return func(t *Tracker) {
		t.restoreSession = true
	}
}
