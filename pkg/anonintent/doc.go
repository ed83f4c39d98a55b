/*
Package anonintent records anonymous behavioral events in Go applications
and delivers them to a collection endpoint.

# Overview

A Tracker stamps each event with an installation-scoped anonymous id and
the current session, strips properties that commonly carry personal data,
and appends it to a durable FIFO queue. A background scheduler delivers
the queue in batches: periodically, as soon as a full batch is waiting,
when the host goes to the background, and on explicit Flush.

Nothing is recorded or sent until consent is granted. Revoking consent
clears every pending event before SetConsent returns.

# Basic Usage

	store, err := storage.NewSQLiteStorage(filepath.Join(dataDir, "anonintent.db"))
	if err != nil {
	    return err
	}
	defer store.Close()

	tracker := anonintent.New(anonintent.WithStorage(store))
	err = tracker.Initialize(ctx, anonintent.Config{
	    APIKey:   "k-123",
	    Endpoint: "https://collector.example.com/v1/events",
	    OnConsent: func() bool {
	        return settings.TelemetryOptIn
	    },
	})
	if err != nil {
	    return err // *errors.ConfigError
	}
	defer tracker.Cleanup()

	tracker.Track(ctx, "search", map[string]any{
	    "query": "trail shoes",
	    "email": "dropped@example.com", // never leaves the process
	})

# Delivery Guarantees

Delivery is at-least-once while consent is granted: a batch is removed
only after the collector answers 2xx, so a crash or timeout between send
and acknowledgment can deliver the same events twice. Events carry a
unique eventId for deduplication. Failed deliveries leave the queue
untouched and retry with capped exponential backoff.

# Lifecycle

Pass a lifecycle.Source with WithLifecycle, or call HandleLifecycle
directly. Background and Terminating hand pending events to the
network's best-effort path; Foreground after the session timeout starts a
new session.

	sigs := lifecycle.NotifySignals()
	defer sigs.Close()
	tracker := anonintent.New(anonintent.WithLifecycle(sigs))

# Observability

Logging uses log/slog. Metrics and delivery spans go through
OpenTelemetry when WithOpenTelemetry, WithMetrics or WithSpanManager is
given, and are no-ops otherwise.
*/
package anonintent
