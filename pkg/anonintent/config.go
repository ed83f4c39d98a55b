package anonintent

import (
	"net/url"
	"strings"
	"time"

	"github.com/randalmurphal/anonintent/pkg/anonintent/config"
	"github.com/randalmurphal/anonintent/pkg/anonintent/consent"
	"github.com/randalmurphal/anonintent/pkg/anonintent/delivery"
	aierrors "github.com/randalmurphal/anonintent/pkg/anonintent/errors"
	"github.com/randalmurphal/anonintent/pkg/anonintent/event"
	"github.com/randalmurphal/anonintent/pkg/anonintent/identity"
	"github.com/randalmurphal/anonintent/pkg/anonintent/queue"
	"github.com/randalmurphal/anonintent/pkg/anonintent/transport"
)

// Defaults applied by Initialize to zero-valued Config fields.
const (
	DefaultPlatform       = "go"
	DefaultRequestTimeout = 10 * time.Second
	defaultLocateTimeout  = 2 * time.Second
)

// Config configures a Tracker.
//
// Zero values select the documented defaults, so a literal with only
// APIKey and Endpoint set is a complete configuration.
type Config struct {
	// APIKey authenticates deliveries. Required.
	APIKey string

	// Endpoint is the collection URL events are POSTed to. Required;
	// must be an absolute http or https URL.
	Endpoint string

	// Environment tags events with the deployment stage.
	// Default: production
	Environment event.Environment

	// Platform tags events with the integration platform.
	// Default: go
	Platform string

	// AppVersion is reported in device metadata.
	AppVersion string

	// BatchSize is the most events per delivery and the queue size that
	// triggers an immediate delivery. Default: 50
	BatchSize int

	// FlushInterval is the periodic delivery interval. Default: 30s
	FlushInterval time.Duration

	// DrainDelay is the wait before delivering the rest of a backlog.
	// Default: 1s
	DrainDelay time.Duration

	// SessionTimeout is the background time after which returning to the
	// foreground starts a new session. Default: 30m
	SessionTimeout time.Duration

	// DebugMode logs at debug level when no logger is injected.
	DebugMode bool

	// PreciseLocation disables coordinate rounding. Locations are
	// anonymized to roughly 1 km unless this is set.
	PreciseLocation bool

	// MaxQueueSize caps the pending queue; the oldest event is evicted
	// when full. Default: 10000. Negative means unbounded.
	MaxQueueSize int

	// MaxEventsPerSecond limits Track with a token bucket whose burst is
	// BatchSize. Zero disables the limit.
	MaxEventsPerSecond float64

	// Compression selects the request body encoding: none, gzip or zstd.
	Compression transport.Compression

	// RequestTimeout bounds each delivery request. Default: 10s
	RequestTimeout time.Duration

	// RequestRetries is the number of in-request retries for transient
	// failures. Default: 0
	RequestRetries int

	// OnConsent supplies the initial consent decision when none is
	// persisted. It is called at most once.
	OnConsent consent.Predicate
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = event.EnvProduction
	}
	if c.Platform == "" {
		c.Platform = DefaultPlatform
	}
	if c.BatchSize == 0 {
		c.BatchSize = delivery.DefaultBatchSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = delivery.DefaultFlushInterval
	}
	if c.DrainDelay == 0 {
		c.DrainDelay = delivery.DefaultDrainDelay
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = identity.DefaultSessionTimeout
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = queue.DefaultMaxSize
	}
	if parsed, err := transport.ParseCompression(string(c.Compression)); err == nil {
		c.Compression = parsed
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
}

// Validate reports the first invalid field as a *errors.ConfigError.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return &aierrors.ConfigError{Field: "apiKey", Message: "required"}
	}
	if err := validateEndpoint(c.Endpoint); err != nil {
		return err
	}
	if c.Environment != "" && !c.Environment.Valid() {
		return &aierrors.ConfigError{
			Field:   "environment",
			Message: "must be production, staging or development, got " + string(c.Environment),
		}
	}
	if c.Compression != "" {
		if _, err := transport.ParseCompression(string(c.Compression)); err != nil {
			return &aierrors.ConfigError{Field: "compression", Message: err.Error()}
		}
	}

	switch {
	case c.BatchSize < 0:
		return &aierrors.ConfigError{Field: "batchSize", Message: "must not be negative"}
	case c.FlushInterval < 0:
		return &aierrors.ConfigError{Field: "flushInterval", Message: "must not be negative"}
	case c.DrainDelay < 0:
		return &aierrors.ConfigError{Field: "drainDelay", Message: "must not be negative"}
	case c.SessionTimeout < 0:
		return &aierrors.ConfigError{Field: "sessionTimeout", Message: "must not be negative"}
	case c.MaxEventsPerSecond < 0:
		return &aierrors.ConfigError{Field: "maxEventsPerSecond", Message: "must not be negative"}
	case c.RequestTimeout < 0:
		return &aierrors.ConfigError{Field: "requestTimeout", Message: "must not be negative"}
	case c.RequestRetries < 0:
		return &aierrors.ConfigError{Field: "requestRetries", Message: "must not be negative"}
	}
	return nil
}

func validateEndpoint(endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return &aierrors.ConfigError{Field: "endpoint", Message: "required"}
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return &aierrors.ConfigError{Field: "endpoint", Message: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &aierrors.ConfigError{Field: "endpoint", Message: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &aierrors.ConfigError{Field: "endpoint", Message: "missing host"}
	}
	return nil
}

// ConfigFromMap reads a Config from loosely typed configuration, as loaded
// from YAML, JSON or the environment. Durations accept Go duration strings
// or numbers of seconds. The consent predicate cannot be expressed in a map
// and must be set on the result.
func ConfigFromMap(c config.Config) Config {
	return Config{
		APIKey:             c.String("apiKey", ""),
		Endpoint:           c.String("endpoint", ""),
		Environment:        event.Environment(strings.ToLower(c.String("environment", ""))),
		Platform:           c.String("platform", ""),
		AppVersion:         c.String("appVersion", ""),
		BatchSize:          c.Int("batchSize", 0),
		FlushInterval:      c.Duration("flushInterval", 0),
		DrainDelay:         c.Duration("drainDelay", 0),
		SessionTimeout:     c.Duration("sessionTimeout", 0),
		DebugMode:          c.Bool("debugMode", false),
		PreciseLocation:    !c.Bool("anonymizeLocation", true),
		MaxQueueSize:       c.Int("maxQueueSize", 0),
		MaxEventsPerSecond: c.Float("maxEventsPerSecond", 0),
		Compression:        transport.Compression(strings.ToLower(c.String("compression", ""))),
		RequestTimeout:     c.Duration("requestTimeout", 0),
		RequestRetries:     c.Int("requestRetries", 0),
	}
}
