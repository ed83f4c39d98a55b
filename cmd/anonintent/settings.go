package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/anonintent/pkg/anonintent"
	"github.com/randalmurphal/anonintent/pkg/anonintent/config"
	"github.com/randalmurphal/anonintent/pkg/anonintent/storage"
)

const (
	envPrefix = "ANONINTENT"
	dbName    = "anonintent.db"
)

// settingKeys lists every recognized setting with its environment suffix.
// File keys use the camelCase spelling.
var settingKeys = []struct {
	key string
	env string
}{
	{"apiKey", "API_KEY"},
	{"endpoint", "ENDPOINT"},
	{"environment", "ENVIRONMENT"},
	{"platform", "PLATFORM"},
	{"appVersion", "APP_VERSION"},
	{"batchSize", "BATCH_SIZE"},
	{"flushInterval", "FLUSH_INTERVAL"},
	{"drainDelay", "DRAIN_DELAY"},
	{"sessionTimeout", "SESSION_TIMEOUT"},
	{"debugMode", "DEBUG_MODE"},
	{"anonymizeLocation", "ANONYMIZE_LOCATION"},
	{"maxQueueSize", "MAX_QUEUE_SIZE"},
	{"maxEventsPerSecond", "MAX_EVENTS_PER_SECOND"},
	{"compression", "COMPRESSION"},
	{"requestTimeout", "REQUEST_TIMEOUT"},
	{"requestRetries", "REQUEST_RETRIES"},
	{"dataDir", "DATA_DIR"},
	{"otlpEndpoint", "OTLP_ENDPOINT"},
	{"otlpInsecure", "OTLP_INSECURE"},
}

// flagKeys maps persistent flags onto setting keys.
var flagKeys = map[string]string{
	"data-dir":      "dataDir",
	"api-key":       "apiKey",
	"endpoint":      "endpoint",
	"environment":   "environment",
	"debug":         "debugMode",
	"otlp-endpoint": "otlpEndpoint",
}

// loadSettings layers the config file, environment and flags into v.
// Flags only override when set explicitly.
func loadSettings(v *viper.Viper, path string, cmd *cobra.Command) error {
	for _, s := range settingKeys {
		if err := v.BindEnv(s.key, envPrefix+"_"+s.env); err != nil {
			return fmt.Errorf("bind env %s: %w", s.env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if cmd == nil {
		return nil
	}
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// trackerConfig converts the layered settings into a tracker Config.
func trackerConfig(v *viper.Viper) anonintent.Config {
	return anonintent.ConfigFromMap(config.New(v.AllSettings()))
}

// dataDir returns the configured data directory, defaulting to the user
// config directory.
func dataDir(v *viper.Viper) (string, error) {
	if dir := strings.TrimSpace(v.GetString("dataDir")); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(base, "anonintent"), nil
}

// agent is an initialized tracker over the on-disk store.
type agent struct {
	*anonintent.Tracker
	store *storage.SQLiteStorage
}

// openAgent opens the database in the data directory and initializes a
// tracker over it. The persisted session is continued so consecutive
// invocations share one session.
func openAgent(ctx context.Context, v *viper.Viper, opts ...anonintent.Option) (*agent, error) {
	dir, err := dataDir(v)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, dbName))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	base := []anonintent.Option{
		anonintent.WithStorage(store),
		anonintent.WithSessionRestore(),
	}
	if v.GetString("otlpEndpoint") != "" {
		base = append(base, anonintent.WithOpenTelemetry())
	}
	tracker := anonintent.New(append(base, opts...)...)
	if err := tracker.Initialize(ctx, trackerConfig(v)); err != nil {
		store.Close()
		return nil, err
	}
	return &agent{Tracker: tracker, store: store}, nil
}

// Close stops the tracker and closes the store.
func (a *agent) Close() error {
	a.Cleanup()
	return a.store.Close()
}
