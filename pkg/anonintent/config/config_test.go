package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Nil(t *testing.T) {
	cfg := New(nil)
	assert.NotNil(t, cfg.Raw())
	assert.False(t, cfg.Has("anything"))
}

func TestKeyMatching(t *testing.T) {
	cfg := New(map[string]any{
		"batch_size":      10,
		"flushInterval":   "45s",
		"Request-Timeout": 5,
	})

	assert.Equal(t, 10, cfg.Int("batchSize", 50))
	assert.Equal(t, 10, cfg.Int("batch-size", 50))
	assert.Equal(t, 45*time.Second, cfg.Duration("flush_interval", 0))
	assert.Equal(t, 5*time.Second, cfg.Duration("requestTimeout", 0))
	assert.True(t, cfg.Has("BATCHSIZE"))
}

func TestNestedKeys(t *testing.T) {
	cfg := New(map[string]any{
		"delivery": map[string]any{
			"batchSize": 5,
			"backoff":   map[string]any{"max": "2m"},
		},
	})

	assert.Equal(t, 5, cfg.Int("delivery.batch_size", 0))
	assert.Equal(t, 2*time.Minute, cfg.Duration("delivery.backoff.max", 0))
	assert.Equal(t, 0, cfg.Int("delivery.batchSize.nope", 0))
	assert.Equal(t, 5, cfg.Sub("delivery").Int("batchSize", 0))
	assert.False(t, cfg.Sub("missing").Has("x"))
	assert.False(t, cfg.Sub("delivery.batchSize").Has("x"))
}

func TestString(t *testing.T) {
	cfg := New(map[string]any{
		"s":    "hello",
		"i":    42,
		"f":    1.5,
		"b":    true,
		"list": []any{"a"},
	})
	assert.Equal(t, "hello", cfg.String("s", ""))
	assert.Equal(t, "42", cfg.String("i", ""))
	assert.Equal(t, "1.5", cfg.String("f", ""))
	assert.Equal(t, "true", cfg.String("b", ""))
	assert.Equal(t, "def", cfg.String("list", "def"))
	assert.Equal(t, "def", cfg.String("missing", "def"))
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want time.Duration
	}{
		{"duration string", "1m30s", 90 * time.Second},
		{"numeric string", "30", 30 * time.Second},
		{"int seconds", 30, 30 * time.Second},
		{"int64 seconds", int64(2), 2 * time.Second},
		{"float seconds", 0.5, 500 * time.Millisecond},
		{"duration", 3 * time.Second, 3 * time.Second},
		{"invalid", "soon", time.Hour},
		{"wrong type", true, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New(map[string]any{"d": tt.val})
			assert.Equal(t, tt.want, cfg.Duration("d", time.Hour))
		})
	}
}

func TestBool(t *testing.T) {
	cfg := New(map[string]any{"a": true, "b": "false", "c": "nope", "d": 1})
	assert.True(t, cfg.Bool("a", false))
	assert.False(t, cfg.Bool("b", true))
	assert.True(t, cfg.Bool("c", true))
	assert.True(t, cfg.Bool("d", true))
	assert.True(t, cfg.Bool("missing", true))
}

func TestInt(t *testing.T) {
	cfg := New(map[string]any{"a": 3, "b": int64(4), "c": 5.0, "d": 5.5, "e": " 6 ", "f": "x"})
	assert.Equal(t, 3, cfg.Int("a", 0))
	assert.Equal(t, 4, cfg.Int("b", 0))
	assert.Equal(t, 5, cfg.Int("c", 0))
	assert.Equal(t, -1, cfg.Int("d", -1))
	assert.Equal(t, 6, cfg.Int("e", 0))
	assert.Equal(t, -1, cfg.Int("f", -1))
}

func TestFloat(t *testing.T) {
	cfg := New(map[string]any{"a": 2.5, "b": 2, "c": int64(3), "d": "4.25", "e": "x"})
	assert.Equal(t, 2.5, cfg.Float("a", 0))
	assert.Equal(t, 2.0, cfg.Float("b", 0))
	assert.Equal(t, 3.0, cfg.Float("c", 0))
	assert.Equal(t, 4.25, cfg.Float("d", 0))
	assert.Equal(t, 9.0, cfg.Float("e", 9))
}

func TestAny(t *testing.T) {
	cfg := New(map[string]any{"x": []int{1}})
	assert.Equal(t, []int{1}, cfg.Any("x", nil))
	assert.Equal(t, "d", cfg.Any("y", "d"))
}

func TestMerge(t *testing.T) {
	base := New(map[string]any{
		"apiKey":    "file-key",
		"batchSize": 50,
		"delivery":  map[string]any{"retries": 1, "timeout": "5s"},
	})
	over := New(map[string]any{
		"api_key":  "env-key",
		"delivery": map[string]any{"retries": 3},
	})

	merged := base.Merge(over)
	assert.Equal(t, "env-key", merged.String("apiKey", ""))
	assert.Equal(t, 50, merged.Int("batchSize", 0))
	assert.Equal(t, 3, merged.Int("delivery.retries", 0))
	assert.Equal(t, 5*time.Second, merged.Duration("delivery.timeout", 0))

	// Inputs are untouched.
	assert.Equal(t, "file-key", base.String("apiKey", ""))
	assert.Equal(t, 1, base.Int("delivery.retries", 0))
}

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`
apiKey: k-1
endpoint: https://collect.example.com/v1/events
batchSize: 20
anonymizeLocation: false
delivery:
  flushInterval: 10s
`))
	require.NoError(t, err)
	assert.Equal(t, "k-1", cfg.String("apiKey", ""))
	assert.Equal(t, 20, cfg.Int("batchSize", 0))
	assert.False(t, cfg.Bool("anonymizeLocation", true))
	assert.Equal(t, 10*time.Second, cfg.Duration("delivery.flushInterval", 0))

	_, err = FromYAML([]byte("a: [unclosed"))
	assert.Error(t, err)
}

func TestFromJSON(t *testing.T) {
	cfg, err := FromJSON([]byte(`{"batchSize": 20, "debugMode": true}`))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Int("batchSize", 0))
	assert.True(t, cfg.Bool("debugMode", false))

	_, err = FromJSON([]byte("{"))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "agent.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("batchSize: 7\n"), 0o600))
	cfg, err := FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Int("batchSize", 0))

	jsonPath := filepath.Join(dir, "agent.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"batchSize": 8}`), 0o600))
	cfg, err = FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Int("batchSize", 0))

	tomlPath := filepath.Join(dir, "agent.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("batchSize = 9"), 0o600))
	_, err = FromFile(tomlPath)
	assert.ErrorContains(t, err, "unsupported")

	_, err = FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	cfg := FromEnv("ANONINTENT", []string{
		"ANONINTENT_API_KEY=k-env",
		"ANONINTENT_BATCH_SIZE=12",
		"ANONINTENT_DEBUG_MODE=true",
		"ANONINTENT_=ignored",
		"OTHER_BATCH_SIZE=99",
		"MALFORMED",
	})

	assert.Equal(t, "k-env", cfg.String("apiKey", ""))
	assert.Equal(t, 12, cfg.Int("batchSize", 0))
	assert.True(t, cfg.Bool("debugMode", false))
	assert.Len(t, cfg.Raw(), 3)
}
