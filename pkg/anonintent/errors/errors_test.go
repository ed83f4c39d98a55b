package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryTransient, "transient"},
		{CategoryPermanent, "permanent"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.category.String(); got != tt.expected {
				t.Errorf("Category(%d).String() = %s, want %s", tt.category, got, tt.expected)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"HTTP 408", &HTTPError{StatusCode: 408}, CategoryTransient},
		{"HTTP 429", &HTTPError{StatusCode: 429}, CategoryTransient},
		{"HTTP 500", &HTTPError{StatusCode: 500}, CategoryTransient},
		{"HTTP 503", &HTTPError{StatusCode: 503}, CategoryTransient},
		{"HTTP 400", &HTTPError{StatusCode: 400}, CategoryPermanent},
		{"HTTP 401", &HTTPError{StatusCode: 401}, CategoryPermanent},
		{"HTTP 403", &HTTPError{StatusCode: 403}, CategoryPermanent},
		{"wrapped HTTP 502", fmt.Errorf("post: %w", &HTTPError{StatusCode: 502}), CategoryTransient},
		{"timeout", &TimeoutError{Operation: "post", Duration: 10 * time.Second, Err: context.DeadlineExceeded}, CategoryTransient},
		{"encode", &EncodeError{Err: errors.New("bad")}, CategoryPermanent},
		{"deadline", context.DeadlineExceeded, CategoryTransient},
		{"canceled", context.Canceled, CategoryPermanent},
		{"categorized", Permanent(errors.New("x"), "op"), CategoryPermanent},
		{"unknown", errors.New("connection reset by peer"), CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.expected {
				t.Errorf("Categorize() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestCategorizedError(t *testing.T) {
	t.Run("error message with context", func(t *testing.T) {
		err := NewCategorized(errors.New("failed"), CategoryTransient, "flush")
		expected := "flush: failed (category: transient, attempts: 0)"
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})

	t.Run("unwrap", func(t *testing.T) {
		inner := errors.New("inner error")
		err := Transient(inner, "test")
		if !errors.Is(err, inner) {
			t.Error("Unwrap should return inner error")
		}
	})
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Field: "api_key", Message: "required"}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Error("ConfigError should match ErrInvalidConfig")
	}
	if got := err.Error(); got != "invalid configuration: api_key: required" {
		t.Errorf("Error() = %q", got)
	}
}

func TestStorageError(t *testing.T) {
	inner := errors.New("disk full")
	err := &StorageError{Op: "set", Key: "k", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("StorageError should unwrap")
	}
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     1 * time.Second,
		BackoffFactor:  2,
	}

	tests := []struct {
		failures int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{50, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := cfg.Backoff(tt.failures); got != tt.expected {
			t.Errorf("Backoff(%d) = %v, want %v", tt.failures, got, tt.expected)
		}
	}
}

func TestBackoffJitterStaysCapped(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     150 * time.Millisecond,
		BackoffFactor:  2,
		Jitter:         0.5,
	}
	for i := 0; i < 100; i++ {
		if got := cfg.Backoff(3); got > cfg.MaxBackoff {
			t.Fatalf("Backoff exceeded cap: %v", got)
		}
	}
}

func TestWithRetryContext(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
	}

	t.Run("success after transient failures", func(t *testing.T) {
		calls := 0
		result := WithRetryContext(context.Background(), cfg, func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, &HTTPError{StatusCode: 503}
			}
			return 42, nil
		})
		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}
		if result.Value != 42 || result.Attempts != 3 {
			t.Errorf("got value=%d attempts=%d", result.Value, result.Attempts)
		}
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		calls := 0
		result := WithRetryContext(context.Background(), cfg, func(context.Context) (int, error) {
			calls++
			return 0, &HTTPError{StatusCode: 401}
		})
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
		if Categorize(result.Err) != CategoryPermanent {
			t.Errorf("category = %s", Categorize(result.Err))
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		result := WithRetryContext(context.Background(), cfg, func(context.Context) (int, error) {
			return 0, &HTTPError{StatusCode: 500}
		})
		if result.Attempts != 3 {
			t.Errorf("attempts = %d", result.Attempts)
		}
		var httpErr *HTTPError
		if !errors.As(result.Err, &httpErr) {
			t.Error("final error should wrap the last HTTPError")
		}
	})

	t.Run("zero attempts still runs once", func(t *testing.T) {
		calls := 0
		WithRetryContext(context.Background(), RetryConfig{}, func(context.Context) (int, error) {
			calls++
			return 0, nil
		})
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}

func TestWithRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := WithRetryContext(ctx, DefaultRetry, func(context.Context) (int, error) {
		t.Fatal("fn should not run")
		return 0, nil
	})
	if result.Attempts != 0 {
		t.Errorf("attempts = %d", result.Attempts)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("err = %v", result.Err)
	}
}

func TestRetryAfter(t *testing.T) {
	err := fmt.Errorf("deliver: %w", &HTTPError{StatusCode: 429, RetryAfter: 30 * time.Second})
	if got := RetryAfter(err); got != 30*time.Second {
		t.Errorf("RetryAfter() = %v, want 30s", got)
	}
	if got := RetryAfter(errors.New("plain")); got != 0 {
		t.Errorf("RetryAfter(plain) = %v, want 0", got)
	}
}
