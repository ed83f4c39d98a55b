package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	aierrors "github.com/randalmurphal/anonintent/pkg/anonintent/errors"
)

// Default timeouts.
const (
	DefaultRequestTimeout    = 10 * time.Second
	DefaultBestEffortTimeout = 2 * time.Second
)

// maxErrorBody bounds how much of an error response is kept for logging.
const maxErrorBody = 1024

// HTTPTransport implements Network over net/http.
type HTTPTransport struct {
	client            *http.Client
	requestTimeout    time.Duration
	bestEffortTimeout time.Duration
	compression       Compression
	userAgent         string
	retry             aierrors.RetryConfig
	logger            *slog.Logger
}

// Compile-time interface check.
var _ Network = (*HTTPTransport)(nil)

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.client = c
	}
}

// WithRequestTimeout bounds each Post attempt.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.requestTimeout = d
		}
	}
}

// WithBestEffortTimeout bounds SendBestEffort.
func WithBestEffortTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.bestEffortTimeout = d
		}
	}
}

// WithCompression sets the request body encoding. Names are matched
// case-insensitively.
func WithCompression(c Compression) HTTPOption {
	return func(t *HTTPTransport) {
		if parsed, err := ParseCompression(string(c)); err == nil {
			c = parsed
		}
		t.compression = c
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(t *HTTPTransport) {
		t.userAgent = ua
	}
}

// WithRetryBackoff sets the wait between in-request retries. MaxAttempts is
// taken from Request.Retries.
func WithRetryBackoff(cfg aierrors.RetryConfig) HTTPOption {
	return func(t *HTTPTransport) {
		t.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// NewHTTPTransport creates an HTTP transport.
func NewHTTPTransport(opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		client:            &http.Client{},
		requestTimeout:    DefaultRequestTimeout,
		bestEffortTimeout: DefaultBestEffortTimeout,
		compression:       CompressionNone,
		userAgent:         "anonintent-go/" + Version,
		retry:             aierrors.DefaultRetry,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Post sends req, retrying transient failures up to req.Retries times.
// Non-2xx responses are returned as *errors.HTTPError.
func (t *HTTPTransport) Post(ctx context.Context, req Request) error {
	body, encoding, err := compress(t.compression, req.Body)
	if err != nil {
		return &aierrors.EncodeError{Err: err}
	}

	cfg := t.retry
	cfg.MaxAttempts = req.Retries + 1

	result := aierrors.WithRetryContext(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, t.requestTimeout)
		defer cancel()
		err := t.do(attemptCtx, req, body, encoding, nil)
		if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return struct{}{}, &aierrors.TimeoutError{
				Operation: "post " + req.URL,
				Duration:  t.requestTimeout,
				Err:       err,
			}
		}
		return struct{}{}, err
	})
	if result.Err != nil && t.logger != nil {
		t.logger.Debug("post failed",
			slog.String("url", req.URL),
			slog.Int("attempts", result.Attempts),
			slog.String("error", result.Err.Error()),
		)
	}
	return result.Err
}

// SendBestEffort sends req once without retries. It reports true when the
// whole request was written to the connection, or when the endpoint
// answered 2xx; the response is not otherwise awaited beyond the
// best-effort timeout.
func (t *HTTPTransport) SendBestEffort(ctx context.Context, req Request) bool {
	body, encoding, err := compress(t.compression, req.Body)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, t.bestEffortTimeout)
	defer cancel()

	var wrote atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				wrote.Store(true)
			}
		},
	}

	err = t.do(ctx, req, body, encoding, trace)
	if err == nil {
		return true
	}
	var httpErr *aierrors.HTTPError
	if errors.As(err, &httpErr) {
		return false
	}
	return wrote.Load()
}

func (t *HTTPTransport) do(ctx context.Context, req Request, body []byte, encoding string, trace *httptrace.ClientTrace) error {
	if trace != nil {
		ctx = httptrace.WithClientTrace(ctx, trace)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return aierrors.Permanent(err, "build request")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("User-Agent", t.userAgent)
	if encoding != "" {
		httpReq.Header.Set("Content-Encoding", encoding)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &aierrors.HTTPError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(msg)),
		Endpoint:   req.URL,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
