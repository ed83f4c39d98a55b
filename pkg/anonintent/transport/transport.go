// Package transport delivers encoded event batches to the collection
// endpoint.
//
// Network is the collaborator interface the delivery scheduler depends on.
// HTTPTransport implements it over net/http with optional gzip or zstd body
// compression and in-request retries for transient failures.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	aierrors "github.com/randalmurphal/anonintent/pkg/anonintent/errors"
)

// Version is reported in the User-Agent header.
const Version = "1.0.0"

// Request is one delivery to the collection endpoint.
type Request struct {
	// URL is the collection endpoint.
	URL string
	// Body is the uncompressed JSON payload.
	Body []byte
	// Headers are sent in addition to the transport's own headers.
	Headers map[string]string
	// Retries is the number of extra attempts for transient failures.
	Retries int
}

// Network delivers payloads.
type Network interface {
	// Post sends req and waits for the response. A nil error means the
	// endpoint acknowledged the payload with a 2xx status.
	Post(ctx context.Context, req Request) error

	// SendBestEffort hands req to the network without waiting for an
	// acknowledgment. It reports whether the handoff succeeded. Used when
	// the process may exit immediately.
	SendBestEffort(ctx context.Context, req Request) bool
}

// Payload is the wire body of a delivery.
type Payload struct {
	APIKey string            `json:"apiKey"`
	Events []json.RawMessage `json:"events"`
}

// EncodePayload builds the wire body from already encoded events.
func EncodePayload(apiKey string, events []json.RawMessage) ([]byte, error) {
	if events == nil {
		events = []json.RawMessage{}
	}
	data, err := json.Marshal(Payload{APIKey: apiKey, Events: events})
	if err != nil {
		return nil, &aierrors.EncodeError{Err: err}
	}
	return data, nil
}

// Headers returns the authentication and content headers for apiKey.
func Headers(apiKey string) map[string]string {
	return map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + apiKey,
		"X-API-Key":     apiKey,
	}
}

// Compression selects the request body encoding.
type Compression string

// Supported compressions.
const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression parses a compression name. The empty string is none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, CompressionZstd:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}
