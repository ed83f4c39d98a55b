package transport

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	zstdEncoder     *zstd.Encoder
	zstdEncoderOnce sync.Once
	zstdEncoderErr  error
)

// sharedZstdEncoder returns a process-wide encoder. EncodeAll is safe for
// concurrent use.
func sharedZstdEncoder() (*zstd.Encoder, error) {
	zstdEncoderOnce.Do(func() {
		zstdEncoder, zstdEncoderErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderConcurrency(1),
		)
	})
	return zstdEncoder, zstdEncoderErr
}

// compress encodes body with c. It returns the Content-Encoding value to
// send, empty for CompressionNone.
func compress(c Compression, body []byte) ([]byte, string, error) {
	switch c {
	case "", CompressionNone:
		return body, "", nil

	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, "", fmt.Errorf("gzip: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("gzip: %w", err)
		}
		return buf.Bytes(), "gzip", nil

	case CompressionZstd:
		enc, err := sharedZstdEncoder()
		if err != nil {
			return nil, "", fmt.Errorf("zstd: %w", err)
		}
		return enc.EncodeAll(body, make([]byte, 0, len(body)/2)), "zstd", nil

	default:
		return nil, "", fmt.Errorf("unknown compression %q", c)
	}
}
