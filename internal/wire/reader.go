package wire

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"time"

	"github.com/gkumurzhi/ExperimentalServer/internal/logging"
	"go.uber.org/zap"
)

// Reader defaults.
const (
	DefaultHeaderTimeout = 30 * time.Second
	DefaultBodyTimeout   = 300 * time.Second
	DefaultReadTimeout   = 5 * time.Second
	DefaultChunkSize     = 64 * 1024
	DefaultHeaderSlack   = 64 * 1024
	DefaultMaxBodySize   = 100 * 1024 * 1024

	// pollInterval bounds how long a wait for the first byte of a request
	// goes without checking for shutdown.
	pollInterval = time.Second
)

// Reader frames complete HTTP messages off a connection.
type Reader struct {
	// MaxBodySize plus HeaderSlack is the hard cap on bytes buffered for one message.
	MaxBodySize int64
	HeaderSlack int64

	// HeaderTimeout bounds the header phase from the first byte; BodyTimeout
	// bounds the body phase from the end of the headers.
	HeaderTimeout time.Duration
	BodyTimeout   time.Duration

	// ReadTimeout is the per-recv wait once a request has started.
	ReadTimeout time.Duration

	ChunkSize int
}

// NewReader returns a Reader with the default budgets and the given body cap.
func NewReader(maxBodySize int64) *Reader {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	return &Reader{
		MaxBodySize:   maxBodySize,
		HeaderSlack:   DefaultHeaderSlack,
		HeaderTimeout: DefaultHeaderTimeout,
		BodyTimeout:   DefaultBodyTimeout,
		ReadTimeout:   DefaultReadTimeout,
		ChunkSize:     DefaultChunkSize,
	}
}

// ReadMessage returns the bytes of exactly one HTTP message (header block
// plus declared body), or nil when no usable message could be framed.
//
// idle, when positive, is the wait allowed for the first byte of a request on
// a reused connection; otherwise ReadTimeout applies. Cancelling ctx only
// interrupts that wait for the first byte: a request in progress runs to
// completion or to its own budget.
func (r *Reader) ReadMessage(ctx context.Context, conn net.Conn, idle time.Duration) []byte {
	remoteAddr := conn.RemoteAddr().String()
	chunk := make([]byte, r.chunkSize())
	limit := r.MaxBodySize + r.HeaderSlack

	firstWait := idle
	if firstWait <= 0 {
		firstWait = r.ReadTimeout
	}

	first, ok := r.awaitFirstBytes(ctx, conn, chunk, firstWait)
	if !ok {
		return nil
	}

	var buf bytes.Buffer
	buf.Write(first)

	start := time.Now()
	var headersDone time.Time
	headerEnd := -1
	var contentLength int64

	for {
		if int64(buf.Len()) > limit {
			logging.Warn("Request too large, dropping",
				zap.String("remote_addr", remoteAddr),
				zap.Int("bytes", buf.Len()),
			)
			return nil
		}

		if headerEnd < 0 {
			// Header sections are small; rescanning the whole buffer is fine.
			if idx := bytes.Index(buf.Bytes(), headerTerminator); idx >= 0 {
				headerEnd = idx + len(headerTerminator)
				contentLength = scanContentLength(buf.Bytes()[:idx])
				headersDone = time.Now()
			}
		}

		if headerEnd >= 0 {
			// Compare before adding so a huge declared length cannot overflow.
			if contentLength > limit-int64(headerEnd) {
				logging.Warn("Declared body exceeds request cap, dropping",
					zap.String("remote_addr", remoteAddr),
					zap.Int64("content_length", contentLength),
				)
				return nil
			}
			want := int64(headerEnd) + contentLength
			if int64(buf.Len()) >= want {
				logging.Debug("Request framed",
					zap.String("remote_addr", remoteAddr),
					zap.Int64("bytes", want),
				)
				return buf.Bytes()[:want]
			}
		}

		if headerEnd < 0 && time.Since(start) > r.HeaderTimeout {
			logging.Warn("Header receive timeout",
				zap.String("remote_addr", remoteAddr),
				zap.Duration("elapsed", time.Since(start)),
			)
			return nil
		}
		if headerEnd >= 0 && time.Since(headersDone) > r.BodyTimeout {
			logging.Warn("Body receive timeout",
				zap.String("remote_addr", remoteAddr),
				zap.Duration("elapsed", time.Since(headersDone)),
			)
			return nil
		}

		_ = conn.SetReadDeadline(time.Now().Add(r.ReadTimeout))
		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			if isTimeout(err) {
				if headerEnd < 0 {
					logging.Debug("Timed out waiting for headers",
						zap.String("remote_addr", remoteAddr),
					)
					return nil
				}
				// Slow uploads keep going until the body budget runs out.
				continue
			}
			if n > 0 {
				continue
			}
			logging.Debug("Connection ended before message was complete",
				zap.String("remote_addr", remoteAddr),
				zap.Error(err),
			)
			return nil
		}
	}
}

// awaitFirstBytes waits up to wait for the first bytes of a message, checking
// ctx between short polls.
func (r *Reader) awaitFirstBytes(ctx context.Context, conn net.Conn, chunk []byte, wait time.Duration) ([]byte, bool) {
	deadline := time.Now().Add(wait)
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		if remaining > pollInterval {
			remaining = pollInterval
		}
		_ = conn.SetReadDeadline(time.Now().Add(remaining))
		n, err := conn.Read(chunk)
		if n > 0 {
			return append([]byte(nil), chunk[:n]...), true
		}
		if err != nil && !isTimeout(err) {
			return nil, false
		}
	}
}

func (r *Reader) chunkSize() int {
	if r.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return r.ChunkSize
}

// scanContentLength finds the first Content-Length line of a header block.
func scanContentLength(head []byte) int64 {
	for _, line := range strings.Split(string(head), "\r\n") {
		if len(line) < len("content-length:") {
			continue
		}
		if strings.EqualFold(line[:len("content-length:")], "content-length:") {
			return parseContentLength(line[len("content-length:"):])
		}
	}
	return 0
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
