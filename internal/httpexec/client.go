// Package httpexec sends prebuilt HTTP requests to a provider with a
// shared pooled client, retry policy, and streaming-aware decompression.
// Grounded on internal/handlers/proxy.go, which owns the same concerns
// (http.DefaultClient.Do, decompressReader, per-response-kind handling)
// but with no retry loop of its own; the retry policy itself is new, built
// on github.com/cenkalti/backoff/v4.
package httpexec

import (
	"io"
	"net"
	"net/http"
	"time"
)

// ChatTimeout is the per-request timeout for non-streaming calls.
// Streaming calls use StreamIdleTimeout instead via NewClient's
// transport-level settings, since a streaming response has no fixed
// overall deadline.
const ChatTimeout = 60 * time.Second

// StreamIdleTimeout bounds time-to-first-header for a streaming response via
// NewClient's transport-level ResponseHeaderTimeout; it does not bound
// inter-chunk inactivity once the stream has started.
const StreamIdleTimeout = 90 * time.Second

// StreamInactivityTimeout bounds inactivity between successive chunk reads
// once a streaming response is underway. Applied via NewIdleTimeoutReader,
// not at the transport level, since http.Transport has no per-read deadline
// of its own.
const StreamInactivityTimeout = 60 * time.Second

// NewClient builds the single shared *http.Client the gateway uses for
// every provider call: one pooled client per process, reused across
// requests. Non-streaming callers should additionally bound their context
// with ChatTimeout; NewClient itself sets no blanket client.Timeout
// because that would also cut off legitimate long-lived streaming reads.
func NewClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: StreamIdleTimeout,
	}

	return &http.Client{Transport: transport}
}

// idleTimeoutReader closes the underlying stream if no Read on it succeeds
// within d of the previous one, turning inter-chunk silence on a streaming
// response into a read error instead of an unbounded hang. Resetting the
// timer on every Read (not just every chunk boundary) means a response body
// that is still actively delivering bytes, just slowly, is never penalized.
type idleTimeoutReader struct {
	r      io.Reader
	closer io.Closer
	d      time.Duration
	timer  *time.Timer
}

// NewIdleTimeoutReader wraps rc so that a gap longer than d between
// successive Reads closes rc, aborting the in-progress Read. Intended for
// streaming responses, where ResponseHeaderTimeout only bounds time to the
// first byte and cannot detect a connection that goes quiet mid-stream.
func NewIdleTimeoutReader(rc io.ReadCloser, d time.Duration) io.ReadCloser {
	it := &idleTimeoutReader{r: rc, closer: rc, d: d}
	it.timer = time.AfterFunc(d, func() { rc.Close() })
	return it
}

func (it *idleTimeoutReader) Read(p []byte) (int, error) {
	n, err := it.r.Read(p)
	it.timer.Reset(it.d)
	return n, err
}

func (it *idleTimeoutReader) Close() error {
	it.timer.Stop()
	return it.closer.Close()
}
