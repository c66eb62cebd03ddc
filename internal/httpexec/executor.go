package httpexec

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mihaisavezi/llmgateway/internal/gwerr"
)

// MaxAttempts is the default retry ceiling: up to 3 attempts per request.
const MaxAttempts = 3

const (
	initialBackoff      = 500 * time.Millisecond
	maxBackoff          = 8 * time.Second
	backoffJitterFactor = 0.2
)

// Response is a successful HTTP round-trip: status, headers, and a
// decompressed, still-open body stream a translator can either ReadAll
// (non-streaming) or scan incrementally (SSE). The caller must Close it.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// RequestFunc builds a fresh *http.Request for one attempt. It is called
// again on every retry so a request body backed by a non-reusable reader
// can be rebuilt from source rather than replayed from a half-drained one.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Executor sends requests through a shared *http.Client with a retry
// policy. Grounded on ProxyHandler.ServeHTTP, which
// performs the single-attempt send/decompress/forward sequence this type
// wraps in a retry loop.
type Executor struct {
	client *http.Client
}

// NewExecutor builds an Executor around client. Pass the result of
// NewClient to share one connection pool across every provider call.
func NewExecutor(client *http.Client) *Executor {
	return &Executor{client: client}
}

// Do sends the request built by newRequest, retrying with exponential
// backoff on network errors and HTTP 408/429/5xx, honoring Retry-After on 429, and
// aborting immediately (no further retries) if ctx is cancelled during a
// wait or in-flight read. On exhausting retries or hitting a non-retryable
// failure it returns a classified *gwerr.Error (HttpError, RateLimited,
// AuthFailed, NetworkError, Timeout, or Cancelled); on any 2xx response it
// returns a *Response whose Body the caller owns and must Close.
func (e *Executor) Do(ctx context.Context, newRequest RequestFunc) gwerr.Result[*Response] {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	bo.MaxInterval = maxBackoff
	bo.RandomizationFactor = backoffJitterFactor
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // attempt count below is the only cap

	var lastErr *gwerr.Error

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return gwerr.Fail[*Response](gwerr.Wrap(gwerr.Cancelled, err, "request cancelled"))
		}

		req, buildErr := newRequest(ctx)
		if buildErr != nil {
			return gwerr.Fail[*Response](gwerr.Wrap(gwerr.InvalidArgument, buildErr, "failed to build upstream request"))
		}

		resp, doErr := e.client.Do(req)
		if doErr != nil {
			if ctx.Err() != nil {
				return gwerr.Fail[*Response](gwerr.Wrap(gwerr.Cancelled, ctx.Err(), "request cancelled"))
			}

			lastErr = classifyDoError(doErr)
			if attempt == MaxAttempts-1 || !lastErr.Retryable() {
				return gwerr.Fail[*Response](lastErr)
			}
			if !sleep(ctx, bo.NextBackOff()) {
				return gwerr.Fail[*Response](gwerr.Wrap(gwerr.Cancelled, ctx.Err(), "request cancelled during backoff"))
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			body, decErr := decompressReader(resp)
			if decErr != nil {
				resp.Body.Close()
				return gwerr.Fail[*Response](gwerr.Wrap(gwerr.InvalidResponse, decErr, "failed to decompress upstream response"))
			}
			return gwerr.Ok(&Response{
				Status: resp.StatusCode,
				Header: resp.Header,
				Body:   readCloser{Reader: body, closer: resp.Body},
			})
		}

		lastErr = classifyStatus(resp)
		retryAfter := retryAfterDelay(resp.Header)
		resp.Body.Close()

		if attempt == MaxAttempts-1 || !lastErr.Retryable() {
			return gwerr.Fail[*Response](lastErr)
		}

		delay := bo.NextBackOff()
		if retryAfter > 0 {
			delay = retryAfter
		}
		if !sleep(ctx, delay) {
			return gwerr.Fail[*Response](gwerr.Wrap(gwerr.Cancelled, ctx.Err(), "request cancelled during backoff"))
		}
	}

	return gwerr.Fail[*Response](lastErr)
}

// sleep waits for d or ctx cancellation, whichever comes first, reporting
// whether the wait completed normally.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// classifyDoError maps a transport-level failure (the kind http.Client.Do
// returns for DNS/TLS/socket/deadline problems) onto gwerr.Kind values.
// *url.Error, what http.Client.Do actually returns, implements net.Error by
// delegating Timeout() to the error it wraps.
func classifyDoError(err error) *gwerr.Error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return gwerr.Wrap(gwerr.Timeout, err, "upstream request timed out")
	}
	return gwerr.Wrap(gwerr.NetworkError, err, "upstream request failed")
}

// classifyStatus maps a non-2xx HTTP response onto gwerr.Kind values:
// 401/403 to AuthFailed, 429 to RateLimited, everything else to HttpError with the
// status recorded for the caller.
func classifyStatus(resp *http.Response) *gwerr.Error {
	status := resp.StatusCode

	var kind gwerr.Kind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = gwerr.AuthFailed
	case status == http.StatusTooManyRequests:
		kind = gwerr.RateLimited
	default:
		kind = gwerr.HTTPError
	}

	e := gwerr.New(kind, "upstream returned status %d", status)
	e.Status = status
	if status == http.StatusTooManyRequests {
		e.RetryAfter = int(retryAfterDelay(resp.Header) / time.Second)
	}
	return e
}

// retryAfterDelay parses a Retry-After header (seconds form; 
// only requires honoring it on 429) into a duration, or 0 if absent/invalid.
func retryAfterDelay(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// readCloser pairs a (possibly decompressing) Reader with the underlying
// transport body that must actually be closed.
type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r readCloser) Close() error {
	return r.closer.Close()
}
