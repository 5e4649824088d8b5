package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// phase tracks where a transfer is, which determines the readiness interest
// it contributes to the multiplexing context.
type phase int32

const (
	phaseIdle       phase = iota // registered, not started
	phaseResolving               // started, no connection yet
	phaseConnecting              // connection in progress, waiting to write
	phaseAwaiting                // request written, waiting to read
	phaseDone                    // finished, result available
)

// Handle is one non-blocking HTTP GET. It is created per slot and never reused
// across batches.
type Handle struct {
	URL string

	req      *http.Request
	buildErr error
	cancel   context.CancelFunc

	fd    int
	phase atomic.Int32

	mu      sync.Mutex
	status  int
	err     error
	latency time.Duration
	code    Code
}

// NewHandle prepares a GET for rawURL. Construction problems are kept on the
// handle and surface as the transfer's outcome rather than as an error, so a
// bad URL still occupies and reports its slot.
func NewHandle(ctx context.Context, rawURL, userAgent string) *Handle {
	h := &Handle{URL: rawURL, fd: -1}

	u, err := url.Parse(rawURL)
	if err != nil {
		h.buildErr = fmt.Errorf("parse url: %w", err)
		return h
	}
	if u.Scheme == "" || u.Host == "" {
		h.buildErr = fmt.Errorf("parse url %q: scheme and host are required", rawURL)
		return h
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		h.buildErr = err
		return h
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	h.req = req
	h.cancel = cancel
	return h
}

// Header exposes the request headers so callers can add trace propagation.
// It returns nil when the handle could not build a request.
func (h *Handle) Header() http.Header {
	if h.req == nil {
		return nil
	}
	return h.req.Header
}

// Result returns the outcome recorded when the transfer finished.
func (h *Handle) Result() (code Code, status int, latency time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code, h.status, h.latency, h.err
}

func (h *Handle) currentPhase() phase {
	return phase(h.phase.Load())
}

// advance moves the handle forward; it never moves backwards.
func (h *Handle) advance(to phase) {
	for {
		cur := h.phase.Load()
		if cur >= int32(to) {
			return
		}
		if h.phase.CompareAndSwap(cur, int32(to)) {
			return
		}
	}
}

func (h *Handle) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		ConnectStart: func(string, string) { h.advance(phaseConnecting) },
		GotConn:      func(httptrace.GotConnInfo) { h.advance(phaseConnecting) },
		WroteRequest: func(httptrace.WroteRequestInfo) { h.advance(phaseAwaiting) },
	}
}

// perform executes the transfer on client and discards the body into sink.
// It blocks until the transfer finishes.
func (h *Handle) perform(client *http.Client, sink io.Writer) {
	start := time.Now()
	h.advance(phaseResolving)

	if h.buildErr != nil {
		h.finish(CodeURLMalformed, 0, time.Since(start), h.buildErr)
		return
	}

	req := h.req.WithContext(httptrace.WithClientTrace(h.req.Context(), h.trace()))
	resp, err := client.Do(req)
	if err != nil {
		h.finish(CodeOf(err), 0, time.Since(start), err)
		return
	}

	_, copyErr := io.Copy(sink, resp.Body)
	closeErr := resp.Body.Close()
	if copyErr == nil && closeErr != nil {
		copyErr = closeErr
	}
	h.finish(CodeOf(copyErr), resp.StatusCode, time.Since(start), copyErr)
}

func (h *Handle) finish(code Code, status int, latency time.Duration, err error) {
	h.mu.Lock()
	h.code = code
	h.status = status
	h.latency = latency
	h.err = err
	h.mu.Unlock()
	h.phase.Store(int32(phaseDone))
}

// release cancels any in-flight work owned by the handle. Safe to call twice.
func (h *Handle) release() {
	if h.cancel != nil {
		h.cancel()
	}
}

// discard is the response body sink: it accepts and drops every byte.
type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

var _ io.Writer = discard{}
