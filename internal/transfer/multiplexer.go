package transfer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/torosent/b52/internal/logging"
	"github.com/torosent/b52/internal/tracing"
)

const (
	// defaultWait is used when the context has no timeout preference.
	defaultWait = 3 * time.Second
	// maxWait caps every readiness wait.
	maxWait = time.Second
	// idleWait is slept when no transfer has a descriptor to wait on yet.
	idleWait = 100 * time.Millisecond
)

// errAbandoned ends the span of a transfer that never reported.
var errAbandoned = errors.New("transfer abandoned before completion")

// Outcome is the completion of one slot.
type Outcome struct {
	Index   int // slot index within the batch, 0-based
	URL     string
	Code    Code
	Status  int // HTTP status, 0 when no response arrived
	Latency time.Duration
	Err     error
}

// Reporter receives one Outcome per completed slot, in completion order.
type Reporter interface {
	TransferComplete(o Outcome)
}

// Slot binds one URL to one handle for the lifetime of a batch.
type Slot struct {
	Index   int
	URL     string
	Handle  *Handle
	Outcome *Outcome // nil while pending

	span trace.Span
}

// BatchResult summarizes one Execute call.
type BatchResult struct {
	Size     int
	Reported int
	Aborted  bool  // the drive loop stopped on a multiplexing context failure
	Err      error // the failure that aborted the loop
}

// Options configure a Multiplexer.
type Options struct {
	Client    *http.Client             // transport for every transfer (default: NewClient(ClientOptions{}))
	UserAgent string                   // sent with every request
	Logger    *zap.Logger              // optional
	Tracer    trace.Tracer             // optional; spans per transfer
	Propagate bool                     // inject W3C trace headers into requests
	NewMulti  func(*http.Client) Multi // optional injection for tests
}

// Multiplexer drives one batch of transfers at a time to completion.
type Multiplexer struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
	tracer    trace.Tracer
	propagate bool
	newMulti  func(*http.Client) Multi
	idleWait  time.Duration
	sleep     func(time.Duration)
}

func NewMultiplexer(opt Options) *Multiplexer {
	if opt.Client == nil {
		opt.Client = NewClient(ClientOptions{})
	}
	if opt.Tracer == nil {
		opt.Tracer = noop.NewTracerProvider().Tracer("b52")
	}
	if opt.NewMulti == nil {
		opt.NewMulti = NewHTTPMulti
	}
	return &Multiplexer{
		client:    opt.Client,
		userAgent: opt.UserAgent,
		logger:    logging.OrNop(opt.Logger),
		tracer:    opt.Tracer,
		propagate: opt.Propagate,
		newMulti:  opt.NewMulti,
		idleWait:  idleWait,
		sleep:     time.Sleep,
	}
}

// Execute runs every URL in urls as one concurrent batch and returns once all
// transfers completed or the multiplexing context failed. One Outcome is
// reported per completed slot. All handles and the multiplexing context are
// released before Execute returns.
//
// Cancelling ctx does not interrupt the batch; ctx only parents trace spans.
func (m *Multiplexer) Execute(ctx context.Context, urls []string, rep Reporter) (res BatchResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)
	res.Size = len(urls)

	multi := m.newMulti(m.client)
	slots := make([]*Slot, 0, len(urls))
	defer func() { m.cleanup(multi, slots) }()

	for i, rawURL := range urls {
		slotCtx, span := tracing.StartTransferSpan(ctx, m.tracer, i, rawURL)
		h := NewHandle(slotCtx, rawURL, m.userAgent)
		if m.propagate && h.Header() != nil {
			tracing.InjectHTTPHeaders(slotCtx, h.Header())
		}
		slot := &Slot{Index: i, URL: rawURL, Handle: h, span: span}
		slots = append(slots, slot)

		if err := multi.Add(h); err != nil {
			m.logger.Warn("register transfer", zap.Int("slot", i), zap.String("url", rawURL), zap.Error(err))
			m.complete(slot, CodeFailed, 0, 0, err, rep)
			res.Reported++
		}
	}

	if len(slots) == 0 {
		return res
	}

	// A failed Perform leaves the running count as it was. A closed context
	// also fails the next readiness query, which ends the batch.
	running, err := multi.Perform()
	if err != nil {
		m.logger.Warn("start transfers", zap.Error(err))
		running = len(slots) - res.Reported
	}

	for running > 0 {
		timeout := waitTimeout(multi.Timeout())

		interest, err := multi.Interest()
		if err != nil {
			m.logger.Error("query readiness interest; abandoning batch", zap.Int("running", running), zap.Error(err))
			res.Aborted, res.Err = true, err
			break
		}

		if interest.Empty() {
			m.sleep(m.idleWait)
		} else if err := multi.Wait(interest, timeout); err != nil {
			m.logger.Debug("readiness wait", zap.Error(err))
		}

		n, err := multi.Perform()
		if err != nil {
			m.logger.Warn("advance transfers", zap.Int("running", running), zap.Error(err))
			continue
		}
		running = n
	}

	res.Reported += m.drain(multi, slots, rep)
	return res
}

// waitTimeout turns the context's suggestion into the bounded wait for one
// loop iteration.
func waitTimeout(suggested time.Duration, ok bool) time.Duration {
	if !ok || suggested < 0 {
		suggested = defaultWait
	}
	if suggested > maxWait {
		suggested = maxWait
	}
	return suggested
}

// drain reports every finished transfer queued on the context.
func (m *Multiplexer) drain(multi Multi, slots []*Slot, rep Reporter) int {
	reported := 0
	for {
		msg, _ := multi.InfoRead()
		if msg == nil {
			return reported
		}
		if msg.Kind != MessageDone {
			continue
		}
		slot := slotFor(slots, msg.Handle)
		if slot == nil {
			m.logger.Warn("completion for unknown transfer")
			continue
		}
		if slot.Outcome != nil {
			continue
		}
		_, status, latency, err := msg.Handle.Result()
		m.complete(slot, msg.Code, status, latency, err, rep)
		reported++
	}
}

func slotFor(slots []*Slot, h *Handle) *Slot {
	for _, s := range slots {
		if s.Handle == h {
			return s
		}
	}
	return nil
}

func (m *Multiplexer) complete(slot *Slot, code Code, status int, latency time.Duration, err error, rep Reporter) {
	o := Outcome{
		Index:   slot.Index,
		URL:     slot.URL,
		Code:    code,
		Status:  status,
		Latency: latency,
		Err:     err,
	}
	slot.Outcome = &o

	if slot.span != nil {
		attrs := []attribute.KeyValue{attribute.Int("b52.transfer.code", int(code))}
		if status > 0 {
			attrs = append(attrs, attribute.Int("http.response.status_code", status))
		}
		tracing.EndSpan(slot.span, err, attrs...)
		slot.span = nil
	}

	if code != CodeOK {
		m.logger.Debug("transfer failed",
			zap.Int("slot", slot.Index),
			zap.String("url", slot.URL),
			zap.Int("code", int(code)),
			zap.Error(err),
		)
	}
	if rep != nil {
		rep.TransferComplete(o)
	}
}

// cleanup detaches and releases every handle, then closes the context.
func (m *Multiplexer) cleanup(multi Multi, slots []*Slot) {
	for _, slot := range slots {
		if err := multi.Remove(slot.Handle); err != nil {
			m.logger.Debug("remove transfer", zap.Int("slot", slot.Index), zap.Error(err))
		}
		slot.Handle.release()
		if slot.span != nil {
			tracing.EndSpan(slot.span, errAbandoned)
			slot.span = nil
		}
	}
	if err := multi.Close(); err != nil {
		m.logger.Warn("close multiplexing context", zap.Error(err))
	}
}
