package runner

import (
	"context"
	"math"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/b52/internal/logging"
	"github.com/torosent/b52/internal/transfer"
)

// Executor runs one batch of URLs to completion.
// Implementations report one outcome per completed slot to rep.
type Executor interface {
	Execute(ctx context.Context, urls []string, rep transfer.Reporter) transfer.BatchResult
}

// Reporter observes batch boundaries and transfer outcomes.
type Reporter interface {
	BatchStart(size int)
	transfer.Reporter
}

// Options configure the Runner.
type Options struct {
	Concurrency    int                                   // batch size K
	BatchRate      float64                               // batches per second (0 means unlimited)
	Executor       Executor                              // batch executor (required)
	Reporter       Reporter                              // optional
	Tracer         trace.Tracer                          // optional; one span per batch
	Logger         *zap.Logger                           // optional
	LimiterFactory func(perSecond float64) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.BatchRate < 0 || math.IsNaN(o.BatchRate) {
		o.BatchRate = 0
	}
	if o.Reporter == nil {
		o.Reporter = nopReporter{}
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("b52")
	}
	o.Logger = logging.OrNop(o.Logger)
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(perSecond float64) *rate.Limiter {
			if perSecond <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst of one keeps batch starts evenly spaced.
			return rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

type nopReporter struct{}

func (nopReporter) BatchStart(int) {}
func (nopReporter) TransferComplete(transfer.Outcome) {}
