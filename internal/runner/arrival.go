package runner

import (
	"context"

	"golang.org/x/time/rate"
)

// batchPacer gates the start of each batch.
type batchPacer interface {
	Wait(ctx context.Context) error
}

func newBatchPacer(opt Options) batchPacer {
	if opt.BatchRate <= 0 {
		return unpaced{}
	}
	return &uniformArrival{limiter: opt.LimiterFactory(opt.BatchRate)}
}

type unpaced struct{}

func (unpaced) Wait(ctx context.Context) error { return ctx.Err() }

// uniformArrival delegates pacing to a rate.Limiter (uniform spacing).
type uniformArrival struct {
	limiter *rate.Limiter
}

func (u *uniformArrival) Wait(ctx context.Context) error {
	if u == nil || u.limiter == nil {
		return ctx.Err()
	}
	return u.limiter.Wait(ctx)
}

