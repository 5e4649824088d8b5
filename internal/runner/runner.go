package runner

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/torosent/b52/internal/queue"
	"github.com/torosent/b52/internal/tracing"
)

// Result captures execution summary.
type Result struct {
	Batches     int
	Dispatched  int   // URLs taken from the queue
	Completed   int   // outcomes reported
	Aborted     int   // batches whose drive loop stopped early
	BatchSizes  []int // size of each batch, in dispatch order
	Interrupted bool  // the run stopped between batches on cancellation
	Duration    time.Duration
}

// Runner dispatches a queue in strictly sequential batches.
type Runner struct {
	opt   Options
	pacer batchPacer
}

// ErrNoExecutor is returned by New when Options carries no Executor.
var ErrNoExecutor = errors.New("runner: executor is required")

func New(opt Options) (*Runner, error) {
	if opt.Executor == nil {
		return nil, ErrNoExecutor
	}
	opt.normalize()
	return &Runner{opt: opt, pacer: newBatchPacer(opt)}, nil
}

// Run drains q in batches of at most Concurrency URLs. Each batch is handed
// to the executor and fully completes before the next one is taken. A
// cancelled ctx stops the run between batches; the batch in flight is always
// driven to completion.
func (r *Runner) Run(ctx context.Context, q *queue.Queue) Result {
	start := time.Now()
	var res Result

	for !q.Empty() {
		if err := r.pacer.Wait(ctx); err != nil {
			res.Interrupted = true
			r.opt.Logger.Info("run interrupted between batches",
				zap.Int("remaining", q.Len()),
				zap.Error(err),
			)
			break
		}

		urls := q.Take(r.opt.Concurrency)
		size := len(urls)
		res.Batches++
		res.BatchSizes = append(res.BatchSizes, size)
		res.Dispatched += size

		r.opt.Reporter.BatchStart(size)

		batchCtx, span := tracing.StartBatchSpan(ctx, r.opt.Tracer, res.Batches-1, size)
		br := r.opt.Executor.Execute(batchCtx, urls, r.opt.Reporter)
		res.Completed += br.Reported
		if br.Aborted {
			res.Aborted++
			r.opt.Logger.Warn("batch aborted",
				zap.Int("batch", res.Batches-1),
				zap.Int("size", size),
				zap.Int("reported", br.Reported),
				zap.Error(br.Err),
			)
		}

		var spanErr error
		if br.Aborted {
			spanErr = br.Err
			if spanErr == nil {
				spanErr = errors.New("batch aborted")
			}
		}
		tracing.EndSpan(span, spanErr, attribute.Int("b52.batch.reported", br.Reported))
	}

	res.Duration = time.Since(start)
	return res
}
