// Package runner is the batch dispatcher of b52.
//
// A run drains a [queue.Queue] in batches of at most Concurrency URLs. Each
// batch is handed to an [Executor] and must fully complete before the next
// batch is taken, so at most Concurrency transfers are ever in flight and the
// slowest transfer of a batch delays the start of the next one.
//
// # Basic Usage
//
//	r, err := runner.New(runner.Options{
//		Concurrency: 2,
//		Executor:    transfer.NewMultiplexer(transfer.Options{}),
//		Reporter:    output.NewTextReporter(os.Stdout),
//	})
//	if err != nil {
//		return err
//	}
//	result := r.Run(ctx, queue.New(urls))
//
// For N URLs and concurrency K the run executes ceil(N/K) batches; every batch
// has K URLs except possibly the last, which has N mod K.
//
// # Pacing
//
// BatchRate limits how many batches start per second using a
// golang.org/x/time/rate limiter. Zero means batches start back to back.
//
// # Cancellation
//
// Cancelling the context passed to Run stops the run between batches. The
// batch in flight is never interrupted.
package runner
