// Package output renders run progress: batch boundaries, one line per
// completed transfer and the final elapsed time.
package output

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/torosent/b52/internal/transfer"
)

// Banner separates batches in the text report.
const Banner = "========================================"

// Reporter receives run events in emission order.
type Reporter interface {
	BatchStart(size int)
	TransferComplete(o transfer.Outcome)
	RunComplete(elapsed time.Duration)
}

// TextReporter writes the plain report. Request numbers are 1-based slot
// positions within the batch; status is the transfer outcome code.
type TextReporter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTextReporter(w io.Writer) *TextReporter {
	if w == nil {
		w = io.Discard
	}
	return &TextReporter{w: w}
}

func (r *TextReporter) BatchStart(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, Banner)
	fmt.Fprintf(r.w, "Executing new batch of %d requests.\n", size)
}

func (r *TextReporter) TransferComplete(o transfer.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "request %d status %d\n", o.Index+1, int(o.Code))
}

func (r *TextReporter) RunComplete(elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, Banner)
	fmt.Fprintf(r.w, "All done in %s seconds.\n", FormatElapsed(elapsed))
}

// FormatElapsed renders d as whole seconds and ten-thousandths, e.g. "1.0425".
// Negative durations render as zero.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := d / time.Second
	frac := (d % time.Second) / (100 * time.Microsecond)
	return fmt.Sprintf("%d.%04d", int64(sec), int64(frac))
}

// Tee fans every event out to each reporter in order. Nil entries are skipped.
func Tee(reporters ...Reporter) Reporter {
	out := make(multiReporter, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

type multiReporter []Reporter

func (m multiReporter) BatchStart(size int) {
	for _, r := range m {
		r.BatchStart(size)
	}
}

func (m multiReporter) TransferComplete(o transfer.Outcome) {
	for _, r := range m {
		r.TransferComplete(o)
	}
}

func (m multiReporter) RunComplete(elapsed time.Duration) {
	for _, r := range m {
		r.RunComplete(elapsed)
	}
}
