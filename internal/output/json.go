package output

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/torosent/b52/internal/transfer"
)

const (
	EventBatchStart       = "batch_start"
	EventTransferComplete = "transfer_complete"
	EventRunComplete      = "run_complete"
)

// Event is one JSON line of the machine-readable report.
type Event struct {
	Event     string  `json:"event"`
	RunID     string  `json:"run_id,omitempty"`
	Batch     int     `json:"batch,omitempty"` // 1-based
	Size      int     `json:"size,omitempty"`
	Request   int     `json:"request,omitempty"` // 1-based slot position
	URL       string  `json:"url,omitempty"`
	Code      *int    `json:"code,omitempty"`
	Status    int     `json:"status,omitempty"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
	Elapsed   string  `json:"elapsed,omitempty"`
	ElapsedMs float64 `json:"elapsed_ms,omitempty"`
}

// JSONReporter writes one JSON object per event.
type JSONReporter struct {
	mu    sync.Mutex
	enc   *json.Encoder
	runID string
	batch int
}

func NewJSONReporter(w io.Writer, runID string) *JSONReporter {
	if w == nil {
		w = io.Discard
	}
	return &JSONReporter{enc: json.NewEncoder(w), runID: runID}
}

func (r *JSONReporter) BatchStart(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batch++
	r.write(Event{Event: EventBatchStart, Batch: r.batch, Size: size})
}

func (r *JSONReporter) TransferComplete(o transfer.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code := int(o.Code)
	ev := Event{
		Event:     EventTransferComplete,
		Batch:     r.batch,
		Request:   o.Index + 1,
		URL:       o.URL,
		Code:      &code,
		Status:    o.Status,
		LatencyMs: durationMs(o.Latency),
	}
	if o.Err != nil {
		ev.Error = o.Err.Error()
	}
	r.write(ev)
}

func (r *JSONReporter) RunComplete(elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.write(Event{Event: EventRunComplete, Elapsed: FormatElapsed(elapsed), ElapsedMs: durationMs(elapsed)})
}

func (r *JSONReporter) write(ev Event) {
	ev.RunID = r.runID
	_ = r.enc.Encode(ev)
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
