package transfer

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrMultiClosed is returned by a multiplexing context used after Close.
var ErrMultiClosed = errors.New("transfer: multiplexing context closed")

// ErrAlreadyAdded is returned when a handle is registered twice.
var ErrAlreadyAdded = errors.New("transfer: handle already added")

// Interest is the readiness a multiplexing context wants to be woken for.
// Descriptors identify registered transfers. MaxFD is -1 when no transfer has
// a descriptor yet, in which case there is nothing to wait on.
type Interest struct {
	Readable    []int
	Writable    []int
	Exceptional []int
	MaxFD       int
}

// Empty reports whether the interest holds no descriptors.
func (i Interest) Empty() bool {
	return i.MaxFD < 0
}

// MessageKind identifies what a Message reports.
type MessageKind int

const (
	MessageDone MessageKind = iota + 1
)

// Message is a notification read back from a multiplexing context.
type Message struct {
	Kind   MessageKind
	Handle *Handle
	Code   Code
}

// Multi is a multiplexing context: it advances many non-blocking transfers
// from a single goroutine. The drive loop in Multiplexer is written against
// this interface.
type Multi interface {
	// Add registers a handle. It does not start the transfer.
	Add(h *Handle) error
	// Perform starts registered transfers and collects finished ones. It
	// returns how many transfers are still running and never blocks.
	Perform() (running int, err error)
	// Timeout suggests how long to wait before the next Perform. ok is false
	// when the context has no preference.
	Timeout() (d time.Duration, ok bool)
	// Interest reports current readiness interest.
	Interest() (Interest, error)
	// Wait blocks until a descriptor in interest is ready or timeout elapses.
	Wait(interest Interest, timeout time.Duration) error
	// InfoRead pops the next message and reports how many remain queued.
	// It returns nil when the queue is empty.
	InfoRead() (*Message, int)
	// Remove detaches a handle and stops its transfer if still running.
	Remove(h *Handle) error
	// Close releases the context. Running transfers are stopped and
	// Close returns only after they have exited.
	Close() error
}

// httpMulti is the net/http backed Multi. Socket readiness itself is handled
// by the Go runtime network poller; each started transfer runs on its own
// goroutine and the drive loop observes it through descriptors and completion
// notifications only.
type httpMulti struct {
	client *http.Client
	sink   io.Writer

	mu       sync.Mutex
	nextFD   int
	handles  map[*Handle]struct{}
	pending  []*Handle
	running  map[*Handle]struct{}
	finished []*Handle
	messages []*Message
	closed   bool

	ready chan struct{}
	wg    sync.WaitGroup
}

// NewHTTPMulti returns a multiplexing context that performs transfers with client.
func NewHTTPMulti(client *http.Client) Multi {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpMulti{
		client:  client,
		sink:    discard{},
		handles: make(map[*Handle]struct{}),
		running: make(map[*Handle]struct{}),
		ready:   make(chan struct{}, 1),
	}
}

func (m *httpMulti) Add(h *Handle) error {
	if h == nil {
		return errors.New("transfer: nil handle")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMultiClosed
	}
	if _, ok := m.handles[h]; ok {
		return ErrAlreadyAdded
	}
	h.fd = m.nextFD
	m.nextFD++
	m.handles[h] = struct{}{}
	m.pending = append(m.pending, h)
	return nil
}

func (m *httpMulti) Perform() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrMultiClosed
	}

	for _, h := range m.pending {
		m.running[h] = struct{}{}
		m.wg.Add(1)
		go m.run(h)
	}
	m.pending = nil

	for _, h := range m.finished {
		if _, ok := m.running[h]; !ok {
			continue
		}
		delete(m.running, h)
		code, _, _, _ := h.Result()
		m.messages = append(m.messages, &Message{Kind: MessageDone, Handle: h, Code: code})
	}
	m.finished = nil

	return len(m.running), nil
}

func (m *httpMulti) run(h *Handle) {
	defer m.wg.Done()
	h.perform(m.client, m.sink)

	m.mu.Lock()
	m.finished = append(m.finished, h)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *httpMulti) Timeout() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) > 0 || len(m.finished) > 0 {
		return 0, true
	}
	return 0, false
}

func (m *httpMulti) Interest() (Interest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Interest{MaxFD: -1}, ErrMultiClosed
	}

	in := Interest{MaxFD: -1}
	for h := range m.running {
		switch h.currentPhase() {
		case phaseConnecting:
			in.Writable = append(in.Writable, h.fd)
		case phaseAwaiting:
			in.Readable = append(in.Readable, h.fd)
		case phaseDone:
			in.Readable = append(in.Readable, h.fd)
			if _, _, _, err := h.Result(); err != nil {
				in.Exceptional = append(in.Exceptional, h.fd)
			}
		default:
			continue
		}
		if h.fd > in.MaxFD {
			in.MaxFD = h.fd
		}
	}
	return in, nil
}

func (m *httpMulti) Wait(interest Interest, timeout time.Duration) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrMultiClosed
	}
	if interest.Empty() || timeout <= 0 {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-m.ready:
	case <-timer.C:
	}
	return nil
}

func (m *httpMulti) InfoRead() (*Message, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return nil, 0
	}
	msg := m.messages[0]
	m.messages[0] = nil
	m.messages = m.messages[1:]
	return msg, len(m.messages)
}

func (m *httpMulti) Remove(h *Handle) error {
	if h == nil {
		return nil
	}
	m.mu.Lock()
	delete(m.handles, h)
	delete(m.running, h)
	for i, p := range m.pending {
		if p == h {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	h.release()
	return nil
}

func (m *httpMulti) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	handles := make([]*Handle, 0, len(m.handles))
	for h := range m.handles {
		handles = append(handles, h)
	}
	m.handles = nil
	m.running = nil
	m.pending = nil
	m.messages = nil
	m.mu.Unlock()

	for _, h := range handles {
		h.release()
	}
	m.wg.Wait()
	// Each batch starts from fresh connections.
	m.client.CloseIdleConnections()
	return nil
}
