package transfer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingReporter struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *recordingReporter) TransferComplete(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recordingReporter) byIndex() map[int]Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[int]Outcome, len(r.outcomes))
	for _, o := range r.outcomes {
		m[o.Index] = o
	}
	return m
}

// fakeMulti completes handles on a script and can fail the readiness query.
type fakeMulti struct {
	handles     []*Handle
	completeNow int // handles finished by the first Perform
	interestErr error
	emptyFirst  bool
	performErrs int // leading Perform calls that fail without progress

	performs  int
	interests int
	removed   int
	closed    bool
	messages  []*Message
}

func (f *fakeMulti) Add(h *Handle) error {
	f.handles = append(f.handles, h)
	return nil
}

func (f *fakeMulti) Perform() (int, error) {
	if f.performErrs > 0 {
		f.performErrs--
		return 0, errors.New("perform failed")
	}
	f.performs++
	if f.performs == 1 {
		for _, h := range f.handles[:f.completeNow] {
			h.finish(CodeOK, http.StatusOK, time.Millisecond, nil)
			f.messages = append(f.messages, &Message{Kind: MessageDone, Handle: h, Code: CodeOK})
		}
		return len(f.handles) - f.completeNow, nil
	}
	for _, h := range f.handles[f.completeNow:] {
		h.finish(CodeOK, http.StatusOK, time.Millisecond, nil)
		f.messages = append(f.messages, &Message{Kind: MessageDone, Handle: h, Code: CodeOK})
	}
	f.completeNow = len(f.handles)
	return 0, nil
}

func (f *fakeMulti) Timeout() (time.Duration, bool) { return 0, false }

func (f *fakeMulti) Interest() (Interest, error) {
	f.interests++
	if f.interestErr != nil {
		return Interest{MaxFD: -1}, f.interestErr
	}
	if f.emptyFirst && f.interests == 1 {
		return Interest{MaxFD: -1}, nil
	}
	return Interest{Readable: []int{0}, MaxFD: 0}, nil
}

func (f *fakeMulti) Wait(Interest, time.Duration) error { return nil }

func (f *fakeMulti) InfoRead() (*Message, int) {
	if len(f.messages) == 0 {
		return nil, 0
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, len(f.messages)
}

func (f *fakeMulti) Remove(*Handle) error {
	f.removed++
	return nil
}

func (f *fakeMulti) Close() error {
	f.closed = true
	return nil
}

func newFakeMultiplexer(fake *fakeMulti) *Multiplexer {
	m := NewMultiplexer(Options{
		NewMulti: func(*http.Client) Multi { return fake },
	})
	m.idleWait = time.Millisecond
	m.sleep = func(time.Duration) {}
	return m
}

func TestWaitTimeout(t *testing.T) {
	tests := []struct {
		name      string
		suggested time.Duration
		ok        bool
		want      time.Duration
	}{
		{"no preference clamps default", 0, false, maxWait},
		{"negative clamps default", -1, true, maxWait},
		{"zero stays zero", 0, true, 0},
		{"short kept", 250 * time.Millisecond, true, 250 * time.Millisecond},
		{"long clamped", 5 * time.Second, true, maxWait},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := waitTimeout(tt.suggested, tt.ok); got != tt.want {
				t.Errorf("waitTimeout(%v, %v) = %v, want %v", tt.suggested, tt.ok, got, tt.want)
			}
		})
	}
}

func TestExecuteInterestFailureAbortsBatch(t *testing.T) {
	fake := &fakeMulti{completeNow: 1, interestErr: errors.New("fdset failed")}
	m := newFakeMultiplexer(fake)
	rep := &recordingReporter{}

	res := m.Execute(context.Background(), []string{"http://a.test/", "http://b.test/", "http://c.test/"}, rep)

	if !res.Aborted || res.Err == nil {
		t.Fatalf("result = %+v, want aborted with error", res)
	}
	if res.Size != 3 {
		t.Errorf("Size = %d, want 3", res.Size)
	}
	if res.Reported != 1 || len(rep.outcomes) != 1 {
		t.Errorf("reported %d (%d outcomes), want only the transfer that finished", res.Reported, len(rep.outcomes))
	}
	if fake.removed != 3 {
		t.Errorf("removed %d handles, want 3", fake.removed)
	}
	if !fake.closed {
		t.Error("multiplexing context was not closed")
	}
}

func TestExecuteIdleInterestSleepsAndContinues(t *testing.T) {
	fake := &fakeMulti{emptyFirst: true}
	m := newFakeMultiplexer(fake)
	var slept []time.Duration
	m.sleep = func(d time.Duration) { slept = append(slept, d) }
	rep := &recordingReporter{}

	res := m.Execute(context.Background(), []string{"http://a.test/", "http://b.test/"}, rep)

	if res.Aborted {
		t.Fatalf("unexpected abort: %v", res.Err)
	}
	if res.Reported != 2 {
		t.Errorf("Reported = %d, want 2", res.Reported)
	}
	if len(slept) != 1 || slept[0] != m.idleWait {
		t.Errorf("idle sleeps = %v, want one of %v", slept, m.idleWait)
	}
}

func TestExecuteReadyInterestDoesNotSleep(t *testing.T) {
	fake := &fakeMulti{}
	m := newFakeMultiplexer(fake)
	sleeps := 0
	m.sleep = func(time.Duration) { sleeps++ }

	res := m.Execute(context.Background(), []string{"http://a.test/"}, &recordingReporter{})

	if res.Reported != 1 {
		t.Errorf("Reported = %d, want 1", res.Reported)
	}
	if sleeps != 0 {
		t.Errorf("slept %d times with a ready descriptor", sleeps)
	}
}

func TestExecutePerformFailureContinues(t *testing.T) {
	fake := &fakeMulti{performErrs: 2}
	m := newFakeMultiplexer(fake)
	rep := &recordingReporter{}

	res := m.Execute(context.Background(), []string{"http://a.test/", "http://b.test/"}, rep)

	if res.Aborted || res.Err != nil {
		t.Fatalf("result = %+v, want the batch to keep driving", res)
	}
	if res.Reported != 2 || len(rep.outcomes) != 2 {
		t.Errorf("reported %d (%d outcomes), want 2", res.Reported, len(rep.outcomes))
	}
	if !fake.closed {
		t.Error("multiplexing context was not closed")
	}
}

func TestExecuteEmptyBatch(t *testing.T) {
	fake := &fakeMulti{}
	m := newFakeMultiplexer(fake)

	res := m.Execute(context.Background(), nil, &recordingReporter{})

	if res.Size != 0 || res.Reported != 0 || res.Aborted {
		t.Errorf("result = %+v, want empty", res)
	}
	if fake.performs != 0 {
		t.Errorf("Perform called %d times on an empty batch", fake.performs)
	}
	if !fake.closed {
		t.Error("multiplexing context was not closed")
	}
}

func TestExecuteReportsEverySlot(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/slow":
			time.Sleep(50 * time.Millisecond)
			_, _ = w.Write([]byte(strings.Repeat("x", 64*1024)))
		default:
			_, _ = w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	urls := []string{srv.URL + "/a", srv.URL + "/missing", srv.URL + "/slow", srv.URL + "/b"}
	rep := &recordingReporter{}
	res := NewMultiplexer(Options{UserAgent: "test-agent"}).Execute(context.Background(), urls, rep)

	if res.Aborted {
		t.Fatalf("unexpected abort: %v", res.Err)
	}
	if res.Reported != len(urls) {
		t.Fatalf("Reported = %d, want %d", res.Reported, len(urls))
	}
	if got := int(hits.Load()); got != len(urls) {
		t.Errorf("server saw %d requests, want %d", got, len(urls))
	}

	outcomes := rep.byIndex()
	indexes := make([]int, 0, len(outcomes))
	for i, o := range outcomes {
		indexes = append(indexes, i)
		if o.Code != CodeOK {
			t.Errorf("slot %d code = %d (%v), want 0", i, o.Code, o.Err)
		}
		if o.URL != urls[i] {
			t.Errorf("slot %d URL = %q, want %q", i, o.URL, urls[i])
		}
	}
	sort.Ints(indexes)
	for i, idx := range indexes {
		if idx != i {
			t.Fatalf("slot indexes = %v, want 0..%d each once", indexes, len(urls)-1)
		}
	}
	if outcomes[1].Status != http.StatusNotFound {
		t.Errorf("404 slot status = %d, want 404", outcomes[1].Status)
	}
	if outcomes[0].Status != http.StatusOK {
		t.Errorf("slot 0 status = %d, want 200", outcomes[0].Status)
	}
}

func TestExecuteSendsUserAgentAndSkipsRedirects(t *testing.T) {
	var gotUA atomic.Value
	var followed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/target" {
			followed.Store(true)
			return
		}
		gotUA.Store(r.UserAgent())
		http.Redirect(w, r, "/target", http.StatusFound)
	}))
	defer srv.Close()

	rep := &recordingReporter{}
	NewMultiplexer(Options{UserAgent: "B52 Load Tester/1.0"}).
		Execute(context.Background(), []string{srv.URL + "/start"}, rep)

	if ua, _ := gotUA.Load().(string); ua != "B52 Load Tester/1.0" {
		t.Errorf("User-Agent = %q", ua)
	}
	if followed.Load() {
		t.Error("redirect was followed")
	}
	if len(rep.outcomes) != 1 || rep.outcomes[0].Status != http.StatusFound || rep.outcomes[0].Code != CodeOK {
		t.Errorf("outcomes = %+v, want one 302 with code 0", rep.outcomes)
	}
}

func TestExecuteTransportFailures(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	closedAddr := ln.Addr().String()
	_ = ln.Close()

	urls := []string{
		"http://" + closedAddr + "/",
		"ftp://example.test/file",
		"not a url",
		"http://",
	}
	want := []Code{CodeCouldntConnect, CodeUnsupportedProtocol, CodeURLMalformed, CodeURLMalformed}

	rep := &recordingReporter{}
	res := NewMultiplexer(Options{}).Execute(context.Background(), urls, rep)
	if res.Reported != len(urls) {
		t.Fatalf("Reported = %d, want %d", res.Reported, len(urls))
	}

	outcomes := rep.byIndex()
	for i, code := range want {
		o := outcomes[i]
		if o.Code != code {
			t.Errorf("%q: code = %d (%v), want %d", urls[i], o.Code, o.Err, code)
		}
		if o.Status != 0 {
			t.Errorf("%q: status = %d, want 0", urls[i], o.Status)
		}
	}
}

func TestExecuteTLSVerification(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secure"))
	}))
	defer srv.Close()

	strict := &recordingReporter{}
	NewMultiplexer(Options{}).Execute(context.Background(), []string{srv.URL}, strict)
	if len(strict.outcomes) != 1 || strict.outcomes[0].Code != CodePeerFailedVerification {
		t.Errorf("strict outcomes = %+v, want code 60", strict.outcomes)
	}

	lax := &recordingReporter{}
	client := NewClient(ClientOptions{InsecureSkipVerify: true})
	NewMultiplexer(Options{Client: client}).Execute(context.Background(), []string{srv.URL}, lax)
	if len(lax.outcomes) != 1 || lax.outcomes[0].Code != CodeOK || lax.outcomes[0].Status != http.StatusOK {
		t.Errorf("insecure outcomes = %+v, want 200 with code 0", lax.outcomes)
	}
}

func TestExecuteIgnoresCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := &recordingReporter{}
	res := NewMultiplexer(Options{}).Execute(ctx, []string{srv.URL, srv.URL}, rep)
	if res.Reported != 2 {
		t.Fatalf("Reported = %d, want 2", res.Reported)
	}
	for _, o := range rep.outcomes {
		if o.Code != CodeOK {
			t.Errorf("slot %d code = %d, want 0 despite cancelled parent", o.Index, o.Code)
		}
	}
}
