package autosave

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type memDoc struct {
	payload any
	version int64
}

// memServer is an in-memory versioned backend with compare-and-swap writes.
type memServer struct {
	mu       sync.Mutex
	docs     map[string]memDoc
	calls    [][]WriteRequest
	gate     chan struct{}
	callErr  error
	override func(WriteRequest) (ItemResult, bool)
	started  chan []WriteRequest
	now      time.Time
}

func newMemServer() *memServer {
	return &memServer{
		docs:    make(map[string]memDoc),
		started: make(chan []WriteRequest, 64),
		now:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func (s *memServer) WriteBatch(ctx context.Context, reqs []WriteRequest) ([]ItemResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, reqs)
	gate, callErr, override := s.gate, s.callErr, s.override
	s.mu.Unlock()

	s.started <- reqs
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if callErr != nil {
		return nil, callErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ItemResult, 0, len(reqs))
	for _, req := range reqs {
		if override != nil {
			if res, ok := override(req); ok {
				out = append(out, res)
				continue
			}
		}
		out = append(out, s.apply(req))
	}
	return out, nil
}

func (s *memServer) apply(req WriteRequest) ItemResult {
	doc, exists := s.docs[req.ResourceID]
	var current *int64
	if exists {
		current = Version(doc.version)
	}
	if !sameVersion(current, req.ExpectedVersion) {
		return ItemResult{
			ItemID:          req.ResourceID,
			Error:           "expected version is stale",
			Code:            CodeVersionConflict,
			ServerVersion:   current,
			ServerUpdatedAt: s.now,
		}
	}
	next := int64(1)
	if exists {
		next = doc.version + 1
	}
	s.docs[req.ResourceID] = memDoc{payload: req.Payload, version: next}
	return ItemResult{ItemID: req.ResourceID, Success: true, NewVersion: Version(next), ServerUpdatedAt: s.now}
}

func sameVersion(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// put writes a document out of band, as another client would.
func (s *memServer) put(id string, payload any, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = memDoc{payload: payload, version: version}
}

func (s *memServer) doc(id string) (memDoc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	return d, ok
}

func (s *memServer) hold() {
	s.mu.Lock()
	s.gate = make(chan struct{})
	s.mu.Unlock()
}

// release lets exactly one held write proceed.
func (s *memServer) release(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	select {
	case gate <- struct{}{}:
	case <-time.After(2 * time.Second):
		t.Fatal("no write waiting to be released")
	}
}

func (s *memServer) unhold() {
	s.mu.Lock()
	s.gate = nil
	s.mu.Unlock()
}

func (s *memServer) failWith(err error) {
	s.mu.Lock()
	s.callErr = err
	s.mu.Unlock()
}

func (s *memServer) setOverride(fn func(WriteRequest) (ItemResult, bool)) {
	s.mu.Lock()
	s.override = fn
	s.mu.Unlock()
}

func (s *memServer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func waitStarted(t *testing.T, s *memServer) []WriteRequest {
	t.Helper()
	select {
	case reqs := <-s.started:
		return reqs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
		return nil
	}
}

func newTestEditor(t *testing.T, s *memServer, opts Options) (*Editor, *clockwork.FakeClock) {
	t.Helper()
	fake := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	if opts.ResourceID == "" {
		opts.ResourceID = "estimate-1"
	}
	if opts.Debounce == 0 {
		opts.Debounce = time.Second
	}
	opts.BatchWriter = s
	opts.Clock = fake
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := New(opts)
	if err != nil {
		t.Fatalf("new editor: %v", err)
	}
	t.Cleanup(func() {
		s.unhold()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.Close(ctx); err != nil && !errors.Is(err, ErrClosed) {
			t.Errorf("close: %v", err)
		}
	})
	return e, fake
}

func settle(t *testing.T, e *Editor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.WaitSettled(ctx); err != nil {
		t.Fatalf("wait settled: %v", err)
	}
}

// advance moves the fake clock, lets any fired idle timers reach the editor
// loop and waits for the writes they issue.
func advance(t *testing.T, e *Editor, fake *clockwork.FakeClock, d time.Duration) {
	t.Helper()
	fake.Advance(d)
	time.Sleep(20 * time.Millisecond)
	settle(t, e)
}

// armedTimers counts lanes with a running idle timer.
func armedTimers(t *testing.T, e *Editor) int {
	t.Helper()
	n := 0
	if err := e.call(func() {
		for _, l := range e.lanes {
			if l.debounce.armed() {
				n++
			}
		}
	}); err != nil {
		t.Fatalf("armed timers: %v", err)
	}
	return n
}

func mustRow(t *testing.T, e *Editor, id string) RowState {
	t.Helper()
	st, ok := e.Row(id)
	if !ok {
		t.Fatalf("row %s not found", id)
	}
	return st
}
