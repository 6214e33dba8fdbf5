//go:build !production

package faults

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/marcus/gridsave/internal/autosave"
)

// countingBackend acknowledges every write and bumps a per-row version.
type countingBackend struct {
	mu       sync.Mutex
	calls    int
	versions map[string]int64
}

func (b *countingBackend) WriteBatch(_ context.Context, reqs []autosave.WriteRequest) ([]autosave.ItemResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.versions == nil {
		b.versions = make(map[string]int64)
	}
	out := make([]autosave.ItemResult, 0, len(reqs))
	for _, req := range reqs {
		b.versions[req.ResourceID]++
		out = append(out, autosave.ItemResult{
			ItemID:     req.ResourceID,
			Success:    true,
			NewVersion: autosave.Version(b.versions[req.ResourceID]),
		})
	}
	return out, nil
}

func (b *countingBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type brokenSource struct{}

func (brokenSource) Flags(context.Context) (Flags, error) {
	return Flags{}, errors.New("store unavailable")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarnessEditor(t *testing.T, backend autosave.BatchWriter, src Source) (*autosave.Editor, *clockwork.FakeClock) {
	t.Helper()
	fake := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	w := Wrap(backend, Config{Source: src, Clock: fake, Logger: discardLogger()})
	e, err := autosave.New(autosave.Options{
		ResourceID:  "estimate-7",
		Mode:        autosave.ModeBatch,
		Debounce:    time.Second,
		BatchWriter: w,
		Clock:       fake,
		Logger:      discardLogger(),
	})
	if err != nil {
		t.Fatalf("new editor: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Close(ctx)
	})
	return e, fake
}

func waitSettled(t *testing.T, e *autosave.Editor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.WaitSettled(ctx); err != nil {
		t.Fatalf("wait settled: %v", err)
	}
}

func rowStatus(t *testing.T, e *autosave.Editor, id string) autosave.RowState {
	t.Helper()
	st, ok := e.Row(id)
	if !ok {
		t.Fatalf("row %s not found", id)
	}
	return st
}

func TestWrapNilSourceIsIdentity(t *testing.T) {
	backend := &countingBackend{}
	if got := Wrap(backend, Config{}); got != autosave.BatchWriter(backend) {
		t.Fatal("Wrap without a source should return the backend unchanged")
	}
}

func TestForcedLatencyHoldsSaving(t *testing.T) {
	backend := &countingBackend{}
	e, fake := newHarnessEditor(t, backend, Fixed{ForceLatencyMs: 2000})

	if err := e.MarkDirty("row-1", "draft"); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fake.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("forced latency never started: %v", err)
	}

	fake.Advance(1999 * time.Millisecond)
	if st := rowStatus(t, e, "row-1"); st.Status != autosave.StatusSaving {
		t.Fatalf("status at 1999ms: got %s, want saving", st.Status)
	}
	if n := backend.callCount(); n != 0 {
		t.Fatalf("backend calls at 1999ms: got %d, want 0", n)
	}

	fake.Advance(time.Millisecond)
	waitSettled(t, e)
	if st := rowStatus(t, e, "row-1"); st.Status != autosave.StatusSaved {
		t.Fatalf("status after latency: got %s, want saved", st.Status)
	}
	if n := backend.callCount(); n != 1 {
		t.Fatalf("backend calls: got %d, want 1", n)
	}
}

func TestForcedErrorThenClearAndRetry(t *testing.T) {
	backend := &countingBackend{}
	store := NewMemory()
	if err := store.Save(context.Background(), Flags{ForceError: true}); err != nil {
		t.Fatalf("save flags: %v", err)
	}
	e, _ := newHarnessEditor(t, backend, store)

	if err := e.MarkDirty("row-1", "draft"); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	waitSettled(t, e)

	st := rowStatus(t, e, "row-1")
	if st.Status != autosave.StatusError {
		t.Fatalf("status: got %s, want error", st.Status)
	}
	if !st.Dirty {
		t.Fatal("failed row should stay dirty")
	}
	if st.Err == nil || !errors.Is(st.Err, autosave.ErrNetwork) {
		t.Fatalf("error: got %v, want network failure", st.Err)
	}
	if n := backend.callCount(); n != 0 {
		t.Fatalf("backend calls: got %d, want 0", n)
	}

	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := e.Retry("row-1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	waitSettled(t, e)

	st = rowStatus(t, e, "row-1")
	if st.Status != autosave.StatusSaved {
		t.Fatalf("status after retry: got %s, want saved", st.Status)
	}
	if st.Version == nil || *st.Version != 1 {
		t.Fatalf("version after retry: got %v, want 1", st.Version)
	}
}

func TestForcedConflictShape(t *testing.T) {
	backend := &countingBackend{}
	fake := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	w := Wrap(backend, Config{Source: Fixed{ForceConflict: true}, Clock: fake, Logger: discardLogger()})

	reqs := []autosave.WriteRequest{
		{ResourceID: "a", Payload: "x", ExpectedVersion: autosave.Version(3)},
		{ResourceID: "b", Payload: "y"},
	}
	results, err := w.WriteBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: got %d, want 2", len(results))
	}
	for i, res := range results {
		if res.ItemID != reqs[i].ResourceID {
			t.Fatalf("result %d id: got %q, want %q", i, res.ItemID, reqs[i].ResourceID)
		}
		if res.Success || res.Code != autosave.CodeVersionConflict {
			t.Fatalf("result %d: got %+v, want version conflict", i, res)
		}
		if !res.ServerUpdatedAt.Equal(fake.Now()) {
			t.Fatalf("result %d updated at: got %v, want %v", i, res.ServerUpdatedAt, fake.Now())
		}
	}
	if n := backend.callCount(); n != 0 {
		t.Fatalf("backend calls: got %d, want 0", n)
	}
}

func TestForcedConflictSurfacesOnRow(t *testing.T) {
	backend := &countingBackend{}
	e, _ := newHarnessEditor(t, backend, Fixed{ForceConflict: true})

	if err := e.MarkDirty("row-1", "draft"); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	waitSettled(t, e)

	st := rowStatus(t, e, "row-1")
	if st.Status != autosave.StatusError {
		t.Fatalf("status: got %s, want error", st.Status)
	}
	if !errors.Is(st.Err, autosave.ErrVersionConflict) {
		t.Fatalf("error: got %v, want version conflict", st.Err)
	}
	if st.Version != nil {
		t.Fatalf("version: got %d, want unset", *st.Version)
	}
}

func TestBrokenSourcePassesThrough(t *testing.T) {
	backend := &countingBackend{}
	w := Wrap(backend, Config{Source: brokenSource{}, Logger: discardLogger()})

	results, err := w.WriteBatch(context.Background(), []autosave.WriteRequest{{ResourceID: "a", Payload: 1}})
	if err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("results: got %+v, want one success", results)
	}
	if n := backend.callCount(); n != 1 {
		t.Fatalf("backend calls: got %d, want 1", n)
	}
}
