package writeclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/marcus/gridsave/internal/api"
	"github.com/marcus/gridsave/internal/autosave"
	"github.com/marcus/gridsave/internal/serverdb"
)

type lineItem struct {
	Code  string  `json:"code"`
	Hours float64 `json:"hours"`
}

// newAPIServer runs the real document API against a temp database.
func newAPIServer(t *testing.T) (*Client, *serverdb.ServerDB) {
	t.Helper()
	store, err := serverdb.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv, err := api.NewServer(api.Config{RateLimitWrites: 100000, MaxBatchItems: 100}, store)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	c := New(hs.URL)
	c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return c, store
}

func TestWriteAndFetch(t *testing.T) {
	c, _ := newAPIServer(t)
	ctx := context.Background()

	if err := c.HealthCheck(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}

	ack, err := c.Write(ctx, autosave.WriteRequest{ResourceID: "row-1", Payload: lineItem{Code: "A1", Hours: 2}})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if ack.NewVersion != 1 || ack.UpdatedAt.IsZero() {
		t.Fatalf("ack: got %+v", ack)
	}

	doc, err := c.Fetch(ctx, "row-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	var got lineItem
	if err := json.Unmarshal(doc.Payload.(json.RawMessage), &got); err != nil {
		t.Fatal(err)
	}
	if got.Code != "A1" || got.Hours != 2 || doc.Version != 1 {
		t.Fatalf("fetched: got %+v v%d", got, doc.Version)
	}

	if _, err := c.Fetch(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("fetch missing: got %v, want ErrNotFound", err)
	}
}

func TestWriteConflictCarriesServerVersion(t *testing.T) {
	c, _ := newAPIServer(t)
	ctx := context.Background()

	if _, err := c.Write(ctx, autosave.WriteRequest{ResourceID: "row-1", Payload: 1}); err != nil {
		t.Fatal(err)
	}
	for v := int64(1); v < 5; v++ {
		if _, err := c.Write(ctx, autosave.WriteRequest{ResourceID: "row-1", Payload: 1, ExpectedVersion: autosave.Version(v)}); err != nil {
			t.Fatal(err)
		}
	}

	_, err := c.Write(ctx, autosave.WriteRequest{ResourceID: "row-1", Payload: 2, ExpectedVersion: autosave.Version(3)})
	if !autosave.IsConflict(err) {
		t.Fatalf("got %v, want version conflict", err)
	}
	var se *autosave.SaveError
	if !errors.As(err, &se) || se.ServerVersion == nil || *se.ServerVersion != 5 || se.ServerUpdatedAt.IsZero() {
		t.Fatalf("conflict detail: got %+v", se)
	}
	if se.ResourceID != "row-1" {
		t.Fatalf("resource id: got %q", se.ResourceID)
	}
}

func TestWriteValidationFailure(t *testing.T) {
	c, _ := newAPIServer(t)
	_, err := c.Write(context.Background(), autosave.WriteRequest{ResourceID: "bad id", Payload: 1})
	if !errors.Is(err, autosave.ErrValidation) {
		t.Fatalf("got %v, want validation failure", err)
	}

	_, err = c.Write(context.Background(), autosave.WriteRequest{ResourceID: "row", Payload: func() {}})
	if !errors.Is(err, autosave.ErrValidation) {
		t.Fatalf("unencodable payload: got %v, want validation failure", err)
	}
}

func TestTransportErrorIsNetwork(t *testing.T) {
	hs := httptest.NewServer(http.NotFoundHandler())
	url := hs.URL
	hs.Close()

	c := New(url)
	c.HTTP.Timeout = time.Second
	_, err := c.Write(context.Background(), autosave.WriteRequest{ResourceID: "row-1", Payload: 1})
	if !errors.Is(err, autosave.ErrNetwork) {
		t.Fatalf("got %v, want network failure", err)
	}
}

func TestServerErrorAndInBandError(t *testing.T) {
	var calls int
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if _, err := uuid.Parse(r.Header.Get("X-Request-ID")); err != nil {
			t.Errorf("request id header: %q", r.Header.Get("X-Request-ID"))
		}
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"code":"unavailable","message":"down for maintenance"}}`))
			return
		}
		w.Write([]byte(`{"resource_id":"row-1","new_version":0,"error":"quota exceeded"}`))
	}))
	defer hs.Close()
	c := New(hs.URL)

	_, err := c.Write(context.Background(), autosave.WriteRequest{ResourceID: "row-1", Payload: 1})
	if !errors.Is(err, autosave.ErrNetwork) {
		t.Fatalf("503: got %v, want network failure", err)
	}

	ack, err := c.Write(context.Background(), autosave.WriteRequest{ResourceID: "row-1", Payload: 1})
	if err != nil {
		t.Fatalf("in-band: %v", err)
	}
	if ack.Error != "quota exceeded" {
		t.Fatalf("ack error: got %q", ack.Error)
	}

	// SingleWriter folds the in-band error into a failed item.
	results, err := autosave.SingleWriter(c).WriteBatch(context.Background(), []autosave.WriteRequest{{ResourceID: "row-1", Payload: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Success {
		t.Fatalf("results: got %+v, want one failure", results)
	}
}

func TestWriteBatchRowScoped(t *testing.T) {
	c, _ := newAPIServer(t)
	ctx := context.Background()
	if _, err := c.Write(ctx, autosave.WriteRequest{ResourceID: "B", Payload: 0}); err != nil {
		t.Fatal(err)
	}

	results, err := c.WriteBatch(ctx, []autosave.WriteRequest{
		{ResourceID: "A", Payload: 1},
		{ResourceID: "B", Payload: 2},
		{ResourceID: "C", Payload: 3},
		{ResourceID: "D", Payload: make(chan int)},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	outcomes, unknown, _ := autosave.Reconcile([]string{"A", "B", "C", "D"}, results, nil)
	if len(unknown) != 0 {
		t.Fatalf("unknown ids: %v", unknown)
	}
	if !outcomes["A"].OK || !outcomes["C"].OK {
		t.Fatalf("A/C: got %+v / %+v", outcomes["A"], outcomes["C"])
	}
	if b := outcomes["B"]; b.OK || !autosave.IsConflict(b.Err) || b.Err.ServerVersion == nil || *b.Err.ServerVersion != 1 {
		t.Fatalf("B: got %+v", b)
	}
	if d := outcomes["D"]; d.OK || !errors.Is(d.Err, autosave.ErrValidation) {
		t.Fatalf("D: got %+v", d)
	}
}

// TestEditorOverHTTP drives an editor against the real API: a stale version
// is rejected without overwriting, and a batch saves rows independently.
func TestEditorOverHTTP(t *testing.T) {
	c, store := newAPIServer(t)
	ctx := context.Background()

	for _, id := range []string{"row-1", "row-2"} {
		if _, err := c.Write(ctx, autosave.WriteRequest{ResourceID: id, Payload: lineItem{Code: id}}); err != nil {
			t.Fatal(err)
		}
	}
	// Another client moves row-2 ahead.
	if _, err := c.Write(ctx, autosave.WriteRequest{ResourceID: "row-2", Payload: lineItem{Code: "remote"}, ExpectedVersion: autosave.Version(1)}); err != nil {
		t.Fatal(err)
	}

	fake := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	e, err := autosave.New(autosave.Options{
		ResourceID:  "estimate-1",
		Mode:        autosave.ModeBatch,
		BatchWriter: c,
		Clock:       fake,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close(ctx)

	if err := e.Seed("row-1", lineItem{Code: "row-1"}, autosave.Version(1)); err != nil {
		t.Fatal(err)
	}
	if err := e.Seed("row-2", lineItem{Code: "row-2"}, autosave.Version(1)); err != nil {
		t.Fatal(err)
	}
	if err := e.MarkDirty("row-1", lineItem{Code: "row-1", Hours: 4}); err != nil {
		t.Fatal(err)
	}
	if err := e.MarkDirty("row-2", lineItem{Code: "row-2", Hours: 8}); err != nil {
		t.Fatal(err)
	}
	if err := e.Flush(); err != nil {
		t.Fatal(err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.WaitSettled(waitCtx); err != nil {
		t.Fatal(err)
	}

	r1, _ := e.Row("row-1")
	if r1.Status != autosave.StatusSaved || r1.Version == nil || *r1.Version != 2 {
		t.Fatalf("row-1: got %s v%v", r1.Status, r1.Version)
	}
	r2, _ := e.Row("row-2")
	if r2.Status != autosave.StatusError || !autosave.IsConflict(r2.Err) || !r2.Dirty {
		t.Fatalf("row-2: got %s err=%v dirty=%t", r2.Status, r2.Err, r2.Dirty)
	}

	doc, err := store.Get(ctx, "row-2")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != 2 || string(doc.Payload) != `{"code":"remote","hours":0}` {
		t.Fatalf("row-2 server copy changed: %s v%d", doc.Payload, doc.Version)
	}
}
