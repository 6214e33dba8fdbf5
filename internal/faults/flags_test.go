package faults

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/mattn/go-sqlite3"
)

func TestFromValues(t *testing.T) {
	f, err := fromValues(map[string]string{
		KeyForceError:     "true",
		KeyForceConflict:  "0",
		KeyForceLatencyMs: " 2000 ",
		"unrelated":       "x",
	})
	if err != nil {
		t.Fatalf("fromValues: %v", err)
	}
	want := Flags{ForceError: true, ForceLatencyMs: 2000}
	if f != want {
		t.Fatalf("flags: got %+v, want %+v", f, want)
	}

	if _, err := fromValues(map[string]string{KeyForceError: "maybe"}); err == nil {
		t.Fatal("expected error for invalid boolean")
	}
	if _, err := fromValues(map[string]string{KeyForceLatencyMs: "-5"}); err == nil {
		t.Fatal("expected error for negative latency")
	}
}

func TestFlagsActive(t *testing.T) {
	if (Flags{}).Active() {
		t.Fatal("zero flags should be inactive")
	}
	for _, f := range []Flags{{ForceError: true}, {ForceConflict: true}, {ForceLatencyMs: 1}} {
		if !f.Active() {
			t.Fatalf("%v should be active", f)
		}
	}
}

// exerciseStore runs the same save/read/clear cycle against any Store.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Flags(ctx)
	if err != nil {
		t.Fatalf("initial flags: %v", err)
	}
	if got.Active() {
		t.Fatalf("initial flags: got %v, want all off", got)
	}

	want := Flags{ForceConflict: true, ForceLatencyMs: 750}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got, _ = s.Flags(ctx); got != want {
		t.Fatalf("after save: got %v, want %v", got, want)
	}

	want = Flags{ForceError: true}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if got, _ = s.Flags(ctx); got != want {
		t.Fatalf("after second save: got %v, want %v", got, want)
	}

	if err := s.Save(ctx, Flags{ForceLatencyMs: -1}); err == nil {
		t.Fatal("expected negative latency to be rejected")
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got, _ = s.Flags(ctx); got.Active() {
		t.Fatalf("after clear: got %v, want all off", got)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLiteStoreInMemory(t *testing.T) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	conn.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(conn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	exerciseStore(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := conn.Ping(); err != nil {
		t.Fatalf("borrowed connection closed by store: %v", err)
	}
}

func TestSQLiteStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "faults.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Save(ctx, Flags{ForceLatencyMs: 2000}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Flags(ctx)
	if err != nil {
		t.Fatalf("flags: %v", err)
	}
	if got.ForceLatencyMs != 2000 {
		t.Fatalf("latency: got %d, want 2000", got.ForceLatencyMs)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := Open("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)

	if err := s.Save(context.Background(), Flags{ForceError: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := mr.HGet(DefaultRedisKey, KeyForceError); got != "true" {
		t.Fatalf("stored forceError: got %q, want %q", got, "true")
	}
}

func TestRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("redis://127.0.0.1:1"); err == nil {
		t.Fatal("expected ping failure for unreachable redis")
	}
}
