package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/marcus/gridsave/internal/serverdb"
)

// newTestServer returns an unstarted server over a fresh file database.
// Rate limiting is effectively off unless an option turns it down.
func newTestServer(t *testing.T, opts ...func(*Config)) (*Server, *serverdb.ServerDB) {
	t.Helper()
	store, err := serverdb.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.RateLimitWrites = 1 << 20
	for _, o := range opts {
		o(&cfg)
	}
	srv, err := NewServer(cfg, store)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, store
}

// doRequest runs one request through the middleware stack. A string body is
// sent verbatim, anything else is JSON encoded.
func doRequest(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf *bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf = bytes.NewBufferString(b)
	default:
		buf = new(bytes.Buffer)
		_ = json.NewEncoder(buf).Encode(b)
	}
	req := newRequest(method, path, buf)
	if buf != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return serve(srv, req)
}

func newRequest(method, path string, body *bytes.Buffer) *http.Request {
	if body == nil {
		return httptest.NewRequest(method, path, http.NoBody)
	}
	return httptest.NewRequest(method, path, body)
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body %q)", v, err, w.Body.String())
	}
	return v
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status %d, want %d: %s", w.Code, want, w.Body.String())
	}
}

func int64p(v int64) *int64 { return &v }
