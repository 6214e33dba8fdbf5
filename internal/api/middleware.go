package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// maxBodyBytes caps request bodies. A full batch of large cells stays well below it.
const maxBodyBytes = 16 << 20

type requestScopeKey struct{}

// requestScope is attached to every request context by withRequestScope.
type requestScope struct {
	id  string
	log *slog.Logger
}

func scopeOf(ctx context.Context) requestScope {
	sc, _ := ctx.Value(requestScopeKey{}).(requestScope)
	return sc
}

// requestID returns the X-Request-ID assigned to the request, or "".
func requestID(ctx context.Context) string {
	return scopeOf(ctx).id
}

// logFor returns the request logger. Outside a request it is slog.Default.
func logFor(ctx context.Context) *slog.Logger {
	if l := scopeOf(ctx).log; l != nil {
		return l
	}
	return slog.Default()
}

// withRequestScope honours a client supplied UUID in X-Request-ID, mints one
// otherwise, and binds a logger tagged with it.
func withRequestScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		sc := requestScope{id: id, log: slog.Default().With("rid", id)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestScopeKey{}, sc)))
	})
}

// recorder remembers what a handler wrote.
type recorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rec *recorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *recorder) Write(p []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(p)
	rec.bytes += n
	return n, err
}

func (rec *recorder) code() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

// observe counts the request in m and writes one access log line. Server
// errors log at error level, client errors at warn.
func observe(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			code := rec.code()
			m.RecordRequest()
			level := slog.LevelInfo
			switch {
			case code >= 500:
				m.RecordError()
				level = slog.LevelError
			case code >= 400:
				m.RecordClientError()
				level = slog.LevelWarn
			}
			logFor(r.Context()).Log(r.Context(), level, "req",
				"method", r.Method,
				"path", r.URL.Path,
				"status", code,
				"bytes", rec.bytes,
				"dur", time.Since(start).String(),
			)
		})
	}
}

// recoverPanics turns a handler panic into a 500 with the standard error body.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logFor(r.Context()).Error("panic recovered", "panic", v, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// stack wraps h so that the first middleware listed sees the request first.
func stack(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := range mws {
		h = mws[len(mws)-1-i](h)
	}
	return h
}
