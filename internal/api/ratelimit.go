package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// writeLimiter is a per-key token bucket. Each key holds up to perMinute
// tokens and regains them continuously over a minute.
type writeLimiter struct {
	perMinute int
	now       func() time.Time

	mu    sync.Mutex
	slots map[string]*tokens
}

type tokens struct {
	left float64
	seen time.Time
}

func newWriteLimiter(perMinute int) *writeLimiter {
	return &writeLimiter{perMinute: perMinute, now: time.Now, slots: make(map[string]*tokens)}
}

// take spends one token for key. A limiter with perMinute <= 0 never refuses.
func (l *writeLimiter) take(key string) bool {
	if l.perMinute <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	capacity := float64(l.perMinute)
	t, ok := l.slots[key]
	if !ok {
		t = &tokens{left: capacity, seen: now}
		l.slots[key] = t
	} else {
		t.left += now.Sub(t.seen).Minutes() * capacity
		if t.left > capacity {
			t.left = capacity
		}
		t.seen = now
	}
	if t.left < 1 {
		return false
	}
	t.left--
	return true
}

// sweep forgets keys idle long enough to have refilled completely.
func (l *writeLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-2 * time.Minute)
	for k, t := range l.slots {
		if t.seen.Before(cutoff) {
			delete(l.slots, k)
		}
	}
}

// limitWrites guards a write route with the per-IP limiter. A batch is one
// request regardless of how many rows it carries.
func (s *Server) limitWrites(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if s.limiter.take(ip) {
			next(w, r)
			return
		}
		s.metrics.RecordRateLimited()
		logFor(r.Context()).Warn("rate limited", "ip", ip, "path", r.URL.Path)
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
	}
}

// clientIP prefers the first X-Forwarded-For hop, then the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
