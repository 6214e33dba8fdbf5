// Package api serves the versioned document API that autosave editors write
// to. Writes are compare-and-swap on the document version.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marcus/gridsave/internal/serverdb"
)

// limiterSweepInterval is how often idle rate-limit keys are dropped.
const limiterSweepInterval = 5 * time.Minute

// Server is the HTTP document server.
type Server struct {
	config  Config
	store   *serverdb.ServerDB
	metrics *Metrics
	limiter *writeLimiter
	http    *http.Server

	addr net.Addr
	stop context.CancelFunc
	bg   sync.WaitGroup
}

// NewServer wires the routes for cfg on top of store. It does not listen.
func NewServer(cfg Config, store *serverdb.ServerDB) (*Server, error) {
	if store == nil {
		return nil, errors.New("new server: store is required")
	}
	if cfg.MaxBatchItems <= 0 {
		cfg.MaxBatchItems = DefaultConfig().MaxBatchItems
	}
	s := &Server{
		config:  cfg,
		store:   store,
		metrics: NewMetrics(),
		limiter: newWriteLimiter(cfg.RateLimitWrites),
	}
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.ListenAddr, err)
	}
	s.addr = ln.Addr()

	ctx, stop := context.WithCancel(context.Background())
	s.stop = stop
	s.bg.Add(2)
	go func() {
		defer s.bg.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "err", err)
		}
	}()
	go func() {
		defer s.bg.Done()
		s.sweepLimiter(ctx)
	}()
	return nil
}

func (s *Server) sweepLimiter(ctx context.Context) {
	t := time.NewTicker(limiterSweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.limiter.sweep()
		}
	}
}

// Addr is the bound address; nil before Start.
func (s *Server) Addr() net.Addr { return s.addr }

// Handler is the complete middleware-wrapped router.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Metrics() *Metrics { return s.metrics }

// Shutdown drains in-flight requests and stops background work.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stop != nil {
		s.stop()
	}
	err := s.http.Shutdown(ctx)
	s.bg.Wait()
	return err
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	mux.HandleFunc("GET /v1/documents", s.handleListDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("PUT /v1/documents/{id}", s.limitWrites(s.handlePutDocument))
	mux.HandleFunc("POST /v1/documents/batch", s.limitWrites(s.handleBatch))

	return stack(mux,
		recoverPanics,
		withRequestScope,
		observe(s.metrics),
		newCORSPolicy(s.config.CORSAllowedOrigins).wrap,
		limitBody,
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		logFor(r.Context()).Error("health: db ping", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
