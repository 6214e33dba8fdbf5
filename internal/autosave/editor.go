// Package autosave keeps locally edited rows in sync with a versioned server
// copy while the user is typing.
//
// An Editor owns the save state of one open resource. Edits are coalesced by
// an idle timer, writes are single-flight per lane, stale versions surface as
// conflicts and batch results are reconciled row by row. All state lives on
// the editor's event loop goroutine; public methods post to it.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/marcus/gridsave/internal/changehash"
)

// Mode selects how rows map onto writes.
type Mode int

const (
	// ModeRow saves every row independently with its own timer and flight.
	ModeRow Mode = iota
	// ModeBatch saves all dirty rows of the editor in one batch write.
	ModeBatch
)

func (m Mode) String() string {
	if m == ModeBatch {
		return "batch"
	}
	return "row"
}

// ParseMode parses "row" or "batch".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "row":
		return ModeRow, nil
	case "batch":
		return ModeBatch, nil
	default:
		return ModeRow, fmt.Errorf("unknown save mode %q", s)
	}
}

// Options configures an Editor.
type Options struct {
	// ResourceID names the open resource, e.g. an estimate id.
	ResourceID string
	Mode       Mode
	Debounce   time.Duration

	// BatchWriter receives every write. When nil, Writer is wrapped with
	// SingleWriter.
	BatchWriter BatchWriter
	Writer      Writer

	Policy ConflictPolicy
	Clock  clockwork.Clock
	Logger *slog.Logger
	Hash   func(any) (changehash.Digest, error)
}

// Editor is the autosave engine for one open resource.
type Editor struct {
	opts   Options
	writer BatchWriter
	policy ConflictPolicy
	hash   func(any) (changehash.Digest, error)
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	writes sync.WaitGroup

	inbox    chan func()
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once

	// loop-owned
	rows    map[string]*row
	order   []string
	lanes   map[string]*lane
	flights int
	waiters []chan struct{}
	subs    map[chan RowState]struct{}
	stats   Stats
	closing bool
}

// New starts an Editor.
func New(opts Options) (*Editor, error) {
	writer := opts.BatchWriter
	if writer == nil {
		if opts.Writer == nil {
			return nil, errors.New("autosave: a Writer or BatchWriter is required")
		}
		writer = SingleWriter(opts.Writer)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Policy == nil {
		opts.Policy = SurfacePolicy
	}
	if opts.Hash == nil {
		opts.Hash = changehash.Of
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Editor{
		opts:   opts,
		writer: writer,
		policy: opts.Policy,
		hash:   opts.Hash,
		log:    logger.With("resource", opts.ResourceID, "mode", opts.Mode.String()),
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan func()),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		rows:   make(map[string]*row),
		lanes:  make(map[string]*lane),
		subs:   make(map[chan RowState]struct{}),
	}
	go e.run()
	return e, nil
}

func (e *Editor) run() {
	defer close(e.done)
	for {
		select {
		case fn := <-e.inbox:
			fn()
		case <-e.quit:
			return
		}
	}
}

// call runs fn on the loop and waits for it.
func (e *Editor) call(fn func()) error {
	ran := make(chan struct{})
	select {
	case e.inbox <- func() { fn(); close(ran) }:
	case <-e.done:
		return ErrClosed
	}
	<-ran
	return nil
}

// post queues fn on the loop without waiting for it to run.
func (e *Editor) post(fn func()) {
	select {
	case e.inbox <- fn:
	case <-e.done:
	}
}

// MarkDirty records the latest snapshot of row id and (re)starts its idle
// timer when the snapshot differs from what was last saved.
func (e *Editor) MarkDirty(id string, snapshot any) error {
	h, err := e.hash(snapshot)
	if err != nil {
		return fmt.Errorf("mark dirty %s: %w", id, err)
	}
	return e.call(func() { e.markDirty(id, snapshot, h) })
}

// Seed loads the server copy of a row as its baseline, e.g. when the editor
// opens. version may be nil when the server has not versioned the row yet.
func (e *Editor) Seed(id string, snapshot any, version *int64) error {
	h, err := e.hash(snapshot)
	if err != nil {
		return fmt.Errorf("seed %s: %w", id, err)
	}
	var serr error
	if err := e.call(func() {
		r := e.rowFor(id)
		if r.inFlight() || r.dirty() {
			serr = fmt.Errorf("seed %s: row has unsaved changes", id)
			return
		}
		r.snapshot = snapshot
		r.hash = h
		r.savedHash = h
		r.version = copyVersion(version)
		r.status = StatusIdle
		r.needsSend = false
		e.emit(r)
	}); err != nil {
		return err
	}
	return serr
}

// Flush cancels every idle timer and saves all pending edits now.
func (e *Editor) Flush() error {
	return e.call(e.flushAll)
}

// FlushRow cancels the idle timer of the lane holding id and saves it now.
func (e *Editor) FlushRow(id string) error {
	var ferr error
	if err := e.call(func() {
		r, ok := e.rows[id]
		if !ok {
			ferr = fmt.Errorf("flush %s: %w", id, ErrUnknownRow)
			return
		}
		r.lane.debounce.stop()
		e.dispatch(r.lane)
	}); err != nil {
		return err
	}
	return ferr
}

// Retry re-sends row id when it is dirty or failed. It is a no-op while the
// row is saving.
func (e *Editor) Retry(id string) error {
	var rerr error
	if err := e.call(func() {
		r, ok := e.rows[id]
		if !ok {
			rerr = fmt.Errorf("retry %s: %w", id, ErrUnknownRow)
			return
		}
		if e.markRetry(r) {
			r.lane.debounce.stop()
			e.dispatch(r.lane)
		}
	}); err != nil {
		return err
	}
	return rerr
}

// RetryAll re-sends every row that is dirty or failed and returns how many
// rows were queued.
func (e *Editor) RetryAll() (int, error) {
	n := 0
	err := e.call(func() {
		touched := make(map[*lane]bool)
		for _, id := range e.order {
			r := e.rows[id]
			if e.markRetry(r) {
				n++
				touched[r.lane] = true
			}
		}
		for _, id := range e.order {
			l := e.rows[id].lane
			if touched[l] {
				delete(touched, l)
				l.debounce.stop()
				e.dispatch(l)
			}
		}
	})
	return n, err
}

func (e *Editor) markRetry(r *row) bool {
	if r.inFlight() || !r.dirty() {
		return false
	}
	if r.status != StatusDirty && r.status != StatusError {
		return false
	}
	r.needsSend = true
	return true
}

// ResolveConflict applies a user decision to a conflicted row. For
// ActionDiscardLocal, snapshot is the server copy to adopt. version overrides
// the server version reported with the conflict when non-nil.
func (e *Editor) ResolveConflict(id string, action ConflictAction, snapshot any, version *int64) error {
	var h changehash.Digest
	if action == ActionDiscardLocal {
		var err error
		if h, err = e.hash(snapshot); err != nil {
			return fmt.Errorf("resolve %s: %w", id, err)
		}
	}
	var rerr error
	if err := e.call(func() {
		r, ok := e.rows[id]
		if !ok {
			rerr = fmt.Errorf("resolve %s: %w", id, ErrUnknownRow)
			return
		}
		if r.conflict == nil {
			rerr = fmt.Errorf("resolve %s: %w", id, ErrNoConflict)
			return
		}
		if r.inFlight() {
			rerr = fmt.Errorf("resolve %s: row is saving", id)
			return
		}
		v := version
		if v == nil {
			v = r.conflict.ServerVersion
		}
		switch action {
		case ActionSurface:
		case ActionOverwrite:
			if v == nil {
				rerr = fmt.Errorf("resolve %s: %w", id, ErrServerVersionAbsent)
				return
			}
			r.override = copyVersion(v)
			r.needsSend = true
			r.status = StatusDirty
			e.emit(r)
			r.lane.debounce.stop()
			e.dispatch(r.lane)
		case ActionDiscardLocal:
			if v == nil {
				rerr = fmt.Errorf("resolve %s: %w", id, ErrServerVersionAbsent)
				return
			}
			r.adopt(snapshot, h, v, r.conflict.ServerUpdatedAt)
			e.emit(r)
		}
		e.log.Info("autosave: conflict resolved", "row", id, "action", action.String())
	}); err != nil {
		return err
	}
	return rerr
}

// Row returns the state of row id.
func (e *Editor) Row(id string) (RowState, bool) {
	var st RowState
	var ok bool
	_ = e.call(func() {
		r, found := e.rows[id]
		if found {
			st, ok = r.state(), true
		}
	})
	return st, ok
}

// Rows returns every row in the order it was first seen.
func (e *Editor) Rows() []RowState {
	var out []RowState
	_ = e.call(func() {
		out = make([]RowState, 0, len(e.order))
		for _, id := range e.order {
			out = append(out, e.rows[id].state())
		}
	})
	return out
}

// Stats returns write counters.
func (e *Editor) Stats() Stats {
	var s Stats
	_ = e.call(func() { s = e.stats })
	return s
}

// Subscribe returns a channel receiving every row state change. Slow
// subscribers miss updates rather than stalling the editor. cancel releases
// the subscription.
func (e *Editor) Subscribe(buf int) (<-chan RowState, func()) {
	ch := make(chan RowState, buf)
	if err := e.call(func() { e.subs[ch] = struct{}{} }); err != nil {
		close(ch)
		return ch, func() {}
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			_ = e.call(func() {
				if _, ok := e.subs[ch]; ok {
					delete(e.subs, ch)
					close(ch)
				}
			})
		})
	}
}

// WaitSettled blocks until no write is in flight.
func (e *Editor) WaitSettled(ctx context.Context) error {
	ch := make(chan struct{})
	if err := e.call(func() {
		if e.flights == 0 {
			close(ch)
			return
		}
		e.waiters = append(e.waiters, ch)
	}); err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

// Close flushes pending edits, waits for in-flight writes until ctx is done
// and stops the editor. Writes still running when ctx expires are cancelled.
func (e *Editor) Close(ctx context.Context) error {
	if err := e.call(e.flushAll); err != nil {
		return err
	}
	werr := e.WaitSettled(ctx)
	_ = e.call(func() {
		e.closing = true
		for _, l := range e.lanes {
			l.debounce.stop()
		}
		for ch := range e.subs {
			delete(e.subs, ch)
			close(ch)
		}
	})
	e.cancel()
	e.writes.Wait()
	e.quitOnce.Do(func() { close(e.quit) })
	<-e.done
	if werr != nil {
		return fmt.Errorf("close %s: %w", e.opts.ResourceID, werr)
	}
	return nil
}

func (e *Editor) rowFor(id string) *row {
	if r, ok := e.rows[id]; ok {
		return r
	}
	key := id
	if e.opts.Mode == ModeBatch {
		key = e.opts.ResourceID
	}
	l, ok := e.lanes[key]
	if !ok {
		l = &lane{key: key, debounce: debouncer{clock: e.opts.Clock, window: e.opts.Debounce}}
		e.lanes[key] = l
	}
	r := &row{id: id, lane: l, status: StatusIdle}
	l.rows = append(l.rows, r)
	e.rows[id] = r
	e.order = append(e.order, id)
	return r
}

func (e *Editor) emit(r *row) {
	if len(e.subs) == 0 {
		return
	}
	st := r.state()
	for ch := range e.subs {
		select {
		case ch <- st:
		default:
			e.log.Debug("autosave: subscriber full, dropped update", "row", r.id)
		}
	}
}
