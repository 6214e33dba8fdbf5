package autosave

import (
	"github.com/marcus/gridsave/internal/changehash"
)

// markDirty applies an edit. While the row is in flight the edit is only
// remembered by hash: equal to the in-flight hash means nothing more to do,
// anything else becomes the single pending follow-up.
func (e *Editor) markDirty(id string, snapshot any, h changehash.Digest) {
	r := e.rowFor(id)
	r.snapshot = snapshot
	r.hash = h

	if r.inFlight() {
		if h == r.inFlightHash {
			r.pendingHash = changehash.None
			r.needsSend = false
		} else {
			r.pendingHash = h
			r.needsSend = true
		}
		e.emit(r)
		return
	}

	if !r.dirty() {
		r.needsSend = false
		if r.conflict == nil {
			r.err = nil
			r.failedHash = changehash.None
			r.status = r.cleanStatus()
		}
		e.emit(r)
		return
	}

	// an unresolved conflict holds edits locally until the user decides
	if r.conflict != nil {
		r.needsSend = false
		e.emit(r)
		return
	}
	// returning to the content that just failed is not a new edit
	if !r.failedHash.IsZero() && h == r.failedHash {
		r.needsSend = false
		r.status = StatusError
		e.emit(r)
		return
	}

	r.needsSend = true
	r.status = StatusDirty
	e.emit(r)
	if !r.lane.inFlight && !e.closing {
		r.lane.debounce.arm(e.fireFunc(r.lane))
	}
}

func (e *Editor) fireFunc(l *lane) func(uint64) {
	return func(gen uint64) {
		e.post(func() {
			if !l.debounce.expire(gen) {
				return
			}
			e.dispatch(l)
		})
	}
}

func (e *Editor) flushAll() {
	seen := make(map[*lane]bool, len(e.lanes))
	for _, id := range e.order {
		l := e.rows[id].lane
		if seen[l] {
			continue
		}
		seen[l] = true
		l.debounce.stop()
		e.dispatch(l)
	}
}

// dispatch issues one write carrying every row of l that needs saving. With a
// write already in flight it does nothing; complete picks the rows up.
func (e *Editor) dispatch(l *lane) {
	if l.inFlight || e.closing {
		return
	}
	var (
		sent []sentItem
		reqs []WriteRequest
	)
	for _, r := range l.rows {
		if !r.needsSend {
			continue
		}
		r.needsSend = false
		if !r.dirty() {
			continue
		}
		req := r.request()
		reqs = append(reqs, req)
		sent = append(sent, sentItem{id: r.id, hash: r.hash, snapshot: r.snapshot, version: req.ExpectedVersion})
		r.inFlightHash = r.hash
		r.pendingHash = changehash.None
		r.status = StatusSaving
		e.emit(r)
	}
	if len(reqs) == 0 {
		return
	}

	l.debounce.stop()
	l.inFlight = true
	e.flights++
	e.stats.Writes++
	e.stats.Items += len(reqs)
	e.log.Debug("autosave: write issued", "lane", l.key, "rows", len(reqs))

	e.writes.Add(1)
	go e.write(l, sent, reqs)
}

// write runs off the loop. Once issued a write is never cancelled by edits;
// its outcome is reconciled against whatever the rows look like by then.
func (e *Editor) write(l *lane, sent []sentItem, reqs []WriteRequest) {
	defer e.writes.Done()

	results, err := e.writer.WriteBatch(e.ctx, reqs)
	ids := make([]string, len(sent))
	for i, s := range sent {
		ids[i] = s.id
	}
	outcomes, unknown, duplicate := Reconcile(ids, results, err)
	resolved := e.resolveConflicts(sent, outcomes)

	e.post(func() { e.complete(l, sent, outcomes, unknown, duplicate, resolved) })
}

type resolution struct {
	conflict Conflict
	res      Resolution
	hash     changehash.Digest
}

func (e *Editor) resolveConflicts(sent []sentItem, outcomes map[string]Outcome) map[string]resolution {
	var out map[string]resolution
	for _, s := range sent {
		o := outcomes[s.id]
		if o.Err == nil || o.Err.Kind != KindVersionConflict {
			continue
		}
		c := Conflict{
			ResourceID:      s.id,
			LocalSnapshot:   s.snapshot,
			LocalHash:       s.hash,
			ExpectedVersion: copyVersion(s.version),
			ServerVersion:   copyVersion(o.Err.ServerVersion),
			ServerUpdatedAt: o.Err.ServerUpdatedAt,
		}
		rv := resolution{conflict: c, res: Resolution{Action: ActionSurface}}
		res, err := e.policy.Resolve(e.ctx, c)
		if err != nil {
			e.log.Warn("autosave: conflict policy failed", "row", s.id, "err", err)
		} else {
			rv.res = res
		}
		if rv.res.Action == ActionDiscardLocal {
			h, herr := e.hash(rv.res.Snapshot)
			if herr != nil || rv.res.Version == nil {
				e.log.Warn("autosave: discard resolution unusable", "row", s.id, "err", herr)
				rv.res = Resolution{Action: ActionSurface}
			} else {
				rv.hash = h
			}
		}
		if out == nil {
			out = make(map[string]resolution)
		}
		out[s.id] = rv
	}
	return out
}

// complete applies the outcome of a write and issues the follow-up, if any,
// with no further delay.
func (e *Editor) complete(l *lane, sent []sentItem, outcomes map[string]Outcome, unknown, duplicate []string, resolved map[string]resolution) {
	l.inFlight = false
	e.flights--

	for _, id := range unknown {
		e.log.Warn("autosave: result for item that was not sent", "item", id)
	}
	for _, id := range duplicate {
		e.log.Debug("autosave: duplicate batch result ignored", "item", id)
	}

	for _, s := range sent {
		r := e.rows[s.id]
		r.inFlightHash = changehash.None
		o := outcomes[s.id]

		if o.OK {
			e.stats.Acked++
			r.accept(s, o)
			r.acked = true
			r.pendingHash = changehash.None
			if r.dirty() {
				r.needsSend = true
				r.status = StatusDirty
			} else {
				r.needsSend = false
				r.status = StatusSaved
			}
			e.log.Debug("autosave: saved", "row", r.id, "hash", s.hash.Short(), "version", versionAttr(r.version))
			e.emit(r)
			continue
		}

		e.stats.Failed++
		r.err = o.Err
		r.pendingHash = changehash.None
		if o.Err.Kind == KindVersionConflict {
			e.stats.Conflicts++
			e.applyConflict(r, s, resolved[s.id])
			e.emit(r)
			continue
		}

		switch {
		case !r.dirty():
			r.err = nil
			r.failedHash = changehash.None
			r.needsSend = false
			r.status = r.cleanStatus()
		case r.hash != s.hash:
			// a newer distinct edit arrived during the failed write
			r.needsSend = true
			r.status = StatusDirty
		default:
			r.needsSend = false
			r.failedHash = s.hash
			r.status = StatusError
		}
		e.log.Warn("autosave: save failed", "row", r.id, "kind", o.Err.Kind.String(), "err", o.Err)
		e.emit(r)
	}

	e.dispatch(l)
	if e.flights == 0 {
		for _, ch := range e.waiters {
			close(ch)
		}
		e.waiters = nil
	}
}

func (e *Editor) applyConflict(r *row, s sentItem, rv resolution) {
	if rv.conflict.ResourceID == "" {
		rv.conflict = Conflict{
			ResourceID:      s.id,
			LocalSnapshot:   s.snapshot,
			LocalHash:       s.hash,
			ExpectedVersion: copyVersion(s.version),
			ServerVersion:   copyVersion(r.err.ServerVersion),
			ServerUpdatedAt: r.err.ServerUpdatedAt,
		}
	}
	c := rv.conflict
	r.conflict = &c
	r.needsSend = false
	newer := r.hash != s.hash

	switch rv.res.Action {
	case ActionOverwrite:
		if c.ServerVersion != nil {
			r.override = copyVersion(c.ServerVersion)
			r.needsSend = true
			r.status = StatusDirty
			e.log.Info("autosave: conflict overwritten", "row", r.id, "server_version", *c.ServerVersion)
			return
		}
	case ActionDiscardLocal:
		if !newer {
			r.adopt(rv.res.Snapshot, rv.hash, rv.res.Version, c.ServerUpdatedAt)
			e.log.Info("autosave: conflict resolved with server copy", "row", r.id)
			return
		}
		e.log.Warn("autosave: kept local edit over discard resolution", "row", r.id)
	}
	r.failedHash = s.hash
	r.status = StatusError
	e.log.Warn("autosave: version conflict", "row", r.id, "expected", versionAttr(c.ExpectedVersion), "server", versionAttr(c.ServerVersion))
}

func versionAttr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
