package autosave

import (
	"time"

	"github.com/marcus/gridsave/internal/changehash"
)

// row is the save state tuple of one editable row. It is owned by the editor
// loop and never touched elsewhere.
type row struct {
	id   string
	lane *lane

	snapshot     any
	hash         changehash.Digest
	savedHash    changehash.Digest
	inFlightHash changehash.Digest
	pendingHash  changehash.Digest
	failedHash   changehash.Digest // last hash rejected by the server

	version   *int64
	override  *int64 // expected version chosen by an overwrite, cleared on ack
	updatedAt time.Time

	status    Status
	err       *SaveError
	conflict  *Conflict
	needsSend bool
	acked     bool
}

func (r *row) dirty() bool    { return r.hash != r.savedHash }
func (r *row) inFlight() bool { return !r.inFlightHash.IsZero() }

func (r *row) cleanStatus() Status {
	if r.acked {
		return StatusSaved
	}
	return StatusIdle
}

func (r *row) state() RowState {
	var conflict *Conflict
	if r.conflict != nil {
		c := *r.conflict
		conflict = &c
	}
	return RowState{
		ID:          r.id,
		Status:      r.status,
		Dirty:       r.dirty(),
		Hash:        r.hash,
		SavedHash:   r.savedHash,
		PendingHash: r.pendingHash,
		Version:     copyVersion(r.version),
		UpdatedAt:   r.updatedAt,
		Snapshot:    r.snapshot,
		Err:         r.err,
		Conflict:    conflict,
	}
}

// adopt makes snapshot the acknowledged baseline of r.
func (r *row) adopt(snapshot any, hash changehash.Digest, version *int64, updatedAt time.Time) {
	r.snapshot = snapshot
	r.hash = hash
	r.savedHash = hash
	r.pendingHash = changehash.None
	r.failedHash = changehash.None
	r.version = copyVersion(version)
	r.override = nil
	if !updatedAt.IsZero() {
		r.updatedAt = updatedAt
	}
	r.err = nil
	r.conflict = nil
	r.needsSend = false
	r.acked = true
	r.status = StatusSaved
}

// lane is the unit of single-flight: at most one write per lane is in
// flight. In ModeRow every row has its own lane; in ModeBatch the editor has
// exactly one.
type lane struct {
	key      string
	debounce debouncer
	inFlight bool
	rows     []*row
}

// sentItem records what a write carried for one row.
type sentItem struct {
	id       string
	hash     changehash.Digest
	snapshot any
	version  *int64
}
