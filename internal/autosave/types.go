package autosave

import (
	"context"
	"time"

	"github.com/marcus/gridsave/internal/changehash"
)

// Status is the save state of a row or of a whole editor.
type Status int

const (
	StatusIdle Status = iota
	StatusDirty
	StatusSaving
	StatusSaved
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusDirty:
		return "dirty"
	case StatusSaving:
		return "saving"
	case StatusSaved:
		return "saved"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// WriteRequest is one write sent to the backend.
type WriteRequest struct {
	ResourceID string
	Payload    any
	// ExpectedVersion is the last version acknowledged for ResourceID, nil
	// before the first successful save.
	ExpectedVersion *int64
}

// Ack is the backend response to a single write. A non-empty Error marks the
// write as failed even when the call itself returned no error.
type Ack struct {
	ResourceID string
	NewVersion int64
	UpdatedAt  time.Time
	Error      string
	Code       string
}

// ItemResult is the outcome of one item in a batch write.
type ItemResult struct {
	ItemID          string    `json:"item_id"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
	Code            string    `json:"code,omitempty"`
	ServerUpdatedAt time.Time `json:"server_updated_at,omitzero"`
	NewVersion      *int64    `json:"new_version,omitempty"`
	ServerVersion   *int64    `json:"server_version,omitempty"`

	// Err carries a classified error when the result was synthesized from a
	// failed single write.
	Err error `json:"-"`
}

// Writer issues a single versioned write.
type Writer interface {
	Write(ctx context.Context, req WriteRequest) (Ack, error)
}

// BatchWriter issues several versioned writes in one call and reports a
// result per item.
type BatchWriter interface {
	WriteBatch(ctx context.Context, reqs []WriteRequest) ([]ItemResult, error)
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, req WriteRequest) (Ack, error)

func (f WriterFunc) Write(ctx context.Context, req WriteRequest) (Ack, error) { return f(ctx, req) }

// BatchWriterFunc adapts a function to BatchWriter.
type BatchWriterFunc func(ctx context.Context, reqs []WriteRequest) ([]ItemResult, error)

func (f BatchWriterFunc) WriteBatch(ctx context.Context, reqs []WriteRequest) ([]ItemResult, error) {
	return f(ctx, reqs)
}

// SingleWriter exposes w as a BatchWriter. Items are written one after
// another; each failure is folded into that item's result.
func SingleWriter(w Writer) BatchWriter {
	return singleWriter{w: w}
}

type singleWriter struct {
	w Writer
}

func (s singleWriter) WriteBatch(ctx context.Context, reqs []WriteRequest) ([]ItemResult, error) {
	out := make([]ItemResult, 0, len(reqs))
	for _, req := range reqs {
		ack, err := s.w.Write(ctx, req)
		out = append(out, ackResult(req.ResourceID, ack, err))
	}
	return out, nil
}

func ackResult(id string, ack Ack, err error) ItemResult {
	if err != nil {
		se := Classify(err)
		return ItemResult{
			ItemID:          id,
			Error:           se.Message,
			Code:            se.Code,
			ServerUpdatedAt: se.ServerUpdatedAt,
			ServerVersion:   se.ServerVersion,
			Err:             se,
		}
	}
	if ack.Error != "" {
		return ItemResult{ItemID: id, Error: ack.Error, Code: ack.Code, ServerUpdatedAt: ack.UpdatedAt}
	}
	v := ack.NewVersion
	return ItemResult{ItemID: id, Success: true, NewVersion: &v, ServerUpdatedAt: ack.UpdatedAt}
}

// Document is a server copy of one resource.
type Document struct {
	ID        string
	Payload   any
	Version   int64
	UpdatedAt time.Time
}

// Fetcher loads the current server copy of a resource.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (Document, error)
}

// RowState is a point-in-time view of one row.
type RowState struct {
	ID          string
	Status      Status
	Dirty       bool
	Hash        changehash.Digest
	SavedHash   changehash.Digest
	PendingHash changehash.Digest
	Version     *int64
	UpdatedAt   time.Time
	Snapshot    any
	Err         *SaveError
	Conflict    *Conflict
}

// Summary aggregates row statuses for a whole editor.
type Summary struct {
	ResourceID string
	Status     Status
	Total      int
	Idle       int
	Dirty      int
	Saving     int
	Saved      int
	Error      int
}

// Stats counts the writes an editor has issued.
type Stats struct {
	Writes    int
	Items     int
	Acked     int
	Failed    int
	Conflicts int
}
