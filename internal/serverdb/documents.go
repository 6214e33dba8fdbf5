package serverdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// MaxPayloadBytes bounds a single document payload.
const MaxPayloadBytes = 256 << 10

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrInvalid         = errors.New("invalid document")
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

// Document is a stored resource.
type Document struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ConflictError reports a write whose expected version did not match.
// Current is nil when the document does not exist.
type ConflictError struct {
	ID       string
	Expected *int64
	Current  *Document
}

func (e *ConflictError) Error() string {
	exp := "none"
	if e.Expected != nil {
		exp = fmt.Sprintf("%d", *e.Expected)
	}
	cur := "none"
	if e.Current != nil {
		cur = fmt.Sprintf("%d", e.Current.Version)
	}
	return fmt.Sprintf("%s: expected version %s, server has %s", e.ID, exp, cur)
}

func (e *ConflictError) Unwrap() error { return ErrVersionConflict }

// ValidationError reports a rejected id or payload.
type ValidationError struct {
	ID     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.ID, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// PutInput is one compare-and-swap write.
type PutInput struct {
	ID              string
	Payload         json.RawMessage
	ExpectedVersion *int64
	RequestID       string
}

// PutResult is the outcome of one item of PutBatch.
type PutResult struct {
	Document *Document
	Err      error
}

// Validate checks an input without touching the database.
func (in PutInput) Validate() error {
	if !validID.MatchString(in.ID) {
		return &ValidationError{ID: in.ID, Reason: "id must be 1-128 characters of [A-Za-z0-9_.:-]"}
	}
	if len(in.Payload) == 0 {
		return &ValidationError{ID: in.ID, Reason: "payload is required"}
	}
	if len(in.Payload) > MaxPayloadBytes {
		return &ValidationError{ID: in.ID, Reason: fmt.Sprintf("payload exceeds %d bytes", MaxPayloadBytes)}
	}
	if !json.Valid(in.Payload) {
		return &ValidationError{ID: in.ID, Reason: "payload is not valid JSON"}
	}
	if in.ExpectedVersion != nil && *in.ExpectedVersion < 1 {
		return &ValidationError{ID: in.ID, Reason: "expected_version must be >= 1"}
	}
	return nil
}

// Get returns the document with id.
func (db *ServerDB) Get(ctx context.Context, id string) (*Document, error) {
	doc, err := getDocument(ctx, db.conn, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return doc, nil
}

// Put writes in when its expected version matches the stored version. A nil
// expected version only matches a document that does not exist yet. On
// success the version advances by one.
func (db *ServerDB) Put(ctx context.Context, in PutInput) (*Document, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	doc, err := db.put(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return doc, nil
}

// PutBatch applies each input independently. One item failing never affects
// the others, and results are in input order.
func (db *ServerDB) PutBatch(ctx context.Context, ins []PutInput) []PutResult {
	out := make([]PutResult, len(ins))
	for i, in := range ins {
		doc, err := db.Put(ctx, in)
		out[i] = PutResult{Document: doc, Err: err}
	}
	return out
}

// List returns every document ordered by id.
func (db *ServerDB) List(ctx context.Context) ([]Document, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, payload, version, created_at, updated_at FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return docs, nil
}

// WriteCount returns the number of accepted writes recorded for id.
func (db *ServerDB) WriteCount(ctx context.Context, id string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_writes WHERE document_id = ?`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count writes: %w", err)
	}
	return n, nil
}

func (db *ServerDB) put(ctx context.Context, tx *sql.Tx, in PutInput) (*Document, error) {
	current, err := getDocument(ctx, tx, in.ID)
	if err != nil {
		return nil, err
	}

	switch {
	case current == nil && in.ExpectedVersion != nil,
		current != nil && (in.ExpectedVersion == nil || *in.ExpectedVersion != current.Version):
		return nil, &ConflictError{ID: in.ID, Expected: in.ExpectedVersion, Current: current}
	}

	now := db.now()
	doc := &Document{ID: in.ID, Payload: in.Payload, Version: 1, CreatedAt: now, UpdatedAt: now}
	if current == nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (id, payload, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			doc.ID, string(doc.Payload), doc.Version, formatTime(now), formatTime(now))
	} else {
		doc.Version = current.Version + 1
		doc.CreatedAt = current.CreatedAt
		var res sql.Result
		res, err = tx.ExecContext(ctx,
			`UPDATE documents SET payload = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?`,
			string(doc.Payload), doc.Version, formatTime(now), doc.ID, current.Version)
		if err == nil {
			if n, _ := res.RowsAffected(); n == 0 {
				return nil, &ConflictError{ID: in.ID, Expected: in.ExpectedVersion, Current: current}
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("write document %s: %w", in.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO document_writes (document_id, version, request_id, written_at) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Version, in.RequestID, formatTime(now)); err != nil {
		return nil, fmt.Errorf("record write %s: %w", in.ID, err)
	}
	return doc, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getDocument(ctx context.Context, q queryer, id string) (*Document, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, payload, version, created_at, updated_at FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return doc, err
}

func scanDocument(s scanner) (*Document, error) {
	var (
		d                Document
		payload          string
		created, updated string
	)
	if err := s.Scan(&d.ID, &payload, &d.Version, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.Payload = json.RawMessage(payload)
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
