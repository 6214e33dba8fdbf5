// Package serverdb is the SQLite store behind the reference document API.
// Every write is a compare-and-swap on the document version.
package serverdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ServerDB is the document store. It is safe for concurrent use; SQLite
// serializes writers on the single pooled connection.
type ServerDB struct {
	conn *sql.DB
	now  func() time.Time
}

// pragmas applied to files opened by Open. Failure of any aborts the open.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// Open opens or creates the database at path and brings its schema up to
// date. ":memory:" opens a private in-memory database.
func Open(path string) (*ServerDB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("serverdb: create dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("serverdb: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("serverdb: %s: %w", p, err)
		}
	}
	db, err := NewWithConn(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// NewWithConn migrates an already open connection, from either SQLite
// driver, and wraps it. The caller keeps ownership of conn until Close.
func NewWithConn(conn *sql.DB) (*ServerDB, error) {
	db := &ServerDB{conn: conn, now: func() time.Time { return time.Now().UTC() }}
	if _, err := db.RunMigrations(); err != nil {
		return nil, err
	}
	return db, nil
}

// SetNow replaces the timestamp source, for tests.
func (db *ServerDB) SetNow(now func() time.Time) { db.now = now }

func (db *ServerDB) Ping() error { return db.conn.Ping() }

// Close truncates the WAL and closes the connection.
func (db *ServerDB) Close() error {
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

// RunMigrations applies the steps the database has not seen yet, each in its
// own transaction, and returns how many ran.
func (db *ServerDB) RunMigrations() (int, error) {
	ctx := context.Background()
	applied := db.SchemaVersion()
	ran := 0
	for i := applied; i < len(steps); i++ {
		if err := db.apply(ctx, i+1, steps[i]); err != nil {
			return ran, err
		}
		ran++
	}
	return ran, nil
}

func (db *ServerDB) apply(ctx context.Context, version int, s step) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("serverdb: migration %d: %w", version, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, s.sql); err != nil {
		return fmt.Errorf("serverdb: migration %d (%s): %w", version, s.name, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("serverdb: record version %d: %w", version, err)
	}
	return tx.Commit()
}

// SchemaVersion is the number of migration steps applied so far.
func (db *ServerDB) SchemaVersion() int {
	var v int
	if err := db.conn.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0
	}
	return v
}
