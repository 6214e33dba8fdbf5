package faults

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fault_flags (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

// SQLiteStore keeps the flags in a local SQLite key-value table.
type SQLiteStore struct {
	conn  *sql.DB
	owned bool
}

// OpenSQLite opens (creating if needed) the flag database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create fault store dir: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open fault store: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	s, err := NewSQLiteStore(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteStore uses an existing connection. The caller keeps ownership.
func NewSQLiteStore(conn *sql.DB) (*SQLiteStore, error) {
	if _, err := conn.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("create fault_flags: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

func (s *SQLiteStore) Flags(ctx context.Context) (Flags, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key, value FROM fault_flags`)
	if err != nil {
		return Flags{}, fmt.Errorf("query fault flags: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Flags{}, fmt.Errorf("scan fault flag: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return Flags{}, fmt.Errorf("rows iteration: %w", err)
	}
	return fromValues(values)
}

func (s *SQLiteStore) Save(ctx context.Context, f Flags) error {
	if err := f.Validate(); err != nil {
		return err
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for k, v := range toValues(f) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fault_flags (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
			k, v,
		); err != nil {
			return fmt.Errorf("save %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM fault_flags`); err != nil {
		return fmt.Errorf("clear fault flags: %w", err)
	}
	return nil
}

// Close closes the connection if the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.conn.Close()
}
