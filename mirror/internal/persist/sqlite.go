package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/obsidianstack/snapsync/pkg/types"
)

// SQLite is a Checkpointer backed by a single-table SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("persist: create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open sqlite: %w", err)
	}
	// One writer; sqlite serializes anyway and this keeps the tx on one conn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		pos   INTEGER PRIMARY KEY,
		key   TEXT    NOT NULL UNIQUE,
		value BLOB    NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persist: create entries table: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Save replaces every stored row with entries.
func (s *SQLite) Save(ctx context.Context, entries []types.Entry) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist: begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("persist: clear entries: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries (pos, key, value) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("persist: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, i, e.Key, []byte(e.Value)); err != nil {
			return fmt.Errorf("persist: insert %q: %w", e.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist: commit: %w", err)
	}
	return nil
}

// Load returns the stored rows in position order.
func (s *SQLite) Load(ctx context.Context) ([]types.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM entries ORDER BY pos`)
	if err != nil {
		return nil, fmt.Errorf("persist: select entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Entry
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("persist: scan: %w", err)
		}
		out = append(out, types.Entry{Key: key, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persist: rows: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
