// Package sqlite persists the moderator blacklist in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flemzord/pelican/internal/moderator"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// defaultBusyTimeout is the SQLite busy timeout in milliseconds.
const defaultBusyTimeout = 5000

// Store implements moderator.Store.
type Store struct {
	db *sql.DB
}

var _ moderator.Store = (*Store)(nil)

// Open opens or creates the database at path and migrates the schema.
// The database uses WAL mode and a single connection.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// List returns every entry ordered by id.
func (s *Store) List(ctx context.Context) ([]moderator.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, reason, created_at FROM blacklist ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list blacklist: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []moderator.Entry
	for rows.Next() {
		var (
			e       moderator.Entry
			created string
		)
		if err := rows.Scan(&e.ID, &e.Reason, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan blacklist: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("sqlite: parse created_at for %d: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate blacklist: %w", err)
	}
	return out, nil
}

// Put inserts or replaces an entry.
func (s *Store) Put(ctx context.Context, e moderator.Entry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO blacklist (id, reason, created_at)
		VALUES (?, ?, ?)`,
		e.ID, e.Reason, created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put %d: %w", e.ID, err)
	}
	return nil
}

// Delete removes an entry. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blacklist WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete %d: %w", id, err)
	}
	return nil
}
