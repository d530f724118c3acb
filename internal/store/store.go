// Package store is the persistent catalog: stage tables, dedup resolver,
// alias index, download queue, and citation edges over a single SQLite file.
// Every mutation goes through the operations defined here; they are the only
// allowed write paths.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	// SQLite driver (pure Go, WASM-backed).
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the catalog database. All stateful methods are transactional;
// writers take the SQLite write lock up front (BEGIN IMMEDIATE via _txlock)
// so resolver lookup + insert stay atomic per candidate.
type Store struct {
	db   *sql.DB
	path string

	// MaxDownloadAttempts is the retry budget before a failing download
	// moves to the failed_download table.
	MaxDownloadAttempts int
}

// New opens (creating if needed) the catalog at path. ":memory:" gives an
// isolated in-memory catalog, which tests rely on.
func New(ctx context.Context, path string) (*Store, error) {
	var connStr string
	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	switch {
	case path == ":memory:":
		connStr = "file::memory:?_txlock=immediate" +
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(10000)&_time_format=sqlite"
	case strings.HasPrefix(path, "file:"):
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			connStr += "&_txlock=immediate&_pragma=foreign_keys(ON)&_pragma=busy_timeout(10000)&_time_format=sqlite"
		}
	default:
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create catalog directory: %w", err)
			}
		}
		connStr = "file:" + path + "?_txlock=immediate" +
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(10000)&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	if inMemory {
		// In-memory databases are per-connection; a pool of one keeps every
		// statement on the same database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// WAL allows one writer plus concurrent readers; keep the pool small
		// so workers queue on the write lock instead of piling up.
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
		db.SetMaxIdleConns(2)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db, path: path, MaxDownloadAttempts: 3}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the catalog file path the store was opened with.
func (s *Store) Path() string { return s.path }

// dbtx is satisfied by both *sql.DB and *sql.Tx so the resolver and row
// helpers run identically inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn inside a write transaction, rolling back on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}
