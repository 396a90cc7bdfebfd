// Package store provides the embedded SQLite database: schema migrations,
// the one-shot legacy JSON import, and the repository used by every
// service that persists state.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/agentd-dev/agentd/internal/logging"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store owns the SQLite database handle.
type Store struct {
	db   *sql.DB
	path string
}

// Options configures Open.
type Options struct {
	// Path is the database file. Empty means in-memory (tests).
	Path string
	// LegacyDir is the JSON storage tree to import on first open. Empty
	// disables the import.
	LegacyDir string
}

// Open opens (creating if needed) the database, applies pending
// migrations, and runs the one-shot legacy import. A migration failure
// closes the handle and leaves the database untouched beyond the
// migrations already recorded.
func Open(ctx context.Context, opts Options) (*Store, error) {
	// One pooled connection (set below) keeps an in-memory database alive
	// and consistent without shared-cache mode.
	dsn := "file::memory:"
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		dsn = "file:" + opts.Path
	}

	// Pragmas ride on the DSN so every pooled connection gets them.
	q := url.Values{}
	for _, pragma := range []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"foreign_keys(1)",
		"busy_timeout(5000)",
		"cache_size(-65536)", // 64 MiB page cache
	} {
		q.Add("_pragma", pragma)
	}
	dsn += "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection sidesteps table-lock contention between pooled
	// writers; WAL still lets external readers proceed.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: opts.Path}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if opts.LegacyDir != "" {
		if err := s.importLegacy(ctx, opts.LegacyDir); err != nil {
			db.Close()
			return nil, fmt.Errorf("legacy import: %w", err)
		}
	}

	return s, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Repo returns a repository bound to the database (no transaction).
func (s *Store) Repo() *Repo { return &Repo{q: s.db, store: s} }

// Tx runs fn inside a transaction against a tx-bound repository. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) Tx(ctx context.Context, fn func(r *Repo) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logging.Warn().Err(err).Msg("transaction rollback failed")
		}
	}()

	if err := fn(&Repo{q: tx, store: s}); err != nil {
		return err
	}
	return tx.Commit()
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	// Best effort; the close below is what matters.
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
