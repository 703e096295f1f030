// Package store owns the local SQLite database: connection setup, schema
// migrations, timestamp encoding, and the key-value table used for cached
// profile and case-list data. Higher layers (caserepo, auth, casecache) share
// one *Store per process.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// DirPerms is used when creating the directory holding the database.
const DirPerms = 0o700

// timeLayout is fixed-width UTC with microseconds so that lexicographic
// order of stored strings matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store wraps the SQLite handle. All access goes through a single connection
// so writers never contend for the database lock.
type Store struct {
	db     *sqlx.DB
	path   string
	logger *slog.Logger
}

// Open creates (if needed) and opens the database at dbPath, applies pending
// migrations, and returns a ready Store. The database runs in WAL mode with
// synchronous=FULL and foreign keys enforced.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), DirPerms); err != nil {
		return nil, fmt.Errorf("store: creating directory for %s: %w", dbPath, err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pinging database %s: %w", dbPath, err)
	}

	if err := runMigrations(ctx, db.DB, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("local store opened", slog.String("db_path", dbPath))

	return &Store{db: db, path: dbPath, logger: logger}, nil
}

// DB returns the underlying handle for repositories built on the store.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}

	return nil
}

// FormatTime encodes t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime decodes a stored timestamp. RFC 3339 values written by older
// builds or by hand are accepted too.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err == nil {
		return t, nil
	}

	t, err = time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: parsing timestamp %q: %w", s, err)
	}

	return t.UTC(), nil
}
