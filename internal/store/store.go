package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"
)

// TimeFormat is the on-disk timestamp layout for every table. It is fixed
// width so that string comparison in SQL orders chronologically.
const TimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const busyMaxElapsed = 10 * time.Second

// Store manages VANGUARD state in SQLite. All access goes through a single
// connection, so every transaction is serialized within the process.
type Store struct {
	DBPath string
	db     *sql.DB
}

// Open opens or creates the state database.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve state db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure state db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{
		DBPath: absPath,
		db:     db,
	}

	if err := store.configure(); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for read-only queries by sibling packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("create state schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success. The whole
// transaction is retried when SQLite reports the database as busy.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// Exec runs a single statement with busy retry.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := withRetry(ctx, func() error {
		var err error
		result, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return result, err
}

func newBusyBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxElapsedTime = busyMaxElapsed
	return bo
}

// isBusyError reports whether err is SQLite lock contention from another
// process holding the database.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked")
}

func withRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isBusyError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(newBusyBackoff(), ctx))
}

// FormatTime renders t in the storage layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses a stored timestamp; empty or malformed values yield the zero time.
func ParseTime(value string) time.Time {
	t, err := time.Parse(TimeFormat, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	t := ParseTime(value.String)
	return &t
}
