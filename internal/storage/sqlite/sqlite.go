// Package sqlite implements storage.Storage over an embedded SQLite
// database using the ncruces driver (wazero-based, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/perrindel/cardsync/internal/storage"
	"github.com/perrindel/cardsync/internal/syncerr"
)

const metadataSchemaVersionKey = "schema_version"

// Store is the SQLite-backed implementation of storage.Storage.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

var _ storage.Storage = (*Store)(nil)

// New opens (creating if necessary) the store at path, applies pragmas and
// the idempotent schema, and records the schema version if absent.
//
// The store is guarded by a file lock: the core assumes a single process
// opens the database at a time, and the lock turns that assumption into a
// hard error instead of silent corruption.
func New(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "create store directory")
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "acquire store lock")
	}
	if !locked {
		return nil, syncerr.New(syncerr.Store, "store %s is in use by another process", path)
	}

	// WAL permits readers during writes; busy_timeout covers the brief
	// writer contention between the draining task and CLI commands.
	// _txlock=immediate makes transactions take the write lock up front.
	dsn := "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		_ = lock.Unlock()
		return nil, syncerr.Wrap(syncerr.Store, err, "open database %s", path)
	}

	s := &Store{db: db, path: path, lock: lock}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

// initSchema creates tables and indexes (all IF NOT EXISTS) and inserts
// the schema version only when absent, so re-initialization is a no-op.
func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return syncerr.Wrap(syncerr.Store, err, "initialize schema")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO metadata (key, value) VALUES (?, ?)`,
		metadataSchemaVersionKey, SchemaVersion)
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "record schema version")
	}
	return nil
}

// Close releases the database and the process lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		if uerr := s.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}
	if err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// UnderlyingDB returns the raw *sql.DB.
func (s *Store) UnderlyingDB() *sql.DB { return s.db }

// execer abstracts *sql.DB and *sql.Tx so query helpers run both directly
// and inside transactions.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// RunInTransaction executes fn atomically. BEGIN IMMEDIATE acquires the
// write lock up front; a panic inside fn rolls back and re-raises.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "begin transaction")
	}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(&storeTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return syncerr.Wrap(syncerr.Store, err, "commit transaction")
	}
	committed = true
	return nil
}

// isUniqueConstraintError checks for a UNIQUE constraint violation. Used
// to translate duplicate primary keys into domain errors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
