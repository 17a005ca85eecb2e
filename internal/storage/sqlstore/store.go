// Package sqlstore implements the storage interface on database/sql.
//
// Three dialects share one schema and one set of queries:
//   - sqlite: a local file through the ncruces WASM driver (default)
//   - mysql: a MySQL-compatible server (MySQL, MariaDB, dolt sql-server)
//   - dolt: an embedded Dolt database directory (requires CGO)
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/smartshark/issuesync/internal/storage"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverDolt   = "dolt"
)

// Options selects and configures the backend.
type Options struct {
	// Driver is one of DriverSQLite, DriverMySQL or DriverDolt.
	Driver string

	// DSN is the data source: a file path (or ":memory:") for sqlite, a
	// go-sql-driver DSN for mysql, a directory for dolt.
	DSN string

	// Database is the database name for dolt (default "issuesync").
	Database string

	// CommitterName and CommitterEmail sign embedded dolt commits.
	CommitterName  string
	CommitterEmail string
}

// Store is a database/sql backed storage.Storage.
type Store struct {
	db      *sql.DB
	dialect *dialect
	closed  atomic.Bool

	// closer releases driver-level resources (the embedded dolt connector).
	closer io.Closer
}

var _ storage.Storage = (*Store)(nil)

// Open opens (and creates when needed) the store described by opts.
func Open(ctx context.Context, opts Options) (*Store, error) {
	var (
		s   *Store
		err error
	)
	switch opts.Driver {
	case "", DriverSQLite:
		s, err = openSQLite(ctx, opts.DSN)
	case DriverMySQL:
		s, err = openMySQL(ctx, opts.DSN)
	case DriverDolt:
		s, err = openDolt(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown database driver %q (supported: sqlite, mysql, dolt)", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database and any driver resources.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.db.Close()
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// DB exposes the underlying handle for diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.execContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Retry configuration for server and embedded dolt connections.
const retryMaxElapsed = 30 * time.Second

func newRetryBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return bo
}

// isRetryableError returns true for transient connection errors.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, transient := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"database is read only",
		"lost connection",
		"gone away",
		"i/o timeout",
		"database is locked",
	} {
		if strings.Contains(errStr, transient) {
			return true
		}
	}
	return false
}

// withRetry executes op, retrying transient errors with exponential backoff.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	if !s.dialect.retry {
		return op()
	}
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !isRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(newRetryBackoff(), ctx))
}

func (s *Store) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := s.withRetry(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := s.withRetry(ctx, func() error {
		var queryErr error
		rows, queryErr = s.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

// inTx runs fn in a transaction, retrying the whole unit on transient errors.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// wrapDBError wraps a database error with operation context.
// It converts sql.ErrNoRows to storage.ErrNotFound.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if isDuplicate(err) {
		return fmt.Errorf("%s: %w: %v", op, storage.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
