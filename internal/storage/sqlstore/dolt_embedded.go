//go:build cgo

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	embedded "github.com/dolthub/driver"
)

const embeddedOpenMaxElapsed = 30 * time.Second

func newEmbeddedOpenBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = embeddedOpenMaxElapsed
	return bo
}

// openDolt opens an embedded Dolt database directory.
func openDolt(ctx context.Context, opts Options) (*Store, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("dolt: database directory is required")
	}
	if info, err := os.Stat(opts.DSN); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("dolt: database path %q is a file, not a directory", opts.DSN)
	}
	if err := os.MkdirAll(opts.DSN, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	absPath, err := filepath.Abs(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}

	database := opts.Database
	if database == "" {
		database = "issuesync"
	}
	name, email := opts.CommitterName, opts.CommitterEmail
	if name == "" {
		name = "issuesync"
	}
	if email == "" {
		email = "issuesync@local"
	}

	q := url.Values{}
	q.Set("commitname", name)
	q.Set("commitemail", email)
	initDSN := "file://" + absPath + "?" + q.Encode()
	q.Set("database", database)
	dbDSN := "file://" + absPath + "?" + q.Encode()

	// Create the database on a short-lived connector.
	initDB, initConnector, err := openEmbeddedConnection(initDSN)
	if err != nil {
		return nil, err
	}
	_, err = initDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", database))
	_ = initDB.Close()
	_ = initConnector.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to create dolt database: %w", err)
	}

	db, connector, err := openEmbeddedConnection(dbDSN)
	if err != nil {
		return nil, err
	}
	// The embedded driver keeps the context of the first connection; do not
	// hand it a caller context that may be canceled.
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		_ = connector.Close()
		return nil, fmt.Errorf("failed to ping Dolt database: %w", err)
	}
	return &Store{db: db, dialect: doltDialect, closer: connector}, nil
}

func openEmbeddedConnection(dsn string) (*sql.DB, *embedded.Connector, error) {
	cfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Dolt DSN: %w", err)
	}
	cfg.BackOff = newEmbeddedOpenBackoff()

	connector, err := embedded.NewConnector(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Dolt connector: %w", err)
	}
	db := sql.OpenDB(connector)

	// Embedded Dolt is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, connector, nil
}
