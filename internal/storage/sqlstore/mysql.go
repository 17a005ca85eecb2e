package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
)

const (
	mysqlDuplicateEntry  = 1062 // ER_DUP_ENTRY
	mysqlUnknownDatabase = 1049 // ER_BAD_DB_ERROR
)

// openMySQL connects to a MySQL-compatible server. The database named in the
// DSN is created when missing.
func openMySQL(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql DSN: %w", err)
	}
	if cfg.DBName == "" {
		cfg.DBName = "issuesync"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	err = db.PingContext(ctx)
	if isUnknownDatabase(err) {
		if err = createDatabase(ctx, cfg); err == nil {
			err = db.PingContext(ctx)
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to mysql database %s: %w", cfg.DBName, err)
	}
	return &Store{db: db, dialect: mysqlDialect}, nil
}

// createDatabase creates cfg.DBName on a server-level connection.
func createDatabase(ctx context.Context, cfg *mysql.Config) error {
	initCfg := cfg.Clone()
	initCfg.DBName = ""
	initDB, err := sql.Open("mysql", initCfg.FormatDSN())
	if err != nil {
		return err
	}
	defer initDB.Close()
	return backoff.Retry(func() error {
		_, execErr := initDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.DBName))
		if execErr != nil && !isRetryableError(execErr) {
			return backoff.Permanent(execErr)
		}
		return execErr
	}, backoff.WithContext(newRetryBackoff(), ctx))
}

func isUnknownDatabase(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlUnknownDatabase
}

func isMySQLDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}
