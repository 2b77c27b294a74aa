package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/castsync/internal/platform/storage/sqlitemigrate"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	maxBusyRetries = 8
	retryBaseDelay = 10 * time.Millisecond
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// openDB opens a SQLite file and applies the embedded migrations under
// migrationRoot before handing the handle to a store.
//
// Every transaction begins IMMEDIATE so writers queue on the database lock up
// front instead of failing when a read transaction upgrades.
func openDB(ctx context.Context, path string, migrationFS fs.FS, migrationRoot string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrationFS, migrationRoot); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

// inTx runs fn in a transaction, retrying the whole transaction while SQLite
// reports the database as busy. fn may run more than once.
func inTx(ctx context.Context, sqlDB *sql.DB, op string, fn func(tx *sql.Tx) error) error {
	waitForRetry := func(attempt int) error {
		delay := time.Duration(attempt+1) * retryBaseDelay
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}

	var lastBusyErr error
	for attempt := 0; ; attempt++ {
		retry, err := func() (bool, error) {
			tx, err := sqlDB.BeginTx(ctx, nil)
			if err != nil {
				if isSQLiteBusyError(err) {
					lastBusyErr = err
					return true, nil
				}
				return false, fmt.Errorf("begin %s tx: %w", op, err)
			}
			defer tx.Rollback()

			if err := fn(tx); err != nil {
				if isSQLiteBusyError(err) {
					lastBusyErr = err
					return true, nil
				}
				return false, err
			}
			if err := tx.Commit(); err != nil {
				if isSQLiteBusyError(err) {
					lastBusyErr = err
					return true, nil
				}
				return false, fmt.Errorf("commit %s tx: %w", op, err)
			}
			return false, nil
		}()
		if !retry {
			return err
		}
		if attempt >= maxBusyRetries {
			return fmt.Errorf("%s remained busy: %w", op, lastBusyErr)
		}
		if waitErr := waitForRetry(attempt); waitErr != nil {
			return waitErr
		}
	}
}

func isSQLiteBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
