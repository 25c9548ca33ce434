// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package database opens the backing SQLite database and provides the
// transaction runner used by the state layer. Transactions retry on
// transient SQLITE_BUSY failures with capped exponential backoff.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
	"github.com/mattn/go-sqlite3"
)

var logger = loggo.GetLogger("glare.database")

// TxnRunner executes transactions against the database. Txn runs a
// sqlair transaction for prepared statements, StdTxn a database/sql
// transaction for dynamically assembled queries.
type TxnRunner interface {
	Txn(context.Context, func(context.Context, *sqlair.TX) error) error
	StdTxn(context.Context, func(context.Context, *sql.Tx) error) error
}

// Open opens (creating if necessary) the SQLite database at path with
// WAL journaling and foreign keys enforced. A path of ":memory:" opens
// a private in-memory database for tests and development.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path == ":memory:" {
		// A shared cache keeps the schema visible across pooled
		// connections of the same in-memory database.
		dsn = fmt.Sprintf("file:glare-%d?mode=memory&cache=shared", time.Now().UnixNano())
	} else {
		query := url.Values{}
		query.Set("_journal_mode", "WAL")
		query.Set("_foreign_keys", "on")
		query.Set("_busy_timeout", "5000")
		dsn = fmt.Sprintf("file:%s?%s", path, query.Encode())
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Annotatef(err, "opening database at %q", path)
	}
	if path == ":memory:" {
		// In-memory databases disappear with their last connection.
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, errors.Trace(err)
		}
	}
	return db, nil
}

// NewTxnRunner wraps the database in a retrying transaction runner.
func NewTxnRunner(db *sql.DB, clk clock.Clock) TxnRunner {
	return &txnRunner{
		db:     sqlair.NewDB(db),
		stdDB:  db,
		clock:  clk,
		maxTry: 5,
	}
}

type txnRunner struct {
	db     *sqlair.DB
	stdDB  *sql.DB
	clock  clock.Clock
	maxTry int
}

// Txn runs fn inside a sqlair transaction, committing on nil return
// and rolling back otherwise.
func (r *txnRunner) Txn(ctx context.Context, fn func(context.Context, *sqlair.TX) error) error {
	return r.retryable(ctx, func() error {
		tx, err := r.db.Begin(ctx, nil)
		if err != nil {
			return errors.Trace(err)
		}
		if err := fn(ctx, tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Warningf("failed to rollback transaction: %v", rbErr)
			}
			return err
		}
		return errors.Trace(tx.Commit())
	})
}

// StdTxn runs fn inside a database/sql transaction.
func (r *txnRunner) StdTxn(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	return r.retryable(ctx, func() error {
		tx, err := r.stdDB.BeginTx(ctx, nil)
		if err != nil {
			return errors.Trace(err)
		}
		if err := fn(ctx, tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Warningf("failed to rollback transaction: %v", rbErr)
			}
			return err
		}
		return errors.Trace(tx.Commit())
	})
}

func (r *txnRunner) retryable(ctx context.Context, fn func() error) error {
	return retry.Call(retry.CallArgs{
		Func:         fn,
		IsFatalError: func(err error) bool { return !isRetryable(err) },
		Attempts:     r.maxTry,
		Delay:        10 * time.Millisecond,
		MaxDelay:     250 * time.Millisecond,
		BackoffFunc:  retry.DoubleDelay,
		Clock:        r.clock,
		Stop:         ctx.Done(),
	})
}

// isRetryable reports whether the error is a transient SQLite locking
// failure worth retrying.
func isRetryable(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsConstraintError reports whether the error is a unique or foreign
// key constraint violation. The state layer maps these onto domain
// conflicts.
func IsConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
