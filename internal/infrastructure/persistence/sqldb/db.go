// Package sqldb provides the transaction manager and dialect-aware query
// helpers shared by every repository.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/errs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Dialect selects placeholder style and locking syntax
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

type contextKey string

const txKey contextKey = "tx"

// DB wraps sql.DB and implements port.TransactionManager
type DB struct {
	*sql.DB
	dialect   Dialect
	txTimeout time.Duration
	logger    *zap.Logger
}

// NewDB creates a new database wrapper. A zero txTimeout disables the
// per-transaction deadline.
func NewDB(sqlDB *sql.DB, dialect Dialect, txTimeout time.Duration, logger *zap.Logger) *DB {
	return &DB{
		DB:        sqlDB,
		dialect:   dialect,
		txTimeout: txTimeout,
		logger:    logger,
	}
}

// Dialect returns the SQL dialect in use
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// WithTransaction implements port.TransactionManager.
// Nested calls reuse the outer transaction. The whole unit of work is bounded
// by the configured timeout; exceeding it rolls back and yields a timeout error.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := extractTx(ctx); tx != nil {
		return fn(ctx)
	}

	if db.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, db.txTimeout)
		defer cancel()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("Failed to begin transaction", zap.Error(err))
		return Classify(ctx, err, "failed to begin transaction")
	}

	txCtx := context.WithValue(ctx, txKey, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			db.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			db.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		if ctx.Err() != nil {
			return Classify(ctx, err, "transaction aborted")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		db.logger.Error("Failed to commit transaction", zap.Error(err))
		return Classify(ctx, err, "failed to commit transaction")
	}

	return nil
}

// InTransaction reports whether ctx carries an open transaction
func InTransaction(ctx context.Context) bool {
	return extractTx(ctx) != nil
}

func extractTx(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executor interface covers both *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (db *DB) getExecutor(ctx context.Context) executor {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return db.DB
}

// Exec runs a statement on the transaction in ctx, or the pool outside one
func (db *DB) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.getExecutor(ctx).ExecContext(ctx, db.Rebind(query), args...)
}

// Query runs a query on the transaction in ctx, or the pool outside one
func (db *DB) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.getExecutor(ctx).QueryContext(ctx, db.Rebind(query), args...)
}

// QueryRow runs a single-row query on the transaction in ctx, or the pool outside one
func (db *DB) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.getExecutor(ctx).QueryRowContext(ctx, db.Rebind(query), args...)
}

// Rebind converts '?' placeholders to the dialect's style
func (db *DB) Rebind(query string) string {
	if db.dialect != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ForUpdate returns the row-lock suffix for a locking read. SQLite takes the
// database write lock at BEGIN IMMEDIATE, so it needs none.
func (db *DB) ForUpdate(lock bool) string {
	if lock && db.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// Classify wraps a store error with the matching error kind
func Classify(ctx context.Context, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.Wrap(err, errs.KindTimeout, "%s", msg)
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(err, errs.KindTimeout, "%s: canceled", msg)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return errs.Wrap(err, errs.KindConflict, "%s: database busy", msg)
		case sqlite3.ErrConstraint:
			switch sqliteErr.ExtendedCode {
			case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
				return errs.Wrap(err, errs.KindConflict, "%s: duplicate key", msg)
			}
			return errs.Wrap(err, errs.KindValidationFailed, "%s: constraint violated", msg)
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return errs.Wrap(err, errs.KindConflict, "%s: concurrent update", msg)
		case "23505":
			return errs.Wrap(err, errs.KindConflict, "%s: duplicate key", msg)
		case "23502", "23503", "23514", "22003":
			return errs.Wrap(err, errs.KindValidationFailed, "%s: constraint violated", msg)
		case "57014":
			return errs.Wrap(err, errs.KindTimeout, "%s", msg)
		}
	}

	var classified *errs.Error
	if errors.As(err, &classified) {
		return err
	}

	return errs.Wrap(err, errs.KindDependencyUnavailable, "%s", msg)
}

// Verify interface compliance
var _ port.TransactionManager = (*DB)(nil)
