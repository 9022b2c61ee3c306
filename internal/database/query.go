package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNoRow is returned by the value queries when the statement produced
// fewer rows than requested.
var ErrNoRow = errors.New("query returned no row")

// Querier is satisfied by *DB, *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const maxBusyWait = 30 * time.Second

func busyBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	return b
}

func resultCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() & 0xff
	}
	return -1
}

func isBusy(err error) bool {
	code := resultCode(err)
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// retryBusy repeats op while SQLite reports the database as busy or locked.
func retryBusy[T any](ctx context.Context, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !isBusy(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(busyBackOff()), backoff.WithMaxElapsedTime(maxBusyWait))
}

// mustBeWellFormed panics when SQLite rejected the statement itself. A
// statement that fails to prepare is a defect in the caller, not a runtime
// condition, so it is never handed back as an error.
func mustBeWellFormed(query string, err error) {
	if err != nil && resultCode(err) == sqlite3.SQLITE_ERROR {
		panic(fmt.Sprintf("database: malformed statement %q: %v", query, err))
	}
}

// Exec runs a statement to completion.
func Exec(ctx context.Context, q Querier, query string, args ...any) error {
	_, err := ExecResult(ctx, q, query, args...)
	return err
}

// ExecResult runs a statement and returns the driver result, for callers
// that need the inserted row id or the affected row count.
func ExecResult(ctx context.Context, q Querier, query string, args ...any) (sql.Result, error) {
	slog.Debug("sql", "statement", query, "args", args)

	res, err := retryBusy(ctx, func() (sql.Result, error) {
		return q.ExecContext(ctx, query, args...)
	})
	mustBeWellFormed(query, err)
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	return res, nil
}

// Query runs a statement and returns an iterator over its rows.
func Query(ctx context.Context, q Querier, query string, args ...any) (*Iterator, error) {
	slog.Debug("sql", "statement", query, "args", args)

	rows, err := retryBusy(ctx, func() (*sql.Rows, error) {
		return q.QueryContext(ctx, query, args...)
	})
	mustBeWellFormed(query, err)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return newIterator(rows)
}

func queryValue(ctx context.Context, q Querier, query string, args ...any) (*Iterator, error) {
	it, err := Query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	if !it.Next() {
		err := it.Close()
		if err != nil {
			return nil, err
		}
		return nil, ErrNoRow
	}
	return it, nil
}

// QueryInt64 returns the first column of the first row.
func QueryInt64(ctx context.Context, q Querier, query string, args ...any) (int64, error) {
	it, err := queryValue(ctx, q, query, args...)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	return it.Int64(0), nil
}

// QueryInt is QueryInt64 narrowed to int.
func QueryInt(ctx context.Context, q Querier, query string, args ...any) (int, error) {
	v, err := QueryInt64(ctx, q, query, args...)
	return int(v), err
}

// QueryString returns the first column of the first row as text. NULL reads
// as the empty string.
func QueryString(ctx context.Context, q Querier, query string, args ...any) (string, error) {
	it, err := queryValue(ctx, q, query, args...)
	if err != nil {
		return "", err
	}
	defer it.Close()
	return it.String(0), nil
}
