package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the process-wide handle on the manager database. It holds a single
// connection, so every transaction is serialized through it.
type DB struct {
	*sql.DB
	path string
}

// Options tune how the database is opened.
type Options struct {
	// BusyTimeout is how long SQLite itself waits on a locked database
	// before reporting SQLITE_BUSY to the retry loop.
	BusyTimeout time.Duration
}

const defaultBusyTimeout = 5 * time.Second

func New(path string, opts Options) (*DB, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}

	params := url.Values{}
	params.Set("_txlock", "exclusive")
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))

	sqlDB, err := sql.Open("sqlite", path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// InTx runs fn inside an exclusive transaction. The transaction commits only
// when fn returns nil; every other exit, including a panic, rolls it back.
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := retryBusy(ctx, func() (*sql.Tx, error) {
		return db.BeginTx(ctx, nil)
	})
	if err != nil {
		return fmt.Errorf("begin exclusive: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Vacuum reclaims free pages. It cannot run inside a transaction.
func (db *DB) Vacuum(ctx context.Context) error {
	return Exec(ctx, db, "VACUUM")
}
