package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// ErrBackupFailed marks every error returned by Backup.
var ErrBackupFailed = errors.New("backup failed")

// BackupSuffix is appended to the database path to name the backup copy.
const BackupSuffix = ".bak"

// companions are the files SQLite keeps next to the database, depending on
// the journal mode in use.
var companions = []string{"-wal", "-journal"}

// Backup copies the database file, and its write-ahead or rollback journal
// when present, next to the original. The copy runs inside an exclusive
// transaction so no other writer can change the files halfway through.
// It returns the path of the database copy.
func (db *DB) Backup(ctx context.Context) (string, error) {
	if db.path == "" || db.path == ":memory:" {
		return "", fmt.Errorf("%w: database %q is not file backed", ErrBackupFailed, db.path)
	}

	dst := db.path + BackupSuffix
	err := db.InTx(ctx, func(tx *sql.Tx) error {
		// Touch the database so the exclusive lock is really taken.
		if _, err := QueryInt(ctx, tx, `SELECT count(*) FROM sqlite_master`); err != nil {
			return err
		}
		if err := copyFile(db.path, dst); err != nil {
			return err
		}
		for _, suffix := range companions {
			src := db.path + suffix
			if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
				os.Remove(dst + suffix)
				continue
			}
			if err := copyFile(src, dst+suffix); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	slog.Info("database backed up", "path", dst)
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("syncing %s: %w", dst, err)
	}
	return out.Close()
}
