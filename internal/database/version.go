package database

import (
	"context"
	"errors"
)

// VersionKey names the meta row holding the schema version.
const VersionKey = "database_version"

// Version returns the schema version recorded in the meta table, or -1 when
// the table or the row is missing.
func Version(ctx context.Context, q Querier) (int, error) {
	n, err := QueryInt(ctx, q,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'meta'`)
	if err != nil {
		return -1, err
	}
	if n == 0 {
		return -1, nil
	}

	v, err := QueryInt(ctx, q, `SELECT value FROM meta WHERE name = ?`, VersionKey)
	if errors.Is(err, ErrNoRow) {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	return v, nil
}

// SetVersion records v as the schema version, replacing any earlier value.
func SetVersion(ctx context.Context, q Querier, v int) error {
	return Exec(ctx, q, `INSERT OR REPLACE INTO meta (name, value) VALUES (?, ?)`, VersionKey, v)
}
