package migrate

import (
	"context"
	"fmt"

	"github.com/jamesruggles/scanmanager/internal/database"
	"github.com/jamesruggles/scanmanager/internal/manage"
)

// dropPublicKeys removes the public key column from credentials. The
// public key is derived from the private key whenever it is needed.
func dropPublicKeys(ctx context.Context, tx *Tx) error {
	return tx.rebuild(ctx, "lsc_credentials",
		`CREATE TABLE lsc_credentials (id INTEGER PRIMARY KEY, uuid TEXT NOT NULL, owner INTEGER, name TEXT NOT NULL, login TEXT, password TEXT, comment TEXT, private_key TEXT, rpm TEXT, deb TEXT, exe TEXT)`,
		"id, uuid, owner, name, login, password, comment, private_key, rpm, deb, exe",
		"id, uuid, owner, name, login, password, comment, private_key, rpm, deb, exe",
	)
}

func removeOrphanReportResults(ctx context.Context, tx *Tx) error {
	n, err := tx.execCount(ctx,
		`DELETE FROM report_results
		 WHERE report IS NULL OR result IS NULL
		    OR report NOT IN (SELECT id FROM reports)
		    OR result NOT IN (SELECT id FROM results)`)
	if err != nil {
		return err
	}
	if n > 0 {
		tx.log.Info("removed orphaned report results", "count", n)
	}
	return nil
}

func addInstallerTrust(ctx context.Context, tx *Tx) error {
	if err := tx.addColumn(ctx, "agents", "installer_trust INTEGER DEFAULT 3"); err != nil {
		return err
	}
	return tx.addColumn(ctx, "agents", "installer_trust_time INTEGER DEFAULT 0")
}

// Trust levels of signed resources.
const (
	trustYes     = 1
	trustUnknown = 3
)

// addReportFormatTrust adds signature and trust columns. Global formats
// ship with the manager and are trusted.
func addReportFormatTrust(ctx context.Context, tx *Tx) error {
	for _, col := range []string{
		"signature TEXT DEFAULT ''",
		fmt.Sprintf("trust INTEGER DEFAULT %d", trustUnknown),
		"trust_time INTEGER DEFAULT 0",
	} {
		if err := tx.addColumn(ctx, "report_formats", col); err != nil {
			return err
		}
	}
	return tx.exec(ctx, `UPDATE report_formats SET trust = ? WHERE global = 1`, trustYes)
}

// addIndexes repairs missing and duplicated uuids, keeping the uuid of the
// oldest row, and then creates the unique uuid indexes and lookup indexes.
func addIndexes(ctx context.Context, tx *Tx) error {
	for _, table := range database.UUIDTables {
		ids, err := tx.ids(ctx, fmt.Sprintf(
			`SELECT id FROM %[1]s
			 WHERE uuid IS NULL OR uuid = ''
			    OR id NOT IN (SELECT min(id) FROM %[1]s GROUP BY uuid)
			 ORDER BY id`, table))
		if err != nil {
			return fmt.Errorf("finding bad uuids in %s: %w", table, err)
		}
		for _, id := range ids {
			u, err := tx.uuid()
			if err != nil {
				return err
			}
			if err := tx.exec(ctx, fmt.Sprintf(`UPDATE %s SET uuid = ? WHERE id = ?`, table), u, id); err != nil {
				return fmt.Errorf("repairing uuid of %s %d: %w", table, id, err)
			}
		}
		if len(ids) > 0 {
			tx.log.Info("repaired uuids", "table", table, "count", len(ids))
		}
	}
	return database.Indexes(ctx, tx.Tx)
}

// cleanSelectors leaves exactly one include-all rule under the
// select-everything selector, drops rules no config uses and refreshes every
// config's counters.
func cleanSelectors(ctx context.Context, tx *Tx) error {
	keep, err := tx.queryInt64(ctx,
		`SELECT coalesce(min(id), 0) FROM nvt_selectors WHERE name = ? AND type = ? AND exclude = 0`,
		manage.SelectorUUIDAll, manage.SelectorTypeAll)
	if err != nil {
		return err
	}
	if err := tx.exec(ctx, `DELETE FROM nvt_selectors WHERE name = ? AND id != ?`,
		manage.SelectorUUIDAll, keep); err != nil {
		return fmt.Errorf("removing duplicate select-everything rules: %w", err)
	}
	if keep == 0 {
		if err := tx.exec(ctx,
			`INSERT INTO nvt_selectors (name, exclude, type, family_or_nvt, family) VALUES (?, 0, ?, NULL, NULL)`,
			manage.SelectorUUIDAll, manage.SelectorTypeAll); err != nil {
			return fmt.Errorf("restoring select-everything rule: %w", err)
		}
	}

	if err := tx.exec(ctx,
		`DELETE FROM nvt_selectors
		 WHERE name != ?
		   AND name NOT IN (SELECT nvt_selector FROM configs WHERE nvt_selector IS NOT NULL)`,
		manage.SelectorUUIDAll); err != nil {
		return fmt.Errorf("removing unused selector rules: %w", err)
	}
	return manage.UpdateAllConfigCaches(ctx, tx.Tx)
}
