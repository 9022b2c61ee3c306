package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/jamesruggles/scanmanager/internal/manage"
)

// Version 1 tables: the original thirteen with an explicit row id.
var rowIDTables = []struct {
	name    string
	ddl     string
	columns string
}{
	{"meta", `CREATE TABLE meta (id INTEGER PRIMARY KEY, name TEXT UNIQUE NOT NULL, value)`,
		"name, value"},
	{"configs", `CREATE TABLE configs (id INTEGER PRIMARY KEY, name TEXT UNIQUE NOT NULL, nvt_selector TEXT, comment TEXT)`,
		"name, nvt_selector, comment"},
	{"config_preferences", `CREATE TABLE config_preferences (id INTEGER PRIMARY KEY, config INTEGER, type TEXT, name TEXT, value TEXT)`,
		"config, type, name, value"},
	{"nvt_preferences", `CREATE TABLE nvt_preferences (id INTEGER PRIMARY KEY, name TEXT UNIQUE, value TEXT)`,
		"name, value"},
	{"nvt_selectors", `CREATE TABLE nvt_selectors (id INTEGER PRIMARY KEY, name TEXT, exclude INTEGER, type INTEGER, family_or_nvt TEXT)`,
		"name, exclude, type, family_or_nvt"},
	{"nvts", `CREATE TABLE nvts (id INTEGER PRIMARY KEY, oid TEXT UNIQUE, version TEXT, name TEXT, summary TEXT, description TEXT, copyright TEXT, cve TEXT, bid TEXT, xref TEXT, tag TEXT, sign_key_id TEXT, category TEXT, family TEXT)`,
		"oid, version, name, summary, description, copyright, cve, bid, xref, tag, sign_key_id, category, family"},
	{"lsc_credentials", `CREATE TABLE lsc_credentials (id INTEGER PRIMARY KEY, name TEXT UNIQUE NOT NULL, password TEXT, comment TEXT, public_key TEXT, private_key TEXT, rpm TEXT, deb TEXT, exe TEXT)`,
		"name, password, comment, public_key, private_key, rpm, deb, exe"},
	{"targets", `CREATE TABLE targets (id INTEGER PRIMARY KEY, name TEXT UNIQUE NOT NULL, hosts TEXT, comment TEXT)`,
		"name, hosts, comment"},
	{"tasks", `CREATE TABLE tasks (id INTEGER PRIMARY KEY, uuid TEXT, name TEXT, hidden INTEGER, time TEXT, comment TEXT, description TEXT, owner TEXT, run_status TEXT, start_time TEXT, end_time TEXT, config TEXT, target TEXT)`,
		"uuid, name, hidden, time, comment, description, owner, run_status, start_time, end_time, config, target"},
	{"task_files", `CREATE TABLE task_files (id INTEGER PRIMARY KEY, task INTEGER, name TEXT, content TEXT)`,
		"task, name, content"},
	{"reports", `CREATE TABLE reports (id INTEGER PRIMARY KEY, uuid TEXT, hidden INTEGER, task INTEGER, date INTEGER, start_time TEXT, end_time TEXT, comment TEXT, scan_run_status TEXT)`,
		"uuid, hidden, task, date, start_time, end_time, comment, scan_run_status"},
	{"report_hosts", `CREATE TABLE report_hosts (id INTEGER PRIMARY KEY, report INTEGER, host TEXT, start_time TEXT, end_time TEXT)`,
		"report, host, start_time, end_time"},
	{"results", `CREATE TABLE results (id INTEGER PRIMARY KEY, task INTEGER, subnet TEXT, host TEXT, port TEXT, nvt TEXT, type TEXT, description TEXT)`,
		"task, subnet, host, port, nvt, type, description"},
}

// addRowIDs rebuilds the original tables with an explicit id column that
// takes over each row's implicit rowid, so references by rowid stay valid.
func addRowIDs(ctx context.Context, tx *Tx) error {
	for _, t := range rowIDTables {
		if err := tx.rebuild(ctx, t.name, t.ddl, "id, "+t.columns, "rowid, "+t.columns); err != nil {
			return err
		}
	}
	return nil
}

var nvtColumnsV1 = []string{
	"id", "oid", "version", "name", "summary", "description", "copyright",
	"cve", "bid", "xref", "tag", "sign_key_id", "category", "family",
}

func nvtCategoriesToIntegers(ctx context.Context, tx *Tx) error {
	if err := tx.moveAside(ctx, "nvts"); err != nil {
		return err
	}
	if err := tx.exec(ctx, `CREATE TABLE nvts (id INTEGER PRIMARY KEY, oid TEXT UNIQUE, version TEXT, name TEXT, summary TEXT, description TEXT, copyright TEXT, cve TEXT, bid TEXT, xref TEXT, tag TEXT, sign_key_id TEXT, category INTEGER, family TEXT)`); err != nil {
		return fmt.Errorf("creating nvts: %w", err)
	}

	const category = 12
	err := tx.copyConverted(ctx, "nvts", nvtColumnsV1, nvtColumnsV1, func(row []any) {
		if row[category] == nil {
			return
		}
		row[category] = manage.CategoryCode(textValue(row[category]))
	})
	if err != nil {
		return err
	}
	return tx.dropOld(ctx, "nvts")
}

// addReportResults links every result to the latest report of its task.
func addReportResults(ctx context.Context, tx *Tx) error {
	return tx.execAll(ctx,
		`CREATE TABLE report_results (id INTEGER PRIMARY KEY, report INTEGER, result INTEGER)`,
		`INSERT INTO report_results (report, result)
		 SELECT (SELECT reports.id FROM reports WHERE reports.task = results.task
		         ORDER BY reports.date DESC, reports.id DESC LIMIT 1),
		        results.id
		 FROM results
		 WHERE EXISTS (SELECT 1 FROM reports WHERE reports.task = results.task)
		 ORDER BY results.id`,
	)
}

// addUsers creates a user for every distinct task owner name and rewrites
// tasks.owner to that user's id.
func addUsers(ctx context.Context, tx *Tx) error {
	if err := tx.exec(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY, uuid TEXT NOT NULL, name TEXT UNIQUE NOT NULL)`); err != nil {
		return fmt.Errorf("creating users: %w", err)
	}

	it, err := tx.query(ctx,
		`SELECT DISTINCT owner FROM tasks WHERE owner IS NOT NULL AND owner != '' ORDER BY owner`)
	if err != nil {
		return err
	}
	var owners []string
	for it.Next() {
		owners = append(owners, it.String(0))
	}
	if err := it.Close(); err != nil {
		return fmt.Errorf("listing task owners: %w", err)
	}

	for _, name := range owners {
		u, err := tx.uuid()
		if err != nil {
			return err
		}
		if err := tx.exec(ctx, `INSERT INTO users (uuid, name) VALUES (?, ?)`, u, name); err != nil {
			return fmt.Errorf("creating user %s: %w", name, err)
		}
	}

	return tx.rebuild(ctx, "tasks",
		`CREATE TABLE tasks (id INTEGER PRIMARY KEY, uuid TEXT, owner INTEGER, name TEXT, hidden INTEGER, time TEXT, comment TEXT, description TEXT, run_status TEXT, start_time TEXT, end_time TEXT, config TEXT, target TEXT)`,
		"id, uuid, owner, name, hidden, time, comment, description, run_status, start_time, end_time, config, target",
		"id, uuid, (SELECT users.id FROM users WHERE users.name = tasks_old.owner), name, hidden, time, comment, description, run_status, start_time, end_time, config, target",
	)
}

// addResourceOwners gives configs, targets and credentials an owner. Names
// stop being unique, since two users may now pick the same one.
func addResourceOwners(ctx context.Context, tx *Tx) error {
	rebuilds := []struct{ table, ddl, columns, exprs string }{
		{
			"configs",
			`CREATE TABLE configs (id INTEGER PRIMARY KEY, owner INTEGER, name TEXT NOT NULL, nvt_selector TEXT, comment TEXT)`,
			"id, owner, name, nvt_selector, comment",
			"id, NULL, name, nvt_selector, comment",
		},
		{
			"targets",
			`CREATE TABLE targets (id INTEGER PRIMARY KEY, owner INTEGER, name TEXT NOT NULL, hosts TEXT, comment TEXT)`,
			"id, owner, name, hosts, comment",
			"id, NULL, name, hosts, comment",
		},
		{
			"lsc_credentials",
			`CREATE TABLE lsc_credentials (id INTEGER PRIMARY KEY, owner INTEGER, name TEXT NOT NULL, password TEXT, comment TEXT, public_key TEXT, private_key TEXT, rpm TEXT, deb TEXT, exe TEXT)`,
			"id, owner, name, password, comment, public_key, private_key, rpm, deb, exe",
			"id, NULL, name, password, comment, public_key, private_key, rpm, deb, exe",
		},
	}
	for _, r := range rebuilds {
		if err := tx.rebuild(ctx, r.table, r.ddl, r.columns, r.exprs); err != nil {
			return err
		}
	}

	if err := tx.addColumn(ctx, "reports", "owner INTEGER"); err != nil {
		return err
	}
	return tx.exec(ctx, `UPDATE reports SET owner = (SELECT tasks.owner FROM tasks WHERE tasks.id = reports.task)`)
}

// addSelectorFamilies records the family of every family and NVT rule.
func addSelectorFamilies(ctx context.Context, tx *Tx) error {
	if err := tx.addColumn(ctx, "nvt_selectors", "family TEXT"); err != nil {
		return err
	}
	if err := tx.exec(ctx, `UPDATE nvt_selectors SET family = family_or_nvt WHERE type = ?`,
		manage.SelectorTypeFamily); err != nil {
		return err
	}
	return tx.exec(ctx,
		`UPDATE nvt_selectors SET family = (SELECT nvts.family FROM nvts WHERE nvts.oid = nvt_selectors.family_or_nvt)
		 WHERE type = ?`, manage.SelectorTypeNVT)
}

func addConfigCaches(ctx context.Context, tx *Tx) error {
	for _, col := range []string{"family_count INTEGER", "nvt_count INTEGER", "families_growing INTEGER", "nvts_growing INTEGER"} {
		if err := tx.addColumn(ctx, "configs", col); err != nil {
			return err
		}
	}
	return manage.UpdateAllConfigCaches(ctx, tx.Tx)
}

// taskReferencesToIDs rewrites the config and target a task names into
// their row ids.
func taskReferencesToIDs(ctx context.Context, tx *Tx) error {
	return tx.rebuild(ctx, "tasks",
		`CREATE TABLE tasks (id INTEGER PRIMARY KEY, uuid TEXT, owner INTEGER, name TEXT, hidden INTEGER, time TEXT, comment TEXT, description TEXT, run_status TEXT, start_time TEXT, end_time TEXT, config INTEGER, target INTEGER)`,
		"id, uuid, owner, name, hidden, time, comment, description, run_status, start_time, end_time, config, target",
		`id, uuid, owner, name, hidden, time, comment, description, run_status, start_time, end_time,
		 (SELECT configs.id FROM configs WHERE configs.name = tasks_old.config ORDER BY configs.id LIMIT 1),
		 (SELECT targets.id FROM targets WHERE targets.name = tasks_old.target ORDER BY targets.id LIMIT 1)`,
	)
}

func addCredentialLogins(ctx context.Context, tx *Tx) error {
	if err := tx.addColumn(ctx, "lsc_credentials", "login TEXT"); err != nil {
		return err
	}
	if err := tx.exec(ctx, `UPDATE lsc_credentials SET login = name`); err != nil {
		return err
	}
	return tx.addColumn(ctx, "targets", "lsc_credential INTEGER DEFAULT 0")
}

const maxUUIDAttempts = 8

// selectorNamesToUUIDs names every selector by a fresh UUID, in the
// selector rules and in the configs that use them. The legacy
// select-everything selector takes the fixed UUID instead, unless a
// selector already carries it, in which case the legacy rules are dropped.
func selectorNamesToUUIDs(ctx context.Context, tx *Tx) error {
	taken, err := tx.queryInt(ctx, `SELECT count(*) FROM nvt_selectors WHERE name = ?`, manage.SelectorUUIDAll)
	if err != nil {
		return err
	}
	if taken > 0 {
		tx.log.Warn("select-everything selector already present, dropping legacy rules")
		err = tx.exec(ctx, `DELETE FROM nvt_selectors WHERE name = ?`, manage.SelectorNameAllLegacy)
	} else {
		err = tx.exec(ctx, `UPDATE nvt_selectors SET name = ? WHERE name = ?`,
			manage.SelectorUUIDAll, manage.SelectorNameAllLegacy)
	}
	if err != nil {
		return fmt.Errorf("renaming legacy selector: %w", err)
	}
	if err := tx.exec(ctx, `UPDATE configs SET nvt_selector = ? WHERE nvt_selector = ?`,
		manage.SelectorUUIDAll, manage.SelectorNameAllLegacy); err != nil {
		return err
	}

	it, err := tx.query(ctx,
		`SELECT name FROM nvt_selectors WHERE name IS NOT NULL AND name != ?
		 UNION
		 SELECT nvt_selector FROM configs WHERE nvt_selector IS NOT NULL AND nvt_selector != ?
		 ORDER BY 1`, manage.SelectorUUIDAll, manage.SelectorUUIDAll)
	if err != nil {
		return err
	}
	var names []string
	for it.Next() {
		names = append(names, it.String(0))
	}
	if err := it.Close(); err != nil {
		return fmt.Errorf("listing selectors: %w", err)
	}

	for _, name := range names {
		u, err := tx.unusedSelectorName(ctx)
		if err != nil {
			return err
		}
		if err := tx.exec(ctx, `UPDATE nvt_selectors SET name = ? WHERE name = ?`, u, name); err != nil {
			return fmt.Errorf("renaming selector %s: %w", name, err)
		}
		if err := tx.exec(ctx, `UPDATE configs SET nvt_selector = ? WHERE nvt_selector = ?`, u, name); err != nil {
			return fmt.Errorf("repointing configs of selector %s: %w", name, err)
		}
	}
	return nil
}

// unusedSelectorName returns a UUID that no selector rule or config uses.
func (tx *Tx) unusedSelectorName(ctx context.Context) (string, error) {
	for range maxUUIDAttempts {
		u, err := tx.uuid()
		if err != nil {
			return "", err
		}
		n, err := tx.queryInt(ctx,
			`SELECT (SELECT count(*) FROM nvt_selectors WHERE name = ?)
			      + (SELECT count(*) FROM configs WHERE nvt_selector = ?)`, u, u)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return u, nil
		}
	}
	return "", fmt.Errorf("no unused selector name after %d attempts", maxUUIDAttempts)
}

// textValue reads a raw column value as text.
func textValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
