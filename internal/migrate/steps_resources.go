package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/jamesruggles/scanmanager/internal/database"
	"github.com/jamesruggles/scanmanager/internal/manage"
)

// addResourceUUIDs gives configs, targets and credentials a uuid column
// next to their id. The uuids are filled in before the rebuild, since the
// rebuilt column is NOT NULL.
func addResourceUUIDs(ctx context.Context, tx *Tx) error {
	rebuilds := []struct{ table, ddl, columns string }{
		{
			"configs",
			`CREATE TABLE configs (id INTEGER PRIMARY KEY, uuid TEXT NOT NULL, owner INTEGER, name TEXT NOT NULL, nvt_selector TEXT, comment TEXT, family_count INTEGER, nvt_count INTEGER, families_growing INTEGER, nvts_growing INTEGER)`,
			"id, uuid, owner, name, nvt_selector, comment, family_count, nvt_count, families_growing, nvts_growing",
		},
		{
			"targets",
			`CREATE TABLE targets (id INTEGER PRIMARY KEY, uuid TEXT NOT NULL, owner INTEGER, name TEXT NOT NULL, hosts TEXT, comment TEXT, lsc_credential INTEGER DEFAULT 0)`,
			"id, uuid, owner, name, hosts, comment, lsc_credential",
		},
		{
			"lsc_credentials",
			`CREATE TABLE lsc_credentials (id INTEGER PRIMARY KEY, uuid TEXT NOT NULL, owner INTEGER, name TEXT NOT NULL, login TEXT, password TEXT, comment TEXT, public_key TEXT, private_key TEXT, rpm TEXT, deb TEXT, exe TEXT)`,
			"id, uuid, owner, name, login, password, comment, public_key, private_key, rpm, deb, exe",
		},
	}
	for _, r := range rebuilds {
		if err := tx.addColumn(ctx, r.table, "uuid TEXT"); err != nil {
			return err
		}
		if err := tx.assignUUIDs(ctx, r.table); err != nil {
			return err
		}
		if err := tx.rebuild(ctx, r.table, r.ddl, r.columns, r.columns); err != nil {
			return err
		}
	}
	return nil
}

// addResultUUIDs adds result uuids and fills in any task or report that is
// still missing one.
func addResultUUIDs(ctx context.Context, tx *Tx) error {
	if err := tx.addColumn(ctx, "results", "uuid TEXT"); err != nil {
		return err
	}
	for _, table := range []string{"results", "tasks", "reports"} {
		if err := tx.assignUUIDs(ctx, table); err != nil {
			return err
		}
	}
	const columns = "id, task, subnet, host, port, nvt, type, description, uuid"
	return tx.rebuild(ctx, "results",
		`CREATE TABLE results (id INTEGER PRIMARY KEY, task INTEGER, subnet TEXT, host TEXT, port TEXT, nvt TEXT, type TEXT, description TEXT, uuid TEXT NOT NULL)`,
		columns, columns)
}

func addAgents(ctx context.Context, tx *Tx) error {
	return tx.exec(ctx,
		`CREATE TABLE agents (id INTEGER PRIMARY KEY, uuid TEXT NOT NULL, owner INTEGER, name TEXT NOT NULL, comment TEXT, installer TEXT, installer_filename TEXT, howto_install TEXT, howto_use TEXT)`)
}

func addEscalators(ctx context.Context, tx *Tx) error {
	return tx.execAll(ctx,
		`CREATE TABLE escalators (id INTEGER PRIMARY KEY, uuid TEXT NOT NULL, owner INTEGER, name TEXT NOT NULL, comment TEXT, event INTEGER, condition INTEGER, method INTEGER)`,
		`CREATE TABLE escalator_method_data (id INTEGER PRIMARY KEY, escalator INTEGER, name TEXT, data TEXT)`,
		`CREATE TABLE task_escalators (id INTEGER PRIMARY KEY, task INTEGER, escalator INTEGER)`,
	)
}

var taskColumnsV14 = []string{
	"id", "uuid", "owner", "name", "hidden", "time", "comment", "description",
	"run_status", "start_time", "end_time", "config", "target",
}

// taskStatusToCodes stores task run states as codes instead of names.
func taskStatusToCodes(ctx context.Context, tx *Tx) error {
	if err := tx.moveAside(ctx, "tasks"); err != nil {
		return err
	}
	if err := tx.exec(ctx,
		`CREATE TABLE tasks (id INTEGER PRIMARY KEY, uuid TEXT NOT NULL, owner INTEGER, name TEXT, hidden INTEGER, time TEXT, comment TEXT, description TEXT, run_status INTEGER, start_time TEXT, end_time TEXT, config INTEGER, target INTEGER)`); err != nil {
		return fmt.Errorf("creating tasks: %w", err)
	}

	const runStatus = 8
	err := tx.copyConverted(ctx, "tasks", taskColumnsV14, taskColumnsV14, func(row []any) {
		row[runStatus] = manage.TaskStatusCode(textValue(row[runStatus]))
	})
	if err != nil {
		return err
	}
	return tx.dropOld(ctx, "tasks")
}

var reportColumnsV15 = []string{
	"id", "uuid", "owner", "hidden", "task", "date", "start_time", "end_time",
	"comment", "scan_run_status",
}

// reportStatusToCodes stores report run states as codes, moving the owner
// next to the uuid on the way.
func reportStatusToCodes(ctx context.Context, tx *Tx) error {
	if err := tx.moveAside(ctx, "reports"); err != nil {
		return err
	}
	if err := tx.exec(ctx,
		`CREATE TABLE reports (id INTEGER PRIMARY KEY, uuid TEXT NOT NULL, owner INTEGER, hidden INTEGER, task INTEGER, date INTEGER, start_time TEXT, end_time TEXT, comment TEXT, scan_run_status INTEGER)`); err != nil {
		return fmt.Errorf("creating reports: %w", err)
	}

	const scanRunStatus = 9
	err := tx.copyConverted(ctx, "reports", reportColumnsV15, reportColumnsV15, func(row []any) {
		row[scanRunStatus] = manage.TaskStatusCode(textValue(row[scanRunStatus]))
	})
	if err != nil {
		return err
	}
	return tx.dropOld(ctx, "reports")
}

func addSchedules(ctx context.Context, tx *Tx) error {
	if err := tx.exec(ctx,
		`CREATE TABLE schedules (id INTEGER PRIMARY KEY, uuid TEXT NOT NULL, owner INTEGER, name TEXT NOT NULL, comment TEXT, first_time INTEGER, period INTEGER, period_months INTEGER, duration INTEGER)`); err != nil {
		return fmt.Errorf("creating schedules: %w", err)
	}
	if err := tx.addColumn(ctx, "tasks", "schedule INTEGER DEFAULT 0"); err != nil {
		return err
	}
	return tx.addColumn(ctx, "tasks", "schedule_next_time INTEGER DEFAULT 0")
}

// splitNVTTags moves the CVSS base score and risk factor out of each NVT's
// tag into columns of their own.
func splitNVTTags(ctx context.Context, tx *Tx) error {
	if err := tx.addColumn(ctx, "nvts", "cvss_base TEXT"); err != nil {
		return err
	}
	if err := tx.addColumn(ctx, "nvts", "risk_factor TEXT"); err != nil {
		return err
	}

	type nvtTag struct {
		id  int64
		tag manage.Tag
	}
	it, err := tx.query(ctx, `SELECT id, tag FROM nvts WHERE tag IS NOT NULL ORDER BY id`)
	if err != nil {
		return err
	}
	var tags []nvtTag
	for it.Next() {
		tags = append(tags, nvtTag{id: it.Int64(0), tag: manage.ParseTag(it.String(1))})
	}
	if err := it.Close(); err != nil {
		return fmt.Errorf("reading nvt tags: %w", err)
	}

	for _, t := range tags {
		if err := tx.exec(ctx, `UPDATE nvts SET cvss_base = ?, risk_factor = ?, tag = ? WHERE id = ?`,
			t.tag.CVSSBase, t.tag.RiskFactor, t.tag.Rest, t.id); err != nil {
			return fmt.Errorf("splitting tag of nvt %d: %w", t.id, err)
		}
	}
	return nil
}

// predefinedUUIDs gives the built-in configs and target their fixed UUIDs.
// Only the oldest global resource with the built-in name is claimed, and
// only while no other resource holds the UUID.
func predefinedUUIDs(ctx context.Context, tx *Tx) error {
	for _, c := range manage.PredefinedConfigs {
		if err := tx.exec(ctx,
			`UPDATE configs SET uuid = ?
			 WHERE id = (SELECT min(id) FROM configs WHERE name = ? AND owner IS NULL)
			 AND NOT EXISTS (SELECT 1 FROM configs WHERE uuid = ?)`,
			c.UUID, c.Name, c.UUID); err != nil {
			return fmt.Errorf("claiming uuid of config %s: %w", c.Name, err)
		}
	}
	if err := tx.exec(ctx,
		`UPDATE targets SET uuid = ?
		 WHERE id = (SELECT min(id) FROM targets WHERE name = ? AND owner IS NULL)
		 AND NOT EXISTS (SELECT 1 FROM targets WHERE uuid = ?)`,
		manage.TargetUUIDLocalhost, manage.TargetNameLocalhost, manage.TargetUUIDLocalhost); err != nil {
		return fmt.Errorf("claiming uuid of target %s: %w", manage.TargetNameLocalhost, err)
	}
	return nil
}

// reservePredefinedConfigs puts the built-in configs at their reserved ids.
// User configs sitting on a reserved id are moved past the reserved range
// first, lowest id first, along with their preferences and tasks.
func reservePredefinedConfigs(ctx context.Context, tx *Tx) error {
	floor := int64(len(manage.PredefinedConfigs))

	for _, c := range manage.PredefinedConfigs {
		occupant, err := tx.queryString(ctx, `SELECT uuid FROM configs WHERE id = ?`, c.ID)
		if isNoRow(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("checking config id %d: %w", c.ID, err)
		}
		if occupant == c.UUID {
			continue
		}
		to, err := tx.relocateConfig(ctx, c.ID, floor)
		if err != nil {
			return err
		}
		tx.log.Info("relocated config from reserved id", "from", c.ID, "to", to)
	}

	for _, c := range manage.PredefinedConfigs {
		id, err := tx.queryInt64(ctx, `SELECT id FROM configs WHERE uuid = ?`, c.UUID)
		if isNoRow(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("finding config %s: %w", c.Name, err)
		}
		if id == c.ID {
			continue
		}
		if err := tx.moveConfig(ctx, id, c.ID); err != nil {
			return err
		}
	}

	return manage.EnsurePredefined(ctx, tx.Tx)
}

func isNoRow(err error) bool {
	return errors.Is(err, database.ErrNoRow)
}
