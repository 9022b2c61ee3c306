package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jamesruggles/scanmanager/internal/manage"
)

func addReportFormats(ctx context.Context, tx *Tx) error {
	return tx.exec(ctx,
		`CREATE TABLE report_formats (id INTEGER PRIMARY KEY, uuid TEXT, owner INTEGER, name TEXT NOT NULL, extension TEXT, content_type TEXT, summary TEXT, description TEXT, global INTEGER)`)
}

// Report format directories live under the state directory, shared ones
// under global_report_formats and private ones under the owner's directory.
const (
	globalFormatsDir = "global_report_formats"
	usersDir         = "users"
	userFormatsDir   = "report_formats"
)

type formatDir struct {
	id        int64
	uuid      string
	name      string
	global    bool
	ownerUUID string
}

func (f formatDir) base(stateDir string) string {
	if f.global || f.ownerUUID == "" {
		return filepath.Join(stateDir, globalFormatsDir)
	}
	return filepath.Join(stateDir, usersDir, f.ownerUUID, userFormatsDir)
}

// reportFormatDirsToUUIDs renames each report format's directory from the
// format's name to its uuid. A directory that is missing or already renamed
// is skipped. A failed rename fails the step, and the renames done so far
// are reversed when the step does not commit.
func reportFormatDirsToUUIDs(ctx context.Context, tx *Tx) error {
	if err := tx.assignUUIDs(ctx, "report_formats"); err != nil {
		return err
	}
	const columns = "id, uuid, owner, name, extension, content_type, summary, description, global"
	if err := tx.rebuild(ctx, "report_formats",
		`CREATE TABLE report_formats (id INTEGER PRIMARY KEY, uuid TEXT NOT NULL, owner INTEGER, name TEXT NOT NULL, extension TEXT, content_type TEXT, summary TEXT, description TEXT, global INTEGER)`,
		columns, columns); err != nil {
		return err
	}
	if tx.stateDir == "" {
		tx.log.Warn("no state directory configured, leaving report format directories as they are")
		return nil
	}

	it, err := tx.query(ctx,
		`SELECT report_formats.id, report_formats.uuid, report_formats.name,
		        coalesce(report_formats.global, 0), coalesce(users.uuid, '')
		 FROM report_formats LEFT JOIN users ON users.id = report_formats.owner
		 ORDER BY report_formats.id`)
	if err != nil {
		return err
	}
	var formats []formatDir
	for it.Next() {
		formats = append(formats, formatDir{
			id:        it.Int64(0),
			uuid:      it.String(1),
			name:      it.String(2),
			global:    it.Int(3) != 0,
			ownerUUID: it.String(4),
		})
	}
	if err := it.Close(); err != nil {
		return fmt.Errorf("listing report formats: %w", err)
	}

	for _, f := range formats {
		if f.name == "" || f.name == f.uuid {
			continue
		}
		base := f.base(tx.stateDir)
		from := filepath.Join(base, f.name)
		to := filepath.Join(base, f.uuid)

		if _, err := os.Stat(from); errors.Is(err, os.ErrNotExist) {
			if _, err := os.Stat(to); err == nil {
				continue
			}
			tx.log.Warn("report format directory missing", "format", f.name, "path", from)
			continue
		}
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("renaming report format %d directory: %w", f.id, err)
		}
		tx.log.Debug("renamed report format directory", "from", from, "to", to)
		tx.onRollback(func() error {
			return os.Rename(to, from)
		})
	}
	return nil
}

func addReportFormatParams(ctx context.Context, tx *Tx) error {
	return tx.execAll(ctx,
		`CREATE TABLE report_format_params (id INTEGER PRIMARY KEY, report_format INTEGER, name TEXT, type INTEGER, value TEXT, type_min INTEGER, type_max INTEGER, type_regex TEXT, default_value TEXT)`,
		`CREATE TABLE report_format_param_options (id INTEGER PRIMARY KEY, report_format_param INTEGER, value TEXT)`,
	)
}

func addSlaves(ctx context.Context, tx *Tx) error {
	if err := tx.exec(ctx,
		`CREATE TABLE slaves (id INTEGER PRIMARY KEY, uuid TEXT NOT NULL, owner INTEGER, name TEXT NOT NULL, comment TEXT, host TEXT, port TEXT, login TEXT, password TEXT)`); err != nil {
		return fmt.Errorf("creating slaves: %w", err)
	}
	for _, c := range []struct{ table, column string }{
		{"tasks", "slave INTEGER DEFAULT 0"},
		{"reports", "slave_progress INTEGER DEFAULT 0"},
		{"reports", "slave_task_uuid TEXT DEFAULT ''"},
	} {
		if err := tx.addColumn(ctx, c.table, c.column); err != nil {
			return err
		}
	}
	return nil
}

var (
	nvtColumnsV24 = []string{
		"id", "oid", "version", "name", "summary", "description", "copyright",
		"cve", "bid", "xref", "tag", "sign_key_id", "category", "family",
		"cvss_base", "risk_factor",
	}
	nvtColumnsV25 = []string{
		"id", "oid", "version", "name", "summary", "description", "copyright",
		"cve", "bid", "xref", "tag", "sign_key_ids", "category", "family",
		"cvss_base", "risk_factor",
	}
)

// nvtListDelimiters renames sign_key_id to sign_key_ids and converts the
// ';' separated key, CVE and BID lists in the same pass over the rows.
func nvtListDelimiters(ctx context.Context, tx *Tx) error {
	if err := tx.moveAside(ctx, "nvts"); err != nil {
		return err
	}
	if err := tx.exec(ctx,
		`CREATE TABLE nvts (id INTEGER PRIMARY KEY, oid TEXT UNIQUE, version TEXT, name TEXT, summary TEXT, description TEXT, copyright TEXT, cve TEXT, bid TEXT, xref TEXT, tag TEXT, sign_key_ids TEXT, category INTEGER, family TEXT, cvss_base TEXT, risk_factor TEXT)`); err != nil {
		return fmt.Errorf("creating nvts: %w", err)
	}

	const cve, bid, keys = 7, 8, 11
	err := tx.copyConverted(ctx, "nvts", nvtColumnsV24, nvtColumnsV25, func(row []any) {
		if row[cve] != nil {
			row[cve] = manage.ListToCommas(textValue(row[cve]))
		}
		if row[bid] != nil {
			row[bid] = manage.ListToCommas(textValue(row[bid]))
		}
		if row[keys] != nil {
			row[keys] = manage.KeyIDsToCommas(textValue(row[keys]))
		}
	})
	if err != nil {
		return err
	}
	return tx.dropOld(ctx, "nvts")
}

// addAttackState marks hosts of finished scans as done and every other host
// as stopped.
func addAttackState(ctx context.Context, tx *Tx) error {
	for _, col := range []string{"attack_state TEXT", "current_port INTEGER DEFAULT 0", "max_port INTEGER DEFAULT 0"} {
		if err := tx.addColumn(ctx, "report_hosts", col); err != nil {
			return err
		}
	}
	return tx.exec(ctx,
		`UPDATE report_hosts SET attack_state =
		   CASE WHEN end_time IS NULL OR end_time = '' THEN 'Stopped' ELSE 'Done' END`)
}

func addPortRanges(ctx context.Context, tx *Tx) error {
	return tx.addColumn(ctx, "targets", "port_range TEXT DEFAULT 'default'")
}

func securityNotesToLogs(ctx context.Context, tx *Tx) error {
	n, err := tx.execCount(ctx, `UPDATE results SET type = 'Log Message' WHERE type = 'Security Note'`)
	if err != nil {
		return err
	}
	tx.log.Debug("security notes now log messages", "count", n)
	return nil
}

func addConfigTypes(ctx context.Context, tx *Tx) error {
	return tx.addColumn(ctx, "configs", "type INTEGER DEFAULT 0")
}

func addUserRoles(ctx context.Context, tx *Tx) error {
	if err := tx.addColumn(ctx, "users", "role TEXT DEFAULT 'User'"); err != nil {
		return err
	}
	return tx.addColumn(ctx, "users", "timezone TEXT")
}
