package migrate

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamesruggles/scanmanager/internal/database"
)

// v0Schema is the layout of a database written before explicit row ids.
const v0Schema = `
CREATE TABLE meta (name UNIQUE, value);
CREATE TABLE configs (name UNIQUE, nvt_selector, comment);
CREATE TABLE config_preferences (config INTEGER, type, name, value);
CREATE TABLE nvt_preferences (name UNIQUE, value);
CREATE TABLE nvt_selectors (name, exclude INTEGER, type INTEGER, family_or_nvt);
CREATE TABLE nvts (oid UNIQUE, version, name, summary, description, copyright, cve, bid, xref, tag, sign_key_id, category, family);
CREATE TABLE lsc_credentials (name UNIQUE, password, comment, public_key, private_key, rpm, deb, exe);
CREATE TABLE targets (name UNIQUE, hosts, comment);
CREATE TABLE tasks (uuid, name, hidden INTEGER, time, comment, description, owner, run_status, start_time, end_time, config, target);
CREATE TABLE task_files (task INTEGER, name, content);
CREATE TABLE reports (uuid, hidden INTEGER, task INTEGER, date INTEGER, start_time, end_time, comment, scan_run_status);
CREATE TABLE report_hosts (report INTEGER, host, start_time, end_time);
CREATE TABLE results (task INTEGER, subnet, host, port, nvt, type, description);
INSERT INTO meta (name, value) VALUES ('database_version', 0);
`

const (
	oidWebA  = "1.3.6.1.4.1.25623.1.0.10001"
	oidWebB  = "1.3.6.1.4.1.25623.1.0.10002"
	oidPorts = "1.3.6.1.4.1.25623.1.0.20001"
)

// v0Seed is the data every version 0 fixture starts with. User resources
// sit at row ids past the range reserved for predefined configs.
var v0Seed = []string{
	`INSERT INTO nvts (oid, version, name, cve, bid, tag, sign_key_id, category, family) VALUES
	 ('` + oidWebA + `', '1.1', 'Web A', 'CVE-2009-1;CVE-2009-2', 'NOBID', 'cvss_base=5.0|risk_factor=Medium|summary=web a', 'KEY1;KEY2', 'infos', 'Web'),
	 ('` + oidWebB + `', '1.2', 'Web B', 'NOCVE', '1234;5678', 'cvss_base=10.0|risk_factor=High', 'KEY1', 'denial', 'Web'),
	 ('` + oidPorts + `', '2.0', 'Port scan', 'NOCVE', 'NOBID', 'NOTAG', '', 'scanner', 'Ports')`,
	`INSERT INTO nvt_selectors (name, exclude, type, family_or_nvt) VALUES
	 ('All', 0, 0, NULL),
	 ('web-scan', 0, 1, 'Web'),
	 ('web-scan', 1, 2, '` + oidWebB + `')`,
	`INSERT INTO configs (rowid, name, nvt_selector, comment) VALUES
	 (1, 'Full and fast', 'All', 'All NVTs'),
	 (10, 'Web scan', 'web-scan', 'mine')`,
	`INSERT INTO config_preferences (rowid, config, type, name, value) VALUES
	 (1, 10, 'SERVER_PREFS', 'max_hosts', '20')`,
	`INSERT INTO nvt_preferences (name, value) VALUES ('timeout', '320')`,
	`INSERT INTO lsc_credentials (rowid, name, password, comment, public_key, private_key, rpm, deb, exe) VALUES
	 (10, 'admin-cred', 'secret', 'ssh login', 'ssh-rsa AAAA', 'PRIVATE', 'rpm-blob', 'deb-blob', 'exe-blob')`,
	`INSERT INTO targets (rowid, name, hosts, comment) VALUES
	 (10, 'dmz', '192.168.0.1-20', 'front')`,
	`INSERT INTO tasks (rowid, uuid, name, hidden, time, comment, description, owner, run_status, start_time, end_time, config, target) VALUES
	 (10, 'b0a5c9ee-3b4f-4f0e-a9a1-c9b4c4d7a010', 'weekly', 0, '', 'every week', 'desc', 'alice', 'Done', 'Mon', 'Tue', 'Web scan', 'dmz'),
	 (11, NULL, 'adhoc', 0, '', '', '', 'bob', 'Running', 'Wed', '', 'Full and fast', 'dmz')`,
	`INSERT INTO task_files (rowid, task, name, content) VALUES (5, 10, 'notes.txt', 'hello')`,
	`INSERT INTO reports (rowid, uuid, hidden, task, date, start_time, end_time, comment, scan_run_status) VALUES
	 (20, 'f4b1a2c3-0000-4000-8000-000000000020', 0, 10, 100, 'Mon', 'Mon', '', 'Done'),
	 (21, 'f4b1a2c3-0000-4000-8000-000000000021', 0, 10, 200, 'Tue', '', '', 'Stopped')`,
	`INSERT INTO report_hosts (rowid, report, host, start_time, end_time) VALUES
	 (30, 21, '192.168.0.5', 'Tue', 'Tue'),
	 (31, 21, '192.168.0.6', 'Tue', '')`,
	`INSERT INTO results (rowid, task, subnet, host, port, nvt, type, description) VALUES
	 (40, 10, '192.168.0.0', '192.168.0.5', 'http (80/tcp)', '` + oidWebA + `', 'Security Note', 'banner'),
	 (41, 10, '192.168.0.0', '192.168.0.5', 'http (80/tcp)', '` + oidWebB + `', 'Security Hole', 'crash')`,
}

func openDB(t *testing.T, path string) *database.DB {
	t.Helper()
	db, err := database.New(path, database.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "tasks.db")
}

// newV0 returns a version 0 database holding v0Seed plus extra statements.
func newV0(t *testing.T, extra ...string) *database.DB {
	t.Helper()
	db := openDB(t, tempDBPath(t))
	ctx := context.Background()
	require.NoError(t, database.Exec(ctx, db, v0Schema))
	for _, stmt := range append(append([]string{}, v0Seed...), extra...) {
		require.NoError(t, database.Exec(ctx, db, stmt))
	}
	return db
}

func newMigrator(t *testing.T, db *database.DB, opts ...Option) *Migrator {
	t.Helper()
	m, err := New(db, opts...)
	require.NoError(t, err)
	return m
}

func migrateTo(t *testing.T, m *Migrator, v int) {
	t.Helper()
	outcome, err := m.Migrate(context.Background(), v)
	require.NoError(t, err)
	require.Equal(t, Migrated, outcome)
}

func version(t *testing.T, db *database.DB) int {
	t.Helper()
	v, err := database.Version(context.Background(), db)
	require.NoError(t, err)
	return v
}

// rows renders every row of a query as one string, in query order.
func rows(t *testing.T, db *database.DB, query string, args ...any) []string {
	t.Helper()
	it, err := database.Query(context.Background(), db, query, args...)
	require.NoError(t, err)
	var out []string
	for it.Next() {
		var fields []string
		for col := 0; col < it.Columns(); col++ {
			if it.IsNull(col) {
				fields = append(fields, "NULL")
			} else {
				fields = append(fields, it.String(col))
			}
		}
		out = append(out, strings.Join(fields, "|"))
	}
	require.NoError(t, it.Close())
	return out
}

// definition lists each column of a table with its declared type, NOT NULL
// flag, default and primary key position, followed by the table's indexes.
func definition(t *testing.T, db *database.DB, table string) []string {
	t.Helper()
	def := rows(t, db,
		`SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, table)
	return append(def, rows(t, db,
		`SELECT l.name, l."unique", l.origin, group_concat(i.name)
		 FROM pragma_index_list(?) AS l, pragma_index_info(l.name) AS i
		 GROUP BY l.name ORDER BY l.name`, table)...)
}

// snapshot captures the schema and every row of every table.
func snapshot(t *testing.T, db *database.DB) map[string][]string {
	t.Helper()
	ctx := context.Background()
	snap := map[string][]string{
		"sqlite_master": rows(t, db, `SELECT type, name, sql FROM sqlite_master ORDER BY type, name`),
	}
	tables, err := database.Tables(ctx, db)
	require.NoError(t, err)
	for _, table := range tables {
		snap[table] = rows(t, db, fmt.Sprintf(`SELECT rowid, * FROM %s ORDER BY rowid`, table))
	}
	return snap
}

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func queryString(t *testing.T, db *database.DB, query string, args ...any) string {
	t.Helper()
	s, err := database.QueryString(context.Background(), db, query, args...)
	require.NoError(t, err)
	return s
}

func queryInt(t *testing.T, db *database.DB, query string, args ...any) int {
	t.Helper()
	n, err := database.QueryInt(context.Background(), db, query, args...)
	require.NoError(t, err)
	return n
}

// uuidSequence hands out the given values in order, then fails.
func uuidSequence(values ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		if i >= len(values) {
			return "", fmt.Errorf("uuid sequence exhausted")
		}
		i++
		return values[i-1], nil
	}
}
