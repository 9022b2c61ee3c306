package database

import (
	"context"
	"fmt"
)

// schema creates every table at the current schema version. Migration steps
// that rebuild a table carry their own literal DDL for the version they
// produce; this is only used for databases created from scratch.
const schema = `
CREATE TABLE IF NOT EXISTS meta (
    id INTEGER PRIMARY KEY,
    name TEXT UNIQUE NOT NULL,
    value
);

CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY,
    uuid TEXT NOT NULL,
    name TEXT UNIQUE NOT NULL,
    role TEXT DEFAULT 'User',
    timezone TEXT
);

CREATE TABLE IF NOT EXISTS nvt_preferences (
    id INTEGER PRIMARY KEY,
    name TEXT UNIQUE,
    value TEXT
);

CREATE TABLE IF NOT EXISTS nvts (
    id INTEGER PRIMARY KEY,
    oid TEXT UNIQUE,
    version TEXT,
    name TEXT,
    summary TEXT,
    description TEXT,
    copyright TEXT,
    cve TEXT,
    bid TEXT,
    xref TEXT,
    tag TEXT,
    sign_key_ids TEXT,
    category INTEGER,
    family TEXT,
    cvss_base TEXT,
    risk_factor TEXT
);

CREATE TABLE IF NOT EXISTS nvt_selectors (
    id INTEGER PRIMARY KEY,
    name TEXT,
    exclude INTEGER,
    type INTEGER,
    family_or_nvt TEXT,
    family TEXT
);

CREATE TABLE IF NOT EXISTS configs (
    id INTEGER PRIMARY KEY,
    uuid TEXT NOT NULL,
    owner INTEGER,
    name TEXT NOT NULL,
    nvt_selector TEXT,
    comment TEXT,
    family_count INTEGER,
    nvt_count INTEGER,
    families_growing INTEGER,
    nvts_growing INTEGER,
    type INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS config_preferences (
    id INTEGER PRIMARY KEY,
    config INTEGER,
    type TEXT,
    name TEXT,
    value TEXT
);

CREATE TABLE IF NOT EXISTS lsc_credentials (
    id INTEGER PRIMARY KEY,
    uuid TEXT NOT NULL,
    owner INTEGER,
    name TEXT NOT NULL,
    login TEXT,
    password TEXT,
    comment TEXT,
    private_key TEXT,
    rpm TEXT,
    deb TEXT,
    exe TEXT
);

CREATE TABLE IF NOT EXISTS agents (
    id INTEGER PRIMARY KEY,
    uuid TEXT NOT NULL,
    owner INTEGER,
    name TEXT NOT NULL,
    comment TEXT,
    installer TEXT,
    installer_filename TEXT,
    howto_install TEXT,
    howto_use TEXT,
    installer_trust INTEGER DEFAULT 3,
    installer_trust_time INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS targets (
    id INTEGER PRIMARY KEY,
    uuid TEXT NOT NULL,
    owner INTEGER,
    name TEXT NOT NULL,
    hosts TEXT,
    comment TEXT,
    lsc_credential INTEGER DEFAULT 0,
    port_range TEXT DEFAULT 'default'
);

CREATE TABLE IF NOT EXISTS escalators (
    id INTEGER PRIMARY KEY,
    uuid TEXT NOT NULL,
    owner INTEGER,
    name TEXT NOT NULL,
    comment TEXT,
    event INTEGER,
    condition INTEGER,
    method INTEGER
);

CREATE TABLE IF NOT EXISTS escalator_method_data (
    id INTEGER PRIMARY KEY,
    escalator INTEGER,
    name TEXT,
    data TEXT
);

CREATE TABLE IF NOT EXISTS schedules (
    id INTEGER PRIMARY KEY,
    uuid TEXT NOT NULL,
    owner INTEGER,
    name TEXT NOT NULL,
    comment TEXT,
    first_time INTEGER,
    period INTEGER,
    period_months INTEGER,
    duration INTEGER
);

CREATE TABLE IF NOT EXISTS slaves (
    id INTEGER PRIMARY KEY,
    uuid TEXT NOT NULL,
    owner INTEGER,
    name TEXT NOT NULL,
    comment TEXT,
    host TEXT,
    port TEXT,
    login TEXT,
    password TEXT
);

CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY,
    uuid TEXT NOT NULL,
    owner INTEGER,
    name TEXT,
    hidden INTEGER,
    time TEXT,
    comment TEXT,
    description TEXT,
    run_status INTEGER,
    start_time TEXT,
    end_time TEXT,
    config INTEGER,
    target INTEGER,
    schedule INTEGER DEFAULT 0,
    schedule_next_time INTEGER DEFAULT 0,
    slave INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS task_files (
    id INTEGER PRIMARY KEY,
    task INTEGER,
    name TEXT,
    content TEXT
);

CREATE TABLE IF NOT EXISTS task_escalators (
    id INTEGER PRIMARY KEY,
    task INTEGER,
    escalator INTEGER
);

CREATE TABLE IF NOT EXISTS reports (
    id INTEGER PRIMARY KEY,
    uuid TEXT NOT NULL,
    owner INTEGER,
    hidden INTEGER,
    task INTEGER,
    date INTEGER,
    start_time TEXT,
    end_time TEXT,
    comment TEXT,
    scan_run_status INTEGER,
    slave_progress INTEGER DEFAULT 0,
    slave_task_uuid TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS report_hosts (
    id INTEGER PRIMARY KEY,
    report INTEGER,
    host TEXT,
    start_time TEXT,
    end_time TEXT,
    attack_state TEXT,
    current_port INTEGER DEFAULT 0,
    max_port INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS results (
    id INTEGER PRIMARY KEY,
    task INTEGER,
    subnet TEXT,
    host TEXT,
    port TEXT,
    nvt TEXT,
    type TEXT,
    description TEXT,
    uuid TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS report_results (
    id INTEGER PRIMARY KEY,
    report INTEGER,
    result INTEGER
);

CREATE TABLE IF NOT EXISTS report_formats (
    id INTEGER PRIMARY KEY,
    uuid TEXT NOT NULL,
    owner INTEGER,
    name TEXT NOT NULL,
    extension TEXT,
    content_type TEXT,
    summary TEXT,
    description TEXT,
    global INTEGER,
    signature TEXT DEFAULT '',
    trust INTEGER DEFAULT 3,
    trust_time INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS report_format_params (
    id INTEGER PRIMARY KEY,
    report_format INTEGER,
    name TEXT,
    type INTEGER,
    value TEXT,
    type_min INTEGER,
    type_max INTEGER,
    type_regex TEXT,
    default_value TEXT
);

CREATE TABLE IF NOT EXISTS report_format_param_options (
    id INTEGER PRIMARY KEY,
    report_format_param INTEGER,
    value TEXT
);
`

// UUIDTables lists every table whose rows carry a uuid column.
var UUIDTables = []string{
	"users",
	"configs",
	"targets",
	"lsc_credentials",
	"tasks",
	"reports",
	"results",
	"agents",
	"escalators",
	"schedules",
	"slaves",
	"report_formats",
}

// Indexes creates the uuid and lookup indexes of the current schema.
func Indexes(ctx context.Context, q Querier) error {
	for _, table := range UUIDTables {
		stmt := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_by_uuid ON %s (uuid)`, table, table)
		if err := Exec(ctx, q, stmt); err != nil {
			return fmt.Errorf("indexing %s: %w", table, err)
		}
	}

	lookups := []string{
		`CREATE INDEX IF NOT EXISTS nvt_selectors_by_name ON nvt_selectors (name)`,
		`CREATE INDEX IF NOT EXISTS nvts_by_family ON nvts (family)`,
		`CREATE INDEX IF NOT EXISTS config_preferences_by_config ON config_preferences (config)`,
		`CREATE INDEX IF NOT EXISTS results_by_task ON results (task)`,
		`CREATE INDEX IF NOT EXISTS report_results_by_report ON report_results (report)`,
		`CREATE INDEX IF NOT EXISTS report_hosts_by_report ON report_hosts (report)`,
	}
	for _, stmt := range lookups {
		if err := Exec(ctx, q, stmt); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

// CreateTables creates every table and index of the current schema.
func CreateTables(ctx context.Context, q Querier) error {
	if err := Exec(ctx, q, schema); err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return Indexes(ctx, q)
}

// Tables lists the user tables in the database, sorted by name.
func Tables(ctx context.Context, q Querier) ([]string, error) {
	it, err := Query(ctx, q,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	var tables []string
	for it.Next() {
		tables = append(tables, it.String(0))
	}
	return tables, it.Close()
}

// Columns lists the columns of a table in declaration order.
func Columns(ctx context.Context, q Querier, table string) ([]string, error) {
	it, err := Query(ctx, q, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, err
	}
	var cols []string
	for it.Next() {
		cols = append(cols, it.String(0))
	}
	return cols, it.Close()
}
