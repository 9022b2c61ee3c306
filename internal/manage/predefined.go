package manage

import (
	"context"
	"fmt"

	"github.com/jamesruggles/scanmanager/internal/database"
)

// PredefinedConfig describes a scan config shipped with the manager.
type PredefinedConfig struct {
	ID      int64
	UUID    string
	Name    string
	Comment string
	Prefs   map[string]string
}

// PredefinedConfigs are the built-in scan configs, in reserved-id order.
var PredefinedConfigs = []PredefinedConfig{
	{
		ID:      1,
		UUID:    "daba56c8-73ec-11df-a475-002264764cea",
		Name:    "Full and fast",
		Comment: "All NVTs; optimized by using previously collected information.",
		Prefs:   map[string]string{"optimize_test": "yes", "safe_checks": "yes"},
	},
	{
		ID:      2,
		UUID:    "698f691e-7489-11df-9d8c-002264764cea",
		Name:    "Full and fast ultimate",
		Comment: "All NVTs including those that can stop services/hosts; optimized by using previously collected information.",
		Prefs:   map[string]string{"optimize_test": "yes", "safe_checks": "no"},
	},
	{
		ID:      3,
		UUID:    "708f25c4-7489-11df-8094-002264764cea",
		Name:    "Full and very deep",
		Comment: "All NVTs; don't trust previously collected information; slow.",
		Prefs:   map[string]string{"optimize_test": "no", "safe_checks": "yes"},
	},
	{
		ID:      4,
		UUID:    "74db13d6-7489-11df-91b9-002264764cea",
		Name:    "Full and very deep ultimate",
		Comment: "All NVTs including those that can stop services/hosts; don't trust previously collected information; slow.",
		Prefs:   map[string]string{"optimize_test": "no", "safe_checks": "no"},
	},
}

// Built-in target.
const (
	TargetUUIDLocalhost = "b493b7a8-7489-11df-a3ec-002264764cea"
	TargetNameLocalhost = "Localhost"
)

// EnsurePredefined creates the select-everything selector, the built-in
// configs and the built-in target when they are missing. Configs are
// identified by UUID and created at their reserved ids, which must be free.
func EnsurePredefined(ctx context.Context, q database.Querier) error {
	n, err := database.QueryInt(ctx, q,
		`SELECT count(*) FROM nvt_selectors WHERE name = ? AND type = ?`, SelectorUUIDAll, SelectorTypeAll)
	if err != nil {
		return fmt.Errorf("checking selector: %w", err)
	}
	if n == 0 {
		if err := database.Exec(ctx, q,
			`INSERT INTO nvt_selectors (name, exclude, type, family_or_nvt, family)
			 VALUES (?, 0, ?, NULL, NULL)`, SelectorUUIDAll, SelectorTypeAll); err != nil {
			return fmt.Errorf("creating selector: %w", err)
		}
	}

	for _, c := range PredefinedConfigs {
		if err := ensureConfig(ctx, q, c); err != nil {
			return err
		}
	}
	if err := UpdateConfigCaches(ctx, q, SelectorUUIDAll); err != nil {
		return err
	}

	n, err = database.QueryInt(ctx, q, `SELECT count(*) FROM targets WHERE uuid = ?`, TargetUUIDLocalhost)
	if err != nil {
		return fmt.Errorf("checking target: %w", err)
	}
	if n == 0 {
		if err := database.Exec(ctx, q,
			`INSERT INTO targets (uuid, owner, name, hosts, comment)
			 VALUES (?, NULL, ?, 'localhost', '')`,
			TargetUUIDLocalhost, TargetNameLocalhost); err != nil {
			return fmt.Errorf("creating target: %w", err)
		}
	}
	return nil
}

func ensureConfig(ctx context.Context, q database.Querier, c PredefinedConfig) error {
	n, err := database.QueryInt(ctx, q, `SELECT count(*) FROM configs WHERE uuid = ?`, c.UUID)
	if err != nil {
		return fmt.Errorf("checking config %s: %w", c.Name, err)
	}
	if n > 0 {
		return nil
	}

	n, err = database.QueryInt(ctx, q, `SELECT count(*) FROM configs WHERE id = ?`, c.ID)
	if err != nil {
		return fmt.Errorf("checking config id %d: %w", c.ID, err)
	}
	if n > 0 {
		return fmt.Errorf("config id %d reserved for %q is taken", c.ID, c.Name)
	}

	if err := database.Exec(ctx, q,
		`INSERT INTO configs (id, uuid, owner, name, nvt_selector, comment,
		                      family_count, nvt_count, families_growing, nvts_growing)
		 VALUES (?, ?, NULL, ?, ?, ?, 0, 0, 1, 1)`,
		c.ID, c.UUID, c.Name, SelectorUUIDAll, c.Comment); err != nil {
		return fmt.Errorf("creating config %s: %w", c.Name, err)
	}
	for _, name := range []string{"optimize_test", "safe_checks"} {
		if err := database.Exec(ctx, q,
			`INSERT INTO config_preferences (config, type, name, value) VALUES (?, 'SERVER_PREFS', ?, ?)`,
			c.ID, name, c.Prefs[name]); err != nil {
			return fmt.Errorf("creating preference %s of %s: %w", name, c.Name, err)
		}
	}
	return nil
}
