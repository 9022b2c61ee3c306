package manage

import (
	"context"
	"fmt"

	"github.com/jamesruggles/scanmanager/internal/database"
)

// NVT selector rule types, as stored in nvt_selectors.type.
const (
	SelectorTypeAll    = 0
	SelectorTypeFamily = 1
	SelectorTypeNVT    = 2
)

// SelectorUUIDAll names the selector that selects the whole NVT catalog.
const SelectorUUIDAll = "54b45713-d4f4-4435-b20d-304c175ed8c5"

// SelectorNameAllLegacy is the name the select-everything selector carried
// before selectors were named by UUID.
const SelectorNameAllLegacy = "All"

// ConfigCaches holds the counters a config caches for its selector.
type ConfigCaches struct {
	FamilyCount     int
	NVTCount        int
	FamiliesGrowing bool
	NVTsGrowing     bool
}

// rules selects the values of one kind of rule of a selector. NULL rule
// values are left out so that NOT IN stays meaningful.
const rules = `SELECT family_or_nvt FROM nvt_selectors
	WHERE name = ? AND type = ? AND exclude = ? AND family_or_nvt IS NOT NULL`

// SelectorCaches computes the counters for the named selector against the
// NVT catalog.
//
// A selector with an include-all rule grows in both families and NVTs: it
// covers every NVT outside the excluded families and NVTs. Any other
// selector covers the NVTs of its included families, less excluded NVTs,
// plus the NVTs it includes one by one. It grows in NVTs only when it
// includes at least one whole family.
func SelectorCaches(ctx context.Context, q database.Querier, selector string) (ConfigCaches, error) {
	var c ConfigCaches

	all, err := database.QueryInt(ctx, q,
		`SELECT count(*) FROM nvt_selectors WHERE name = ? AND type = ? AND exclude = 0`,
		selector, SelectorTypeAll)
	if err != nil {
		return c, fmt.Errorf("checking selector %s: %w", selector, err)
	}

	var where string
	var args []any
	if all > 0 {
		where = `coalesce(family, '') NOT IN (` + rules + `)
			AND oid NOT IN (` + rules + `)`
		args = []any{
			selector, SelectorTypeFamily, 1,
			selector, SelectorTypeNVT, 1,
		}
		c.FamiliesGrowing = true
		c.NVTsGrowing = true
	} else {
		where = `(coalesce(family, '') IN (` + rules + `)
				AND oid NOT IN (` + rules + `))
			OR oid IN (` + rules + `)`
		args = []any{
			selector, SelectorTypeFamily, 0,
			selector, SelectorTypeNVT, 1,
			selector, SelectorTypeNVT, 0,
		}
		growing, err := database.QueryInt(ctx, q,
			`SELECT count(*) FROM nvt_selectors WHERE name = ? AND type = ? AND exclude = 0`,
			selector, SelectorTypeFamily)
		if err != nil {
			return c, fmt.Errorf("checking selector %s: %w", selector, err)
		}
		c.NVTsGrowing = growing > 0
	}

	c.NVTCount, err = database.QueryInt(ctx, q, `SELECT count(*) FROM nvts WHERE `+where, args...)
	if err != nil {
		return c, fmt.Errorf("counting nvts of %s: %w", selector, err)
	}
	c.FamilyCount, err = database.QueryInt(ctx, q,
		`SELECT count(DISTINCT family) FROM nvts WHERE family IS NOT NULL AND (`+where+`)`, args...)
	if err != nil {
		return c, fmt.Errorf("counting families of %s: %w", selector, err)
	}
	return c, nil
}

// UpdateConfigCaches recomputes and stores the cached counters of every
// config that uses the named selector.
func UpdateConfigCaches(ctx context.Context, q database.Querier, selector string) error {
	c, err := SelectorCaches(ctx, q, selector)
	if err != nil {
		return err
	}
	return database.Exec(ctx, q,
		`UPDATE configs SET family_count = ?, nvt_count = ?, families_growing = ?, nvts_growing = ?
		 WHERE nvt_selector = ?`,
		c.FamilyCount, c.NVTCount, boolInt(c.FamiliesGrowing), boolInt(c.NVTsGrowing), selector)
}

// UpdateAllConfigCaches recomputes the counters of every config.
func UpdateAllConfigCaches(ctx context.Context, q database.Querier) error {
	it, err := database.Query(ctx, q,
		`SELECT DISTINCT nvt_selector FROM configs WHERE nvt_selector IS NOT NULL`)
	if err != nil {
		return err
	}
	var selectors []string
	for it.Next() {
		selectors = append(selectors, it.String(0))
	}
	if err := it.Close(); err != nil {
		return fmt.Errorf("listing selectors: %w", err)
	}

	for _, s := range selectors {
		if err := UpdateConfigCaches(ctx, q, s); err != nil {
			return err
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
