package manage

import (
	"strconv"
	"strings"
)

// NVT script categories, in the order the scanner runs them.
const (
	CategoryInit = iota
	CategoryScanner
	CategorySettings
	CategoryInfos
	CategoryAttack
	CategoryMixedAttack
	CategoryDestructiveAttack
	CategoryDenial
	CategoryKillHost
	CategoryFlood
	CategoryEnd
	CategoryUnknown
)

var categoryNames = map[string]int{
	"init":               CategoryInit,
	"scanner":            CategoryScanner,
	"settings":           CategorySettings,
	"infos":              CategoryInfos,
	"attack":             CategoryAttack,
	"mixed_attack":       CategoryMixedAttack,
	"destructive_attack": CategoryDestructiveAttack,
	"denial":             CategoryDenial,
	"kill_host":          CategoryKillHost,
	"flood":              CategoryFlood,
	"end":                CategoryEnd,
}

// CategoryCode maps a category as the catalog once stored it, by name, to
// its number. Numeric values pass through.
func CategoryCode(name string) int {
	name = strings.ToLower(strings.TrimSpace(name))
	if code, ok := categoryNames[name]; ok {
		return code
	}
	if code, err := strconv.Atoi(name); err == nil {
		return code
	}
	return CategoryUnknown
}

// ListToCommas rewrites a legacy ';' separated list with the ", " separator
// used for CVE and BID references.
func ListToCommas(s string) string {
	if !strings.Contains(s, ";") {
		return s
	}
	parts := strings.Split(s, ";")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, ", ")
}

// KeyIDsToCommas rewrites a legacy ';' separated list of signing key ids
// with ',' separators.
func KeyIDsToCommas(s string) string {
	return strings.ReplaceAll(s, ";", ",")
}
