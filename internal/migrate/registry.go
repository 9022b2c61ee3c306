package migrate

import "context"

// DatabaseVersion is the schema version this build creates and migrates to.
const DatabaseVersion = 36

// Step produces schema version Version from version Version-1. A nil Run
// marks a version that cannot be reached automatically.
type Step struct {
	Version     int
	Description string
	Run         func(ctx context.Context, tx *Tx) error
	// Vacuum requests a space reclamation pass once the step has committed.
	Vacuum bool
}

// steps is indexed by the version each entry produces. Entry 0 is the
// baseline and has no predecessor.
var steps = []Step{
	{Version: 0, Description: "baseline"},
	{Version: 1, Description: "explicit row ids on the original tables", Run: addRowIDs, Vacuum: true},
	{Version: 2, Description: "integer nvt categories", Run: nvtCategoriesToIntegers},
	{Version: 3, Description: "report_results link table", Run: addReportResults},
	{Version: 4, Description: "users table and task owners by id", Run: addUsers},
	{Version: 5, Description: "owners for configs, targets and credentials", Run: addResourceOwners},
	{Version: 6, Description: "nvt selector families", Run: addSelectorFamilies},
	{Version: 7, Description: "config counter caches", Run: addConfigCaches},
	{Version: 8, Description: "task config and target by id", Run: taskReferencesToIDs},
	{Version: 9, Description: "credential logins and target credentials", Run: addCredentialLogins},
	{Version: 10, Description: "selector names to uuids", Run: selectorNamesToUUIDs},
	{Version: 11, Description: "uuids for configs, targets and credentials", Run: addResourceUUIDs},
	{Version: 12, Description: "uuids for results", Run: addResultUUIDs},
	{Version: 13, Description: "agents table", Run: addAgents},
	{Version: 14, Description: "escalators tables", Run: addEscalators},
	{Version: 15, Description: "task run status codes", Run: taskStatusToCodes},
	{Version: 16, Description: "report run status codes", Run: reportStatusToCodes},
	{Version: 17, Description: "schedules table and task schedules", Run: addSchedules},
	{Version: 18, Description: "nvt cvss_base and risk_factor columns", Run: splitNVTTags},
	{Version: 19, Description: "fixed uuids for predefined resources", Run: predefinedUUIDs},
	{Version: 20, Description: "predefined configs at reserved ids", Run: reservePredefinedConfigs},
	{Version: 21, Description: "report_formats table", Run: addReportFormats},
	{Version: 22, Description: "report format directories named by uuid", Run: reportFormatDirsToUUIDs},
	{Version: 23, Description: "report format params tables", Run: addReportFormatParams},
	{Version: 24, Description: "slaves table and slave progress", Run: addSlaves},
	{Version: 25, Description: "nvt signing key ids and reference lists", Run: nvtListDelimiters, Vacuum: true},
	{Version: 26, Description: "report host attack state and port progress", Run: addAttackState},
	{Version: 27, Description: "target port ranges", Run: addPortRanges},
	{Version: 28, Description: "security notes to log messages", Run: securityNotesToLogs},
	{Version: 29, Description: "config types", Run: addConfigTypes},
	{Version: 30, Description: "user roles and time zones", Run: addUserRoles},
	{Version: 31, Description: "drop credential public keys", Run: dropPublicKeys, Vacuum: true},
	{Version: 32, Description: "remove orphaned report results", Run: removeOrphanReportResults},
	{Version: 33, Description: "agent installer trust", Run: addInstallerTrust},
	{Version: 34, Description: "report format signatures and trust", Run: addReportFormatTrust},
	{Version: 35, Description: "unique uuids and lookup indexes", Run: addIndexes},
	{Version: 36, Description: "selector cleanup and cache refresh", Run: cleanSelectors},
}

func init() {
	if err := validate(steps); err != nil {
		panic(err)
	}
	if len(steps)-1 != DatabaseVersion {
		panic(ErrRegistry.New("registry ends at version %d, want %d", len(steps)-1, DatabaseVersion))
	}
}

// validate checks that every entry sits at the index of the version it
// produces.
func validate(s []Step) error {
	if len(s) == 0 {
		return ErrRegistry.New("empty registry")
	}
	for i, step := range s {
		if step.Version != i {
			return ErrRegistry.New("entry %d produces version %d", i, step.Version)
		}
	}
	return nil
}

// Registry returns a copy of the built-in steps.
func Registry() []Step {
	return append([]Step(nil), steps...)
}
