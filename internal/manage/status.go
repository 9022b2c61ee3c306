package manage

import (
	"strconv"
	"strings"
)

// Task and report run states, as stored in tasks.run_status and
// reports.scan_run_status.
const (
	TaskStatusDeleteRequested = 0
	TaskStatusDone            = 1
	TaskStatusNew             = 2
	TaskStatusRequested       = 3
	TaskStatusRunning         = 4
	TaskStatusStopRequested   = 10
	TaskStatusStopped         = 11
	TaskStatusInternalError   = 12
)

var taskStatusNames = map[string]int{
	"Delete Requested": TaskStatusDeleteRequested,
	"Done":             TaskStatusDone,
	"New":              TaskStatusNew,
	"Requested":        TaskStatusRequested,
	"Running":          TaskStatusRunning,
	"Stop Requested":   TaskStatusStopRequested,
	"Stopped":          TaskStatusStopped,
	"Internal Error":   TaskStatusInternalError,
}

// TaskStatusCode maps a run state as older versions stored it, by name, to
// its code. Empty states are new tasks; names that are not recognised and
// are not already numeric map to TaskStatusInternalError.
func TaskStatusCode(name string) int {
	name = strings.TrimSpace(name)
	if name == "" {
		return TaskStatusNew
	}
	if code, ok := taskStatusNames[name]; ok {
		return code
	}
	if code, err := strconv.Atoi(name); err == nil {
		return code
	}
	return TaskStatusInternalError
}
