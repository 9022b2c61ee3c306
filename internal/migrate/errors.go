package migrate

import "github.com/joomcode/errorx"

var (
	ErrorsNamespace = errorx.NewNamespace("migrate")

	// ErrPrecondition is returned by a step that found the database at a
	// version other than the one it upgrades from.
	ErrPrecondition = ErrorsNamespace.NewType("precondition")
	// ErrUnknownVersion is returned when the database carries no version.
	ErrUnknownVersion = ErrorsNamespace.NewType("unknown_version")
	// ErrStepFailed wraps any other failure inside a step.
	ErrStepFailed = ErrorsNamespace.NewType("step_failed")
	// ErrRegistry reports a registry whose entries are out of order.
	ErrRegistry = ErrorsNamespace.NewType("registry")

	versionProperty = errorx.RegisterPrintableProperty("version")
)
