package system

import "errors"

var (
	// ErrNoSuchProcess is returned when a PID is not in the process table.
	ErrNoSuchProcess = errors.New("No such process")

	// ErrNoSuchUnit is returned for service names with no unit definition.
	ErrNoSuchUnit = errors.New("unit not found")

	// ErrUnitFailed is returned when a unit could not be started.
	ErrUnitFailed = errors.New("control process exited with error code")

	// ErrInvalidSignal is returned for unknown signal names or numbers.
	ErrInvalidSignal = errors.New("invalid signal specification")
)
