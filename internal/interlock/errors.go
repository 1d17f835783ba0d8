package interlock

import (
	"errors"
	"fmt"
)

var (
	// ErrCommandFailed matches every device command that did not complete.
	ErrCommandFailed = errors.New("device command failed")

	// ErrCommandTimeout is returned when the controller does not acknowledge in time.
	ErrCommandTimeout = errors.New("device command timed out")

	ErrTemperatureOutOfRange = errors.New("target temperature out of range")
	ErrInvalidTime           = errors.New("invalid time of day")
)

// CommandError carries the failed operation and its target. It matches ErrCommandFailed
// as well as the underlying cause.
type CommandError struct {
	Op     string
	Target string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *CommandError) Unwrap() []error {
	return []error{ErrCommandFailed, e.Err}
}
