package ecs

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvedDependency means an ordering constraint names neither a
	// system nor a system set of the schedule.
	ErrUnresolvedDependency = errors.New("unresolved system dependency")

	// ErrCycle means the ordering constraints of a schedule form a cycle.
	ErrCycle = errors.New("system ordering cycle")

	// ErrNotInitialized means the schedule has not been initialized since
	// its last modification.
	ErrNotInitialized = errors.New("schedule not initialized")

	// ErrNoEntity means the entity is not alive.
	ErrNoEntity = errors.New("no such entity")

	// ErrNoComponent means the entity has no component under the key.
	ErrNoComponent = errors.New("no such component")

	// ErrKeyMismatch means a replacement value belongs to a different column.
	ErrKeyMismatch = errors.New("component key mismatch")
)

// ScheduleError reports a schedule that failed to initialize.
type ScheduleError struct {
	Label  Label
	System string // empty when the failure is not tied to one system
	Err    error
}

// Error implements the error interface.
func (e *ScheduleError) Error() string {
	if e.System != "" {
		return fmt.Sprintf("schedule %s: system %s: %v", e.Label, e.System, e.Err)
	}
	return fmt.Sprintf("schedule %s: %v", e.Label, e.Err)
}

// Unwrap returns the underlying error.
func (e *ScheduleError) Unwrap() error {
	return e.Err
}
