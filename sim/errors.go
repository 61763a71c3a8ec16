package sim

import "fmt"

// ValidationError rejects an invalid control request (off-grid location,
// unknown disruption type, duplicate event) before any state mutation.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func validationErrorf(op, format string, args ...any) *ValidationError {
	return &ValidationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// StateError reports a usage error on the Reset/Step/control contract, such
// as stepping before the first Reset. It is fatal to the call, never to the
// process.
type StateError struct {
	Op    string
	State SimState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: invalid in state %s", e.Op, e.State)
}

// ActionError marks an action outside the defined action space. It is
// recovered locally (the bus continues on its plan) and logged; it is never
// surfaced to the caller.
type ActionError struct {
	BusID  int
	Action Action
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("bus %d: action %d outside action space", e.BusID, e.Action)
}
