package control

import (
	"errors"
	"fmt"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/interlock"
)

var (
	// ErrDuplicateCommand reports a command id at or below the highest
	// accepted id. The first submission already took effect.
	ErrDuplicateCommand = errors.New("duplicate command id")

	// ErrBusy reports a full command queue.
	ErrBusy = errors.New("command queue full")

	// ErrNotAcknowledged reports a Reset issued before the operator
	// acknowledged the fault.
	ErrNotAcknowledged = errors.New("fault not acknowledged")

	// ErrEngineStopped reports a submission after the control loop exited.
	ErrEngineStopped = errors.New("control engine stopped")
)

// ValidationError reports a malformed command payload, rejected before the
// dispatcher's state check.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Msg
}

// ActuationRejectedError reports an interlock veto or a device-level
// rejection. The experiment state is unchanged; the veto is logged as a
// near-miss.
type ActuationRejectedError struct {
	Violation *interlock.Violation // nil when the device itself rejected
	Cause     error
}

func (e *ActuationRejectedError) Error() string {
	if e.Violation != nil {
		return fmt.Sprintf("actuation rejected: %s", e.Violation)
	}
	return fmt.Sprintf("actuation rejected: %v", e.Cause)
}

func (e *ActuationRejectedError) Unwrap() error { return e.Cause }

// Status is the final disposition of an accepted command.
type Status string

const (
	StatusApplied   Status = "applied"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusFaulted   Status = "faulted"
)

// Resolution is delivered to the submitter once a command's effect has been
// fully applied to the state machine.
type Resolution struct {
	CommandID uint64
	Status    Status
	State     State // state after the command settled
	Err       error // set for Rejected and Faulted
}
