// Package control owns the experiment lifecycle. A single goroutine performs
// every state transition; all other components reach the state machine
// through the command and telemetry queues.
package control

import "fmt"

// State is the authoritative experiment lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateArmed        State = "armed"
	StateRunning      State = "running"
	StatePaused       State = "paused"
	StateFaulted      State = "faulted"
	StateShuttingDown State = "shutting_down"
	StateStopped      State = "stopped"
)

// transitions is the authoritative edge table. A SetParameter edge keeps the
// current state; ForceStop is not listed because it bypasses the dispatcher.
var transitions = map[State]map[Kind]State{
	StateIdle: {
		KindArm: StateArmed,
	},
	StateArmed: {
		KindStart:        StateRunning,
		KindStop:         StateShuttingDown,
		KindSetParameter: StateArmed,
	},
	StateRunning: {
		KindPause:        StatePaused,
		KindStop:         StateShuttingDown,
		KindSetParameter: StateRunning,
	},
	StatePaused: {
		KindResume:       StateRunning,
		KindStop:         StateShuttingDown,
		KindSetParameter: StatePaused,
	},
	StateFaulted: {
		KindReset: StateIdle,
	},
}

// Next returns the state reached by applying kind in from, or an
// InvalidTransition error when no such edge exists.
func Next(from State, kind Kind) (State, error) {
	if to, ok := transitions[from][kind]; ok {
		return to, nil
	}
	return from, &InvalidTransitionError{From: from, Kind: kind}
}

// Terminal reports whether no further transition can leave the state.
func Terminal(s State) bool {
	return s == StateStopped
}

// Actuating reports whether commands other than Stop may reach the device in
// this state.
func Actuating(s State) bool {
	switch s {
	case StateFaulted, StateShuttingDown, StateStopped:
		return false
	}
	return true
}

func (s State) String() string { return string(s) }

// InvalidTransitionError reports a command that is not legal in the current
// state. The command has no effect.
type InvalidTransitionError struct {
	From State
	Kind Kind
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s not allowed in state %s", e.Kind, e.From)
}
