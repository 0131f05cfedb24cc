// Package interlock evaluates live measurements against the configured safety
// rule set. Rules are loaded once at startup and immutable afterwards;
// changing them requires a full re-arm of the experiment.
package interlock

import (
	"fmt"
	"time"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
)

// BoundKind selects how a rule's threshold is interpreted.
type BoundKind string

const (
	BoundMin          BoundKind = "min"
	BoundMax          BoundKind = "max"
	BoundRateOfChange BoundKind = "rate_of_change" // absolute units per second
)

// Action is what happens when a rule trips.
type Action string

const (
	// ActionRejectCommand vetoes the pending command and leaves the
	// experiment state unchanged (a near-miss).
	ActionRejectCommand Action = "reject_command"
	// ActionForceStop unconditionally drives the experiment to Faulted.
	ActionForceStop Action = "force_stop"
)

// Rule is one interlock bound on a single sensor.
type Rule struct {
	ID        int       `json:"id" yaml:"id"`
	SensorID  string    `json:"sensor_id" yaml:"sensor"`
	Bound     BoundKind `json:"bound" yaml:"bound"`
	Threshold float64   `json:"threshold" yaml:"threshold"`
	Action    Action    `json:"action" yaml:"action"`
}

func (r Rule) validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("rule id must be positive, got %d", r.ID)
	}
	if r.SensorID == "" {
		return fmt.Errorf("rule %d: sensor is required", r.ID)
	}
	switch r.Bound {
	case BoundMin, BoundMax, BoundRateOfChange:
	default:
		return fmt.Errorf("rule %d: unknown bound kind %q", r.ID, r.Bound)
	}
	switch r.Action {
	case ActionRejectCommand, ActionForceStop:
	default:
		return fmt.Errorf("rule %d: unknown action %q", r.ID, r.Action)
	}
	if r.Bound == BoundRateOfChange && r.Threshold <= 0 {
		return fmt.Errorf("rule %d: rate-of-change threshold must be positive", r.ID)
	}
	return nil
}

// Violation records one rule tripped by one sample.
type Violation struct {
	Rule   Rule
	Sample telemetry.Sample
	// Rate holds the measured rate for rate-of-change violations.
	Rate float64
}

func (v Violation) String() string {
	return fmt.Sprintf("rule %d (%s %s %.3f) tripped by %s=%.3f seq=%d",
		v.Rule.ID, v.Rule.SensorID, v.Rule.Bound, v.Rule.Threshold,
		v.Sample.SensorID, v.Sample.Value, v.Sample.Seq)
}

// SafetyEvent is the append-only audit record of an interlock decision.
// Consumers deduplicate by (rule_id, timestamp, seq).
type SafetyEvent struct {
	ID          string           `json:"id"`
	RuleID      int              `json:"rule_id"`
	Sample      telemetry.Sample `json:"sample"`
	Reason      string           `json:"reason"`
	StateBefore string           `json:"state_before"`
	StateAfter  string           `json:"state_after"`
	Seq         uint64           `json:"seq"`
	Timestamp   time.Time        `json:"ts"`
}
