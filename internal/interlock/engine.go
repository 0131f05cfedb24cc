package interlock

import (
	"fmt"
	"math"
	"sort"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
)

// Engine evaluates samples against the rule set. It is used from the single
// control goroutine and keeps the last two samples per sensor so
// rate-of-change rules can be evaluated both on the sample path and when
// pre-checking a command.
type Engine struct {
	rules    map[string][]Rule // by sensor, sorted by rule ID
	allRules []Rule
	latest   map[string]telemetry.Sample
	before   map[string]telemetry.Sample // sample preceding latest
}

// New builds an engine from the rule set. Rule IDs must be unique.
func New(rules []Rule) (*Engine, error) {
	bySensor := make(map[string][]Rule)
	seen := make(map[int]bool)
	all := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %d", r.ID)
		}
		seen[r.ID] = true
		bySensor[r.SensorID] = append(bySensor[r.SensorID], r)
		all = append(all, r)
	}
	for _, rs := range bySensor {
		sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return &Engine{
		rules:    bySensor,
		allRules: all,
		latest:   make(map[string]telemetry.Sample),
		before:   make(map[string]telemetry.Sample),
	}, nil
}

// Rules returns the full rule set in ID order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.allRules))
	copy(out, e.allRules)
	return out
}

// Observe evaluates every rule bound to the sample's sensor and returns all
// violations sorted by rule ID. Evaluation is total: every rule is checked
// and the result does not depend on rule order.
func (e *Engine) Observe(s telemetry.Sample) []Violation {
	violations := e.evaluate(s, e.latest[s.SensorID])
	e.before[s.SensorID] = e.latest[s.SensorID]
	e.latest[s.SensorID] = s
	return violations
}

func (e *Engine) evaluate(s, prev telemetry.Sample) []Violation {
	var out []Violation
	for _, r := range e.rules[s.SensorID] {
		switch r.Bound {
		case BoundMin:
			if s.Value < r.Threshold {
				out = append(out, Violation{Rule: r, Sample: s})
			}
		case BoundMax:
			if s.Value > r.Threshold {
				out = append(out, Violation{Rule: r, Sample: s})
			}
		case BoundRateOfChange:
			if prev.CapturedAt.IsZero() {
				continue
			}
			dt := s.CapturedAt.Sub(prev.CapturedAt).Seconds()
			if dt <= 0 {
				continue
			}
			rate := math.Abs(s.Value-prev.Value) / dt
			if rate > r.Threshold {
				out = append(out, Violation{Rule: r, Sample: s, Rate: rate})
			}
		}
	}
	return out
}

// ForceStop returns the single violation that drives the fault transition
// when one or more ForceStop rules tripped: the one with the lowest rule ID.
func ForceStop(violations []Violation) *Violation {
	for _, v := range violations { // already in rule ID order
		if v.Rule.Action == ActionForceStop {
			out := v
			return &out
		}
	}
	return nil
}

// CheckCommand pre-checks a pending command against the most recent sample of
// each affected sensor. The first RejectCommand violation in rule ID order
// vetoes the command; ForceStop rules are handled on the sample path and are
// not re-evaluated here.
func (e *Engine) CheckCommand(sensors []string) *Violation {
	var out []Violation
	for _, id := range sensors {
		last, ok := e.latest[id]
		if !ok {
			continue
		}
		for _, v := range e.evaluate(last, e.before[id]) {
			if v.Rule.Action == ActionRejectCommand {
				out = append(out, v)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rule.ID < out[j].Rule.ID })
	v := out[0]
	return &v
}

// Recheck re-evaluates every rule against the latest known sample per sensor.
// Reset from Faulted is allowed only when this returns nil.
func (e *Engine) Recheck() *Violation {
	var out []Violation
	for id, s := range e.latest {
		out = append(out, e.evaluate(s, e.before[id])...)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rule.ID < out[j].Rule.ID })
	v := out[0]
	return &v
}

// Latest returns the most recent sample observed for the sensor.
func (e *Engine) Latest(sensorID string) (telemetry.Sample, bool) {
	s, ok := e.latest[sensorID]
	return s, ok
}
