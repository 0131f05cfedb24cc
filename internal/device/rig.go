package device

import "fmt"

// Hard limits of the brake SSR. The rig refuses anything beyond these.
const (
	MaxBrakeAmperage = 3.0    // A
	MaxPWMFrequency  = 1000.0 // Hz
)

// RelayState holds the five motor relay outputs.
type RelayState struct {
	SupplyLeft  bool `json:"supply_left" yaml:"supply_left"`
	SupplyRight bool `json:"supply_right" yaml:"supply_right"`
	Star        bool `json:"star" yaml:"star"`
	DeltaLeft   bool `json:"delta_left" yaml:"delta_left"`
	DeltaRight  bool `json:"delta_right" yaml:"delta_right"`
}

// Validate enforces winding exclusivity: star cannot be combined with either
// delta relay, and the two delta relays are mutually exclusive.
func (r RelayState) Validate() error {
	if r.Star && (r.DeltaLeft || r.DeltaRight) {
		return fmt.Errorf("star mode cannot be combined with delta modes")
	}
	if r.DeltaLeft && r.DeltaRight {
		return fmt.Errorf("delta_left and delta_right cannot both be set")
	}
	return nil
}

// Energized reports whether any supply relay is closed.
func (r RelayState) Energized() bool {
	return r.SupplyLeft || r.SupplyRight
}

// MotorMode names a predefined relay combination.
type MotorMode string

const (
	ModeOff        MotorMode = "off"
	ModeStarLeft   MotorMode = "star-left"
	ModeStarRight  MotorMode = "star-right"
	ModeDeltaLeft  MotorMode = "delta-left"
	ModeDeltaRight MotorMode = "delta-right"
)

var modeRelays = map[MotorMode]RelayState{
	ModeOff:        {},
	ModeStarLeft:   {SupplyLeft: true, Star: true},
	ModeStarRight:  {SupplyRight: true, Star: true},
	ModeDeltaLeft:  {SupplyLeft: true, DeltaLeft: true},
	ModeDeltaRight: {SupplyRight: true, DeltaRight: true},
}

// Relays returns the relay combination for the mode.
func (m MotorMode) Relays() (RelayState, error) {
	r, ok := modeRelays[m]
	if !ok {
		return RelayState{}, fmt.Errorf("unknown motor mode %q", m)
	}
	return r, nil
}

// Valid reports whether m names a known mode.
func (m MotorMode) Valid() bool {
	_, ok := modeRelays[m]
	return ok
}

// BrakePWM configures the brake SSR. Frequency 0 with duty cycle 100
// corresponds to steady current output.
type BrakePWM struct {
	AmperageA    float64 `json:"amperage" yaml:"amperage"`
	DutyCyclePct float64 `json:"duty_cycle" yaml:"duty_cycle"`
	FrequencyHz  float64 `json:"frequency" yaml:"frequency"`
}

// Validate enforces the SSR limits and rejects PWM settings whose on or off
// time would fall below the half-period at maximum switching frequency.
func (b BrakePWM) Validate() error {
	if b.AmperageA < 0 || b.AmperageA > MaxBrakeAmperage {
		return fmt.Errorf("brake amperage %.2f A outside [0, %.1f]", b.AmperageA, MaxBrakeAmperage)
	}
	if b.DutyCyclePct < 0 || b.DutyCyclePct > 100 {
		return fmt.Errorf("duty cycle %.1f%% outside [0, 100]", b.DutyCyclePct)
	}
	if b.FrequencyHz < 0 || b.FrequencyHz > MaxPWMFrequency {
		return fmt.Errorf("PWM frequency %.1f Hz outside [0, %.0f]", b.FrequencyHz, MaxPWMFrequency)
	}
	if b.FrequencyHz > 0 {
		minHalfPeriod := 1.0 / (2.0 * MaxPWMFrequency)
		period := 1.0 / b.FrequencyHz
		onTime := (b.DutyCyclePct / 100.0) * period
		offTime := period - onTime
		if onTime < minHalfPeriod || offTime < minHalfPeriod {
			return fmt.Errorf("PWM period too low: minimum half-period at max frequency is %g s", minHalfPeriod)
		}
	}
	return nil
}

// SteadyBrake returns a steady-current brake setting for the given amperage.
func SteadyBrake(amperage float64) BrakePWM {
	return BrakePWM{AmperageA: amperage, DutyCyclePct: 100, FrequencyHz: 0}
}
