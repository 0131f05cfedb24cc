package device

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
)

const (
	ambientTempC   = 21.0
	starTargetRPM  = 980.0
	deltaTargetRPM = 1710.0
)

// SimRig is a simulated motor/brake rig with first-order speed and thermal
// dynamics. It is safe for concurrent use.
type SimRig struct {
	experimentID string

	mu        sync.Mutex
	energized bool
	driving   bool
	relays    RelayState
	brake     BrakePWM
	rpm       float64
	tempC     float64
	updatedAt time.Time
	rng       *rand.Rand
}

// NewSimRig creates a de-energized rig at ambient temperature.
func NewSimRig(experimentID string) *SimRig {
	return &SimRig{
		experimentID: experimentID,
		tempC:        ambientTempC,
		updatedAt:    time.Now(),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *SimRig) Sensors() []string {
	return []string{telemetry.SensorBrakeCurrent, telemetry.SensorMotorSpeed, telemetry.SensorWindingTemp}
}

func (s *SimRig) Health(ctx context.Context) error {
	return ctx.Err()
}

// step advances the rig dynamics by the wall time elapsed since the last call.
func (s *SimRig) step(now time.Time) {
	dt := now.Sub(s.updatedAt).Seconds()
	if dt <= 0 {
		return
	}
	s.updatedAt = now

	target := 0.0
	if s.driving && s.relays.Energized() {
		if s.relays.Star {
			target = starTargetRPM
		} else if s.relays.DeltaLeft || s.relays.DeltaRight {
			target = deltaTargetRPM
		}
		// Brake load pulls the operating point down.
		target *= 1 - 0.15*s.brakeCurrent()/MaxBrakeAmperage
	}
	// First-order lag toward the target speed.
	s.rpm += (target - s.rpm) * math.Min(1, dt/1.5)

	heat := 0.0
	if s.driving {
		heat += 8.0
	}
	heat += 12.0 * s.brakeCurrent() / MaxBrakeAmperage
	s.tempC += (ambientTempC + heat*4 - s.tempC) * math.Min(1, dt/30)
}

func (s *SimRig) brakeCurrent() float64 {
	return s.brake.AmperageA * s.brake.DutyCyclePct / 100.0
}

func (s *SimRig) Read(ctx context.Context, sensorID string) (telemetry.Sample, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.Sample{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.step(now)

	var value float64
	var unit string
	switch sensorID {
	case telemetry.SensorBrakeCurrent:
		value, unit = s.brakeCurrent()+s.rng.NormFloat64()*0.01, "A"
	case telemetry.SensorMotorSpeed:
		value, unit = s.rpm+s.rng.NormFloat64()*2, "rpm"
	case telemetry.SensorWindingTemp:
		value, unit = s.tempC+s.rng.NormFloat64()*0.1, "C"
	default:
		return telemetry.Sample{}, ErrUnavailable
	}
	return telemetry.Sample{
		ExperimentID: s.experimentID,
		SensorID:     sensorID,
		Value:        value,
		Unit:         unit,
		CapturedAt:   now,
	}, nil
}

func (s *SimRig) Actuate(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step(time.Now())

	switch req.Kind {
	case KindEnable:
		s.energized = true
	case KindDrive:
		if !s.energized {
			return ErrActuationRejected
		}
		s.driving = true
		if !s.relays.Energized() {
			// No relay configuration yet: default to star-left.
			s.relays, _ = ModeStarLeft.Relays()
		}
	case KindCoast:
		s.driving = false
	case KindHalt:
		s.energized = false
		s.driving = false
		s.relays = RelayState{}
		s.brake = BrakePWM{}
	case KindConfigure:
		return s.configureLocked(req)
	default:
		return ErrActuationRejected
	}
	return nil
}

func (s *SimRig) configureLocked(req Request) error {
	switch {
	case req.Mode != nil:
		relays, err := req.Mode.Relays()
		if err != nil {
			return ErrActuationRejected
		}
		s.relays = relays
	case req.Relays != nil:
		if err := req.Relays.Validate(); err != nil {
			return ErrActuationRejected
		}
		s.relays = *req.Relays
	case req.Brake != nil:
		if err := req.Brake.Validate(); err != nil {
			return ErrActuationRejected
		}
		s.brake = *req.Brake
	default:
		return ErrActuationRejected
	}
	return nil
}

// Snapshot returns the current relay and brake configuration for status
// reporting.
func (s *SimRig) Snapshot() (RelayState, BrakePWM, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relays, s.brake, s.energized
}

var _ Device = (*SimRig)(nil)
