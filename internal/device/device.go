// Package device provides the capability surface over the physical
// measurement rig: read a sensor, issue an actuation, query health. One
// implementation exists per physical transport; the simulated rig is the
// default driver.
package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
)

var (
	// ErrUnavailable signals a transport or hardware failure. Callers decide
	// whether to retry; no retries happen inside a Device.
	ErrUnavailable = errors.New("device unavailable")

	// ErrActuationRejected signals that the rig itself refused the request,
	// for example an out-of-range brake setting.
	ErrActuationRejected = errors.New("actuation rejected")
)

// RequestKind selects the effect of an actuation request.
type RequestKind string

const (
	// KindEnable energizes the rig outputs without driving the motor (arm).
	KindEnable RequestKind = "enable"
	// KindDrive applies the configured motor mode and brake settings (start/resume).
	KindDrive RequestKind = "drive"
	// KindCoast opens the motor relays but keeps the rig energized (pause).
	KindCoast RequestKind = "coast"
	// KindHalt opens all relays and zeroes the brake (stop / emergency).
	KindHalt RequestKind = "halt"
	// KindConfigure applies a relay, mode, or brake change while driving.
	KindConfigure RequestKind = "configure"
)

// Request is one actuation. Exactly one of Mode, Relays, or Brake may be set
// for KindConfigure; the other kinds carry no payload.
type Request struct {
	Kind   RequestKind
	Mode   *MotorMode
	Relays *RelayState
	Brake  *BrakePWM
}

func (r Request) String() string {
	return fmt.Sprintf("%s mode=%v relays=%v brake=%v", r.Kind, r.Mode, r.Relays, r.Brake)
}

// Device is the uniform capability surface over actuators and sensors,
// independent of physical transport.
type Device interface {
	// Read captures the current value of one sensor. The returned sample has
	// no sequence number; the telemetry pipeline assigns it.
	Read(ctx context.Context, sensorID string) (telemetry.Sample, error)

	// Actuate applies a physical change. It blocks until the rig has settled
	// or ctx expires.
	Actuate(ctx context.Context, req Request) error

	// Health reports whether the rig transport is reachable.
	Health(ctx context.Context) error

	// Sensors lists the sensor IDs this rig exposes.
	Sensors() []string
}
