package control

import (
	"time"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/device"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
)

// Kind identifies a command.
type Kind string

const (
	KindArm          Kind = "arm"
	KindStart        Kind = "start"
	KindPause        Kind = "pause"
	KindResume       Kind = "resume"
	KindSetParameter Kind = "set_parameter"
	KindStop         Kind = "stop"
	KindReset        Kind = "reset"
)

// ParamChange is the payload of a SetParameter command. Exactly one field
// must be set. BrakeAmperage and BrakePercentage are conveniences that
// expand to a steady-current BrakePWM setting.
type ParamChange struct {
	MotorMode       *device.MotorMode  `json:"motor_mode,omitempty"`
	Relays          *device.RelayState `json:"relays,omitempty"`
	Brake           *device.BrakePWM   `json:"brake,omitempty"`
	BrakeAmperage   *float64           `json:"brake_amperage,omitempty"`
	BrakePercentage *float64           `json:"brake_percentage,omitempty"`
}

// RunMeta carries operator-supplied metadata for a Start command. ID and
// StartedAt are assigned by the engine when the run begins.
type RunMeta struct {
	ID        string            `json:"id,omitempty"`
	Title     string            `json:"title"`
	Extra     map[string]string `json:"extra,omitempty"`
	StartedAt time.Time         `json:"started_at,omitzero"`
}

// Command is one operator instruction. Commands are immutable once created;
// IDs are unique and strictly increasing per gateway session.
type Command struct {
	ID       uint64       `json:"id"`
	Kind     Kind         `json:"kind"`
	IssuedAt time.Time    `json:"issued_at"`
	Params   *ParamChange `json:"params,omitempty"`
	Run      *RunMeta     `json:"run,omitempty"`
}

// Validate checks the payload shape before the command reaches the
// dispatcher's state check.
func (c Command) Validate() error {
	if c.ID == 0 {
		return &ValidationError{Msg: "command id must be positive"}
	}
	switch c.Kind {
	case KindArm, KindStart, KindPause, KindResume, KindStop, KindReset:
		if c.Params != nil {
			return &ValidationError{Msg: string(c.Kind) + " takes no parameter payload"}
		}
	case KindSetParameter:
		if c.Params == nil {
			return &ValidationError{Msg: "set_parameter requires a payload"}
		}
		return c.Params.validate()
	default:
		return &ValidationError{Msg: "unknown command kind " + string(c.Kind)}
	}
	return nil
}

func (p *ParamChange) validate() error {
	set := 0
	for _, ok := range []bool{
		p.MotorMode != nil, p.Relays != nil, p.Brake != nil,
		p.BrakeAmperage != nil, p.BrakePercentage != nil,
	} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return &ValidationError{Msg: "set_parameter requires exactly one parameter field"}
	}
	switch {
	case p.MotorMode != nil:
		if !p.MotorMode.Valid() {
			return &ValidationError{Msg: "unknown motor mode " + string(*p.MotorMode)}
		}
	case p.Relays != nil:
		if err := p.Relays.Validate(); err != nil {
			return &ValidationError{Msg: err.Error()}
		}
	case p.Brake != nil:
		if err := p.Brake.Validate(); err != nil {
			return &ValidationError{Msg: err.Error()}
		}
	case p.BrakeAmperage != nil:
		if err := device.SteadyBrake(*p.BrakeAmperage).Validate(); err != nil {
			return &ValidationError{Msg: err.Error()}
		}
	case p.BrakePercentage != nil:
		if *p.BrakePercentage < 0 || *p.BrakePercentage > 100 {
			return &ValidationError{Msg: "brake percentage outside [0, 100]"}
		}
	}
	return nil
}

// request maps the parameter change onto a device actuation.
func (p *ParamChange) request() device.Request {
	req := device.Request{Kind: device.KindConfigure}
	switch {
	case p.MotorMode != nil:
		req.Mode = p.MotorMode
	case p.Relays != nil:
		req.Relays = p.Relays
	case p.Brake != nil:
		req.Brake = p.Brake
	case p.BrakeAmperage != nil:
		b := device.SteadyBrake(*p.BrakeAmperage)
		req.Brake = &b
	case p.BrakePercentage != nil:
		b := device.SteadyBrake(*p.BrakePercentage / 100.0 * device.MaxBrakeAmperage)
		req.Brake = &b
	}
	return req
}

// AffectedSensors lists the sensors the interlock engine must pre-check
// before this command is forwarded to the device.
func (c Command) AffectedSensors() []string {
	switch c.Kind {
	case KindSetParameter:
		p := c.Params
		if p != nil && (p.Brake != nil || p.BrakeAmperage != nil || p.BrakePercentage != nil) {
			return []string{telemetry.SensorBrakeCurrent}
		}
		return []string{telemetry.SensorMotorSpeed, telemetry.SensorWindingTemp}
	case KindStart, KindResume:
		return []string{telemetry.SensorMotorSpeed, telemetry.SensorWindingTemp, telemetry.SensorBrakeCurrent}
	}
	return nil
}

// actuation returns the device request carrying out the command, or nil when
// the command has no physical side effect.
func (c Command) actuation() *device.Request {
	switch c.Kind {
	case KindArm:
		return &device.Request{Kind: device.KindEnable}
	case KindStart, KindResume:
		return &device.Request{Kind: device.KindDrive}
	case KindPause:
		return &device.Request{Kind: device.KindCoast}
	case KindStop:
		return &device.Request{Kind: device.KindHalt}
	case KindSetParameter:
		req := c.Params.request()
		return &req
	}
	return nil
}
