// Telemetry sample types shared by the sampler, interlock engine, and exporters.
package telemetry

import (
	"os"
	"time"
)

// Sample is one timestamped sensor measurement. Samples are immutable once
// produced; Seq strictly increases per SensorID.
type Sample struct {
	ExperimentID string    `json:"experiment_id"` // TAG
	SensorID     string    `json:"sensor_id"`     // TAG
	Value        float64   `json:"value"`         // FIELD
	Unit         string    `json:"unit"`          // FIELD
	Seq          uint64    `json:"seq"`           // FIELD
	CapturedAt   time.Time `json:"captured_at"`   // TIME INDEX
}

// SampleTableName holds the table name used when writing samples to
// GreptimeDB. It defaults to "experiment_telemetry" but can be overridden via
// the GREPTIMEDB_TABLE environment variable.
var SampleTableName = func() string {
	if env := os.Getenv("GREPTIMEDB_TABLE"); env != "" {
		return env
	}
	return "experiment_telemetry"
}()

func (Sample) TableName() string {
	return SampleTableName
}

// Well-known sensor IDs exposed by the measurement rig.
const (
	SensorBrakeCurrent = "brake_current_a"
	SensorMotorSpeed   = "motor_speed_rpm"
	SensorWindingTemp  = "winding_temp_c"
)
