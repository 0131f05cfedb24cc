// Package export carries telemetry samples and safety events to external
// consumers: stdout, JSONL files, GreptimeDB, and live subscribers.
package export

import (
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/interlock"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
)

// SampleWriter receives telemetry samples in capture order.
type SampleWriter interface {
	WriteSample(telemetry.Sample) error
}

// SafetyEventWriter receives the append-only safety event feed. Delivery is
// at-least-once; writers must tolerate duplicates.
type SafetyEventWriter interface {
	WriteSafetyEvent(interlock.SafetyEvent) error
}

// Writer combines both feeds.
type Writer interface {
	SampleWriter
	SafetyEventWriter
}
