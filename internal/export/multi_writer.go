package export

import (
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/interlock"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
)

// MultiWriter fans every record out to several writers. The first error is
// returned after all writers were attempted.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a MultiWriter over the given writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) WriteSample(s telemetry.Sample) error {
	var first error
	for _, w := range m.writers {
		if err := w.WriteSample(s); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiWriter) WriteSafetyEvent(ev interlock.SafetyEvent) error {
	var first error
	for _, w := range m.writers {
		if err := w.WriteSafetyEvent(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ Writer = (*MultiWriter)(nil)
