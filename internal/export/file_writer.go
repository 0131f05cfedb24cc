package export

import (
	"encoding/json"
	"os"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/interlock"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
)

// FileWriter writes telemetry and safety events to JSONL files. The event
// file doubles as the append-only audit log; every record is flushed so a
// crash loses at most the entry being written.
type FileWriter struct {
	teleFile *os.File
	evFile   *os.File
	teleEnc  *json.Encoder
	evEnc    *json.Encoder
}

// NewFileWriter creates a FileWriter. telemetryPath may be empty to log only
// safety events, and vice versa.
func NewFileWriter(telemetryPath, eventPath string) (*FileWriter, error) {
	fw := &FileWriter{}
	if telemetryPath != "" {
		tf, err := os.OpenFile(telemetryPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		fw.teleFile = tf
		fw.teleEnc = json.NewEncoder(tf)
	}
	if eventPath != "" {
		ef, err := os.OpenFile(eventPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			if fw.teleFile != nil {
				fw.teleFile.Close()
			}
			return nil, err
		}
		fw.evFile = ef
		fw.evEnc = json.NewEncoder(ef)
	}
	return fw, nil
}

// WriteSample logs a single sample, if a telemetry path was configured.
func (f *FileWriter) WriteSample(s telemetry.Sample) error {
	if f.teleEnc == nil {
		return nil
	}
	if err := f.teleEnc.Encode(s); err != nil {
		return err
	}
	return f.teleFile.Sync()
}

// WriteSafetyEvent appends a safety event, if an event path was configured.
func (f *FileWriter) WriteSafetyEvent(ev interlock.SafetyEvent) error {
	if f.evEnc == nil {
		return nil
	}
	if err := f.evEnc.Encode(ev); err != nil {
		return err
	}
	return f.evFile.Sync()
}

// Close closes the underlying files.
func (f *FileWriter) Close() error {
	var err error
	if f.teleFile != nil {
		if e := f.teleFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	if f.evFile != nil {
		if e := f.evFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

var _ Writer = (*FileWriter)(nil)
