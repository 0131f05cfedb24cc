// StdoutWriter prints human-friendly, colorized telemetry to STDOUT.
package export

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/interlock"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

// StdoutWriter prints samples and safety events using ANSI colors.
type StdoutWriter struct {
	out io.Writer
}

// NewStdoutWriter creates a StdoutWriter writing to os.Stdout.
func NewStdoutWriter() *StdoutWriter {
	return &StdoutWriter{out: os.Stdout}
}

var sensorColors = map[string]string{
	telemetry.SensorBrakeCurrent: colorCyan,
	telemetry.SensorMotorSpeed:   colorGreen,
	telemetry.SensorWindingTemp:  colorYellow,
}

// WriteSample outputs a single sample in colorized key=value format.
func (w *StdoutWriter) WriteSample(s telemetry.Sample) error {
	col, ok := sensorColors[s.SensorID]
	if !ok {
		col = colorBlue
	}
	fmt.Fprintf(w.out, "%s[%s]%s ", colorGray, s.CapturedAt.Format(time.RFC3339), colorReset)
	fmt.Fprintf(w.out, "%sexperiment=%s%s ", colorBlue, s.ExperimentID, colorReset)
	fmt.Fprintf(w.out, "%s%s=%.3f%s %s seq=%d\n", col, s.SensorID, s.Value, colorReset, s.Unit, s.Seq)
	return nil
}

// WriteSafetyEvent outputs a safety event, highlighted in red.
func (w *StdoutWriter) WriteSafetyEvent(ev interlock.SafetyEvent) error {
	fmt.Fprintf(w.out, "%s[%s]%s %sSAFETY%s rule=%d %s -> %s reason=%q seq=%d\n",
		colorGray, ev.Timestamp.Format(time.RFC3339), colorReset,
		colorRed, colorReset, ev.RuleID, ev.StateBefore, ev.StateAfter, ev.Reason, ev.Seq)
	return nil
}

var _ Writer = (*StdoutWriter)(nil)
