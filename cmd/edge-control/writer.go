package main

import (
	"os"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/config"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/export"
)

// newWriters sets up the telemetry/event export chain based on flags, config,
// and env vars. It returns the writer and a cleanup function closing any
// resources. quiet suppresses the stdout writer (used under --tui).
func newWriters(cfg *config.Config, printOnly, quiet bool) (export.Writer, func(), error) {
	cleanup := func() {}

	var writers []export.Writer
	base, err := baseWriter(printOnly, quiet)
	if err != nil {
		return nil, nil, err
	}
	if base != nil {
		writers = append(writers, base)
	}

	if cfg.Export.TelemetryPath != "" {
		fw, err := export.NewFileWriter(cfg.Export.TelemetryPath, "")
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, fw)
		cleanup = func() { fw.Close() }
	}

	return export.NewMultiWriter(writers...), cleanup, nil
}

// baseWriter chooses GreptimeDB when an endpoint is configured, stdout
// otherwise.
func baseWriter(printOnly, quiet bool) (export.Writer, error) {
	if printOnly || os.Getenv("GREPTIMEDB_ENDPOINT") == "" {
		if quiet {
			return nil, nil
		}
		return export.NewStdoutWriter(), nil
	}
	return export.NewGreptimeDBWriter(os.Getenv("GREPTIMEDB_ENDPOINT"), "public")
}
