package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/admin"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/config"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/control"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/device"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/export"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/interlock"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/logging"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/metrics"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/tui"
)

var (
	runConfigPath string
	runSchemaPath string
	runPrintOnly  bool
	runTUI        bool
	runCadence    time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the experiment control service",
	Long:  "run starts the control state machine, the telemetry sampler, the interlock engine, and the admin server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(runConfigPath, runSchemaPath)
		if err != nil {
			return err
		}
		if runCadence > 0 {
			cfg.Sampling.Cadence = config.Duration(runCadence)
		}

		logOut := os.Stdout
		if runTUI {
			// Keep the TUI frame clean.
			logOut = os.Stderr
		}
		log := logging.New(logOut)

		locks, err := interlock.New(cfg.Rules)
		if err != nil {
			return err
		}

		var rig *device.SimRig
		switch cfg.Device.Driver {
		case "simrig":
			rig = device.NewSimRig(cfg.Experiment.Name)
		default:
			return fmt.Errorf("unknown device driver %q", cfg.Device.Driver)
		}
		dev := device.NewRetrying(rig, cfg.Actuation.Retries, cfg.Actuation.RetryBackoff.Std(), log)

		reg := prometheus.NewRegistry()
		met := metrics.New(reg)
		feed := export.NewFeed(0)

		writer, cleanup, err := newWriters(cfg, runPrintOnly, runTUI)
		if err != nil {
			return err
		}
		defer cleanup()

		var audit control.AuditWriter
		if cfg.Export.AuditPath != "" {
			aw, err := export.NewFileWriter("", cfg.Export.AuditPath)
			if err != nil {
				return err
			}
			defer aw.Close()
			audit = aw
		}

		engine := control.NewEngine(dev, locks, control.Options{
			Log:              log,
			Metrics:          met,
			Publisher:        feed,
			Audit:            audit,
			ActuationTimeout: cfg.Actuation.Timeout.Std(),
			SampleQueue:      cfg.Sampling.QueueSize,
		})
		sampler := telemetry.NewSampler(dev, rig.Sensors(), cfg.Sampling.Cadence.Std(), engine.Queue(), met, log, engine.ReportDeviceFault)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go engine.Run(ctx)
		go sampler.Run(ctx)

		sub, unsub := feed.Subscribe()
		defer unsub()
		go func() {
			if err := export.Pump(sub, writer); err != nil {
				log.Error("[Export] writer failed", "err", err)
			}
		}()

		srv := admin.NewServer(engine, rig, versionInfo(), reg)
		go func() {
			log.Info("[Main] admin server listening", "addr", cfg.Admin.Addr)
			if err := srv.Start(ctx, cfg.Admin.Addr); err != nil && err != http.ErrServerClosed {
				log.Error("[Main] admin server failed", "err", err)
			}
		}()

		if runTUI {
			m := tui.NewModel(engine, "PRISMA edge control: "+cfg.Experiment.Name, 500*time.Millisecond)
			if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
				return err
			}
			cancel()
			return nil
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs

		cancel()
		log.Info("[Main] experiment control stopped")
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "config/experiment.yaml", "Path to experiment configuration YAML")
	runCmd.Flags().StringVar(&runSchemaPath, "schema", "schemas/experiment.cue", "Path to CUE schema file")
	runCmd.Flags().BoolVar(&runPrintOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to DB")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Render a live status view instead of log output")
	runCmd.Flags().DurationVar(&runCadence, "cadence", 0, "Override telemetry sampling cadence (e.g. 20ms, 100ms)")
}
