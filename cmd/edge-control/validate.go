package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/config"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/interlock"
)

var (
	validateConfigPath string
	validateSchemaPath string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the experiment configuration and interlock rule set",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(validateConfigPath, validateSchemaPath)
		if err != nil {
			return err
		}
		locks, err := interlock.New(cfg.Rules)
		if err != nil {
			return err
		}
		fmt.Printf("ok: experiment %q, %d interlock rules, cadence %s, actuation timeout %s\n",
			cfg.Experiment.Name, len(locks.Rules()), cfg.Sampling.Cadence.Std(), cfg.Actuation.Timeout.Std())
		for _, r := range locks.Rules() {
			fmt.Printf("  rule %d: %s %s %.3f -> %s\n", r.ID, r.SensorID, r.Bound, r.Threshold, r.Action)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigPath, "config", "config/experiment.yaml", "Path to experiment configuration YAML")
	validateCmd.Flags().StringVar(&validateSchemaPath, "schema", "schemas/experiment.cue", "Path to CUE schema file")
}
