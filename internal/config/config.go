// YAML config loader with CUE schema validation, mirroring the deployment
// bundle's experiment.yaml / experiment.cue pair.
package config

import (
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/interlock"
)

// Duration wraps time.Duration with YAML string parsing ("50ms", "2s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(td)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// ExperimentConfig identifies the rig installation.
type ExperimentConfig struct {
	Name string `yaml:"name"`
}

// DeviceConfig selects and parameterizes the device driver.
type DeviceConfig struct {
	Driver   string `yaml:"driver"`   // "simrig" is the shipped default
	Endpoint string `yaml:"endpoint"` // transport address for bus drivers
}

// SamplingConfig sets the telemetry cadence and hand-off queue bound.
type SamplingConfig struct {
	Cadence   Duration `yaml:"cadence"`
	QueueSize int      `yaml:"queue_size"`
}

// ActuationConfig bounds device calls and the retry policy applied around
// them.
type ActuationConfig struct {
	Timeout      Duration `yaml:"timeout"`
	Retries      int      `yaml:"retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
}

// ExportConfig configures the audit and telemetry log files.
type ExportConfig struct {
	AuditPath     string `yaml:"audit_path"`
	TelemetryPath string `yaml:"telemetry_path"`
}

// AdminConfig configures the observability HTTP server.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the root configuration loaded at startup. Interlock rules are
// immutable afterwards; changing them requires a restart and re-arm.
type Config struct {
	Experiment ExperimentConfig `yaml:"experiment"`
	Device     DeviceConfig     `yaml:"device"`
	Sampling   SamplingConfig   `yaml:"sampling"`
	Actuation  ActuationConfig  `yaml:"actuation"`
	Rules      []interlock.Rule `yaml:"rules"`
	Export     ExportConfig     `yaml:"export"`
	Admin      AdminConfig      `yaml:"admin"`
}

// Load reads and validates the YAML config. When cueSchemaPath is non-empty
// the file is first checked against the CUE schema.
func Load(configPath, cueSchemaPath string) (*Config, error) {
	if cueSchemaPath != "" {
		if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateWithCue validates a YAML configuration file using a CUE schema file.
func ValidateWithCue(configFile, cueFile string) error {
	ctx := cuecontext.New()

	// Read YAML config
	yamlBytes, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("cannot read YAML config: %w", err)
	}
	configFileAST, err := cueyaml.Extract(configFile, yamlBytes)
	if err != nil {
		return fmt.Errorf("cannot parse YAML config: %w", err)
	}
	configVal := ctx.BuildFile(configFileAST)

	// Read CUE schema
	schemaBytes, err := os.ReadFile(cueFile)
	if err != nil {
		return fmt.Errorf("cannot read CUE schema: %w", err)
	}
	schemaVal := ctx.CompileBytes(schemaBytes)

	// Merge values with schema
	final := configVal.Unify(schemaVal)
	if final.Err() != nil {
		return fmt.Errorf("schema unify failed: %w", final.Err())
	}

	// Validate final structure
	if err := final.Validate(); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
