package config

import (
	"fmt"
	"time"
)

// Conservative defaults, chosen deliberately on the safe side: 20 Hz
// sampling, 2 s actuation bound, three device attempts.
const (
	DefaultCadence      = 50 * time.Millisecond
	DefaultQueueSize    = 256
	DefaultTimeout      = 2 * time.Second
	DefaultRetries      = 3
	DefaultRetryBackoff = 100 * time.Millisecond
	DefaultAdminAddr    = ":8080"
	DefaultDriver       = "simrig"
)

// Validate checks semantic constraints the CUE schema cannot express and
// fills defaults for omitted options.
func (c *Config) Validate() error {
	if c.Experiment.Name == "" {
		return fmt.Errorf("experiment.name is required")
	}
	if c.Device.Driver == "" {
		c.Device.Driver = DefaultDriver
	}
	if c.Sampling.Cadence.Std() == 0 {
		c.Sampling.Cadence = Duration(DefaultCadence)
	}
	if c.Sampling.Cadence.Std() < 0 {
		return fmt.Errorf("sampling.cadence must be positive")
	}
	if c.Sampling.QueueSize == 0 {
		c.Sampling.QueueSize = DefaultQueueSize
	}
	if c.Sampling.QueueSize < 0 {
		return fmt.Errorf("sampling.queue_size must be positive")
	}
	if c.Actuation.Timeout.Std() == 0 {
		c.Actuation.Timeout = Duration(DefaultTimeout)
	}
	if c.Actuation.Timeout.Std() < 0 {
		return fmt.Errorf("actuation.timeout must be positive")
	}
	if c.Actuation.Retries == 0 {
		c.Actuation.Retries = DefaultRetries
	}
	if c.Actuation.Retries < 1 {
		return fmt.Errorf("actuation.retries must be at least 1")
	}
	if c.Actuation.RetryBackoff.Std() == 0 {
		c.Actuation.RetryBackoff = Duration(DefaultRetryBackoff)
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = DefaultAdminAddr
	}
	if len(c.Rules) == 0 {
		return fmt.Errorf("at least one interlock rule is required")
	}
	return nil
}
