// Package linkhealth detects the "tunnel is up but traffic is not
// passing" condition and self-heals. Validation signals move the monitor
// between Unknown, Validated, and Unvalidated; an unvalidated link
// schedules a one-shot recovery after a grace delay, and a validation
// arriving first cancels it.
package linkhealth

import (
	"fmt"
	"time"
)

// Default timing values. The grace delay must comfortably outlast the
// validation flaps that occur while a link is still establishing.
const (
	DefaultGraceDelay    = 5 * time.Second
	DefaultCheckInterval = 15 * time.Second
)

// Config holds the link health monitor tuning.
type Config struct {
	// GraceDelay is how long an unvalidated link may stay unvalidated
	// before recovery fires.
	GraceDelay time.Duration `yaml:"grace_delay"`

	// CheckInterval is how often the engine link state is polled when
	// the engine can report it.
	CheckInterval time.Duration `yaml:"check_interval"`
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("linkhealth config: %s: %s", e.Field, e.Message)
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		GraceDelay:    DefaultGraceDelay,
		CheckInterval: DefaultCheckInterval,
	}
}

// Validate validates the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.GraceDelay == 0 {
		c.GraceDelay = DefaultGraceDelay
	}
	if c.GraceDelay < 0 {
		return &ConfigError{Field: "grace_delay", Message: "must not be negative"}
	}

	if c.CheckInterval == 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.CheckInterval < 0 {
		return &ConfigError{Field: "check_interval", Message: "must not be negative"}
	}

	return nil
}

// State is the validation state of the tunnel link.
type State int

const (
	// StateUnknown means no validation signal has arrived since start
	// or since the last recovery.
	StateUnknown State = iota
	// StateValidated means the link was last reported as passing
	// traffic.
	StateValidated
	// StateUnvalidated means the link was last reported as not passing
	// traffic; a recovery may be pending.
	StateUnvalidated
)

func (s State) String() string {
	switch s {
	case StateValidated:
		return "validated"
	case StateUnvalidated:
		return "unvalidated"
	default:
		return "unknown"
	}
}
