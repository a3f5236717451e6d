// Package reset serializes "discard and rebuild engine state" requests.
// Non-forced requests are debounced into a single delayed reset; forced
// requests bypass the debounce but share a short minimum interval so
// simultaneous callers produce one engine call. Sustained failure
// escalates to a service restart request instead of more resets.
package reset

import (
	"fmt"
	"time"
)

// Default tuning values. The minimum force interval is deliberately two
// orders of magnitude below the debounce: it only has to swallow
// duplicate signals from managers firing within the same tick.
const (
	DefaultDebounce         = 5 * time.Second
	DefaultMinForceInterval = 50 * time.Millisecond
	DefaultFailureThreshold = 3
	DefaultFailureWindow    = 30 * time.Second
	DefaultReleasePause     = 100 * time.Millisecond
)

// Config holds the reset manager tuning.
type Config struct {
	// Debounce collapses non-forced requests issued within this
	// interval of the previous reset into one delayed reset.
	Debounce time.Duration `yaml:"debounce"`

	// MinForceInterval is the shortest allowed spacing between two
	// engine reset calls, forced ones included.
	MinForceInterval time.Duration `yaml:"min_force_interval"`

	// FailureThreshold is the consecutive-failure count at which
	// escalation is considered.
	FailureThreshold int `yaml:"failure_threshold"`

	// FailureWindow is how long the manager must have gone without a
	// successful reset before escalating.
	FailureWindow time.Duration `yaml:"failure_window"`

	// ReleasePause is the wait between the best-effort connection
	// release and the actual reset call.
	ReleasePause time.Duration `yaml:"release_pause"`
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("reset config: %s: %s", e.Field, e.Message)
}

// DefaultConfig returns the default reset manager configuration.
func DefaultConfig() Config {
	return Config{
		Debounce:         DefaultDebounce,
		MinForceInterval: DefaultMinForceInterval,
		FailureThreshold: DefaultFailureThreshold,
		FailureWindow:    DefaultFailureWindow,
		ReleasePause:     DefaultReleasePause,
	}
}

// Validate validates the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Debounce == 0 {
		c.Debounce = DefaultDebounce
	}
	if c.Debounce < 0 {
		return &ConfigError{Field: "debounce", Message: "must not be negative"}
	}

	if c.MinForceInterval == 0 {
		c.MinForceInterval = DefaultMinForceInterval
	}
	if c.MinForceInterval < 0 {
		return &ConfigError{Field: "min_force_interval", Message: "must not be negative"}
	}

	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.FailureThreshold < 0 {
		return &ConfigError{Field: "failure_threshold", Message: "must not be negative"}
	}

	if c.FailureWindow == 0 {
		c.FailureWindow = DefaultFailureWindow
	}
	if c.FailureWindow < 0 {
		return &ConfigError{Field: "failure_window", Message: "must not be negative"}
	}

	if c.ReleasePause < 0 {
		return &ConfigError{Field: "release_pause", Message: "must not be negative"}
	}
	if c.ReleasePause == 0 {
		c.ReleasePause = DefaultReleasePause
	}

	return nil
}
