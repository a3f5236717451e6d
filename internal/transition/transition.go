// Package transition decides, for every underlying-network change, whether
// and when the tunneling engine is told to rebind its egress path. It
// applies a startup grace window after the tunnel comes up and a debounce
// window for repeated notifications about the network that is already
// bound.
package transition

import (
	"fmt"
	"time"
)

// Default timing values. Identity changes bypass the debounce entirely, so
// the debounce only shields against capability-flap noise on the bound
// network.
const (
	DefaultStartupWindow = 3 * time.Second
	DefaultDebounce      = 500 * time.Millisecond
)

// Config holds the transition coordinator tuning.
type Config struct {
	// StartupWindow suppresses all rebinds for this long after the
	// tunnel interface is established.
	StartupWindow time.Duration `yaml:"startup_window"`

	// Debounce coalesces repeated notifications for the already-bound
	// network.
	Debounce time.Duration `yaml:"debounce"`
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("transition config: %s: %s", e.Field, e.Message)
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		StartupWindow: DefaultStartupWindow,
		Debounce:      DefaultDebounce,
	}
}

// Validate validates the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.StartupWindow == 0 {
		c.StartupWindow = DefaultStartupWindow
	}
	if c.StartupWindow < 0 {
		return &ConfigError{Field: "startup_window", Message: "must not be negative"}
	}

	if c.Debounce == 0 {
		c.Debounce = DefaultDebounce
	}
	if c.Debounce < 0 {
		return &ConfigError{Field: "debounce", Message: "must not be negative"}
	}

	return nil
}
