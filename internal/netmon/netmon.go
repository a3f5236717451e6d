// Package netmon observes the OS's physical networks and maintains the
// single best candidate for tunnel egress traffic.
package netmon

import (
	"fmt"
	"time"
)

// Config contains network observation configuration.
type Config struct {
	// PollInterval is how often the interface set is re-evaluated even
	// without a change notification from the platform watcher.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ProbeTargets lists DNS servers (host:port) used to confirm that a
	// candidate network actually reaches the internet. Empty disables
	// active probing; address heuristics are used instead.
	ProbeTargets []string `yaml:"probe_targets"`

	// ProbeTimeout bounds a single connectivity probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// TunnelPrefixes lists interface name prefixes classified as
	// tunnel-type networks.
	TunnelPrefixes []string `yaml:"tunnel_prefixes"`

	// OwnInterface is the name of this service's own tunnel interface,
	// excluded from foreign-tunnel reporting.
	OwnInterface string `yaml:"own_interface"`

	// ExpensivePrefixes lists interface name prefixes treated as metered
	// or otherwise expensive paths (typically cellular modems).
	ExpensivePrefixes []string `yaml:"expensive_prefixes"`
}

// ConfigError describes an invalid configuration value.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("netmon config: %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.PollInterval < time.Second {
		return &ConfigError{
			Field:   "poll_interval",
			Message: "must be at least 1s",
		}
	}

	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.ProbeTimeout < 0 {
		return &ConfigError{
			Field:   "probe_timeout",
			Message: "must be positive",
		}
	}

	if len(c.TunnelPrefixes) == 0 {
		c.TunnelPrefixes = DefaultTunnelPrefixes()
	}

	if len(c.ExpensivePrefixes) == 0 {
		c.ExpensivePrefixes = DefaultExpensivePrefixes()
	}

	return nil
}

// DefaultConfig returns the default network observation configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:      10 * time.Second,
		ProbeTargets:      []string{"1.1.1.1:53", "8.8.8.8:53"},
		ProbeTimeout:      3 * time.Second,
		TunnelPrefixes:    DefaultTunnelPrefixes(),
		ExpensivePrefixes: DefaultExpensivePrefixes(),
	}
}

// DefaultTunnelPrefixes returns interface name prefixes that identify
// tunnel-type networks across the supported platforms.
func DefaultTunnelPrefixes() []string {
	return []string{
		"wg", "tun", "utun", "tap", "tailscale", "zt", "ppp", "ipsec", "nordlynx",
	}
}

// DefaultExpensivePrefixes returns interface name prefixes that identify
// metered paths such as cellular modems.
func DefaultExpensivePrefixes() []string {
	return []string{"wwan", "rmnet", "pdp_ip", "ccmni"}
}
