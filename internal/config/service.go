package config

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rennerdo30/heimdall/internal/engine"
	"github.com/rennerdo30/heimdall/internal/linkhealth"
	"github.com/rennerdo30/heimdall/internal/logging"
	"github.com/rennerdo30/heimdall/internal/netmon"
	"github.com/rennerdo30/heimdall/internal/reset"
	"github.com/rennerdo30/heimdall/internal/transition"
)

// ServiceConfig is the main configuration for the Heimdall supervisor.
// Component packages own their sub-configurations; this struct only
// aggregates them and carries the surfaces that belong to the service as
// a whole (API, metrics, event log, logging).
type ServiceConfig struct {
	Engine     engine.Config     `yaml:"engine" json:"engine"`
	Network    netmon.Config     `yaml:"network" json:"network"`
	Transition transition.Config `yaml:"transition" json:"transition"`
	LinkHealth linkhealth.Config `yaml:"link_health" json:"link_health"`
	Reset      reset.Config      `yaml:"reset" json:"reset"`
	API        APIConfig         `yaml:"api" json:"api"`
	Metrics    MetricsConfig     `yaml:"metrics" json:"metrics"`
	Events     EventsConfig      `yaml:"events" json:"events"`
	Logging    logging.Config    `yaml:"logging" json:"logging"`
}

// APIConfig contains the diagnostics REST API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
	Token   string `yaml:"token" json:"token,omitempty"`
}

// MetricsConfig contains Prometheus metrics settings. The handler is
// mounted on the API server, so only collection tuning lives here.
type MetricsConfig struct {
	Enabled            bool     `yaml:"enabled" json:"enabled"`
	CollectionInterval Duration `yaml:"collection_interval" json:"collection_interval"`
}

// EventsConfig contains coordination event log settings.
type EventsConfig struct {
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
}

// DefaultServiceConfig returns a service configuration with sensible
// defaults: static engine, local-only API, metrics on.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Engine:     engine.DefaultConfig(),
		Network:    netmon.DefaultConfig(),
		Transition: transition.DefaultConfig(),
		LinkHealth: linkhealth.DefaultConfig(),
		Reset:      reset.DefaultConfig(),
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:7390",
		},
		Metrics: MetricsConfig{
			Enabled:            true,
			CollectionInterval: Duration(15 * time.Second),
		},
		Events: EventsConfig{
			MaxEntries: 500,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Validate validates the service configuration, delegating to each
// component and filling zero values with defaults.
func (c *ServiceConfig) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if err := c.Transition.Validate(); err != nil {
		return err
	}
	if err := c.LinkHealth.Validate(); err != nil {
		return err
	}
	if err := c.Reset.Validate(); err != nil {
		return err
	}

	if c.API.Enabled {
		if c.API.Listen == "" {
			c.API.Listen = "127.0.0.1:7390"
		}
		if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
			return fmt.Errorf("api listen address must be host:port: %w", err)
		}
	}

	if c.Metrics.Enabled && c.Metrics.CollectionInterval == 0 {
		c.Metrics.CollectionInterval = Duration(15 * time.Second)
	}
	if c.Metrics.CollectionInterval < 0 {
		return fmt.Errorf("metrics collection_interval must not be negative")
	}

	if c.Events.MaxEntries < 0 {
		return fmt.Errorf("events max_entries must be non-negative")
	}
	if c.Events.MaxEntries == 0 {
		c.Events.MaxEntries = 500
	}

	return nil
}

// Duration is a time.Duration that marshals as a string ("500ms", "3s")
// in both YAML and JSON.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
