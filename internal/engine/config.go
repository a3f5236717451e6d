package engine

import "fmt"

// Config selects and configures the tunneling engine.
type Config struct {
	// Type selects the engine implementation: "wireguard" or "static".
	Type string `yaml:"type"`

	// QueueSize bounds the serialized call queue.
	QueueSize int `yaml:"queue_size,omitempty"`

	WireGuard WireGuardConfig `yaml:"wireguard,omitempty"`
}

// DefaultConfig returns an engine configuration that runs the static
// engine, which needs no credentials.
func DefaultConfig() Config {
	return Config{
		Type:      "static",
		QueueSize: DefaultQueueSize,
	}
}

// Validate validates the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Type == "" {
		c.Type = "static"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}

	switch c.Type {
	case "static":
		return nil
	case "wireguard":
		return c.WireGuard.Validate()
	default:
		return fmt.Errorf("engine: unknown type: %s", c.Type)
	}
}

// New creates the engine selected by the configuration.
func New(cfg Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "wireguard":
		return NewWireGuardEngine(cfg.WireGuard)
	default:
		return NewStaticEngine(), nil
	}
}
