package transition

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rennerdo30/heimdall/internal/engine"
	"github.com/rennerdo30/heimdall/internal/logging"
	"github.com/rennerdo30/heimdall/internal/netmon"
)

// Resetter receives reset requests produced by accepted network changes.
type Resetter interface {
	RequestReset(reason string, force bool)
}

// Coordinator owns the "currently bound network" state and turns observer
// callbacks into serialized engine rebind calls. It implements
// netmon.Handler.
type Coordinator struct {
	config Config

	queue    *engine.Queue
	eng      engine.Engine
	resetter Resetter

	mu          sync.Mutex
	bound       *netmon.PhysicalNetwork
	lastBind    time.Time
	tunnelStart time.Time

	rebinds    atomic.Int64
	debounced  atomic.Int64
	suppressed atomic.Int64
	losses     atomic.Int64
	failures   atomic.Int64

	now    func() time.Time
	logger *logging.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNowFunc overrides the clock. Used in tests.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates a transition coordinator. All engine calls it
// issues go through the shared queue.
func NewCoordinator(cfg Config, queue *engine.Queue, eng engine.Engine, resetter Resetter, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		config:   cfg,
		queue:    queue,
		eng:      eng,
		resetter: resetter,
		now:      time.Now,
		logger:   logging.WithComponent("transition"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TunnelEstablished marks the tunnel interface as up and opens the startup
// window. Called by the owning service after every engine (re)start.
func (c *Coordinator) TunnelEstablished() {
	c.mu.Lock()
	c.tunnelStart = c.now()
	c.mu.Unlock()

	c.logger.Debug("Startup window opened", "window", c.config.StartupWindow)
}

// InStartup reports whether the startup window is currently open.
func (c *Coordinator) InStartup() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inStartupLocked()
}

func (c *Coordinator) inStartupLocked() bool {
	if c.tunnelStart.IsZero() {
		return false
	}
	return c.now().Sub(c.tunnelStart) < c.config.StartupWindow
}

// HandleNetworkChanged applies the startup and debounce windows and, when
// the change is accepted, rebinds the engine to the new network and
// requests a forced reset. Never blocks.
func (c *Coordinator) HandleNetworkChanged(network netmon.PhysicalNetwork) {
	c.mu.Lock()

	if c.inStartupLocked() {
		c.mu.Unlock()
		c.suppressed.Add(1)
		c.logger.Debug("Change suppressed, inside startup window", "network", network.String())
		return
	}

	now := c.now()
	if c.bound != nil && c.bound.Same(network) && now.Sub(c.lastBind) < c.config.Debounce {
		c.mu.Unlock()
		c.debounced.Add(1)
		c.logger.Debug("Change debounced", "network", network.String())
		return
	}

	previous := c.bound
	bound := network
	c.bound = &bound
	c.lastBind = now
	c.mu.Unlock()

	if previous == nil {
		c.logger.Info("Binding network", "network", network.String())
	} else if !previous.Same(network) {
		c.logger.Info("Switching network", "from", previous.String(), "to", network.String())
	} else {
		c.logger.Debug("Refreshing bound network", "network", network.String())
	}

	c.submitRebind("rebind", []netmon.PhysicalNetwork{network})
	if c.resetter != nil {
		c.resetter.RequestReset("network changed", true)
	}
}

// HandleNetworkLost clears the bound network and pushes an empty candidate
// list so the engine stops trusting a gone interface. Loss does not
// request a reset: with no egress there is nothing to rebuild onto yet.
func (c *Coordinator) HandleNetworkLost() {
	c.mu.Lock()
	if c.bound == nil {
		c.mu.Unlock()
		c.logger.Debug("Loss reported with nothing bound")
		return
	}
	previous := *c.bound
	c.bound = nil
	c.mu.Unlock()

	c.losses.Add(1)
	c.logger.Warn("Bound network lost", "network", previous.String())
	c.submitRebind("rebind-clear", nil)
}

// ForceRebind binds the given network immediately, skipping the startup
// and debounce windows. The link health monitor uses this during recovery;
// the accompanying reset is the caller's responsibility.
func (c *Coordinator) ForceRebind(network netmon.PhysicalNetwork) {
	c.mu.Lock()
	bound := network
	c.bound = &bound
	c.lastBind = c.now()
	c.mu.Unlock()

	c.logger.Info("Forced rebind", "network", network.String())
	c.submitRebind("rebind-recover", []netmon.PhysicalNetwork{network})
}

func (c *Coordinator) submitRebind(op string, candidates []netmon.PhysicalNetwork) {
	c.rebinds.Add(1)
	err := c.queue.Submit(op, func(ctx context.Context) error {
		if err := c.eng.RebindEgress(ctx, candidates); err != nil {
			c.failures.Add(1)
			return err
		}
		return nil
	})
	if err != nil {
		c.failures.Add(1)
		c.logger.Warn("Rebind not queued", "op", op, "error", err)
	}
}

// Bound returns a copy of the currently bound network, or nil when no
// usable network is bound.
func (c *Coordinator) Bound() *netmon.PhysicalNetwork {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bound == nil {
		return nil
	}
	bound := *c.bound
	return &bound
}

// CoordinatorStatus is a point-in-time view of the coordinator.
type CoordinatorStatus struct {
	Bound      *netmon.PhysicalNetwork `json:"bound,omitempty"`
	LastBindAt time.Time               `json:"last_bind_at,omitempty"`
	InStartup  bool                    `json:"in_startup"`
	Rebinds    int64                   `json:"rebinds"`
	Debounced  int64                   `json:"debounced"`
	Suppressed int64                   `json:"suppressed"`
	Losses     int64                   `json:"losses"`
	Failures   int64                   `json:"failures"`
}

// Status returns coordinator statistics.
func (c *Coordinator) Status() CoordinatorStatus {
	c.mu.Lock()
	var bound *netmon.PhysicalNetwork
	if c.bound != nil {
		b := *c.bound
		bound = &b
	}
	lastBind := c.lastBind
	inStartup := c.inStartupLocked()
	c.mu.Unlock()

	return CoordinatorStatus{
		Bound:      bound,
		LastBindAt: lastBind,
		InStartup:  inStartup,
		Rebinds:    c.rebinds.Load(),
		Debounced:  c.debounced.Load(),
		Suppressed: c.suppressed.Load(),
		Losses:     c.losses.Load(),
		Failures:   c.failures.Load(),
	}
}
