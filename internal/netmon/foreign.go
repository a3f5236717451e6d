package netmon

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rennerdo30/heimdall/internal/logging"
)

// ForeignMonitor distinguishes tunnel software that was already present
// when this service started from tunnel software that appeared later. The
// OS arbitrates between competing tunnel providers on its own, so a late
// arrival needs no countermeasure, only a diagnostic record.
type ForeignMonitor struct {
	own string

	mu       sync.Mutex
	started  bool
	snapshot map[string]struct{}

	enumerator Enumerator
	connecting func() bool
	onForeign  func(n PhysicalNetwork)

	sightings atomic.Int64
	logger    *logging.Logger
}

// ForeignOption configures a ForeignMonitor.
type ForeignOption func(*ForeignMonitor)

// WithSnapshotEnumerator replaces the enumerator used for the startup
// snapshot.
func WithSnapshotEnumerator(e Enumerator) ForeignOption {
	return func(m *ForeignMonitor) { m.enumerator = e }
}

// WithConnectingFunc supplies the predicate reporting whether this
// service's own tunnel is still establishing.
func WithConnectingFunc(fn func() bool) ForeignOption {
	return func(m *ForeignMonitor) { m.connecting = fn }
}

// WithForeignSink registers a callback invoked for each foreign tunnel
// sighting, used to feed the diagnostics event log.
func WithForeignSink(fn func(n PhysicalNetwork)) ForeignOption {
	return func(m *ForeignMonitor) { m.onForeign = fn }
}

// NewForeignMonitor creates a monitor for the given configuration.
func NewForeignMonitor(cfg Config, opts ...ForeignOption) *ForeignMonitor {
	m := &ForeignMonitor{
		own:        cfg.OwnInterface,
		snapshot:   make(map[string]struct{}),
		enumerator: newSystemEnumerator(cfg),
		logger:     logging.WithComponent("foreign"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start captures the startup snapshot of existing tunnel-type networks.
// It must run before this service's own tunnel interface is created.
// Idempotent.
func (m *ForeignMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}

	networks, err := m.enumerator.Networks()
	if err != nil {
		// The monitor is diagnostic only; start with an empty snapshot
		// rather than failing the service.
		m.logger.Warn("Snapshot enumeration failed", "error", err)
		networks = nil
	}

	m.snapshot = make(map[string]struct{})
	for _, n := range networks {
		if n.Caps.Tunnel {
			m.snapshot[n.Name] = struct{}{}
		}
	}
	m.started = true

	m.logger.Info("Foreign-tunnel monitor started", "preexisting", len(m.snapshot))
	return nil
}

// Stop clears the snapshot. Safe without a prior Start.
func (m *ForeignMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}
	m.started = false
	m.snapshot = make(map[string]struct{})
}

// HandleTunnelUp records the appearance of a tunnel-type network that is
// neither in the startup snapshot nor this service's own interface.
func (m *ForeignMonitor) HandleTunnelUp(n PhysicalNetwork) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	_, preexisting := m.snapshot[n.Name]
	own := m.own != "" && n.Name == m.own
	connecting := m.connecting
	onForeign := m.onForeign
	m.mu.Unlock()

	if preexisting || own {
		return
	}

	m.sightings.Add(1)

	stillConnecting := connecting != nil && connecting()
	if stillConnecting {
		m.logger.Info("Foreign tunnel appeared during connect; OS arbitrates, no action",
			"network", n.Name)
	} else {
		m.logger.Info("Foreign tunnel appeared", "network", n.Name)
	}

	if onForeign != nil {
		onForeign(n)
	}
}

// HandleTunnelDown is informational only; the snapshot never mutates
// after Start.
func (m *ForeignMonitor) HandleTunnelDown(n PhysicalNetwork) {
	m.logger.Debug("Tunnel network disappeared", "network", n.Name)
}

// ForeignStatus is a point-in-time view of the monitor.
type ForeignStatus struct {
	Active       bool  `json:"active"`
	SnapshotSize int   `json:"snapshot_size"`
	Sightings    int64 `json:"sightings"`
}

// Status returns current monitor state for diagnostics.
func (m *ForeignMonitor) Status() ForeignStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ForeignStatus{
		Active:       m.started,
		SnapshotSize: len(m.snapshot),
		Sightings:    m.sightings.Load(),
	}
}
