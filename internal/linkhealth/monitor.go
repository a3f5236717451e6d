package linkhealth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rennerdo30/heimdall/internal/engine"
	"github.com/rennerdo30/heimdall/internal/logging"
	"github.com/rennerdo30/heimdall/internal/netmon"
	"github.com/rennerdo30/heimdall/internal/util"
)

// NetworkSource supplies the best current physical network. Satisfied by
// netmon.Observer.
type NetworkSource interface {
	Best() (netmon.PhysicalNetwork, bool)
	Kick()
}

// Rebinder rebinds the engine onto a network, skipping debounce. Satisfied
// by transition.Coordinator.
type Rebinder interface {
	ForceRebind(network netmon.PhysicalNetwork)
}

// Resetter receives the forced reset that accompanies a recovery.
type Resetter interface {
	RequestReset(reason string, force bool)
}

// Gate answers whether a recovery is currently allowed to fire. Satisfied
// by the owning service.
type Gate interface {
	// TunnelRunning reports whether the tunnel is supposed to be up.
	TunnelRunning() bool
	// InStartup reports whether the tunnel is still inside its startup
	// window.
	InStartup() bool
	// HasUsableConfig reports whether a last-used configuration exists
	// to recover with.
	HasUsableConfig() bool
}

// LinkChecker reports whether the link is passing traffic. Satisfied by
// engines that implement engine.LinkReporter.
type LinkChecker interface {
	LinkValidated(ctx context.Context) (bool, error)
}

// EventSink receives validation transitions and recovery firings for the
// diagnostics surface. Calls arrive outside the monitor lock and must not
// block.
type EventSink interface {
	ValidationChanged(validated bool)
	RecoveryFired(network string)
}

// Monitor watches tunnel link validation signals and schedules one-shot
// recovery when the link stays unvalidated past the grace delay.
type Monitor struct {
	config Config

	source   NetworkSource
	rebinder Rebinder
	resetter Resetter
	gate     Gate

	queue   *engine.Queue
	checker LinkChecker
	sink    EventSink

	mu         sync.Mutex
	started    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	state      State
	pending    *time.Timer
	generation uint64
	lastValid  time.Time

	validations   atomic.Int64
	invalidations atomic.Int64
	recoveries    atomic.Int64
	cancelled     atomic.Int64
	checkFailures atomic.Int64

	logger *logging.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithChecker enables periodic link-state polling through the given
// checker. Poll calls run on the engine queue.
func WithChecker(checker LinkChecker) Option {
	return func(m *Monitor) {
		m.checker = checker
	}
}

// WithEventSink routes validation transitions and recovery firings to
// the given sink.
func WithEventSink(sink EventSink) Option {
	return func(m *Monitor) {
		m.sink = sink
	}
}

// NewMonitor creates a link health monitor. The queue may be nil only
// when no checker is installed.
func NewMonitor(cfg Config, queue *engine.Queue, source NetworkSource, rebinder Rebinder, resetter Resetter, gate Gate, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		config:   cfg,
		queue:    queue,
		source:   source,
		rebinder: rebinder,
		resetter: resetter,
		gate:     gate,
		logger:   logging.WithComponent("linkhealth"),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.checker != nil && m.queue == nil {
		return nil, util.WrapError(util.ErrInvalidConfig, "link checker requires the engine queue")
	}
	return m, nil
}

// Start begins polling when a checker is installed. Idempotent.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	m.started = true
	m.state = StateUnknown

	ctx, m.cancel = context.WithCancel(ctx)
	if m.checker != nil {
		m.wg.Add(1)
		go m.poll(ctx)
	}

	m.logger.Info("Link health monitor started",
		"grace_delay", m.config.GraceDelay,
		"polling", m.checker != nil)
	return nil
}

// Stop cancels any pending recovery and halts polling.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.cancelPendingLocked()
	m.state = StateUnknown
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.logger.Info("Link health monitor stopped")
}

func (m *Monitor) poll(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.submitCheck()
		}
	}
}

func (m *Monitor) submitCheck() {
	err := m.queue.Submit("link-check", func(ctx context.Context) error {
		validated, err := m.checker.LinkValidated(ctx)
		if err != nil {
			// A failed read is not a "link is dead" signal; the
			// handshake going stale reports false without error.
			m.checkFailures.Add(1)
			return err
		}
		m.OnValidationChanged(validated)
		return nil
	})
	if err != nil {
		m.checkFailures.Add(1)
	}
}

// OnValidationChanged feeds a validation signal into the monitor. A
// validated signal cancels any pending recovery; an unvalidated signal
// schedules one unless it is already pending. Never blocks.
func (m *Monitor) OnValidationChanged(validated bool) {
	m.mu.Lock()

	if !m.started {
		m.mu.Unlock()
		return
	}

	prev := m.state
	if validated {
		m.validations.Add(1)
		hadPending := m.pending != nil
		// Always bump the generation: a validation supersedes not just
		// a pending timer but also a recovery that already fired and
		// is deciding whether to act.
		m.cancelPendingLocked()
		if hadPending {
			m.logger.Debug("Link validated, pending recovery cancelled")
		}
		m.state = StateValidated
		m.lastValid = time.Now()
		m.mu.Unlock()

		if m.sink != nil && prev != StateValidated {
			m.sink.ValidationChanged(true)
		}
		return
	}

	m.invalidations.Add(1)
	m.state = StateUnvalidated
	if m.pending == nil {
		generation := m.generation
		m.pending = time.AfterFunc(m.config.GraceDelay, func() {
			m.recover(generation)
		})
		m.logger.Warn("Link not validated, recovery scheduled", "grace_delay", m.config.GraceDelay)
	}
	m.mu.Unlock()

	if m.sink != nil && prev != StateUnvalidated {
		m.sink.ValidationChanged(false)
	}
}

// OnTunnelLost cancels any pending recovery. With the interface gone
// there is nothing to recover; the transition coordinator handles the
// loss itself.
func (m *Monitor) OnTunnelLost() {
	m.mu.Lock()
	defer m.mu.Unlock()

	hadPending := m.pending != nil
	m.cancelPendingLocked()
	if hadPending {
		m.logger.Debug("Tunnel gone, pending recovery cancelled")
	}
	m.state = StateUnknown
}

// cancelPendingLocked stops the pending timer and bumps the generation so
// an already-fired timer finds itself stale.
func (m *Monitor) cancelPendingLocked() {
	m.generation++
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
		m.cancelled.Add(1)
	}
}

// recover is the one-shot recovery action.
func (m *Monitor) recover(generation uint64) {
	m.mu.Lock()
	if generation != m.generation || !m.started || m.state != StateUnvalidated {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	m.mu.Unlock()

	if !m.gate.TunnelRunning() {
		m.logger.Debug("Recovery skipped, tunnel not running")
		return
	}
	if m.gate.InStartup() {
		m.logger.Debug("Recovery skipped, still in startup window")
		return
	}
	if !m.gate.HasUsableConfig() {
		m.logger.Debug("Recovery skipped, no usable configuration")
		return
	}

	// Re-check after the gate calls: a validation racing in during them
	// must win over the recovery.
	m.mu.Lock()
	if generation != m.generation || m.state != StateUnvalidated {
		m.mu.Unlock()
		return
	}
	m.state = StateUnknown
	m.mu.Unlock()

	m.recoveries.Add(1)

	best, ok := m.source.Best()
	if ok {
		m.logger.Warn("Link stuck unvalidated, recovering", "network", best.String())
		m.rebinder.ForceRebind(best)
	} else {
		// No cached candidate to rebind onto. Ask the observer to
		// re-evaluate and still reset, so stale session state clears
		// as soon as a network returns.
		m.logger.Warn("Link stuck unvalidated and no usable network cached, requesting re-evaluation")
		m.source.Kick()
	}
	m.resetter.RequestReset("link recovery", true)
	if m.sink != nil {
		name := ""
		if ok {
			name = best.Name
		}
		m.sink.RecoveryFired(name)
	}
}

// State returns the current validation state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// MonitorStatus is a point-in-time view of the monitor.
type MonitorStatus struct {
	State           string    `json:"state"`
	PendingRecovery bool      `json:"pending_recovery"`
	LastValidatedAt time.Time `json:"last_validated_at,omitempty"`
	Validations     int64     `json:"validations"`
	Invalidations   int64     `json:"invalidations"`
	Recoveries      int64     `json:"recoveries"`
	Cancelled       int64     `json:"cancelled"`
	CheckFailures   int64     `json:"check_failures"`
}

// Status returns monitor statistics.
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	state := m.state
	pending := m.pending != nil
	lastValid := m.lastValid
	m.mu.Unlock()

	return MonitorStatus{
		State:           state.String(),
		PendingRecovery: pending,
		LastValidatedAt: lastValid,
		Validations:     m.validations.Load(),
		Invalidations:   m.invalidations.Load(),
		Recoveries:      m.recoveries.Load(),
		Cancelled:       m.cancelled.Load(),
		CheckFailures:   m.checkFailures.Load(),
	}
}
