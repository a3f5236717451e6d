package reset

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rennerdo30/heimdall/internal/engine"
	"github.com/rennerdo30/heimdall/internal/logging"
	"github.com/rennerdo30/heimdall/internal/util"
)

// RestartRequester receives the escalation signal. Satisfied by the
// owning service, which performs the actual restart.
type RestartRequester interface {
	RequestRestart(reason string)
}

// Manager owns reset debounce, forced-reset collapsing, and failure
// escalation. All engine calls run on the shared queue; no failure ever
// propagates back to a caller.
type Manager struct {
	config Config

	queue   *engine.Queue
	eng     engine.Engine
	restart RestartRequester

	mu            sync.Mutex
	started       bool
	lastAttempt   time.Time
	lastSuccess   time.Time
	failures      int
	pending       *time.Timer
	pendingReason string
	forcedPending bool

	requests    atomic.Int64
	forced      atomic.Int64
	coalesced   atomic.Int64
	executed    atomic.Int64
	succeeded   atomic.Int64
	failed      atomic.Int64
	skipped     atomic.Int64
	escalations atomic.Int64

	now    func() time.Time
	logger *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithNowFunc overrides the clock. Used in tests.
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a reset manager.
func NewManager(cfg Config, queue *engine.Queue, eng engine.Engine, restart RestartRequester, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		config:  cfg,
		queue:   queue,
		eng:     eng,
		restart: restart,
		now:     time.Now,
		logger:  logging.WithComponent("reset"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start arms the manager. The escalation window opens now: the manager
// behaves as if a reset had just succeeded, so a freshly started service
// cannot escalate before FailureWindow has passed.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	m.started = true
	m.lastSuccess = m.now()
	m.failures = 0

	m.logger.Info("Reset manager started",
		"debounce", m.config.Debounce,
		"failure_threshold", m.config.FailureThreshold)
	return nil
}

// Stop cancels any pending delayed reset.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}
	m.started = false
	m.cancelPendingLocked()
	m.forcedPending = false
	m.logger.Info("Reset manager stopped")
}

func (m *Manager) cancelPendingLocked() {
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
		m.pendingReason = ""
	}
}

// RequestReset asks for an engine state reset. Forced requests bypass the
// debounce; non-forced requests within the debounce of the last attempt
// collapse into a single delayed reset. Never blocks and never returns an
// error: outcomes are counters, not exceptions.
func (m *Manager) RequestReset(reason string, force bool) {
	m.requests.Add(1)
	if force {
		m.forced.Add(1)
	}

	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		m.logger.Debug("Reset request ignored, manager not started", "reason", reason)
		return
	}

	if force {
		if m.forcedPending {
			m.coalesced.Add(1)
			m.mu.Unlock()
			m.logger.Debug("Forced reset already queued", "reason", reason)
			return
		}
		m.forcedPending = true
		m.mu.Unlock()

		m.submit(reason, true)
		return
	}

	if m.pending != nil {
		m.coalesced.Add(1)
		m.mu.Unlock()
		m.logger.Debug("Reset coalesced into pending delay", "reason", reason)
		return
	}

	remaining := m.config.Debounce - m.now().Sub(m.lastAttempt)
	if remaining <= 0 {
		m.mu.Unlock()
		m.submit(reason, false)
		return
	}

	// Deadline stays anchored to the last attempt; intervening requests
	// coalesce into this one task rather than pushing it out.
	m.pendingReason = reason
	m.pending = time.AfterFunc(remaining, func() {
		m.firePending()
	})
	m.mu.Unlock()
	m.logger.Debug("Reset delayed", "reason", reason, "delay", remaining)
}

func (m *Manager) firePending() {
	m.mu.Lock()
	if !m.started || m.pending == nil {
		m.mu.Unlock()
		return
	}
	reason := m.pendingReason
	m.pending = nil
	m.pendingReason = ""
	m.mu.Unlock()

	m.submit(reason, false)
}

func (m *Manager) submit(reason string, force bool) {
	err := m.queue.Submit("reset", func(ctx context.Context) error {
		return m.perform(ctx, reason, force)
	})
	if err != nil {
		m.mu.Lock()
		if force {
			m.forcedPending = false
		}
		m.mu.Unlock()
		m.logger.Warn("Reset not queued", "reason", reason, "error", err)
	}
}

// perform runs on the queue worker and is therefore never concurrent with
// another engine call.
func (m *Manager) perform(ctx context.Context, reason string, force bool) error {
	m.mu.Lock()
	if force {
		m.forcedPending = false
	}
	if !m.started {
		m.mu.Unlock()
		return nil
	}

	now := m.now()

	// Escalation precondition comes before anything touches the engine:
	// repeated reset failure means the engine is wedged, and another
	// reset is not the remedy.
	if m.failures >= m.config.FailureThreshold && now.Sub(m.lastSuccess) > m.config.FailureWindow {
		m.failures = 0
		m.escalations.Add(1)
		m.mu.Unlock()

		m.logger.Error("Reset failures exceeded threshold, requesting service restart", "reason", reason)
		if m.restart != nil {
			m.restart.RequestRestart(reason)
		}
		return nil
	}

	if elapsed := now.Sub(m.lastAttempt); !m.lastAttempt.IsZero() && elapsed < m.config.MinForceInterval {
		m.skipped.Add(1)
		m.mu.Unlock()
		m.logger.Debug("Reset skipped, another reset just ran", "reason", reason, "elapsed", elapsed)
		return nil
	}

	m.lastAttempt = now
	// Any delayed reset still pending is satisfied by this one.
	m.cancelPendingLocked()
	m.mu.Unlock()

	m.executed.Add(1)
	m.logger.Info("Resetting engine network state", "reason", reason, "forced", force)

	// Carry the reason to the engine so its logs can name the trigger.
	ctx = util.WithReason(ctx, reason)

	if releaser, ok := m.eng.(engine.ConnectionReleaser); ok {
		if err := releaser.ReleaseHeldConnections(ctx); err != nil {
			// Best-effort step; the reset proceeds regardless.
			m.logger.Debug("Connection release failed, continuing", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.config.ReleasePause):
		}
	}

	err := m.eng.ResetNetworkStack(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failures++
		m.failed.Add(1)
		m.logger.Warn("Engine reset failed", "reason", reason, "consecutive_failures", m.failures, "error", err)
		return err
	}
	m.failures = 0
	m.lastSuccess = m.now()
	m.succeeded.Add(1)
	return nil
}

// Failures returns the current consecutive-failure count.
func (m *Manager) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// ManagerStatus is a point-in-time view of the reset manager.
type ManagerStatus struct {
	Failures      int       `json:"failures"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	PendingDelay  bool      `json:"pending_delay"`
	Requests      int64     `json:"requests"`
	Forced        int64     `json:"forced"`
	Coalesced     int64     `json:"coalesced"`
	Executed      int64     `json:"executed"`
	Succeeded     int64     `json:"succeeded"`
	Failed        int64     `json:"failed"`
	Skipped       int64     `json:"skipped"`
	Escalations   int64     `json:"escalations"`
}

// Status returns reset manager statistics.
func (m *Manager) Status() ManagerStatus {
	m.mu.Lock()
	failures := m.failures
	lastAttempt := m.lastAttempt
	lastSuccess := m.lastSuccess
	pending := m.pending != nil
	m.mu.Unlock()

	return ManagerStatus{
		Failures:      failures,
		LastAttemptAt: lastAttempt,
		LastSuccessAt: lastSuccess,
		PendingDelay:  pending,
		Requests:      m.requests.Load(),
		Forced:        m.forced.Load(),
		Coalesced:     m.coalesced.Load(),
		Executed:      m.executed.Load(),
		Succeeded:     m.succeeded.Load(),
		Failed:        m.failed.Load(),
		Skipped:       m.skipped.Load(),
		Escalations:   m.escalations.Load(),
	}
}
