package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rennerdo30/heimdall/internal/logging"
	"github.com/rennerdo30/heimdall/internal/netmon"
	"github.com/rennerdo30/heimdall/internal/util"
)

// StaticEngine is a no-op engine for running the supervisor without a real
// tunnel: every call succeeds and is only recorded. Useful for dry runs
// and for exercising the coordination path on machines without tunnel
// credentials.
type StaticEngine struct {
	mu              sync.Mutex
	running         bool
	last            []netmon.PhysicalNetwork
	lastResetReason string

	rebinds  atomic.Int64
	resets   atomic.Int64
	releases atomic.Int64

	logger *logging.Logger
}

// NewStaticEngine creates a static engine.
func NewStaticEngine() *StaticEngine {
	return &StaticEngine{
		logger: logging.WithComponent("engine-static"),
	}
}

// Name returns the engine name.
func (e *StaticEngine) Name() string {
	return "static"
}

// Start marks the engine running.
func (e *StaticEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
	e.logger.Info("Static engine started")
	return nil
}

// Stop marks the engine stopped.
func (e *StaticEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.logger.Info("Static engine stopped")
	return nil
}

// RebindEgress records the candidate list.
func (e *StaticEngine) RebindEgress(ctx context.Context, candidates []netmon.PhysicalNetwork) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return NewCallError("static", "rebind", ErrNotStarted)
	}
	e.last = append([]netmon.PhysicalNetwork(nil), candidates...)
	e.mu.Unlock()

	e.rebinds.Add(1)
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	e.logger.Info("Egress rebound", "candidates", names)
	return nil
}

// ResetNetworkStack records the reset and the reason that rode in on the
// context.
func (e *StaticEngine) ResetNetworkStack(ctx context.Context) error {
	reason := util.GetReason(ctx)

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return NewCallError("static", "reset", ErrNotStarted)
	}
	e.lastResetReason = reason
	e.mu.Unlock()

	e.resets.Add(1)
	e.logger.Info("Network stack reset", "reason", reason)
	return nil
}

// ReleaseHeldConnections records the release.
func (e *StaticEngine) ReleaseHeldConnections(ctx context.Context) error {
	e.releases.Add(1)
	e.logger.Debug("Held connections released")
	return nil
}

// LastResetReason returns the reason attached to the most recent reset.
func (e *StaticEngine) LastResetReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResetReason
}

// LastCandidates returns the most recent rebind candidate list.
func (e *StaticEngine) LastCandidates() []netmon.PhysicalNetwork {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]netmon.PhysicalNetwork(nil), e.last...)
}

// Counters returns rebind, reset, and release counts.
func (e *StaticEngine) Counters() (rebinds, resets, releases int64) {
	return e.rebinds.Load(), e.resets.Load(), e.releases.Load()
}
