package linkhealth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rennerdo30/heimdall/internal/engine"
	"github.com/rennerdo30/heimdall/internal/netmon"
)

type fakeSource struct {
	mu     sync.Mutex
	best   *netmon.PhysicalNetwork
	kicked atomic.Int64
}

func (s *fakeSource) Best() (netmon.PhysicalNetwork, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.best == nil {
		return netmon.PhysicalNetwork{}, false
	}
	return *s.best, true
}

func (s *fakeSource) Kick() {
	s.kicked.Add(1)
}

type fakeRebinder struct {
	mu      sync.Mutex
	rebinds []netmon.PhysicalNetwork
}

func (r *fakeRebinder) ForceRebind(network netmon.PhysicalNetwork) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebinds = append(r.rebinds, network)
}

func (r *fakeRebinder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rebinds)
}

type fakeResetter struct {
	mu       sync.Mutex
	requests []string
	forced   int
}

func (r *fakeResetter) RequestReset(reason string, force bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, reason)
	if force {
		r.forced++
	}
}

func (r *fakeResetter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type fakeGate struct {
	mu        sync.Mutex
	running   bool
	inStartup bool
	hasConfig bool
}

func (g *fakeGate) TunnelRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *fakeGate) InStartup() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inStartup
}

func (g *fakeGate) HasUsableConfig() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hasConfig
}

type fakeChecker struct {
	validated atomic.Bool
}

func (c *fakeChecker) LinkValidated(ctx context.Context) (bool, error) {
	return c.validated.Load(), nil
}

type harness struct {
	monitor  *Monitor
	source   *fakeSource
	rebinder *fakeRebinder
	resetter *fakeResetter
	gate     *fakeGate
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()

	best := netmon.PhysicalNetwork{Name: "wlan0", Index: 3, Caps: netmon.Capabilities{Internet: true}}
	h := &harness{
		source:   &fakeSource{best: &best},
		rebinder: &fakeRebinder{},
		resetter: &fakeResetter{},
		gate:     &fakeGate{running: true, hasConfig: true},
	}

	q := engine.NewQueue(16)
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(q.Stop)

	m, err := NewMonitor(cfg, q, h.source, h.rebinder, h.resetter, h.gate, opts...)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	h.monitor = m
	return h
}

func shortConfig() Config {
	return Config{GraceDelay: 60 * time.Millisecond, CheckInterval: time.Hour}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultGraceDelay, cfg.GraceDelay)
	assert.Equal(t, DefaultCheckInterval, cfg.CheckInterval)

	bad := Config{GraceDelay: -time.Second}
	err := bad.Validate()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "grace_delay", cfgErr.Field)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unknown", StateUnknown.String())
	assert.Equal(t, "validated", StateValidated.String())
	assert.Equal(t, "unvalidated", StateUnvalidated.String())
}

// TestValidationCancelsRecovery: not-validated at T0, validated shortly
// after, grace delay well beyond both. No recovery may ever fire.
func TestValidationCancelsRecovery(t *testing.T) {
	h := newHarness(t, Config{GraceDelay: 100 * time.Millisecond, CheckInterval: time.Hour})

	h.monitor.OnValidationChanged(false)
	assert.Equal(t, StateUnvalidated, h.monitor.State())
	assert.True(t, h.monitor.Status().PendingRecovery)

	time.Sleep(20 * time.Millisecond)
	h.monitor.OnValidationChanged(true)
	assert.Equal(t, StateValidated, h.monitor.State())
	assert.False(t, h.monitor.Status().PendingRecovery)

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, h.rebinder.count())
	assert.Zero(t, h.resetter.count())
	assert.Equal(t, int64(0), h.monitor.Status().Recoveries)
	assert.Equal(t, int64(1), h.monitor.Status().Cancelled)
}

// TestRecoveryFiresOnce: a link that never validates recovers exactly
// once, with one rebind and one forced reset, then returns to Unknown.
func TestRecoveryFiresOnce(t *testing.T) {
	h := newHarness(t, shortConfig())

	h.monitor.OnValidationChanged(false)

	require.Eventually(t, func() bool {
		return h.rebinder.count() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "wlan0", h.rebinder.rebinds[0].Name)
	assert.Equal(t, 1, h.resetter.count())
	assert.Equal(t, 1, h.resetter.forced)
	assert.Equal(t, StateUnknown, h.monitor.State())

	// Without a fresh signal nothing else may fire.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, h.rebinder.count())
	assert.Equal(t, 1, h.resetter.count())
}

// TestDuplicateInvalidationsShareOneTimer: repeated not-validated signals
// must not stack recovery tasks.
func TestDuplicateInvalidationsShareOneTimer(t *testing.T) {
	h := newHarness(t, shortConfig())

	for i := 0; i < 5; i++ {
		h.monitor.OnValidationChanged(false)
	}

	require.Eventually(t, func() bool {
		return h.rebinder.count() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, h.rebinder.count())
	assert.Equal(t, int64(5), h.monitor.Status().Invalidations)
}

func TestRecoveryGateBlocks(t *testing.T) {
	tests := []struct {
		name  string
		apply func(g *fakeGate)
	}{
		{"tunnel stopped", func(g *fakeGate) { g.running = false }},
		{"in startup", func(g *fakeGate) { g.inStartup = true }},
		{"no config", func(g *fakeGate) { g.hasConfig = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, shortConfig())
			h.gate.mu.Lock()
			tt.apply(h.gate)
			h.gate.mu.Unlock()

			h.monitor.OnValidationChanged(false)

			time.Sleep(150 * time.Millisecond)
			assert.Zero(t, h.rebinder.count())
			assert.Zero(t, h.resetter.count())
			assert.Equal(t, int64(0), h.monitor.Status().Recoveries)
		})
	}
}

// TestRecoveryWithoutCachedNetwork: no best network means no rebind, but
// the observer is kicked and the reset still goes out.
func TestRecoveryWithoutCachedNetwork(t *testing.T) {
	h := newHarness(t, shortConfig())
	h.source.mu.Lock()
	h.source.best = nil
	h.source.mu.Unlock()

	h.monitor.OnValidationChanged(false)

	require.Eventually(t, func() bool {
		return h.resetter.count() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Zero(t, h.rebinder.count())
	assert.Equal(t, int64(1), h.source.kicked.Load())
}

func TestTunnelLostCancelsRecovery(t *testing.T) {
	h := newHarness(t, shortConfig())

	h.monitor.OnValidationChanged(false)
	assert.True(t, h.monitor.Status().PendingRecovery)

	h.monitor.OnTunnelLost()
	assert.Equal(t, StateUnknown, h.monitor.State())

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, h.rebinder.count())
	assert.Zero(t, h.resetter.count())
}

func TestStopCancelsRecovery(t *testing.T) {
	h := newHarness(t, shortConfig())

	h.monitor.OnValidationChanged(false)
	h.monitor.Stop()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, h.rebinder.count())

	// Signals after stop are ignored.
	h.monitor.OnValidationChanged(false)
	assert.Equal(t, StateUnknown, h.monitor.State())
}

// TestCheckerDrivesValidation wires the poller through the engine queue.
func TestCheckerDrivesValidation(t *testing.T) {
	checker := &fakeChecker{}
	checker.validated.Store(true)

	h := newHarness(t,
		Config{GraceDelay: time.Hour, CheckInterval: 20 * time.Millisecond},
		WithChecker(checker))

	require.Eventually(t, func() bool {
		return h.monitor.State() == StateValidated
	}, time.Second, 5*time.Millisecond)

	checker.validated.Store(false)
	require.Eventually(t, func() bool {
		return h.monitor.State() == StateUnvalidated
	}, time.Second, 5*time.Millisecond)
	assert.True(t, h.monitor.Status().PendingRecovery)
}

func TestCheckerRequiresQueue(t *testing.T) {
	_, err := NewMonitor(DefaultConfig(), nil, &fakeSource{}, &fakeRebinder{}, &fakeResetter{}, &fakeGate{},
		WithChecker(&fakeChecker{}))
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, Config{GraceDelay: time.Hour, CheckInterval: time.Hour})

	h.monitor.OnValidationChanged(true)
	h.monitor.OnValidationChanged(false)

	status := h.monitor.Status()
	assert.Equal(t, "unvalidated", status.State)
	assert.True(t, status.PendingRecovery)
	assert.Equal(t, int64(1), status.Validations)
	assert.Equal(t, int64(1), status.Invalidations)
	assert.False(t, status.LastValidatedAt.IsZero())
}
