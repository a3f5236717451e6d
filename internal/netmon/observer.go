package netmon

import (
	"context"
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rennerdo30/heimdall/internal/logging"
	"github.com/rennerdo30/heimdall/internal/util"
)

// Handler consumes physical-network events. Exactly one handler is
// registered per observer and its methods are invoked from the observer's
// own evaluation goroutine, in arrival order. Implementations must not
// block.
type Handler interface {
	HandleNetworkChanged(n PhysicalNetwork)
	HandleNetworkLost(n PhysicalNetwork)
}

// TunnelHandler consumes tunnel-type network events.
type TunnelHandler interface {
	HandleTunnelUp(n PhysicalNetwork)
	HandleTunnelDown(n PhysicalNetwork)
}

// watcherRetryInterval is how often a failed platform watcher registration
// is retried while the observer runs degraded on polling alone.
const watcherRetryInterval = 30 * time.Second

// Observer maintains the single best candidate network for tunnel egress.
// It fuses platform change hints with periodic re-evaluation, classifies
// interfaces, optionally probes candidates for real connectivity, and
// reports identity changes to its handler.
type Observer struct {
	cfg Config

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	current *PhysicalNetwork
	tunnels map[string]PhysicalNetwork

	handler       Handler
	tunnelHandler TunnelHandler

	enumerator   Enumerator
	watcher      Watcher
	prober       Prober
	defaultRoute func() string

	watcherActive bool

	evaluations atomic.Int64
	changes     atomic.Int64
	losses      atomic.Int64
	probeFails  atomic.Int64

	kick   chan struct{}
	logger *logging.Logger
}

// ObserverOption configures an Observer.
type ObserverOption func(*Observer)

// WithEnumerator replaces the interface-table enumerator.
func WithEnumerator(e Enumerator) ObserverOption {
	return func(o *Observer) { o.enumerator = e }
}

// WithWatcher replaces the platform change watcher.
func WithWatcher(w Watcher) ObserverOption {
	return func(o *Observer) { o.watcher = w }
}

// WithProber replaces the connectivity prober. A nil prober disables
// active probing.
func WithProber(p Prober) ObserverOption {
	return func(o *Observer) { o.prober = p }
}

// WithDefaultRouteFunc replaces the default-route lookup.
func WithDefaultRouteFunc(fn func() string) ObserverOption {
	return func(o *Observer) { o.defaultRoute = fn }
}

// NewObserver creates a network observer with the given configuration.
func NewObserver(cfg Config, opts ...ObserverOption) (*Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Observer{
		cfg:          cfg,
		tunnels:      make(map[string]PhysicalNetwork),
		enumerator:   newSystemEnumerator(cfg),
		watcher:      newPlatformWatcher(),
		defaultRoute: defaultRouteInterface,
		kick:         make(chan struct{}, 1),
		logger:       logging.WithComponent("netmon"),
	}
	if len(cfg.ProbeTargets) > 0 {
		o.prober = NewDNSProber(cfg.ProbeTargets, cfg.ProbeTimeout)
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// SetHandler registers the physical-network event consumer. Must be called
// before Start.
func (o *Observer) SetHandler(h Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handler = h
}

// SetTunnelHandler registers the tunnel-network event consumer. Must be
// called before Start.
func (o *Observer) SetTunnelHandler(h TunnelHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tunnelHandler = h
}

// Start begins observation. Calling Start on a running observer is a
// no-op. A failed platform watcher registration degrades to polling and is
// retried periodically.
func (o *Observer) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return nil
	}
	o.started = true

	ctx, o.cancel = context.WithCancel(ctx)

	if err := o.watcher.Start(ctx); err != nil {
		o.logger.Warn("Platform watcher unavailable, falling back to polling", "error", err)
		o.watcherActive = false
	} else {
		o.watcherActive = true
	}

	o.wg.Add(1)
	go o.run(ctx)

	o.logger.Info("Network observer started",
		"poll_interval", o.cfg.PollInterval,
		"probing", o.prober != nil)
	return nil
}

// Stop ends observation and clears cached state. Safe to call without a
// prior Start.
func (o *Observer) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
	o.watcher.Stop()

	o.mu.Lock()
	o.current = nil
	o.tunnels = make(map[string]PhysicalNetwork)
	o.watcherActive = false
	o.mu.Unlock()

	o.logger.Info("Network observer stopped")
}

// Kick requests an immediate re-evaluation outside the regular schedule.
func (o *Observer) Kick() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

// Best returns the currently adopted egress candidate.
func (o *Observer) Best() (PhysicalNetwork, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return PhysicalNetwork{}, false
	}
	return *o.current, true
}

func (o *Observer) run(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	retry := time.NewTicker(watcherRetryInterval)
	defer retry.Stop()

	o.evaluate(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.watcher.Notify():
			o.evaluate(ctx)
		case <-o.kick:
			o.evaluate(ctx)
		case <-ticker.C:
			o.evaluate(ctx)
		case <-retry.C:
			o.retryWatcher(ctx)
		}
	}
}

func (o *Observer) retryWatcher(ctx context.Context) {
	o.mu.Lock()
	active := o.watcherActive
	o.mu.Unlock()
	if active {
		return
	}

	if err := o.watcher.Start(ctx); err != nil {
		o.logger.Debug("Platform watcher retry failed", "error", err)
		return
	}

	o.mu.Lock()
	o.watcherActive = true
	o.mu.Unlock()
	o.logger.Info("Platform watcher registration recovered")
}

// evaluate re-reads the interface table, refines candidates, adopts the
// best usable network, and reports identity changes. It runs only on the
// observer's own goroutine.
func (o *Observer) evaluate(ctx context.Context) {
	o.evaluations.Add(1)

	networks, err := o.enumerator.Networks()
	if err != nil {
		// Treated as a transient observation failure; the last known
		// state stays in effect until the next successful evaluation.
		o.logger.Warn("Interface enumeration failed", "error", err)
		return
	}

	var candidates []PhysicalNetwork
	tunnels := make(map[string]PhysicalNetwork)
	for _, n := range networks {
		if n.Caps.Tunnel {
			tunnels[n.Name] = n
			continue
		}
		if n.Usable() {
			candidates = append(candidates, n)
		}
	}

	best, found := o.pickBest(ctx, candidates)

	var (
		changed    bool
		lost       bool
		lostNet    PhysicalNetwork
		tunnelsUp  []PhysicalNetwork
		tunnelsOff []PhysicalNetwork
	)

	o.mu.Lock()
	handler := o.handler
	tunnelHandler := o.tunnelHandler

	switch {
	case found && (o.current == nil || !o.current.Same(best)):
		o.current = &best
		changed = true
	case found:
		// Same identity; refresh cached attributes without notifying.
		o.current = &best
	case o.current != nil:
		lostNet = *o.current
		o.current = nil
		lost = true
	}

	for name, n := range tunnels {
		if _, ok := o.tunnels[name]; !ok {
			tunnelsUp = append(tunnelsUp, n)
		}
	}
	for name, n := range o.tunnels {
		if _, ok := tunnels[name]; !ok {
			tunnelsOff = append(tunnelsOff, n)
		}
	}
	o.tunnels = tunnels
	o.mu.Unlock()

	// Handlers run outside the lock; they are required to be fast and
	// non-blocking.
	if changed {
		o.changes.Add(1)
		o.logger.Info("Best network changed", "network", best.String())
		if handler != nil {
			handler.HandleNetworkChanged(best)
		}
	}
	if lost {
		o.losses.Add(1)
		o.logger.Warn("All usable networks lost", "was", lostNet.String())
		if handler != nil {
			handler.HandleNetworkLost(lostNet)
		}
	}
	if tunnelHandler != nil {
		for _, n := range tunnelsUp {
			tunnelHandler.HandleTunnelUp(n)
		}
		for _, n := range tunnelsOff {
			tunnelHandler.HandleTunnelDown(n)
		}
	}
}

// pickBest orders candidates by preference and returns the first that
// passes probing. Preference: the default-route interface first, then
// non-expensive paths, then lowest interface index for stability.
func (o *Observer) pickBest(ctx context.Context, candidates []PhysicalNetwork) (PhysicalNetwork, bool) {
	if len(candidates) == 0 {
		return PhysicalNetwork{}, false
	}

	def := ""
	if o.defaultRoute != nil {
		def = o.defaultRoute()
	}
	if def == "" {
		if ip, err := util.GetOutboundIP(); err == nil {
			if addr, ok := netip.AddrFromSlice(ip); ok {
				def = ownerOf(candidates, addr.Unmap())
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if (candidates[i].Name == def) != (candidates[j].Name == def) {
			return candidates[i].Name == def
		}
		if candidates[i].Caps.Expensive != candidates[j].Caps.Expensive {
			return !candidates[i].Caps.Expensive
		}
		return candidates[i].Index < candidates[j].Index
	})

	if o.prober == nil {
		return candidates[0], true
	}

	for _, c := range candidates {
		source, _ := c.SourceAddr()
		if err := o.prober.Probe(ctx, source); err != nil {
			o.probeFails.Add(1)
			o.logger.Debug("Candidate failed probe", "network", c.Name, "error", err)
			continue
		}
		c.Caps.Internet = true
		c.Caps.Validated = true
		return c, true
	}

	// Nothing passed probing; fall back to the top candidate so a
	// temporarily unreachable prober does not read as total loss.
	return candidates[0], true
}

func ownerOf(candidates []PhysicalNetwork, addr netip.Addr) string {
	for _, c := range candidates {
		for _, a := range c.Addresses {
			if a == addr {
				return c.Name
			}
		}
	}
	return ""
}

// ObserverStatus is a point-in-time view of the observer.
type ObserverStatus struct {
	Active        bool             `json:"active"`
	WatcherActive bool             `json:"watcher_active"`
	Current       *PhysicalNetwork `json:"current,omitempty"`
	TunnelCount   int              `json:"tunnel_count"`
	Evaluations   int64            `json:"evaluations"`
	Changes       int64            `json:"changes"`
	Losses        int64            `json:"losses"`
	ProbeFailures int64            `json:"probe_failures"`
}

// Status returns current observer state for diagnostics.
func (o *Observer) Status() ObserverStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := ObserverStatus{
		Active:        o.started,
		WatcherActive: o.watcherActive,
		TunnelCount:   len(o.tunnels),
		Evaluations:   o.evaluations.Load(),
		Changes:       o.changes.Load(),
		Losses:        o.losses.Load(),
		ProbeFailures: o.probeFails.Load(),
	}
	if o.current != nil {
		n := *o.current
		status.Current = &n
	}
	return status
}
