// Package supervisor wires the coordination components together: the
// network observer, transition coordinator, link health monitor, reset
// manager, engine queue and the diagnostics surface. It owns the engine
// lifecycle, including restart escalation.
package supervisor

import (
	"context"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rennerdo30/heimdall/internal/api"
	"github.com/rennerdo30/heimdall/internal/config"
	"github.com/rennerdo30/heimdall/internal/engine"
	"github.com/rennerdo30/heimdall/internal/eventlog"
	"github.com/rennerdo30/heimdall/internal/linkhealth"
	"github.com/rennerdo30/heimdall/internal/logging"
	"github.com/rennerdo30/heimdall/internal/metrics"
	"github.com/rennerdo30/heimdall/internal/netmon"
	"github.com/rennerdo30/heimdall/internal/reset"
	"github.com/rennerdo30/heimdall/internal/transition"
	"github.com/rennerdo30/heimdall/internal/util"
	"github.com/rennerdo30/heimdall/internal/version"
)

// Supervisor is the Heimdall service.
type Supervisor struct {
	config     *config.ServiceConfig
	configPath string

	eng          engine.Engine
	queue        *engine.Queue
	observer     *netmon.Observer
	foreign      *netmon.ForeignMonitor
	coordinator  *transition.Coordinator
	linkMonitor  *linkhealth.Monitor
	resetManager *reset.Manager
	events       *eventlog.Recorder
	metrics      *metrics.Metrics
	collector    *metrics.Collector
	apiServer    *http.Server

	mu       sync.RWMutex
	running  bool
	engineUp bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	restartReq chan string
	restarts   atomic.Int64
	startedAt  time.Time

	logger *logging.Logger
}

// New creates a supervisor from a validated service configuration.
func New(cfg *config.ServiceConfig) (*Supervisor, error) {
	if err := logging.Setup(cfg.Logging); err != nil {
		return nil, util.WrapError(err, "setup logging")
	}

	eng, err := engine.New(cfg.Engine)
	if err != nil {
		return nil, util.WrapError(err, "create engine")
	}

	s := &Supervisor{
		config:     cfg,
		eng:        eng,
		queue:      engine.NewQueue(cfg.Engine.QueueSize),
		events:     eventlog.NewRecorder(eventlog.Config{MaxEntries: cfg.Events.MaxEntries}),
		restartReq: make(chan string, 1),
		logger:     logging.WithComponent("supervisor"),
	}

	observer, err := netmon.NewObserver(cfg.Network)
	if err != nil {
		return nil, util.WrapError(err, "create network observer")
	}
	s.observer = observer
	observer.SetHandler(s)
	observer.SetTunnelHandler(s)

	s.foreign = netmon.NewForeignMonitor(cfg.Network,
		netmon.WithConnectingFunc(s.InStartup),
		netmon.WithForeignSink(func(n netmon.PhysicalNetwork) {
			s.events.RecordForeignTunnel(n.Name, "appeared after startup snapshot")
		}),
	)

	s.resetManager, err = reset.NewManager(cfg.Reset, s.queue, eng, s)
	if err != nil {
		return nil, util.WrapError(err, "create reset manager")
	}

	s.coordinator, err = transition.NewCoordinator(cfg.Transition, s.queue, eng, s)
	if err != nil {
		return nil, util.WrapError(err, "create transition coordinator")
	}

	linkOpts := []linkhealth.Option{linkhealth.WithEventSink(s)}
	if reporter, ok := eng.(engine.LinkReporter); ok {
		linkOpts = append(linkOpts, linkhealth.WithChecker(reporter))
	}
	s.linkMonitor, err = linkhealth.NewMonitor(cfg.LinkHealth, s.queue, observer, s.coordinator, s, s, linkOpts...)
	if err != nil {
		return nil, util.WrapError(err, "create link health monitor")
	}

	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
		s.collector = metrics.NewCollector(s.metrics, s, cfg.Metrics.CollectionInterval.Duration())
	}

	return s, nil
}

// SetConfigPath records where the configuration was loaded from. Used to
// answer whether a recoverable configuration still exists on disk.
func (s *Supervisor) SetConfigPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configPath = path
}

// Start brings up the coordination stack. The foreign-tunnel snapshot is
// taken before the engine starts, so the engine's own interface never
// counts as foreign.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.startedAt = time.Now()
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("Starting Heimdall", "engine", s.eng.Name())

	if err := s.foreign.Start(ctx); err != nil {
		s.logger.Warn("Foreign tunnel snapshot failed", "error", err)
	}

	if err := s.queue.Start(ctx); err != nil {
		return util.WrapError(err, "start engine queue")
	}

	// The queue is idle at this point, so the one direct engine call is
	// still serialized with everything that follows.
	if err := s.eng.Start(ctx); err != nil {
		return util.WrapError(err, "start engine")
	}
	s.mu.Lock()
	s.engineUp = true
	s.mu.Unlock()
	s.coordinator.TunnelEstablished()

	if err := s.linkMonitor.Start(ctx); err != nil {
		return util.WrapError(err, "start link health monitor")
	}
	if err := s.resetManager.Start(ctx); err != nil {
		return util.WrapError(err, "start reset manager")
	}
	if err := s.observer.Start(ctx); err != nil {
		return util.WrapError(err, "start network observer")
	}

	if s.collector != nil {
		s.collector.Start()
	}

	if s.config.API.Enabled {
		if s.config.API.Token == "" && !util.IsLocalAddress(s.config.API.Listen) {
			s.logger.Warn("API listening on a non-local address without a token",
				"address", s.config.API.Listen)
		}
		a := api.New(api.Config{
			Token:        s.config.API.Token,
			Status:       func() any { return s.Status() },
			Network:      func() any { return s.NetworkStatus() },
			Healthy:      s.Healthy,
			RequestReset: s.RequestReset,
			Events:       s.events,
			Metrics:      s.metrics,
		})
		s.events.SetSink(a.BroadcastEvent)

		s.apiServer = &http.Server{
			Addr:    s.config.API.Listen,
			Handler: a.Handler(),
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info("API server listening", "address", s.config.API.Listen)
			if err := s.apiServer.ListenAndServe(); err != http.ErrServerClosed {
				s.logger.Error("API server error", "error", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.restartLoop(ctx)

	s.logger.Info("Heimdall started")
	return nil
}

// Stop tears the coordination stack down in reverse order.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("Stopping Heimdall")

	errs := util.NewMultiError()

	if cancel != nil {
		cancel()
	}

	if s.apiServer != nil {
		if err := s.apiServer.Shutdown(ctx); err != nil {
			errs.Add(util.WrapError(err, "api shutdown"))
		}
	}
	if s.collector != nil {
		s.collector.Stop()
	}

	s.observer.Stop()
	s.linkMonitor.Stop()
	s.resetManager.Stop()
	s.foreign.Stop()

	// Drain the queue before touching the engine directly.
	s.queue.Stop()

	s.mu.Lock()
	engineUp := s.engineUp
	s.engineUp = false
	s.mu.Unlock()
	if engineUp {
		if err := s.eng.Stop(ctx); err != nil {
			s.logger.Error("Failed to stop engine", "error", err)
			errs.Add(util.WrapError(err, "engine stop"))
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn("Grace period exceeded")
		errs.Add(util.WrapError(util.ErrTimeout, "waiting for workers"))
	}

	s.logger.Info("Heimdall stopped")
	return errs.Err()
}

// Running returns whether the supervisor is running.
func (s *Supervisor) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Healthy reports whether the service is in a working state: running,
// engine up and the call queue accepting work.
func (s *Supervisor) Healthy() bool {
	s.mu.RLock()
	running := s.running
	engineUp := s.engineUp
	s.mu.RUnlock()
	return running && engineUp && s.queue.Status().Running
}

// HandleNetworkChanged implements netmon.Handler.
func (s *Supervisor) HandleNetworkChanged(n netmon.PhysicalNetwork) {
	s.events.RecordNetworkChanged(n.String())
	s.coordinator.HandleNetworkChanged(n)
}

// HandleNetworkLost implements netmon.Handler.
func (s *Supervisor) HandleNetworkLost(n netmon.PhysicalNetwork) {
	s.events.RecordNetworkLost()
	s.coordinator.HandleNetworkLost()
}

// HandleTunnelUp implements netmon.TunnelHandler.
func (s *Supervisor) HandleTunnelUp(n netmon.PhysicalNetwork) {
	s.events.RecordTunnelUp(n.Name)
	s.foreign.HandleTunnelUp(n)
}

// HandleTunnelDown implements netmon.TunnelHandler. Losing our own
// tunnel interface also cancels any pending link recovery.
func (s *Supervisor) HandleTunnelDown(n netmon.PhysicalNetwork) {
	s.events.RecordTunnelDown(n.Name)
	s.foreign.HandleTunnelDown(n)
	if s.config.Network.OwnInterface != "" && n.Name == s.config.Network.OwnInterface {
		s.linkMonitor.OnTunnelLost()
	}
}

// RequestReset implements the resetter used by the coordinator and the
// link health monitor, adding the request to the event log.
func (s *Supervisor) RequestReset(reason string, force bool) {
	s.events.RecordReset(reason, force)
	s.resetManager.RequestReset(reason, force)
}

// ValidationChanged implements linkhealth.EventSink.
func (s *Supervisor) ValidationChanged(validated bool) {
	s.events.RecordValidation(validated)
}

// RecoveryFired implements linkhealth.EventSink.
func (s *Supervisor) RecoveryFired(network string) {
	s.events.RecordRecovery(network)
}

// TunnelRunning implements linkhealth.Gate.
func (s *Supervisor) TunnelRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running && s.engineUp
}

// InStartup implements linkhealth.Gate.
func (s *Supervisor) InStartup() bool {
	return s.coordinator.InStartup()
}

// HasUsableConfig implements linkhealth.Gate. When the configuration
// came from a file, the file must still exist to count as recoverable.
func (s *Supervisor) HasUsableConfig() bool {
	s.mu.RLock()
	path := s.configPath
	s.mu.RUnlock()

	if s.config == nil {
		return false
	}
	if path == "" {
		return true
	}
	_, err := os.Stat(path)
	return err == nil
}

// RequestRestart implements reset.RestartRequester. Never blocks; a
// restart already pending absorbs further requests.
func (s *Supervisor) RequestRestart(reason string) {
	select {
	case s.restartReq <- reason:
	default:
		s.logger.Debug("Restart already pending, request dropped", "reason", reason)
	}
}

func (s *Supervisor) restartLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-s.restartReq:
			s.performRestart(reason)
		}
	}
}

// performRestart cycles the engine through the call queue, so the
// restart serializes with any rebind or reset still in flight.
func (s *Supervisor) performRestart(reason string) {
	s.logger.Warn("Restarting engine", "reason", reason)
	s.events.RecordRestart(reason)

	err := s.queue.Submit("engine-restart", func(ctx context.Context) error {
		if err := s.eng.Stop(ctx); err != nil {
			s.logger.Error("Engine stop failed during restart", "error", err)
		}
		s.mu.Lock()
		s.engineUp = false
		s.mu.Unlock()

		if err := s.eng.Start(ctx); err != nil {
			s.events.RecordError("supervisor", eventlog.EntryTypeRestart, err)
			return engine.NewCallError(s.eng.Name(), "restart", err)
		}

		s.mu.Lock()
		s.engineUp = true
		s.mu.Unlock()
		s.restarts.Add(1)
		s.coordinator.TunnelEstablished()
		s.observer.Kick()
		s.logger.Info("Engine restarted")
		return nil
	})
	if err != nil {
		s.events.RecordError("supervisor", eventlog.EntryTypeRestart, err)
		s.logger.Error("Failed to submit engine restart", "error", err)
	}
}

// MetricsSnapshot implements metrics.Source.
func (s *Supervisor) MetricsSnapshot() metrics.Snapshot {
	obs := s.observer.Status()
	coord := s.coordinator.Status()
	link := s.linkMonitor.Status()
	rst := s.resetManager.Status()
	q := s.queue.Status()
	fgn := s.foreign.Status()

	return metrics.Snapshot{
		NetworkUsable: coord.Bound != nil,
		TunnelsActive: obs.TunnelCount,
		QueueDepth:    q.Pending,
		ResetFailures: rst.Failures,
		LinkState:     link.State,

		Evaluations:       obs.Evaluations,
		ChangesAdopted:    obs.Changes,
		ChangesDebounced:  coord.Debounced,
		ChangesSuppressed: coord.Suppressed,
		Losses:            obs.Losses,
		ProbeFailures:     obs.ProbeFailures,
		ForeignSightings:  fgn.Sightings,
		Rebinds:           coord.Rebinds,
		CallsExecuted:     q.Executed,
		CallsFailed:       q.Failed,
		CallsDropped:      q.Dropped,
		ResetsSucceeded:   rst.Succeeded,
		ResetsFailed:      rst.Failed,
		ResetsSkipped:     rst.Skipped,
		Escalations:       rst.Escalations,
		Recoveries:        link.Recoveries,
		Restarts:          s.restarts.Load(),
	}
}

// Status is a point-in-time view of the whole service.
type Status struct {
	Running    bool                         `json:"running"`
	Version    string                       `json:"version,omitempty"`
	StartedAt  time.Time                    `json:"started_at,omitempty"`
	Uptime     string                       `json:"uptime,omitempty"`
	Engine     string                       `json:"engine"`
	EngineUp   bool                         `json:"engine_up"`
	Restarts   int64                        `json:"restarts"`
	Queue      engine.QueueStatus           `json:"queue"`
	Observer   netmon.ObserverStatus        `json:"observer"`
	Foreign    netmon.ForeignStatus         `json:"foreign"`
	Transition transition.CoordinatorStatus `json:"transition"`
	LinkHealth linkhealth.MonitorStatus     `json:"link_health"`
	Reset      reset.ManagerStatus          `json:"reset"`
	Events     int                          `json:"events"`
}

// Status returns an aggregated view of all components.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	running := s.running
	engineUp := s.engineUp
	startedAt := s.startedAt
	s.mu.RUnlock()

	status := Status{
		Running:    running,
		Version:    version.Short(),
		Engine:     s.eng.Name(),
		EngineUp:   engineUp,
		Restarts:   s.restarts.Load(),
		Queue:      s.queue.Status(),
		Observer:   s.observer.Status(),
		Foreign:    s.foreign.Status(),
		Transition: s.coordinator.Status(),
		LinkHealth: s.linkMonitor.Status(),
		Reset:      s.resetManager.Status(),
		Events:     s.events.Count(),
	}
	if running {
		status.StartedAt = startedAt
		status.Uptime = time.Since(startedAt).Round(time.Second).String()
	}
	return status
}

// NetworkStatus is the network-centric view served by the API.
type NetworkStatus struct {
	Bound    *netmon.PhysicalNetwork `json:"bound,omitempty"`
	Observer netmon.ObserverStatus   `json:"observer"`
	Foreign  netmon.ForeignStatus    `json:"foreign"`
}

// NetworkStatus returns the current network view.
func (s *Supervisor) NetworkStatus() NetworkStatus {
	return NetworkStatus{
		Bound:    s.coordinator.Bound(),
		Observer: s.observer.Status(),
		Foreign:  s.foreign.Status(),
	}
}
