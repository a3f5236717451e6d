package metrics

import (
	"runtime"
	"sync"
	"time"
)

// Snapshot is one sample of coordination state. Counter fields carry
// cumulative totals; the collector turns them into deltas.
type Snapshot struct {
	// Gauge readings
	NetworkUsable bool
	TunnelsActive int
	QueueDepth    int
	ResetFailures int
	LinkState     string

	// Cumulative totals
	Evaluations      int64
	ChangesAdopted   int64
	ChangesDebounced int64
	ChangesSuppressed int64
	Losses           int64
	ProbeFailures    int64
	ForeignSightings int64
	Rebinds          int64
	CallsExecuted    int64
	CallsFailed      int64
	CallsDropped     int64
	ResetsSucceeded  int64
	ResetsFailed     int64
	ResetsSkipped    int64
	Escalations      int64
	Recoveries       int64
	Restarts         int64
}

// Source provides snapshots for the collector. Satisfied by the owning
// service.
type Source interface {
	MetricsSnapshot() Snapshot
}

// Collector samples the coordination state periodically and publishes it
// as Prometheus metrics.
type Collector struct {
	metrics   *Metrics
	source    Source
	startTime time.Time
	interval  time.Duration
	ticker    *time.Ticker
	done      chan struct{}
	mu        sync.Mutex
	running   bool

	last Snapshot
}

// NewCollector creates a new metrics collector.
func NewCollector(metrics *Metrics, source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		metrics:   metrics,
		source:    source,
		startTime: time.Now(),
		interval:  interval,
	}
}

// Start starts the metrics collector.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}

	c.running = true
	c.done = make(chan struct{})
	c.ticker = time.NewTicker(c.interval)

	go c.collectLoop()
}

// Stop stops the metrics collector.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}

	close(c.done)
	c.ticker.Stop()
	c.running = false
}

// collectLoop periodically collects metrics.
func (c *Collector) collectLoop() {
	// Initial collection
	c.Collect()

	for {
		select {
		case <-c.done:
			return
		case <-c.ticker.C:
			c.Collect()
		}
	}
}

// Collect performs a single metrics collection.
func (c *Collector) Collect() {
	c.metrics.Uptime.Set(time.Since(c.startTime).Seconds())
	c.metrics.GoRoutines.Set(float64(runtime.NumGoroutine()))

	if c.source == nil {
		return
	}
	snap := c.source.MetricsSnapshot()

	usable := 0.0
	if snap.NetworkUsable {
		usable = 1.0
	}
	c.metrics.NetworkUsable.Set(usable)
	c.metrics.TunnelsActive.Set(float64(snap.TunnelsActive))
	c.metrics.QueueDepth.Set(float64(snap.QueueDepth))
	c.metrics.ResetFailures.Set(float64(snap.ResetFailures))
	c.metrics.SetLinkState(snap.LinkState)

	c.mu.Lock()
	last := c.last
	c.last = snap
	c.mu.Unlock()

	add := func(counter interface{ Add(float64) }, now, before int64) {
		if d := now - before; d > 0 {
			counter.Add(float64(d))
		}
	}

	add(c.metrics.NetworkEvaluations, snap.Evaluations, last.Evaluations)
	add(c.metrics.NetworkChanges.WithLabelValues("adopted"), snap.ChangesAdopted, last.ChangesAdopted)
	add(c.metrics.NetworkChanges.WithLabelValues("debounced"), snap.ChangesDebounced, last.ChangesDebounced)
	add(c.metrics.NetworkChanges.WithLabelValues("suppressed"), snap.ChangesSuppressed, last.ChangesSuppressed)
	add(c.metrics.NetworkLosses, snap.Losses, last.Losses)
	add(c.metrics.ProbeFailures, snap.ProbeFailures, last.ProbeFailures)
	add(c.metrics.ForeignTunnels, snap.ForeignSightings, last.ForeignSightings)
	add(c.metrics.Rebinds, snap.Rebinds, last.Rebinds)
	add(c.metrics.EngineCalls.WithLabelValues("ok"),
		snap.CallsExecuted-snap.CallsFailed, last.CallsExecuted-last.CallsFailed)
	add(c.metrics.EngineCalls.WithLabelValues("error"), snap.CallsFailed, last.CallsFailed)
	add(c.metrics.QueueDropped, snap.CallsDropped, last.CallsDropped)
	add(c.metrics.Resets.WithLabelValues("ok"), snap.ResetsSucceeded, last.ResetsSucceeded)
	add(c.metrics.Resets.WithLabelValues("error"), snap.ResetsFailed, last.ResetsFailed)
	add(c.metrics.Resets.WithLabelValues("skipped"), snap.ResetsSkipped, last.ResetsSkipped)
	add(c.metrics.Escalations, snap.Escalations, last.Escalations)
	add(c.metrics.Recoveries, snap.Recoveries, last.Recoveries)
	add(c.metrics.RestartsRequired, snap.Restarts, last.Restarts)
}
