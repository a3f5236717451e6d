// Package metrics provides Prometheus metrics for Heimdall.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for Heimdall.
type Metrics struct {
	// Network observation metrics
	NetworkEvaluations prometheus.Counter
	NetworkChanges     *prometheus.CounterVec
	NetworkLosses      prometheus.Counter
	NetworkUsable      prometheus.Gauge
	ProbeFailures      prometheus.Counter
	TunnelsActive      prometheus.Gauge
	ForeignTunnels     prometheus.Counter

	// Engine call metrics
	Rebinds      prometheus.Counter
	EngineCalls  *prometheus.CounterVec
	QueueDepth   prometheus.Gauge
	QueueDropped prometheus.Counter

	// Reset metrics
	Resets           *prometheus.CounterVec
	ResetFailures    prometheus.Gauge
	Escalations      prometheus.Counter
	RestartsRequired prometheus.Counter

	// Link health metrics
	LinkState  prometheus.Gauge
	Recoveries prometheus.Counter

	// System metrics
	Uptime     prometheus.Gauge
	GoRoutines prometheus.Gauge

	registry *prometheus.Registry
}

// Link state gauge values.
const (
	LinkStateUnknown     = 0
	LinkStateValidated   = 1
	LinkStateUnvalidated = 2
)

// New creates a new Metrics instance with all metrics registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	// Network observation metrics
	m.NetworkEvaluations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heimdall_network_evaluations_total",
			Help: "Total number of network state evaluations",
		},
	)

	m.NetworkChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heimdall_network_changes_total",
			Help: "Network change notifications by outcome",
		},
		[]string{"outcome"},
	)

	m.NetworkLosses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heimdall_network_losses_total",
			Help: "Total number of total-connectivity-loss events",
		},
	)

	m.NetworkUsable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heimdall_network_usable",
			Help: "Whether a usable physical network is currently bound (1) or not (0)",
		},
	)

	m.ProbeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heimdall_probe_failures_total",
			Help: "Total number of reachability probe failures",
		},
	)

	m.TunnelsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heimdall_tunnels_active",
			Help: "Number of tunnel-type interfaces currently present",
		},
	)

	m.ForeignTunnels = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heimdall_foreign_tunnels_total",
			Help: "Total number of foreign tunnel sightings",
		},
	)

	// Engine call metrics
	m.Rebinds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heimdall_rebinds_total",
			Help: "Total number of engine egress rebind calls",
		},
	)

	m.EngineCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heimdall_engine_calls_total",
			Help: "Serialized engine calls by result",
		},
		[]string{"result"},
	)

	m.QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heimdall_engine_queue_depth",
			Help: "Number of engine calls waiting in the queue",
		},
	)

	m.QueueDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heimdall_engine_queue_dropped_total",
			Help: "Engine calls dropped because the queue was full or stopped",
		},
	)

	// Reset metrics
	m.Resets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heimdall_resets_total",
			Help: "Engine state resets by outcome",
		},
		[]string{"outcome"},
	)

	m.ResetFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heimdall_reset_consecutive_failures",
			Help: "Current consecutive reset failure count",
		},
	)

	m.Escalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heimdall_escalations_total",
			Help: "Total number of reset-failure escalations",
		},
	)

	m.RestartsRequired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heimdall_restarts_total",
			Help: "Total number of service restarts performed",
		},
	)

	// Link health metrics
	m.LinkState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heimdall_link_state",
			Help: "Tunnel link validation state (0 = unknown, 1 = validated, 2 = unvalidated)",
		},
	)

	m.Recoveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heimdall_link_recoveries_total",
			Help: "Total number of link health recoveries fired",
		},
	)

	// System metrics
	m.Uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heimdall_uptime_seconds",
			Help: "Service uptime in seconds",
		},
	)

	m.GoRoutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heimdall_goroutines",
			Help: "Number of goroutines",
		},
	)

	// Register all metrics
	m.registry.MustRegister(
		m.NetworkEvaluations,
		m.NetworkChanges,
		m.NetworkLosses,
		m.NetworkUsable,
		m.ProbeFailures,
		m.TunnelsActive,
		m.ForeignTunnels,
		m.Rebinds,
		m.EngineCalls,
		m.QueueDepth,
		m.QueueDropped,
		m.Resets,
		m.ResetFailures,
		m.Escalations,
		m.RestartsRequired,
		m.LinkState,
		m.Recoveries,
		m.Uptime,
		m.GoRoutines,
	)

	// Register default Go metrics
	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// SetLinkState maps a link health state name onto the gauge.
func (m *Metrics) SetLinkState(state string) {
	switch state {
	case "validated":
		m.LinkState.Set(LinkStateValidated)
	case "unvalidated":
		m.LinkState.Set(LinkStateUnvalidated)
	default:
		m.LinkState.Set(LinkStateUnknown)
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
