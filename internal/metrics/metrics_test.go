package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	m := New()

	if m == nil {
		t.Fatal("New() returned nil")
	}

	// Check that all metrics are initialized
	if m.NetworkEvaluations == nil {
		t.Error("NetworkEvaluations is nil")
	}
	if m.NetworkChanges == nil {
		t.Error("NetworkChanges is nil")
	}
	if m.NetworkLosses == nil {
		t.Error("NetworkLosses is nil")
	}
	if m.NetworkUsable == nil {
		t.Error("NetworkUsable is nil")
	}
	if m.ProbeFailures == nil {
		t.Error("ProbeFailures is nil")
	}
	if m.TunnelsActive == nil {
		t.Error("TunnelsActive is nil")
	}
	if m.ForeignTunnels == nil {
		t.Error("ForeignTunnels is nil")
	}
	if m.Rebinds == nil {
		t.Error("Rebinds is nil")
	}
	if m.EngineCalls == nil {
		t.Error("EngineCalls is nil")
	}
	if m.QueueDepth == nil {
		t.Error("QueueDepth is nil")
	}
	if m.QueueDropped == nil {
		t.Error("QueueDropped is nil")
	}
	if m.Resets == nil {
		t.Error("Resets is nil")
	}
	if m.ResetFailures == nil {
		t.Error("ResetFailures is nil")
	}
	if m.Escalations == nil {
		t.Error("Escalations is nil")
	}
	if m.RestartsRequired == nil {
		t.Error("RestartsRequired is nil")
	}
	if m.LinkState == nil {
		t.Error("LinkState is nil")
	}
	if m.Recoveries == nil {
		t.Error("Recoveries is nil")
	}
	if m.Uptime == nil {
		t.Error("Uptime is nil")
	}
	if m.GoRoutines == nil {
		t.Error("GoRoutines is nil")
	}
	if m.registry == nil {
		t.Error("registry is nil")
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("Handler returned status %d, want 200", w.Code)
	}
	return w.Body.String()
}

func TestMetricsHandler(t *testing.T) {
	m := New()

	body := scrape(t, m)
	if !strings.Contains(body, "heimdall") || !strings.Contains(body, "go_") {
		t.Error("Handler response should contain heimdall and go metrics")
	}
}

func TestMetricsRegistry(t *testing.T) {
	m := New()

	reg := m.Registry()
	if reg == nil {
		t.Error("Registry() returned nil")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Errorf("Registry.Gather() error = %v", err)
	}

	if len(families) == 0 {
		t.Error("Registry should have registered metrics")
	}
}

func TestSetLinkState(t *testing.T) {
	m := New()

	m.SetLinkState("validated")
	if body := scrape(t, m); !strings.Contains(body, "heimdall_link_state 1") {
		t.Error("link state should be 1 after validated")
	}

	m.SetLinkState("unvalidated")
	if body := scrape(t, m); !strings.Contains(body, "heimdall_link_state 2") {
		t.Error("link state should be 2 after unvalidated")
	}

	m.SetLinkState("something else")
	if body := scrape(t, m); !strings.Contains(body, "heimdall_link_state 0") {
		t.Error("link state should fall back to 0")
	}
}

// Collector tests

type fakeSource struct {
	snap Snapshot
}

func (s *fakeSource) MetricsSnapshot() Snapshot {
	return s.snap
}

func TestNewCollector(t *testing.T) {
	m := New()
	c := NewCollector(m, nil, 0)

	if c == nil {
		t.Fatal("NewCollector() returned nil")
	}
	if c.metrics != m {
		t.Error("Collector should have metrics reference")
	}
	if c.interval != 15*time.Second {
		t.Errorf("default interval = %v, want 15s", c.interval)
	}
}

func TestCollectorStartStop(t *testing.T) {
	m := New()
	c := NewCollector(m, nil, time.Second)

	c.Start()
	if !c.running {
		t.Error("Collector should be running after Start()")
	}

	// Start again (should be no-op)
	c.Start()

	c.Stop()
	if c.running {
		t.Error("Collector should not be running after Stop()")
	}

	// Stop again (should be no-op)
	c.Stop()
}

func TestCollectorCollect(t *testing.T) {
	m := New()
	source := &fakeSource{snap: Snapshot{
		NetworkUsable: true,
		TunnelsActive: 1,
		QueueDepth:    2,
		ResetFailures: 1,
		LinkState:     "validated",
		Rebinds:       3,
		ResetsFailed:  1,
	}}
	c := NewCollector(m, source, time.Second)

	c.Collect()

	body := scrape(t, m)
	checks := []string{
		"heimdall_network_usable 1",
		"heimdall_tunnels_active 1",
		"heimdall_engine_queue_depth 2",
		"heimdall_reset_consecutive_failures 1",
		"heimdall_link_state 1",
		"heimdall_rebinds_total 3",
		`heimdall_resets_total{outcome="error"} 1`,
		"heimdall_uptime_seconds",
		"heimdall_goroutines",
	}
	for _, want := range checks {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

// TestCollectorDeltas verifies cumulative totals become counter deltas
// rather than being added again in full.
func TestCollectorDeltas(t *testing.T) {
	m := New()
	source := &fakeSource{snap: Snapshot{Rebinds: 3, Recoveries: 1}}
	c := NewCollector(m, source, time.Second)

	c.Collect()

	source.snap.Rebinds = 7
	source.snap.Recoveries = 1
	c.Collect()

	body := scrape(t, m)
	if !strings.Contains(body, "heimdall_rebinds_total 7") {
		t.Error("rebinds counter should equal the cumulative total")
	}
	if !strings.Contains(body, "heimdall_link_recoveries_total 1") {
		t.Error("unchanged totals should not be re-added")
	}
}

func TestCollectorNilSource(t *testing.T) {
	m := New()
	c := NewCollector(m, nil, time.Second)

	// Only system metrics are updated without a source.
	c.Collect()

	body := scrape(t, m)
	if !strings.Contains(body, "heimdall_uptime_seconds") {
		t.Error("uptime metric not found after collect")
	}
}

func TestCollectorLoop(t *testing.T) {
	m := New()
	c := NewCollector(m, &fakeSource{}, 10*time.Millisecond)

	c.Start()
	time.Sleep(50 * time.Millisecond)
	c.Stop()

	families, _ := m.registry.Gather()
	if len(families) == 0 {
		t.Error("No metrics collected during loop")
	}
}
