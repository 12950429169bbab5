package monitor

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/registry"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/testutil"
)

// stubAgent reports whatever healthy holds.
type stubAgent struct {
	name    string
	healthy atomic.Bool
	panics  bool
	checks  atomic.Int32
}

func newStubAgent(name string, healthy bool) *stubAgent {
	a := &stubAgent{name: name}
	a.healthy.Store(healthy)
	return a
}

func (a *stubAgent) Name() string                  { return a.name }
func (a *stubAgent) Run(ctx context.Context) error { return nil }

func (a *stubAgent) HealthCheck(ctx context.Context) bool {
	a.checks.Add(1)
	if a.panics {
		panic("health check exploded")
	}
	return a.healthy.Load()
}

// mockMetrics records the last health value per agent.
type mockMetrics struct {
	mu     sync.Mutex
	health map[string]bool
}

func (m *mockMetrics) AgentHealthUpdate(agent string, healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.health == nil {
		m.health = make(map[string]bool)
	}
	m.health[agent] = healthy
}

func newRegistry(t *testing.T, agents map[string]registry.Agent) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for k, a := range agents {
		if _, err := reg.Put(k, a); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	return reg
}

func TestMonitor_Check_ReportsEveryAgent(t *testing.T) {
	dq := newStubAgent("data-quality", true)
	ad := newStubAgent("anomaly", false)
	reg := newRegistry(t, map[string]registry.Agent{"dq_agent": dq, "ad_agent": ad})
	metrics := &mockMetrics{}

	m := New(DefaultConfig(), reg).WithMetrics(metrics)
	results := m.Check(context.Background())

	if !results["dq_agent"] || results["ad_agent"] {
		t.Errorf("results = %v, want dq healthy and ad unhealthy", results)
	}
	if m.Healthy() {
		t.Error("Healthy() = true with an unhealthy agent")
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if !metrics.health["dq_agent"] || metrics.health["ad_agent"] {
		t.Errorf("gauge values = %v", metrics.health)
	}
}

func TestMonitor_Check_ChecksReplacementInstance(t *testing.T) {
	old := newStubAgent("old", true)
	reg := newRegistry(t, map[string]registry.Agent{"dq_agent": old})
	m := New(DefaultConfig(), reg)
	m.Check(context.Background())

	replacement := newStubAgent("new", false)
	if _, err := reg.Put("dq_agent", replacement); err != nil {
		t.Fatalf("put: %v", err)
	}
	results := m.Check(context.Background())

	if results["dq_agent"] {
		t.Error("expected replacement's unhealthy result")
	}
	if old.checks.Load() != 1 || replacement.checks.Load() != 1 {
		t.Errorf("checks old=%d new=%d, want 1 each", old.checks.Load(), replacement.checks.Load())
	}
}

func TestMonitor_StatusTransitions(t *testing.T) {
	var logs bytes.Buffer
	agent := newStubAgent("ad", true)
	reg := newRegistry(t, map[string]registry.Agent{"ad_agent": agent})
	clock := testutil.NewFakeClock(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	m := New(DefaultConfig(), reg).WithLogger(zerolog.New(&logs))
	m.clock = clock.Now

	m.Check(context.Background())
	first := m.Snapshot()["ad_agent"]

	clock.Advance(time.Minute)
	m.Check(context.Background())
	if got := m.Snapshot()["ad_agent"]; !got.Since.Equal(first.Since) {
		t.Errorf("Since moved without a transition: %s -> %s", first.Since, got.Since)
	}

	clock.Advance(time.Minute)
	agent.healthy.Store(false)
	m.Check(context.Background())

	st := m.Snapshot()["ad_agent"]
	if st.Healthy {
		t.Error("expected unhealthy status")
	}
	if !st.Since.Equal(clock.Now().UTC()) {
		t.Errorf("Since = %s, want transition time %s", st.Since, clock.Now())
	}
	if n := strings.Count(logs.String(), "monitor: health changed"); n != 1 {
		t.Errorf("logged %d transitions, want 1", n)
	}
}

func TestMonitor_PanickingHealthCheck(t *testing.T) {
	bad := newStubAgent("bad", true)
	bad.panics = true
	good := newStubAgent("good", true)
	reg := newRegistry(t, map[string]registry.Agent{"bad": bad, "good": good})

	results := New(DefaultConfig(), reg).Check(context.Background())

	if results["bad"] {
		t.Error("panicking health check should count as unhealthy")
	}
	if !results["good"] {
		t.Error("other agents must still be checked")
	}
}

func TestMonitor_RemovedAgentDropped(t *testing.T) {
	reg := newRegistry(t, map[string]registry.Agent{"a": newStubAgent("a", true), "b": newStubAgent("b", true)})
	m := New(DefaultConfig(), reg)
	m.Check(context.Background())

	reg.Remove("b")
	m.Check(context.Background())

	snap := m.Snapshot()
	if _, ok := snap["b"]; ok {
		t.Error("removed agent still in snapshot")
	}
	if !m.Healthy() {
		t.Error("Healthy() = false with all remaining agents healthy")
	}
}

func TestMonitor_HealthyFalseBeforeFirstCheck(t *testing.T) {
	m := New(DefaultConfig(), registry.New())
	if m.Healthy() {
		t.Error("Healthy() = true before any check")
	}
}

func TestMonitor_Run_ChecksImmediatelyAndStops(t *testing.T) {
	agent := newStubAgent("a", true)
	reg := newRegistry(t, map[string]registry.Agent{"a": agent})
	m := New(Config{Interval: time.Hour}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	testutil.Eventually(t, time.Second, func() bool { return agent.checks.Load() == 1 }, "check on startup")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	m := New(Config{}, registry.New())
	if m.config != DefaultConfig() {
		t.Errorf("config = %+v, want defaults", m.config)
	}
}
