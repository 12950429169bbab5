package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/cron"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/registry"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/testutil"
)

// mockMetricsSink records metric calls for verification.
type mockMetricsSink struct {
	mu          sync.Mutex
	ticks       int
	dispatched  int
	outcomes    map[string]int
	inFlight    int
	maxInFlight int
}

func newMockMetricsSink() *mockMetricsSink {
	return &mockMetricsSink{outcomes: make(map[string]int)}
}

func (m *mockMetricsSink) TickStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
}

func (m *mockMetricsSink) TickCompleted(duration time.Duration, dispatched int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched += dispatched
}

func (m *mockMetricsSink) FiringCompleted(triggerID string, outcome string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *mockMetricsSink) FiringsInFlightIncr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
}

func (m *mockMetricsSink) FiringsInFlightDecr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// failParser rejects every cadence.
type failParser struct{}

func (failParser) Schedule(c domain.Cadence, timezone string) (CronSchedule, error) {
	return nil, errors.New("unsupported cadence")
}

func TestScheduler_RegisterWhileRunning(t *testing.T) {
	h := newHarness(t)
	a := &fakeAgent{name: "late"}
	h.put(t, "late", a)
	h.start(t)

	h.clock.Advance(90 * time.Minute) // 01:30:30
	if err := h.sched.Register("late", "Late", domain.HourlyAt(0), "late"); err != nil {
		t.Fatalf("register: %v", err)
	}

	triggers := h.sched.Triggers()
	want := time.Date(2026, 1, 5, 2, 0, 0, 0, time.UTC)
	if !triggers[0].Next.Equal(want) {
		t.Fatalf("next = %s, want %s", triggers[0].Next, want)
	}

	h.advance(t, 30*time.Minute)
	if got := a.calls.Load(); got != 1 {
		t.Errorf("agent ran %d times, want 1", got)
	}
}

func TestScheduler_Triggers_NextClearedOnStop(t *testing.T) {
	h := newHarness(t)
	if err := h.sched.Register("dq", "DQ", domain.Every(6*time.Hour), domain.AgentKeyDataQuality); err != nil {
		t.Fatalf("register: %v", err)
	}

	if next := h.sched.Triggers()[0].Next; !next.IsZero() {
		t.Errorf("next before Start = %s, want zero", next)
	}

	h.start(t)
	want := testStart.Add(6 * time.Hour)
	if next := h.sched.Triggers()[0].Next; !next.Equal(want) {
		t.Errorf("next after Start = %s, want %s", next, want)
	}

	h.sched.Stop()
	if next := h.sched.Triggers()[0].Next; !next.IsZero() {
		t.Errorf("next after Stop = %s, want zero", next)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	h := newHarness(t)
	a := &fakeAgent{name: "presc"}
	h.put(t, domain.AgentKeyPrescriptive, a)

	r := h.sched.RunNow(testutil.TestContext(t), domain.AgentKeyPrescriptive)
	if r.Outcome != domain.OutcomeSuccess {
		t.Errorf("outcome = %s, want success", r.Outcome)
	}
	if r.TriggerID != domain.ManualTriggerID {
		t.Errorf("trigger id = %s, want %s", r.TriggerID, domain.ManualTriggerID)
	}
	if got := a.calls.Load(); got != 1 {
		t.Errorf("agent ran %d times, want 1", got)
	}

	missing := h.sched.RunNow(testutil.TestContext(t), "nope")
	if missing.Outcome != domain.OutcomeAgentMissing {
		t.Errorf("outcome = %s, want agent_missing", missing.Outcome)
	}
	if got := len(h.reporter.all()); got != 2 {
		t.Errorf("got %d reports, want 2", got)
	}
}

func TestScheduler_ReporterError_ContinuesFiring(t *testing.T) {
	h := newHarness(t)
	h.reporter.err = errors.New("buffer full")
	a := &fakeAgent{name: "ad"}
	h.put(t, "ad", a)
	if err := h.sched.Register("ad", "AD", domain.HourlyAt(0), "ad"); err != nil {
		t.Fatalf("register: %v", err)
	}
	h.start(t)

	h.advance(t, time.Hour)
	h.advance(t, time.Hour)

	if got := a.calls.Load(); got != 2 {
		t.Errorf("agent ran %d times, want 2", got)
	}
}

func TestScheduler_MetricsRecording(t *testing.T) {
	h := newHarness(t)
	metrics := newMockMetricsSink()
	h.sched.WithMetrics(metrics)

	h.put(t, "ok", &fakeAgent{name: "ok"})
	h.put(t, "bad", &fakeAgent{name: "bad", err: errors.New("fail")})
	for id, key := range map[string]string{"t_ok": "ok", "t_bad": "bad", "t_missing": "missing"} {
		if err := h.sched.Register(id, id, domain.HourlyAt(0), key); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	h.start(t)

	h.advance(t, time.Hour)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()

	if metrics.ticks != 1 {
		t.Errorf("ticks = %d, want 1", metrics.ticks)
	}
	if metrics.dispatched != 3 {
		t.Errorf("dispatched = %d, want 3", metrics.dispatched)
	}
	for _, outcome := range []domain.Outcome{domain.OutcomeSuccess, domain.OutcomeAgentError, domain.OutcomeAgentMissing} {
		if metrics.outcomes[string(outcome)] != 1 {
			t.Errorf("outcome %s = %d, want 1", outcome, metrics.outcomes[string(outcome)])
		}
	}
	if metrics.inFlight != 0 {
		t.Errorf("in-flight = %d after Wait, want 0", metrics.inFlight)
	}
	if metrics.maxInFlight < 1 {
		t.Errorf("max in-flight = %d, want >= 1", metrics.maxInFlight)
	}
}

func TestScheduler_SlowRunWarning(t *testing.T) {
	logs := &syncBuffer{}
	reg := registry.New()
	release := make(chan struct{})
	a := &fakeAgent{name: "slow", block: release}
	if _, err := reg.Put("slow", a); err != nil {
		t.Fatalf("put: %v", err)
	}

	s := New(Config{TickInterval: time.Hour, SlowRunWarning: 10 * time.Millisecond}, cronAdapter{p: cron.NewParser()}, reg, &mockReporter{}).
		WithLogger(zerolog.New(logs))
	t.Cleanup(s.Stop)

	done := make(chan domain.Report, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()

	testutil.Eventually(t, time.Second, func() bool {
		return strings.Contains(logs.String(), "slow-run threshold")
	}, "slow-run warning logged")

	close(release)
	r := <-done
	if r.Outcome != domain.OutcomeSuccess {
		t.Errorf("outcome = %s, want success: slow runs must not be cancelled", r.Outcome)
	}
}

func TestScheduler_ParentContextCancel_StopsLoop(t *testing.T) {
	s := New(Config{TickInterval: time.Hour}, cronAdapter{p: cron.NewParser()}, registry.New(), &mockReporter{})
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	cancel()
	testutil.Eventually(t, time.Second, func() bool { return !s.Running() }, "scheduler left running state")

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !s.Running() {
		t.Error("Running() = false after restart")
	}
	s.Stop()
}

func TestScheduler_TickerDrivesFirings(t *testing.T) {
	reg := registry.New()
	a := &fakeAgent{name: "ad"}
	if _, err := reg.Put("ad", a); err != nil {
		t.Fatalf("put: %v", err)
	}
	clock := testutil.NewFakeClock(testStart)
	s := New(Config{TickInterval: 5 * time.Millisecond}, cronAdapter{p: cron.NewParser()}, reg, &mockReporter{})
	s.clock = clock.Now
	if err := s.Register("ad", "AD", domain.HourlyAt(0), "ad"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Start(testutil.TestContext(t)); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	clock.Advance(time.Hour)
	testutil.Eventually(t, time.Second, func() bool { return a.calls.Load() == 1 }, "ticker fired due trigger")

	time.Sleep(30 * time.Millisecond)
	if got := a.calls.Load(); got != 1 {
		t.Errorf("agent ran %d times, want exactly 1", got)
	}
}

func TestScheduler_Register_Validation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name    string
		id      string
		cadence domain.Cadence
		key     string
	}{
		{"empty id", "", domain.HourlyAt(0), "ad"},
		{"empty key", "t", domain.HourlyAt(0), ""},
		{"bad cadence", "t", domain.DailyAt(25, 0), "ad"},
		{"bad expression", "t", domain.CronExpr("not a cron"), "ad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.sched.Register(tt.id, tt.name, tt.cadence, tt.key); err == nil {
				t.Error("expected error")
			}
		})
	}

	s := New(Config{TickInterval: time.Second}, failParser{}, registry.New(), &mockReporter{})
	if err := s.Register("t", "T", domain.HourlyAt(0), "ad"); err == nil || !strings.Contains(err.Error(), "unsupported cadence") {
		t.Errorf("expected parser error, got %v", err)
	}
}

func TestScheduler_EmptyTimezone_DefaultsUTC(t *testing.T) {
	s := New(Config{TickInterval: time.Second}, cronAdapter{p: cron.NewParser()}, registry.New(), &mockReporter{})
	if s.config.Timezone != "UTC" {
		t.Errorf("timezone = %q, want UTC", s.config.Timezone)
	}
}

func TestScheduler_TimezoneCadence(t *testing.T) {
	reg := registry.New()
	a := &fakeAgent{name: "pred"}
	if _, err := reg.Put(domain.AgentKeyPredictive, a); err != nil {
		t.Fatalf("put: %v", err)
	}
	clock := testutil.NewFakeClock(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	s := New(Config{TickInterval: time.Hour, Timezone: "Asia/Tokyo"}, cronAdapter{p: cron.NewParser()}, reg, &mockReporter{})
	s.clock = clock.Now
	if err := s.Register("pred", "Pred", domain.DailyAt(2, 0), domain.AgentKeyPredictive); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Start(testutil.TestContext(t)); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	// 02:00 Tokyo is 17:00 UTC the previous day; next after 00:00 UTC is 17:00 UTC.
	want := time.Date(2026, 1, 5, 17, 0, 0, 0, time.UTC)
	if next := s.Triggers()[0].Next; !next.Equal(want) {
		t.Errorf("next = %s, want %s", next.UTC(), want)
	}
}

func TestAgentExecutionError_Unwrap(t *testing.T) {
	cause := errors.New("db down")
	err := error(&AgentExecutionError{Key: "dq_agent", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the agent's error")
	}
	var execErr *AgentExecutionError
	if !errors.As(err, &execErr) || execErr.Key != "dq_agent" {
		t.Errorf("errors.As failed: %v", err)
	}
}
