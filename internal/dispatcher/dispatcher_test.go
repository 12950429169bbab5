package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/circuitbreaker"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
)

// mockSink records writes and fails while err is set.
type mockSink struct {
	name string

	mu      sync.Mutex
	err     error
	reports []domain.Report
	calls   int
}

func (s *mockSink) Name() string { return s.name }

func (s *mockSink) Write(ctx context.Context, r domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.reports = append(s.reports, r)
	return nil
}

func (s *mockSink) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *mockSink) written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func (s *mockSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// mockDispatcherMetrics records sink write statuses.
type mockDispatcherMetrics struct {
	mu       sync.Mutex
	statuses map[string][]string
	open     map[string]bool
}

func newMockDispatcherMetrics() *mockDispatcherMetrics {
	return &mockDispatcherMetrics{statuses: make(map[string][]string), open: make(map[string]bool)}
}

func (m *mockDispatcherMetrics) SinkWriteCompleted(sink, status string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[sink] = append(m.statuses[sink], status)
}

func (m *mockDispatcherMetrics) BreakerStateUpdate(sink string, open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[sink] = open
}

func newReport(outcome domain.Outcome) domain.Report {
	return domain.Report{
		ID:          uuid.New(),
		TriggerID:   "anomaly_detection",
		TriggerName: "Anomaly detection",
		TargetKey:   domain.AgentKeyAnomaly,
		Outcome:     outcome,
		ScheduledAt: time.Date(2026, 1, 5, 1, 0, 0, 0, time.UTC),
		Timestamp:   time.Date(2026, 1, 5, 1, 0, 2, 0, time.UTC),
		Duration:    2 * time.Second,
	}
}

func TestDispatcher_FansOutToEverySink(t *testing.T) {
	a := &mockSink{name: "a"}
	b := &mockSink{name: "b"}
	d := New(a, b)

	if err := d.Dispatch(context.Background(), newReport(domain.OutcomeSuccess)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if a.written() != 1 || b.written() != 1 {
		t.Errorf("writes a=%d b=%d, want 1 each", a.written(), b.written())
	}
	if got := strings.Join(d.Sinks(), ","); got != "a,b" {
		t.Errorf("Sinks() = %s, want a,b", got)
	}
}

func TestDispatcher_FailingSinkDoesNotBlockOthers(t *testing.T) {
	bad := &mockSink{name: "bad", err: errors.New("disk full")}
	good := &mockSink{name: "good"}
	d := New(bad, good)

	err := d.Dispatch(context.Background(), newReport(domain.OutcomeAgentError))
	if err == nil {
		t.Fatal("expected error from failing sink")
	}
	if !strings.Contains(err.Error(), "bad: disk full") {
		t.Errorf("error = %q, want sink name and cause", err)
	}
	if good.written() != 1 {
		t.Errorf("good sink wrote %d reports, want 1", good.written())
	}
}

func TestDispatcher_BreakerSkipsOpenSink(t *testing.T) {
	flaky := &mockSink{name: "flaky", err: errors.New("timeout")}
	metrics := newMockDispatcherMetrics()
	d := New(flaky).
		WithBreaker(circuitbreaker.New(2, time.Hour)).
		WithMetrics(metrics)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		d.Dispatch(ctx, newReport(domain.OutcomeSuccess))
	}

	if got := flaky.callCount(); got != 2 {
		t.Errorf("flaky sink called %d times, want 2 (breaker opens after threshold)", got)
	}

	err := d.Dispatch(ctx, newReport(domain.OutcomeSuccess))
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	want := []string{"failed", "failed", "rejected", "rejected", "rejected"}
	if strings.Join(metrics.statuses["flaky"], ",") != strings.Join(want, ",") {
		t.Errorf("statuses = %v, want %v", metrics.statuses["flaky"], want)
	}
	if !metrics.open["flaky"] {
		t.Error("breaker state should be reported open")
	}
}

func TestDispatcher_Run_ProcessesUntilClosed(t *testing.T) {
	sink := &mockSink{name: "s"}
	d := New(sink)
	ch := make(chan domain.Report, 3)
	for i := 0; i < 3; i++ {
		ch <- newReport(domain.OutcomeSuccess)
	}
	close(ch)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}
	if sink.written() != 3 {
		t.Errorf("wrote %d reports, want 3", sink.written())
	}
}

func TestDispatcher_Run_DrainsOnCancel(t *testing.T) {
	sink := &mockSink{name: "s"}
	d := New(sink).WithDrainTimeout(time.Second)
	ch := make(chan domain.Report, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		ch <- newReport(domain.OutcomeSuccess)
	}

	d.Run(ctx, ch)

	// Run may consume some reports before observing cancellation; the
	// drain must pick up the rest.
	if sink.written() != 5 {
		t.Errorf("wrote %d reports, want 5", sink.written())
	}
}

func TestLogSink_WritesStructuredEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	r := newReport(domain.OutcomeAgentMissing)
	r.Detail = `agent "ad_agent" not found in registry`
	if err := sink.Write(context.Background(), r); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"level":"error"`, `"trigger_id":"anomaly_detection"`, `"outcome":"agent_missing"`, `"detail":`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
	if sink.Name() != "log" {
		t.Errorf("Name() = %q, want log", sink.Name())
	}
}

func TestLogSink_LevelByOutcome(t *testing.T) {
	tests := []struct {
		outcome domain.Outcome
		level   string
	}{
		{domain.OutcomeSuccess, "info"},
		{domain.OutcomeSkipped, "warn"},
		{domain.OutcomeAgentError, "error"},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			var buf bytes.Buffer
			NewLogSink(zerolog.New(&buf)).Write(context.Background(), newReport(tt.outcome))
			if !strings.Contains(buf.String(), `"level":"`+tt.level+`"`) {
				t.Errorf("got %s, want level %s", buf.String(), tt.level)
			}
		})
	}
}
