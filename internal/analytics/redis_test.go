package analytics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
)

func TestTruncateToBucket(t *testing.T) {
	ts := time.Date(2026, 3, 9, 14, 37, 12, 0, time.UTC)

	tests := []struct {
		window time.Duration
		want   string
	}{
		{time.Minute, "202603091437"},
		{5 * time.Minute, "202603091435"},
		{time.Hour, "2026030914"},
		{24 * time.Hour, "20260309"},
		{7 * time.Minute, "202603091437"},
	}
	for _, tt := range tests {
		t.Run(tt.window.String(), func(t *testing.T) {
			if got := truncateToBucket(ts, tt.window); got != tt.want {
				t.Errorf("truncateToBucket(%s) = %s, want %s", tt.window, got, tt.want)
			}
		})
	}
}

func TestTruncateToBucket_ConvertsToUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	ts := time.Date(2026, 3, 10, 2, 0, 0, 0, tokyo)
	if got := truncateToBucket(ts, time.Hour); got != "2026030917" {
		t.Errorf("got %s, want 2026030917", got)
	}
}

func TestBuildKey(t *testing.T) {
	ts := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)
	got := buildKey("anomaly_detection", domain.OutcomeAgentError, ts, time.Hour)
	want := "opsagents:t:anomaly_detection:agent_error:2026030914"
	if got != want {
		t.Errorf("buildKey = %s, want %s", got, want)
	}
}

func TestNewRedisSink_Defaults(t *testing.T) {
	s := NewRedisSink(nil, domain.AnalyticsConfig{Enabled: true})
	if s.config.Window != time.Hour {
		t.Errorf("window = %s, want 1h", s.config.Window)
	}
	if s.config.Retention != time.Hour {
		t.Errorf("retention = %s, want at least the window", s.config.Retention)
	}
	if s.Name() != "analytics" {
		t.Errorf("Name() = %q", s.Name())
	}
}

func TestRedisSink_Disabled_NoClientCalls(t *testing.T) {
	// A nil client would panic if touched.
	s := NewRedisSink(nil, domain.AnalyticsConfig{Enabled: false})
	if err := s.Write(context.Background(), domain.Report{TriggerID: "x", Outcome: domain.OutcomeSuccess}); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

// Runs against a real server when REDIS_TEST_ADDR is set.
func TestRedisSink_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	trigger := "it_" + uuid.NewString()
	s := NewRedisSink(client, domain.AnalyticsConfig{Enabled: true, Window: time.Hour, Retention: time.Hour})
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	at := time.Now().UTC()
	for _, o := range []domain.Outcome{domain.OutcomeSuccess, domain.OutcomeSuccess, domain.OutcomeAgentError} {
		if err := s.Write(ctx, domain.Report{TriggerID: trigger, Outcome: o, ScheduledAt: at}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	counts, err := s.Counts(ctx, trigger, at)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[domain.OutcomeSuccess] != 2 || counts[domain.OutcomeAgentError] != 1 || counts[domain.OutcomeSkipped] != 0 {
		t.Errorf("counts = %v", counts)
	}

	ttl, err := client.TTL(ctx, buildKey(trigger, domain.OutcomeSuccess, at, time.Hour)).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("ttl = %s, want (0, 1h]", ttl)
	}
}
