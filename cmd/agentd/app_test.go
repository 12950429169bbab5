package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/agent"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/config"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/cron"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/registry"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/scheduler"
)

type nopReporter struct{}

func (nopReporter) Emit(ctx context.Context, r domain.Report) error { return nil }

func newTestScheduler() *scheduler.Scheduler {
	return scheduler.New(
		scheduler.Config{TickInterval: time.Hour},
		cronParserAdapter{parser: cron.NewParser()},
		registry.New(),
		nopReporter{},
	)
}

func triggerIDs(s *scheduler.Scheduler) []string {
	var ids []string
	for _, ts := range s.Triggers() {
		ids = append(ids, ts.Trigger.ID)
	}
	return ids
}

func TestRegisterTriggers_DefaultsAndExtra(t *testing.T) {
	s := newTestScheduler()
	extra := []agent.TriggerSettings{
		{ID: "prescriptive_review", Cadence: "daily 03:30", Agent: "presc_agent"},
	}

	if err := registerTriggers(s, config.Config{}, extra); err != nil {
		t.Fatalf("registerTriggers: %v", err)
	}

	got := strings.Join(triggerIDs(s), ",")
	want := "data_quality_check,predictive_update,anomaly_detection,prescriptive_review"
	if got != want {
		t.Errorf("triggers = %s, want %s", got, want)
	}

	last := s.Triggers()[3].Trigger
	if last.Name != "prescriptive_review" {
		t.Errorf("name should default to the id, got %q", last.Name)
	}
	if last.Cadence.String() != "daily 03:30" {
		t.Errorf("cadence = %s", last.Cadence)
	}
}

func TestRegisterTriggers_DisableDefaults(t *testing.T) {
	s := newTestScheduler()
	extra := []agent.TriggerSettings{{ID: "fast_anomaly", Name: "Fast anomaly", Cadence: "every 15m", Agent: "ad_agent"}}

	if err := registerTriggers(s, config.Config{TriggersDisableDefaults: true}, extra); err != nil {
		t.Fatalf("registerTriggers: %v", err)
	}
	if ids := triggerIDs(s); len(ids) != 1 || ids[0] != "fast_anomaly" {
		t.Errorf("triggers = %v", ids)
	}
}

func TestRegisterTriggers_ConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		extra []agent.TriggerSettings
	}{
		{"bad cadence", []agent.TriggerSettings{{ID: "x", Cadence: "fortnightly", Agent: "dq_agent"}}},
		{"duplicate of default", []agent.TriggerSettings{{ID: "anomaly_detection", Cadence: "every 1h", Agent: "ad_agent"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registerTriggers(newTestScheduler(), config.Config{}, tt.extra)
			var ee *exitError
			if !errors.As(err, &ee) || ee.code != exitInvalidConfig {
				t.Errorf("error = %v, want invalid config exit", err)
			}
		})
	}
}

func TestValidateTriggers(t *testing.T) {
	ok := []agent.TriggerSettings{{ID: "a", Cadence: "hourly :15", Agent: "ad_agent"}}
	if err := validateTriggers(ok); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := []agent.TriggerSettings{
		{ID: "b", Cadence: "whenever", Agent: "ad_agent"},
		{ID: "c", Cadence: "every 1h", Agent: "ghost_agent"},
	}
	err := validateTriggers(bad)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"trigger b", `unknown agent "ghost_agent"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should contain %q", err.Error(), want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("json honours level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(config.Config{LogLevel: "warn", LogFormat: "json"}, &buf)
		logger.Info().Msg("hidden")
		logger.Warn().Msg("shown")

		out := buf.String()
		if strings.Contains(out, "hidden") || !strings.Contains(out, `"message":"shown"`) {
			t.Errorf("output = %q", out)
		}
		if !strings.Contains(out, `"service":"agentd"`) {
			t.Errorf("missing service field: %q", out)
		}
	})

	t.Run("console format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(config.Config{LogLevel: "info", LogFormat: "console"}, &buf)
		logger.Info().Msg("hello")
		if out := buf.String(); strings.HasPrefix(out, "{") || !strings.Contains(out, "hello") {
			t.Errorf("output = %q, want console line", out)
		}
	})

	t.Run("unknown level defaults to info", func(t *testing.T) {
		logger := newLogger(config.Config{LogLevel: "bogus"}, &bytes.Buffer{})
		if logger.GetLevel() != zerolog.InfoLevel {
			t.Errorf("level = %v", logger.GetLevel())
		}
	})
}

func captureWarnings(cfg config.Config) string {
	var buf bytes.Buffer
	logConfigWarnings(zerolog.New(&buf), cfg)
	return buf.String()
}

func TestLogConfigWarnings_Minimal(t *testing.T) {
	out := captureWarnings(config.Config{DatabaseDriver: "sqlite"})

	for _, want := range []string{
		"METRICS_ENABLED=false",
		"REDIS_ADDR not set",
		"ALERT_WEBHOOK_URL not set",
		"CIRCUIT_BREAKER_THRESHOLD=0",
		"DATABASE_DRIVER=sqlite",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected warning containing %q, got: %s", want, out)
		}
	}
}

func TestLogConfigWarnings_FullyConfigured(t *testing.T) {
	out := captureWarnings(config.Config{
		DatabaseDriver:          "postgres",
		MetricsEnabled:          true,
		RedisAddr:               "localhost:6379",
		AlertWebhookURL:         "https://hooks.example.com/x",
		AlertWebhookSecret:      "s",
		CircuitBreakerThreshold: 5,
	})
	if out != "" {
		t.Errorf("expected no warnings, got: %s", out)
	}
}

func TestLogConfigWarnings_Specific(t *testing.T) {
	base := config.Config{
		DatabaseDriver:          "postgres",
		MetricsEnabled:          true,
		RedisAddr:               "localhost:6379",
		CircuitBreakerThreshold: 5,
	}

	unsigned := base
	unsigned.AlertWebhookURL = "https://hooks.example.com/x"
	if out := captureWarnings(unsigned); !strings.Contains(out, "payloads are unsigned") {
		t.Errorf("expected unsigned webhook warning, got: %s", out)
	}

	noTriggers := base
	noTriggers.AlertWebhookURL = "https://hooks.example.com/x"
	noTriggers.AlertWebhookSecret = "s"
	noTriggers.TriggersDisableDefaults = true
	if out := captureWarnings(noTriggers); !strings.Contains(out, "no trigger will fire") {
		t.Errorf("expected no-trigger warning, got: %s", out)
	}
}

func TestAgentsConfigTriggersValidate(t *testing.T) {
	setEnv(t)
	path := filepath.Join(t.TempDir(), "agents.yaml")
	body := "triggers:\n  - id: nightly\n    cadence: \"cron 0 1 * * *\"\n    agent: ghost_agent\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AGENTS_CONFIG", path)

	var stdout, stderr bytes.Buffer
	if code := execute([]string{"validate"}, &stdout, &stderr); code != exitInvalidConfig {
		t.Fatalf("exit code = %d, want %d (stderr %s)", code, exitInvalidConfig, stderr.String())
	}
	if !strings.Contains(stderr.String(), "ghost_agent") {
		t.Errorf("stderr = %q", stderr.String())
	}
}
