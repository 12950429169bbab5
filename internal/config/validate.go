package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// duration checks that s parses and is positive, or non-negative when allowZero.
func (e *ValidationErrors) duration(field, s string, allowZero bool) {
	if s == "" {
		return
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		e.add(field, "invalid duration: %v", err)
	case d < 0 || (d == 0 && !allowZero):
		if allowZero {
			e.add(field, "must not be negative")
		} else {
			e.add(field, "must be positive")
		}
	}
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs.add("DATABASE_URL", "required")
	}

	switch cfg.DatabaseDriver {
	case "", "postgres", "sqlite":
	default:
		errs.add("DATABASE_DRIVER", "must be 'postgres' or 'sqlite', got %q", cfg.DatabaseDriver)
	}

	errs.duration("TICK_INTERVAL", cfg.TickIntervalStr, false)
	errs.duration("SLOW_RUN_WARNING", cfg.SlowRunWarningStr, true)
	errs.duration("DB_OP_TIMEOUT", cfg.DBOpTimeoutStr, true)
	errs.duration("DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr, true)
	errs.duration("DB_CONN_MAX_IDLE_TIME", cfg.DBConnMaxIdleTimeStr, true)
	errs.duration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr, false)
	errs.duration("DISPATCHER_DRAIN_TIMEOUT", cfg.DispatcherDrainTimeoutStr, false)
	errs.duration("HEALTH_INTERVAL", cfg.HealthIntervalStr, false)
	errs.duration("CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr, false)
	errs.duration("ALERT_WEBHOOK_TIMEOUT", cfg.AlertWebhookTimeoutStr, false)
	errs.duration("ANALYTICS_RETENTION", cfg.AnalyticsRetentionStr, false)

	if cfg.SchedulerTimezone != "" {
		if _, err := time.LoadLocation(cfg.SchedulerTimezone); err != nil {
			errs.add("SCHEDULER_TIMEZONE", "unknown timezone %q", cfg.SchedulerTimezone)
		}
	}

	if cfg.MetricsPort != "" {
		if p, err := strconv.Atoi(cfg.MetricsPort); err != nil || p < 1 || p > 65535 {
			errs.add("METRICS_PORT", "must be a port number, got %q", cfg.MetricsPort)
		}
	}

	if cfg.AlertWebhookSecret != "" && cfg.AlertWebhookURL == "" {
		errs.add("ALERT_WEBHOOK_SECRET", "set without ALERT_WEBHOOK_URL")
	}

	if cfg.AgentsConfig != "" {
		if _, err := os.Stat(cfg.AgentsConfig); err != nil {
			errs.add("AGENTS_CONFIG", "cannot read file: %v", err)
		}
	}

	if cfg.LogLevel != "" {
		if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
			errs.add("LOG_LEVEL", "unknown level %q", cfg.LogLevel)
		}
	}

	switch cfg.LogFormat {
	case "", "json", "console":
	default:
		errs.add("LOG_FORMAT", "must be 'json' or 'console', got %q", cfg.LogFormat)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
