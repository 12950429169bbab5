package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/agent"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/config"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/cron"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/scheduler"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/store"
)

// cronParserAdapter adapts internal/cron.Parser to the scheduler.CronParser interface.
type cronParserAdapter struct {
	parser *cron.Parser
}

func (a cronParserAdapter) Schedule(c domain.Cadence, timezone string) (scheduler.CronSchedule, error) {
	sched, err := a.parser.Schedule(c, timezone)
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// newLogger builds the root logger from LOG_LEVEL and LOG_FORMAT.
func newLogger(cfg config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "agentd").Logger()
}

// openGateway opens the configured database, applies pool settings and the
// schema, and returns the handle with a gateway over it.
func openGateway(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*sql.DB, *store.Gateway, error) {
	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	// sqlite keeps the single connection store.Open configured so that
	// in-memory databases survive.
	if cfg.DatabaseDriver != store.DriverSQLite {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)
	}

	logger.Info().
		Str("driver", cfg.DatabaseDriver).
		Int("max_open", cfg.DBMaxOpenConns).
		Int("max_idle", cfg.DBMaxIdleConns).
		Dur("max_lifetime", cfg.DBConnMaxLifetime).
		Msg("agentd: db pool configured")

	gw := store.New(db, cfg.DBOpTimeout)
	if err := gw.Ping(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := gw.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, gw, nil
}

// triggerRegistrar is the part of the scheduler registerTriggers needs.
type triggerRegistrar interface {
	RegisterDefaults() error
	Register(id, name string, cadence domain.Cadence, targetKey string) error
}

// registerTriggers installs the default triggers (unless disabled) plus the
// extra triggers declared in the agent settings file.
func registerTriggers(s triggerRegistrar, cfg config.Config, extra []agent.TriggerSettings) error {
	if !cfg.TriggersDisableDefaults {
		if err := s.RegisterDefaults(); err != nil {
			return err
		}
	}
	for _, t := range extra {
		cadence, err := cron.ParseCadence(t.Cadence)
		if err != nil {
			return configError(fmt.Errorf("trigger %s: %w", t.ID, err))
		}
		name := t.Name
		if name == "" {
			name = t.ID
		}
		if err := s.Register(t.ID, name, cadence, t.Agent); err != nil {
			if errors.Is(err, scheduler.ErrDuplicateTrigger) {
				return configError(fmt.Errorf("trigger %s: %w", t.ID, err))
			}
			return err
		}
	}
	return nil
}

// validateTriggers checks extra trigger cadences and targets without a scheduler.
func validateTriggers(extra []agent.TriggerSettings) error {
	known := make(map[string]bool)
	for _, key := range (&agent.Builder{}).Keys() {
		known[key] = true
	}

	var errs []error
	for _, t := range extra {
		if _, err := cron.ParseCadence(t.Cadence); err != nil {
			errs = append(errs, fmt.Errorf("trigger %s: %w", t.ID, err))
		}
		if !known[t.Agent] {
			errs = append(errs, fmt.Errorf("trigger %s: unknown agent %q", t.ID, t.Agent))
		}
	}
	return errors.Join(errs...)
}

// logConfigWarnings surfaces configurations that run but lose functionality.
func logConfigWarnings(logger zerolog.Logger, cfg config.Config) {
	if !cfg.MetricsEnabled {
		logger.Warn().Msg("agentd: METRICS_ENABLED=false, no scheduler or sink metrics will be exported")
	}
	if cfg.RedisAddr == "" {
		logger.Info().Msg("agentd: REDIS_ADDR not set, outcome analytics disabled")
	}
	if cfg.AlertWebhookURL == "" {
		logger.Info().Msg("agentd: ALERT_WEBHOOK_URL not set, failed runs only reach the log and run log")
	} else if cfg.AlertWebhookSecret == "" {
		logger.Warn().Msg("agentd: ALERT_WEBHOOK_SECRET not set, alert payloads are unsigned")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		logger.Warn().Msg("agentd: CIRCUIT_BREAKER_THRESHOLD=0, a failing sink is retried on every report")
	}
	if cfg.TriggersDisableDefaults && cfg.AgentsConfig == "" {
		logger.Warn().Msg("agentd: TRIGGERS_DISABLE_DEFAULTS=true without AGENTS_CONFIG, no trigger will fire")
	}
	if cfg.DatabaseDriver == store.DriverSQLite {
		logger.Warn().Msg("agentd: DATABASE_DRIVER=sqlite, intended for development only")
	}
}
