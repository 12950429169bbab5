package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/agent"
)

// Config holds all configuration for agentd.
// Values are loaded from environment variables; see `agentd --help` for the full list.
type Config struct {
	DatabaseURL    string `json:"database_url"`
	DatabaseDriver string `json:"database_driver"`
	RedisAddr      string `json:"redis_addr,omitempty"`
	HTTPAddr       string `json:"http_addr"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	SchedulerTimezone string `json:"scheduler_timezone"`

	// SlowRunWarning: 0 disables the slow-run warning.
	SlowRunWarning    time.Duration `json:"-"`
	SlowRunWarningStr string        `json:"slow_run_warning"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout       time.Duration `json:"-"`
	HTTPShutdownTimeoutStr    string        `json:"http_shutdown_timeout"`
	DispatcherDrainTimeout    time.Duration `json:"-"`
	DispatcherDrainTimeoutStr string        `json:"dispatcher_drain_timeout"`

	EventBusBufferSize int `json:"eventbus_buffer_size"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	// MetricsPort serves metrics on a dedicated listener; empty shares HTTP_ADDR.
	MetricsPort string `json:"metrics_port,omitempty"`

	HealthInterval    time.Duration `json:"-"`
	HealthIntervalStr string        `json:"health_interval"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	AlertWebhookURL        string        `json:"alert_webhook_url,omitempty"`
	AlertWebhookSecret     string        `json:"-"`
	AlertWebhookTimeout    time.Duration `json:"-"`
	AlertWebhookTimeoutStr string        `json:"alert_webhook_timeout"`

	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	AgentsConfig            string `json:"agents_config,omitempty"`
	TriggersDisableDefaults bool   `json:"triggers_disable_defaults"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		DatabaseDriver:          envOr("DATABASE_DRIVER", "postgres"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		HTTPAddr:                os.Getenv("HTTP_ADDR"),
		SchedulerTimezone:       envOr("SCHEDULER_TIMEZONE", "UTC"),
		MetricsEnabled:          os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:             envOr("METRICS_PATH", "/metrics"),
		MetricsPort:             os.Getenv("METRICS_PORT"),
		AlertWebhookURL:         os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWebhookSecret:      os.Getenv("ALERT_WEBHOOK_SECRET"),
		AgentsConfig:            os.Getenv("AGENTS_CONFIG"),
		TriggersDisableDefaults: os.Getenv("TRIGGERS_DISABLE_DEFAULTS") == "true",
		LogLevel:                strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat:               strings.ToLower(envOr("LOG_FORMAT", "json")),

		TickIntervalStr:           envOr("TICK_INTERVAL", "1s"),
		SlowRunWarningStr:         envOr("SLOW_RUN_WARNING", "5m"),
		DBOpTimeoutStr:            envOr("DB_OP_TIMEOUT", "5s"),
		DBConnMaxLifetimeStr:      envOr("DB_CONN_MAX_LIFETIME", "30m"),
		DBConnMaxIdleTimeStr:      envOr("DB_CONN_MAX_IDLE_TIME", "5m"),
		HTTPShutdownTimeoutStr:    envOr("HTTP_SHUTDOWN_TIMEOUT", "10s"),
		DispatcherDrainTimeoutStr: envOr("DISPATCHER_DRAIN_TIMEOUT", "30s"),
		HealthIntervalStr:         envOr("HEALTH_INTERVAL", "30s"),
		CircuitBreakerCooldownStr: envOr("CIRCUIT_BREAKER_COOLDOWN", "2m"),
		AlertWebhookTimeoutStr:    envOr("ALERT_WEBHOOK_TIMEOUT", "10s"),
		AnalyticsRetentionStr:     envOr("ANALYTICS_RETENTION", "168h"),
	}

	// Support the platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	cfg.EventBusBufferSize = positiveInt("EVENTBUS_BUFFER_SIZE", 100)
	cfg.DBMaxOpenConns = positiveInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = positiveInt("DB_MAX_IDLE_CONNS", 5)

	cfg.CircuitBreakerThreshold = 5
	if s := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Warn().Str("value", s).Msg("config: invalid CIRCUIT_BREAKER_THRESHOLD, using default 5")
		}
	}

	// Parse durations; validation is handled separately by Validate().
	for _, d := range []struct {
		str string
		dst *time.Duration
	}{
		{cfg.TickIntervalStr, &cfg.TickInterval},
		{cfg.SlowRunWarningStr, &cfg.SlowRunWarning},
		{cfg.DBOpTimeoutStr, &cfg.DBOpTimeout},
		{cfg.DBConnMaxLifetimeStr, &cfg.DBConnMaxLifetime},
		{cfg.DBConnMaxIdleTimeStr, &cfg.DBConnMaxIdleTime},
		{cfg.HTTPShutdownTimeoutStr, &cfg.HTTPShutdownTimeout},
		{cfg.DispatcherDrainTimeoutStr, &cfg.DispatcherDrainTimeout},
		{cfg.HealthIntervalStr, &cfg.HealthInterval},
		{cfg.CircuitBreakerCooldownStr, &cfg.CircuitBreakerCooldown},
		{cfg.AlertWebhookTimeoutStr, &cfg.AlertWebhookTimeout},
		{cfg.AnalyticsRetentionStr, &cfg.AnalyticsRetention},
	} {
		if v, err := time.ParseDuration(d.str); err == nil {
			*d.dst = v
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// positiveInt reads key as a positive integer, logging and falling back on bad input.
func positiveInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		log.Warn().Str("value", s).Int("default", fallback).Msgf("config: invalid %s (must be a positive integer)", key)
		return fallback
	}
	return n
}

// AgentSettings reads the agent settings file named by AGENTS_CONFIG.
// Without a file the built-in defaults apply.
func (c Config) AgentSettings() (agent.Settings, error) {
	if c.AgentsConfig == "" {
		return agent.DefaultSettings(), nil
	}
	data, err := os.ReadFile(c.AgentsConfig)
	if err != nil {
		return agent.Settings{}, fmt.Errorf("read agents config: %w", err)
	}
	return agent.ParseSettings(data)
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.AlertWebhookURL = maskURL(c.AlertWebhookURL)

	out := struct {
		Config
		AlertWebhookSecret string `json:"alert_webhook_secret,omitempty"`
	}{Config: masked}
	if c.AlertWebhookSecret != "" {
		out.AlertWebhookSecret = "***"
	}
	return json.MarshalIndent(out, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://", "file:"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}

// maskURL keeps scheme and host of a webhook URL; paths often embed tokens.
func maskURL(s string) string {
	if s == "" {
		return ""
	}
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return "***"
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host + "/***"
}
