// Package monitor periodically health-checks every agent in the registry.
//
// Each cycle calls HealthCheck on the live instance behind every key, so a
// replaced agent is checked from the next cycle on. Results feed the
// agent_healthy gauge and the ops API; transitions between healthy and
// unhealthy are logged once.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/registry"
)

// Registry is the read side of the agent registry.
type Registry interface {
	Keys() []string
	Get(key string) (registry.Agent, bool)
}

// MetricsSink receives per-agent health. Must be non-blocking.
type MetricsSink interface {
	AgentHealthUpdate(agent string, healthy bool)
}

// Config holds monitor configuration.
type Config struct {
	// Interval is how often the monitor runs.
	// Default: 30 seconds.
	Interval time.Duration

	// CheckTimeout bounds a single HealthCheck call.
	// Default: 5 seconds.
	CheckTimeout time.Duration
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		CheckTimeout: 5 * time.Second,
	}
}

// Status is the last observed health of one agent.
type Status struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	Since     time.Time `json:"since"` // start of the current healthy/unhealthy streak
}

type Monitor struct {
	config   Config
	registry Registry
	metrics  MetricsSink // optional, nil = disabled
	logger   zerolog.Logger
	clock    func() time.Time

	mu     sync.RWMutex
	status map[string]Status
}

func New(config Config, reg Registry) *Monitor {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = def.CheckTimeout
	}
	return &Monitor{
		config:   config,
		registry: reg,
		logger:   zerolog.Nop(),
		clock:    time.Now,
		status:   make(map[string]Status),
	}
}

func (m *Monitor) WithMetrics(sink MetricsSink) *Monitor {
	m.metrics = sink
	return m
}

func (m *Monitor) WithLogger(logger zerolog.Logger) *Monitor {
	m.logger = logger
	return m
}

// Run starts the check loop. It blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.logger.Info().
		Dur("interval", m.config.Interval).
		Dur("check_timeout", m.config.CheckTimeout).
		Msg("monitor: started")

	// Run immediately on startup, then on ticker
	m.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("monitor: stopped")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one health sweep over the registry and returns the result per key.
func (m *Monitor) Check(ctx context.Context) map[string]bool {
	keys := m.registry.Keys()
	results := make(map[string]bool, len(keys))

	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		agent, ok := m.registry.Get(key)
		if !ok {
			continue
		}
		results[key] = m.checkOne(ctx, key, agent)
	}

	now := m.clock().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, healthy := range results {
		prev, seen := m.status[key]
		st := Status{Healthy: healthy, CheckedAt: now, Since: prev.Since}
		if !seen || prev.Healthy != healthy {
			st.Since = now
			if seen {
				ev := m.logger.Warn()
				if healthy {
					ev = m.logger.Info()
				}
				ev.Str("agent", key).Bool("healthy", healthy).Msg("monitor: health changed")
			} else if !healthy {
				m.logger.Warn().Str("agent", key).Msg("monitor: agent unhealthy")
			}
		}
		m.status[key] = st

		if m.metrics != nil {
			m.metrics.AgentHealthUpdate(key, healthy)
		}
	}

	for key := range m.status {
		if _, ok := results[key]; !ok && ctx.Err() == nil {
			delete(m.status, key)
		}
	}

	return results
}

func (m *Monitor) checkOne(ctx context.Context, key string, agent registry.Agent) (healthy bool) {
	checkCtx, cancel := context.WithTimeout(ctx, m.config.CheckTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("agent", key).Err(fmt.Errorf("panic: %v", r)).Msg("monitor: health check panicked")
			healthy = false
		}
	}()

	return agent.HealthCheck(checkCtx)
}

// Snapshot returns a copy of the last observed status per agent.
func (m *Monitor) Snapshot() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.status))
	for k, v := range m.status {
		out[k] = v
	}
	return out
}

// Healthy reports whether every agent passed its last check.
// It is false before the first check completes.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.status) == 0 {
		return false
	}
	for _, st := range m.status {
		if !st.Healthy {
			return false
		}
	}
	return true
}
