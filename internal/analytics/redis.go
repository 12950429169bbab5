// Package analytics keeps per-trigger outcome counters in Redis, bucketed by
// time window and expired after the configured retention.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
)

const keyPrefix = "opsagents"

type RedisSink struct {
	client redis.Cmdable
	config domain.AnalyticsConfig
}

func NewRedisSink(client redis.Cmdable, config domain.AnalyticsConfig) *RedisSink {
	if config.Window == 0 {
		config.Window = time.Hour
	}
	if config.Retention < config.Window {
		config.Retention = config.Window
	}
	return &RedisSink{client: client, config: config}
}

func (s *RedisSink) Name() string { return "analytics" }

// Write increments the counter for the report's trigger, outcome and bucket.
func (s *RedisSink) Write(ctx context.Context, r domain.Report) error {
	if !s.config.Enabled {
		return nil
	}

	key := buildKey(r.TriggerID, r.Outcome, r.ScheduledAt, s.config.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.Retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Counts returns the per-outcome counters for triggerID in the bucket containing at.
// Outcomes with no firings are reported as zero.
func (s *RedisSink) Counts(ctx context.Context, triggerID string, at time.Time) (map[domain.Outcome]int64, error) {
	outcomes := []domain.Outcome{
		domain.OutcomeSuccess,
		domain.OutcomeAgentMissing,
		domain.OutcomeAgentError,
		domain.OutcomeSkipped,
	}

	keys := make([]string, len(outcomes))
	for i, o := range outcomes {
		keys[i] = buildKey(triggerID, o, at, s.config.Window)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	counts := make(map[domain.Outcome]int64, len(outcomes))
	for i, o := range outcomes {
		counts[o] = 0
		if i >= len(values) || values[i] == nil {
			continue
		}
		var n int64
		if _, err := fmt.Sscan(fmt.Sprint(values[i]), &n); err != nil {
			return nil, fmt.Errorf("counter %s: %w", keys[i], err)
		}
		counts[o] = n
	}
	return counts, nil
}

// Ping checks connectivity.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func buildKey(triggerID string, outcome domain.Outcome, t time.Time, window time.Duration) string {
	return fmt.Sprintf("%s:t:%s:%s:%s", keyPrefix, triggerID, outcome, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	case 24 * time.Hour:
		return t.Format("20060102")
	default:
		return t.Format("200601021504")
	}
}
