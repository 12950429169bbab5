package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const queryMetricNames = `SELECT DISTINCT name FROM metrics ORDER BY name`

const queryMetricWindow = `
SELECT COUNT(value) AS n, AVG(value) AS avg
FROM metrics
WHERE name = $1 AND recorded_at >= $2
`

const queryInsertPrediction = `
INSERT INTO predictions (metric, predicted_value, sample_size, window_seconds, created_at)
VALUES ($1, $2, $3, $4, $5)
`

// Predictive forecasts each metric as its trailing-window mean.
type Predictive struct {
	base
	metrics []string
	window  time.Duration
}

func NewPredictive(gw Gateway, s PredictiveSettings, logger zerolog.Logger) *Predictive {
	return &Predictive{base: newBase("predictive", gw, logger), metrics: s.Metrics, window: s.Window}
}

func (a *Predictive) Run(ctx context.Context) error {
	startedAt := a.now()
	return a.record(startedAt, a.run(ctx, startedAt))
}

func (a *Predictive) run(ctx context.Context, now time.Time) error {
	metrics := a.metrics
	if len(metrics) == 0 {
		names, err := a.gateway.Query(ctx, queryMetricNames)
		if err != nil {
			return fmt.Errorf("list metrics: %w", err)
		}
		for i := 0; i < names.Len(); i++ {
			metrics = append(metrics, names.String(i, "name"))
		}
	}

	since := now.Add(-a.window)
	for _, m := range metrics {
		res, err := a.gateway.Query(ctx, queryMetricWindow, m, since)
		if err != nil {
			return fmt.Errorf("window %s: %w", m, err)
		}
		n, err := res.Int(0, "n")
		if err != nil {
			return fmt.Errorf("window %s: %w", m, err)
		}
		avg, ok, err := res.Float(0, "avg")
		if err != nil {
			return fmt.Errorf("window %s: %w", m, err)
		}
		if n == 0 || !ok {
			a.logger.Debug().Str("metric", m).Msg("predictive: no samples in window")
			continue
		}

		if _, err := a.gateway.Update(ctx, queryInsertPrediction,
			m, avg, n, int64(a.window/time.Second), now); err != nil {
			return fmt.Errorf("record %s: %w", m, err)
		}
	}
	return nil
}
