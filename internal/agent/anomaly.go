package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const queryOutOfBounds = `
SELECT value, recorded_at
FROM metrics
WHERE name = $1 AND recorded_at > $2 AND recorded_at <= $3
  AND (value < $4 OR value > $5)
ORDER BY recorded_at
`

const queryInsertAnomaly = `
INSERT INTO anomalies (metric, value, lower_bound, upper_bound, recorded_at, detected_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

// Anomaly flags metric samples outside their configured bounds. Each run
// scans, per metric, the samples recorded since that metric was last
// scanned successfully.
type Anomaly struct {
	base
	thresholds []Threshold
	lookback   time.Duration

	// checkedUntil is keyed by metric name.
	checkedUntil map[string]time.Time
}

func NewAnomaly(gw Gateway, s AnomalySettings, logger zerolog.Logger) *Anomaly {
	return &Anomaly{
		base:         newBase("anomaly", gw, logger),
		thresholds:   s.Thresholds,
		lookback:     s.Lookback,
		checkedUntil: make(map[string]time.Time),
	}
}

func (a *Anomaly) Run(ctx context.Context) error {
	startedAt := a.now()
	return a.record(startedAt, a.run(ctx, startedAt))
}

func (a *Anomaly) run(ctx context.Context, now time.Time) error {
	found := 0
	defer func() {
		if found > 0 {
			a.logger.Info().Int("anomalies", found).Msg("anomaly: out-of-bounds samples recorded")
		}
	}()

	for _, th := range a.thresholds {
		n, err := a.scan(ctx, th, now)
		found += n
		if err != nil {
			return err
		}
	}
	return nil
}

// scan records the out-of-bounds samples of one metric and advances its
// checkpoint once every sample in the window has been recorded.
func (a *Anomaly) scan(ctx context.Context, th Threshold, now time.Time) (int, error) {
	a.mu.Lock()
	since, ok := a.checkedUntil[th.Metric]
	a.mu.Unlock()
	if !ok {
		since = now.Add(-a.lookback)
	}

	res, err := a.gateway.Query(ctx, queryOutOfBounds, th.Metric, since, now, th.Min, th.Max)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", th.Metric, err)
	}
	found := 0
	for i := 0; i < res.Len(); i++ {
		value, _, err := res.Float(i, "value")
		if err != nil {
			return found, fmt.Errorf("scan %s: %w", th.Metric, err)
		}
		if _, err := a.gateway.Update(ctx, queryInsertAnomaly,
			th.Metric, value, th.Min, th.Max, res.Value(i, "recorded_at"), now); err != nil {
			return found, fmt.Errorf("record %s: %w", th.Metric, err)
		}
		found++
	}

	a.mu.Lock()
	a.checkedUntil[th.Metric] = now
	a.mu.Unlock()
	return found, nil
}
