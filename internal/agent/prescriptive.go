package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const queryLatestPrediction = `
SELECT predicted_value
FROM predictions
WHERE metric = $1
ORDER BY created_at DESC
LIMIT 1
`

const queryInsertRecommendation = `
INSERT INTO recommendations (metric, predicted_value, target, message, created_at)
VALUES ($1, $2, $3, $4, $5)
`

// Prescriptive turns forecasts that exceed their targets into recommendations.
type Prescriptive struct {
	base
	targets []Target
}

func NewPrescriptive(gw Gateway, s PrescriptiveSettings, logger zerolog.Logger) *Prescriptive {
	return &Prescriptive{base: newBase("prescriptive", gw, logger), targets: s.Targets}
}

func (a *Prescriptive) Run(ctx context.Context) error {
	startedAt := a.now()
	return a.record(startedAt, a.run(ctx, startedAt))
}

func (a *Prescriptive) run(ctx context.Context, now time.Time) error {
	for _, t := range a.targets {
		res, err := a.gateway.Query(ctx, queryLatestPrediction, t.Metric)
		if err != nil {
			return fmt.Errorf("latest prediction %s: %w", t.Metric, err)
		}
		predicted, ok, err := res.Float(0, "predicted_value")
		if err != nil {
			return fmt.Errorf("latest prediction %s: %w", t.Metric, err)
		}
		if !ok || predicted <= t.Max {
			continue
		}

		msg := fmt.Sprintf("forecast %.2f for %s exceeds target %.2f; review capacity or thresholds",
			predicted, t.Metric, t.Max)
		if _, err := a.gateway.Update(ctx, queryInsertRecommendation,
			t.Metric, predicted, t.Max, msg, now); err != nil {
			return fmt.Errorf("record %s: %w", t.Metric, err)
		}
		a.logger.Info().Str("metric", t.Metric).Float64("predicted", predicted).Msg("prescriptive: recommendation issued")
	}
	return nil
}
