package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const queryInsertQualityCheck = `
INSERT INTO data_quality_checks (table_name, column_name, total_rows, null_rows, score, checked_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

// DataQuality measures NULL ratios of configured columns.
type DataQuality struct {
	base
	checks []ColumnCheck
}

func NewDataQuality(gw Gateway, s DataQualitySettings, logger zerolog.Logger) *DataQuality {
	return &DataQuality{base: newBase("data-quality", gw, logger), checks: s.Checks}
}

func (a *DataQuality) Run(ctx context.Context) error {
	startedAt := a.now()
	return a.record(startedAt, a.run(ctx, startedAt))
}

func (a *DataQuality) run(ctx context.Context, now time.Time) error {
	for _, c := range a.checks {
		total, nulls, err := a.measure(ctx, c)
		if err != nil {
			return fmt.Errorf("check %s.%s: %w", c.Table, c.Column, err)
		}

		score := 1.0
		if total > 0 {
			score = 1 - float64(nulls)/float64(total)
		}

		if _, err := a.gateway.Update(ctx, queryInsertQualityCheck,
			c.Table, c.Column, total, nulls, score, now); err != nil {
			return fmt.Errorf("record %s.%s: %w", c.Table, c.Column, err)
		}

		a.logger.Debug().
			Str("table", c.Table).
			Str("column", c.Column).
			Int64("total", total).
			Int64("nulls", nulls).
			Float64("score", score).
			Msg("data-quality: column checked")
	}
	return nil
}

func (a *DataQuality) measure(ctx context.Context, c ColumnCheck) (total, nulls int64, err error) {
	table, err := quoteIdent(c.Table)
	if err != nil {
		return 0, 0, err
	}
	column, err := quoteIdent(c.Column)
	if err != nil {
		return 0, 0, err
	}

	res, err := a.gateway.Query(ctx, fmt.Sprintf(
		`SELECT COUNT(*) AS total, COUNT(%s) AS present FROM %s`, column, table))
	if err != nil {
		return 0, 0, err
	}
	total, err = res.Int(0, "total")
	if err != nil {
		return 0, 0, err
	}
	present, err := res.Int(0, "present")
	if err != nil {
		return 0, 0, err
	}
	return total, total - present, nil
}
