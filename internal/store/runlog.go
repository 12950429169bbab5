package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
)

// RunLog persists firing reports to agent_runs. Dashboard pages read the
// table to show agent log status.
type RunLog struct {
	db        *sql.DB
	opTimeout time.Duration
}

func NewRunLog(db *sql.DB, opTimeout time.Duration) *RunLog {
	return &RunLog{db: db, opTimeout: opTimeout}
}

func (l *RunLog) Name() string {
	return "runlog"
}

// Write inserts one report row.
func (l *RunLog) Write(ctx context.Context, r domain.Report) error {
	if l.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opTimeout)
		defer cancel()
	}

	_, err := l.db.ExecContext(ctx, queryInsertRun,
		r.ID.String(),
		r.TriggerID,
		r.TriggerName,
		r.TargetKey,
		string(r.Outcome),
		r.ScheduledAt.UTC(),
		r.Timestamp.UTC(),
		r.Duration.Milliseconds(),
		r.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecentRuns returns the newest reports first. An empty agent lists all agents.
func (l *RunLog) RecentRuns(ctx context.Context, agent string, limit int) ([]domain.Report, error) {
	if l.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opTimeout)
		defer cancel()
	}

	var (
		rows *sql.Rows
		err  error
	)
	if agent == "" {
		rows, err = l.db.QueryContext(ctx, queryListRuns, limit)
	} else {
		rows, err = l.db.QueryContext(ctx, queryListRunsByAgent, agent, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []domain.Report
	for rows.Next() {
		var (
			r          domain.Report
			id         string
			outcome    string
			durationMs int64
		)
		err := rows.Scan(
			&id,
			&r.TriggerID,
			&r.TriggerName,
			&r.TargetKey,
			&outcome,
			&r.ScheduledAt,
			&r.Timestamp,
			&durationMs,
			&r.Detail,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := r.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, fmt.Errorf("run id %q: %w", id, err)
		}
		r.Outcome = domain.Outcome(outcome)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		result = append(result, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
