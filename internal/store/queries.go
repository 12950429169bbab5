package store

var schema = []string{
	`CREATE TABLE IF NOT EXISTS metrics (
    name        TEXT NOT NULL,
    value       DOUBLE PRECISION,
    recorded_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS data_quality_checks (
    table_name  TEXT NOT NULL,
    column_name TEXT NOT NULL,
    total_rows  BIGINT NOT NULL,
    null_rows   BIGINT NOT NULL,
    score       DOUBLE PRECISION NOT NULL,
    checked_at  TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS predictions (
    metric          TEXT NOT NULL,
    predicted_value DOUBLE PRECISION NOT NULL,
    sample_size     BIGINT NOT NULL,
    window_seconds  BIGINT NOT NULL,
    created_at      TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS recommendations (
    metric          TEXT NOT NULL,
    predicted_value DOUBLE PRECISION NOT NULL,
    target          DOUBLE PRECISION NOT NULL,
    message         TEXT NOT NULL,
    created_at      TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS anomalies (
    metric      TEXT NOT NULL,
    value       DOUBLE PRECISION NOT NULL,
    lower_bound DOUBLE PRECISION NOT NULL,
    upper_bound DOUBLE PRECISION NOT NULL,
    recorded_at TIMESTAMP NOT NULL,
    detected_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS agent_runs (
    id           TEXT PRIMARY KEY,
    trigger_id   TEXT NOT NULL,
    trigger_name TEXT NOT NULL,
    agent        TEXT NOT NULL,
    outcome      TEXT NOT NULL,
    scheduled_at TIMESTAMP NOT NULL,
    finished_at  TIMESTAMP NOT NULL,
    duration_ms  BIGINT NOT NULL,
    detail       TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS agent_runs_agent_finished_idx ON agent_runs (agent, finished_at)`,
}

const queryInsertRun = `
INSERT INTO agent_runs (id, trigger_id, trigger_name, agent, outcome, scheduled_at, finished_at, duration_ms, detail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryListRuns = `
SELECT id, trigger_id, trigger_name, agent, outcome, scheduled_at, finished_at, duration_ms, detail
FROM agent_runs
ORDER BY finished_at DESC
LIMIT $1
`

const queryListRunsByAgent = `
SELECT id, trigger_id, trigger_name, agent, outcome, scheduled_at, finished_at, duration_ms, detail
FROM agent_runs
WHERE agent = $1
ORDER BY finished_at DESC
LIMIT $2
`
