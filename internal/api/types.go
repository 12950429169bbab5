package api

import "time"

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Agents     map[string]bool   `json:"agents,omitempty"`
}

type AgentResponse struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Healthy   *bool  `json:"healthy,omitempty"` // nil until the monitor has checked it
	CheckedAt string `json:"checked_at,omitempty"`
	Runs      int    `json:"runs"`
	LastRun   string `json:"last_run,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

type ListAgentsResponse struct {
	Agents []AgentResponse `json:"agents"`
}

type TriggerResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Cadence string `json:"cadence"`
	Target  string `json:"target"`
	NextAt  string `json:"next_at,omitempty"`
	Busy    bool   `json:"busy"`
}

type ListTriggersResponse struct {
	Running  bool              `json:"running"`
	Triggers []TriggerResponse `json:"triggers"`
}

type ReportResponse struct {
	ID          string `json:"id"`
	TriggerID   string `json:"trigger_id"`
	TriggerName string `json:"trigger_name,omitempty"`
	Agent       string `json:"agent"`
	Outcome     string `json:"outcome"`
	ScheduledAt string `json:"scheduled_at"`
	Timestamp   string `json:"timestamp"`
	DurationMS  int64  `json:"duration_ms"`
	Detail      string `json:"detail,omitempty"`
}

type ListRunsResponse struct {
	Runs []ReportResponse `json:"runs"`
}

type ResetResponse struct {
	Agent  string `json:"agent"`
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// formatTime renders t as RFC 3339 UTC; the zero time renders empty.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
