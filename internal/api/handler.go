package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/agent"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/monitor"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/registry"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/scheduler"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

const healthCheckTimeout = 3 * time.Second

type Scheduler interface {
	Running() bool
	Triggers() []scheduler.TriggerStatus
	RunNow(ctx context.Context, targetKey string) domain.Report
}

type Registry interface {
	Keys() []string
	Get(key string) (registry.Agent, bool)
	Put(key string, a registry.Agent) (registry.Agent, error)
}

// AgentFactory builds a fresh agent for a registry key.
type AgentFactory interface {
	Build(key string) (registry.Agent, error)
}

type RunLog interface {
	RecentRuns(ctx context.Context, agent string, limit int) ([]domain.Report, error)
}

// HealthChecker is a dependency probed by verbose /health responses.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type HealthMonitor interface {
	Snapshot() map[string]monitor.Status
}

// statusReporter is implemented by agents that track their last run.
type statusReporter interface {
	Status() agent.Status
}

type Handler struct {
	scheduler Scheduler
	registry  Registry
	factory   AgentFactory  // optional, nil = reset disabled
	runs      RunLog        // optional, nil = /runs disabled
	monitor   HealthMonitor // optional
	checks    map[string]HealthChecker
	logger    zerolog.Logger
}

func NewHandler(s Scheduler, reg Registry) *Handler {
	return &Handler{
		scheduler: s,
		registry:  reg,
		checks:    make(map[string]HealthChecker),
		logger:    zerolog.Nop(),
	}
}

func (h *Handler) WithFactory(f AgentFactory) *Handler {
	h.factory = f
	return h
}

func (h *Handler) WithRunLog(l RunLog) *Handler {
	h.runs = l
	return h
}

func (h *Handler) WithMonitor(m HealthMonitor) *Handler {
	h.monitor = m
	return h
}

// WithHealthChecker adds a named dependency to verbose /health responses.
func (h *Handler) WithHealthChecker(name string, c HealthChecker) *Handler {
	h.checks[name] = c
	return h
}

func (h *Handler) WithLogger(logger zerolog.Logger) *Handler {
	h.logger = logger
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/agents" && r.Method == http.MethodGet:
		h.listAgents(w, r)

	case path == "/triggers" && r.Method == http.MethodGet:
		h.listTriggers(w, r)

	case path == "/runs" && r.Method == http.MethodGet:
		h.listRuns(w, r)

	case strings.HasPrefix(path, "/agents/") && r.Method == http.MethodPost:
		h.agentAction(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	if h.scheduler.Running() {
		resp.Components["scheduler"] = "running"
	} else {
		resp.Status = "degraded"
		resp.Components["scheduler"] = "stopped"
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	for name, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	if h.monitor != nil {
		resp.Agents = make(map[string]bool)
		for key, st := range h.monitor.Snapshot() {
			resp.Agents[key] = st.Healthy
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	var snapshot map[string]monitor.Status
	if h.monitor != nil {
		snapshot = h.monitor.Snapshot()
	}

	resp := ListAgentsResponse{Agents: []AgentResponse{}}
	for _, key := range h.registry.Keys() {
		a, ok := h.registry.Get(key)
		if !ok {
			continue
		}
		ar := AgentResponse{Key: key, Name: a.Name()}
		if st, ok := snapshot[key]; ok {
			healthy := st.Healthy
			ar.Healthy = &healthy
			ar.CheckedAt = formatTime(st.CheckedAt)
		}
		if sr, ok := a.(statusReporter); ok {
			st := sr.Status()
			ar.Runs = st.Runs
			ar.LastRun = formatTime(st.LastRun)
			ar.LastError = st.LastError
		}
		resp.Agents = append(resp.Agents, ar)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listTriggers(w http.ResponseWriter, r *http.Request) {
	triggers := h.scheduler.Triggers()
	resp := ListTriggersResponse{Running: h.scheduler.Running(), Triggers: make([]TriggerResponse, len(triggers))}
	for i, ts := range triggers {
		resp.Triggers[i] = TriggerResponse{
			ID:      ts.Trigger.ID,
			Name:    ts.Trigger.Name,
			Cadence: ts.Trigger.Cadence.String(),
			Target:  ts.Trigger.TargetKey,
			NextAt:  formatTime(ts.Next),
			Busy:    ts.Busy,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotFound, "run log not configured")
		return
	}

	agentKey, limit, err := parseRunsQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reports, err := h.runs.RecentRuns(r.Context(), agentKey, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("api: list runs error")
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := ListRunsResponse{Runs: make([]ReportResponse, len(reports))}
	for i, rep := range reports {
		resp.Runs[i] = NewReportResponse(rep)
	}
	writeJSON(w, http.StatusOK, resp)
}

// agentAction routes POST /agents/{key}/run and POST /agents/{key}/reset.
func (h *Handler) agentAction(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "agents" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	key := parts[1]
	if err := validateAgentKey(key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch parts[2] {
	case "run":
		h.runAgent(w, r, key)
	case "reset":
		h.resetAgent(w, r, key)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) runAgent(w http.ResponseWriter, r *http.Request, key string) {
	report := h.scheduler.RunNow(r.Context(), key)

	status := http.StatusOK
	switch report.Outcome {
	case domain.OutcomeAgentMissing:
		status = http.StatusNotFound
	case domain.OutcomeAgentError:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, NewReportResponse(report))
}

func (h *Handler) resetAgent(w http.ResponseWriter, r *http.Request, key string) {
	if h.factory == nil {
		writeError(w, http.StatusNotImplemented, "agent reset not configured")
		return
	}

	fresh, err := h.factory.Build(key)
	if err != nil {
		if errors.Is(err, agent.ErrUnknownAgent) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		h.logger.Error().Str("agent", key).Err(err).Msg("api: build agent error")
		writeError(w, http.StatusInternalServerError, "failed to build agent")
		return
	}

	previous, err := h.registry.Put(key, fresh)
	if err != nil {
		h.logger.Error().Str("agent", key).Err(err).Msg("api: registry put error")
		writeError(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}

	if c, ok := previous.(io.Closer); ok {
		if err := c.Close(); err != nil {
			h.logger.Warn().Str("agent", key).Err(err).Msg("api: closing replaced agent")
		}
	}

	h.logger.Info().Str("agent", key).Msg("api: agent reset")
	writeJSON(w, http.StatusOK, ResetResponse{Agent: key, Status: "reset"})
}

// NewReportResponse renders a report the way the API returns it.
func NewReportResponse(r domain.Report) ReportResponse {
	return ReportResponse{
		ID:          r.ID.String(),
		TriggerID:   r.TriggerID,
		TriggerName: r.TriggerName,
		Agent:       r.TargetKey,
		Outcome:     string(r.Outcome),
		ScheduledAt: formatTime(r.ScheduledAt),
		Timestamp:   formatTime(r.Timestamp),
		DurationMS:  r.Duration.Milliseconds(),
		Detail:      r.Detail,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already written; an encode error has no channel left.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
