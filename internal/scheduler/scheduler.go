package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/registry"
)

var (
	ErrDuplicateTrigger    = errors.New("trigger already registered")
	ErrInvalidTickInterval = errors.New("tick interval must be positive")
)

// AgentNotFoundError reports a target key with no registry entry at fire time.
type AgentNotFoundError struct {
	Key string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent %q not found in registry", e.Key)
}

// AgentExecutionError wraps a failure raised by an agent's Run.
type AgentExecutionError struct {
	Key string
	Err error
}

func (e *AgentExecutionError) Error() string {
	return fmt.Sprintf("agent %q run failed: %v", e.Key, e.Err)
}

func (e *AgentExecutionError) Unwrap() error {
	return e.Err
}

// Resolver looks up the agent currently registered under a key.
type Resolver interface {
	Get(key string) (registry.Agent, bool)
}

type CronParser interface {
	Schedule(c domain.Cadence, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
}

// Reporter receives one report per firing. Emit must not block for long;
// the scheduler logs and drops reports it cannot emit.
type Reporter interface {
	Emit(ctx context.Context, report domain.Report) error
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, dispatched int)
	FiringCompleted(triggerID string, outcome string, duration time.Duration)
	FiringsInFlightIncr()
	FiringsInFlightDecr()
}

type Config struct {
	TickInterval time.Duration

	// Timezone evaluates calendar cadences. Empty means UTC.
	Timezone string

	// SlowRunWarning logs a warning when a Run exceeds it. Zero disables.
	// The run itself is never cancelled.
	SlowRunWarning time.Duration
}

// maxCatchUp bounds how many missed instants a single trigger replays in one tick.
const maxCatchUp = 1000

type entry struct {
	trigger domain.Trigger
	sched   CronSchedule
	next    time.Time
	busy    atomic.Bool
}

// TriggerStatus is a point-in-time view of a registered trigger.
type TriggerStatus struct {
	Trigger domain.Trigger
	Next    time.Time // zero while stopped
	Busy    bool
}

type Scheduler struct {
	config   Config
	parser   CronParser
	resolver Resolver
	reporter Reporter
	metrics  MetricsSink // optional, nil = disabled
	logger   zerolog.Logger
	clock    func() time.Time

	mu       sync.Mutex
	entries  map[string]*entry
	order    []string
	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	fireCtx  context.Context

	// inflight counts running firings; idle is closed when it drops to zero.
	// Both are guarded by mu.
	inflight int
	idle     chan struct{}
}

func New(config Config, parser CronParser, resolver Resolver, reporter Reporter) *Scheduler {
	if config.Timezone == "" {
		config.Timezone = "UTC"
	}
	return &Scheduler{
		config:   config,
		parser:   parser,
		resolver: resolver,
		reporter: reporter,
		logger:   zerolog.Nop(),
		clock:    time.Now,
		entries:  make(map[string]*entry),
		fireCtx:  context.Background(),
	}
}

// NewWithDefaults creates a scheduler with the default agent triggers registered.
func NewWithDefaults(config Config, parser CronParser, resolver Resolver, reporter Reporter) (*Scheduler, error) {
	s := New(config, parser, resolver, reporter)
	if err := s.RegisterDefaults(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) WithLogger(logger zerolog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// DefaultTriggers returns the triggers registered by RegisterDefaults.
func DefaultTriggers() []domain.Trigger {
	return []domain.Trigger{
		{ID: "data_quality_check", Name: "Data quality check", Cadence: domain.Every(6 * time.Hour), TargetKey: domain.AgentKeyDataQuality},
		{ID: "predictive_update", Name: "Predictive model update", Cadence: domain.DailyAt(2, 0), TargetKey: domain.AgentKeyPredictive},
		{ID: "anomaly_detection", Name: "Anomaly detection", Cadence: domain.HourlyAt(0), TargetKey: domain.AgentKeyAnomaly},
	}
}

func (s *Scheduler) RegisterDefaults() error {
	for _, t := range DefaultTriggers() {
		if err := s.Register(t.ID, t.Name, t.Cadence, t.TargetKey); err != nil {
			return err
		}
	}
	return nil
}

// Register adds a trigger. Registering while running schedules the trigger
// from the current time.
func (s *Scheduler) Register(id, name string, cadence domain.Cadence, targetKey string) error {
	if id == "" {
		return errors.New("trigger id is required")
	}
	if targetKey == "" {
		return fmt.Errorf("trigger %s: target key is required", id)
	}

	sched, err := s.parser.Schedule(cadence, s.config.Timezone)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTrigger, id)
	}

	e := &entry{
		trigger: domain.Trigger{ID: id, Name: name, Cadence: cadence, TargetKey: targetKey},
		sched:   sched,
	}
	if s.running {
		e.next = sched.Next(s.clock().UTC())
	}
	s.entries[id] = e
	s.order = append(s.order, id)

	s.logger.Info().
		Str("trigger_id", id).
		Str("cadence", cadence.String()).
		Str("target", targetKey).
		Msg("scheduler: registered trigger")
	return nil
}

// Start begins firing registered triggers on a background goroutine.
// Calling Start while running is a no-op. Firings started before a later
// Stop keep running on a context detached from ctx's cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.config.TickInterval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTickInterval, s.config.TickInterval)
	}

	now := s.clock().UTC()
	for _, id := range s.order {
		e := s.entries[id]
		e.next = e.sched.Next(now)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.loopDone = done
	s.fireCtx = context.WithoutCancel(ctx)

	go s.run(loopCtx, done)

	s.logger.Info().
		Dur("tick", s.config.TickInterval).
		Int("triggers", len(s.order)).
		Msg("scheduler: started")
	return nil
}

// Stop halts future firings and returns once the tick loop has exited.
// In-flight firings are not interrupted; use Wait to block on them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.loopDone
	s.cancel, s.loopDone = nil, nil
	for _, e := range s.entries {
		e.next = time.Time{}
	}
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info().Msg("scheduler: stopped")
}

// Running reports whether the scheduler is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until every in-flight firing has completed or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.inflight == 0 {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) firingStarted() {
	s.mu.Lock()
	if s.inflight == 0 {
		s.idle = make(chan struct{})
	}
	s.inflight++
	s.mu.Unlock()
}

func (s *Scheduler) firingDone() {
	s.mu.Lock()
	s.inflight--
	if s.inflight == 0 {
		close(s.idle)
	}
	s.mu.Unlock()
}

// Triggers returns the registered triggers in registration order.
func (s *Scheduler) Triggers() []TriggerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TriggerStatus, 0, len(s.order))
	for _, id := range s.order {
		e := s.entries[id]
		out = append(out, TriggerStatus{Trigger: e.trigger, Next: e.next, Busy: e.busy.Load()})
	}
	return out
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			// Parent context cancelled without Stop: leave the Running state.
			if s.loopDone == done {
				s.running = false
				s.cancel = nil
				s.loopDone = nil
			}
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.processTick()
		}
	}
}

type dueFiring struct {
	entry *entry
	at    []time.Time
}

// processTick dispatches every instant that came due since the previous tick.
func (s *Scheduler) processTick() {
	start := s.clock()
	if s.metrics != nil {
		s.metrics.TickStarted()
	}

	now := start.UTC()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	fireCtx := s.fireCtx
	var due []dueFiring
	for _, id := range s.order {
		e := s.entries[id]
		var at []time.Time
		for !e.next.IsZero() && !e.next.After(now) {
			if len(at) == maxCatchUp {
				s.logger.Warn().
					Str("trigger_id", id).
					Int("replayed", maxCatchUp).
					Msg("scheduler: catch-up limit reached, skipping ahead")
				e.next = e.sched.Next(now)
				break
			}
			at = append(at, e.next)
			e.next = e.sched.Next(e.next)
		}
		if len(at) > 0 {
			due = append(due, dueFiring{entry: e, at: at})
		}
	}
	s.mu.Unlock()

	for _, d := range due {
		s.dispatch(fireCtx, d.entry, d.at)
	}

	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().Sub(start), len(due))
	}
}

// dispatch runs the due instants of one trigger on their own goroutine.
// A trigger whose previous firing is still running skips this round.
func (s *Scheduler) dispatch(ctx context.Context, e *entry, at []time.Time) {
	if !e.busy.CompareAndSwap(false, true) {
		for _, scheduledAt := range at {
			s.logger.Warn().
				Str("trigger_id", e.trigger.ID).
				Time("scheduled_at", scheduledAt).
				Msg("scheduler: previous firing still running, skipped")
			s.report(ctx, e.trigger, scheduledAt, domain.OutcomeSkipped, 0, "previous firing still running")
		}
		return
	}

	s.firingStarted()
	go func() {
		defer s.firingDone()
		defer e.busy.Store(false)

		for _, scheduledAt := range at {
			s.fire(ctx, e.trigger, scheduledAt)
		}
	}()
}

// RunNow fires targetKey immediately on the calling goroutine and returns its report.
func (s *Scheduler) RunNow(ctx context.Context, targetKey string) domain.Report {
	t := domain.Trigger{ID: domain.ManualTriggerID, Name: "Manual run", TargetKey: targetKey}
	return s.fire(ctx, t, s.clock().UTC())
}

// fire resolves the trigger's agent and runs it. Every failure is contained
// here and surfaced only as a report.
func (s *Scheduler) fire(ctx context.Context, t domain.Trigger, scheduledAt time.Time) domain.Report {
	if s.metrics != nil {
		s.metrics.FiringsInFlightIncr()
		defer s.metrics.FiringsInFlightDecr()
	}

	start := s.clock()

	agent, ok := s.resolver.Get(t.TargetKey)
	if !ok {
		err := &AgentNotFoundError{Key: t.TargetKey}
		s.logger.Error().Str("trigger_id", t.ID).Err(err).Msg("scheduler: resolution failed")
		return s.report(ctx, t, scheduledAt, domain.OutcomeAgentMissing, 0, err.Error())
	}

	err := s.runAgent(ctx, t, agent)
	elapsed := s.clock().Sub(start)
	if err != nil {
		execErr := &AgentExecutionError{Key: t.TargetKey, Err: err}
		s.logger.Error().
			Str("trigger_id", t.ID).
			Dur("duration", elapsed).
			Err(execErr).
			Msg("scheduler: agent run failed")
		return s.report(ctx, t, scheduledAt, domain.OutcomeAgentError, elapsed, execErr.Error())
	}

	s.logger.Info().
		Str("trigger_id", t.ID).
		Str("agent", t.TargetKey).
		Time("scheduled_at", scheduledAt).
		Dur("duration", elapsed).
		Msg("scheduler: fired")
	return s.report(ctx, t, scheduledAt, domain.OutcomeSuccess, elapsed, "")
}

func (s *Scheduler) runAgent(ctx context.Context, t domain.Trigger, agent registry.Agent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if s.config.SlowRunWarning > 0 {
		timer := time.AfterFunc(s.config.SlowRunWarning, func() {
			s.logger.Warn().
				Str("trigger_id", t.ID).
				Str("agent", t.TargetKey).
				Dur("threshold", s.config.SlowRunWarning).
				Msg("scheduler: agent run exceeds slow-run threshold, still running")
		})
		defer timer.Stop()
	}

	return agent.Run(ctx)
}

func (s *Scheduler) report(ctx context.Context, t domain.Trigger, scheduledAt time.Time, outcome domain.Outcome, elapsed time.Duration, detail string) domain.Report {
	r := domain.Report{
		ID:          uuid.New(),
		TriggerID:   t.ID,
		TriggerName: t.Name,
		TargetKey:   t.TargetKey,
		Outcome:     outcome,
		ScheduledAt: scheduledAt.UTC(),
		Timestamp:   s.clock().UTC(),
		Duration:    elapsed,
		Detail:      detail,
	}

	if s.metrics != nil {
		s.metrics.FiringCompleted(t.ID, string(outcome), elapsed)
	}

	if err := s.reporter.Emit(ctx, r); err != nil {
		s.logger.Warn().
			Str("trigger_id", t.ID).
			Str("outcome", string(outcome)).
			Err(err).
			Msg("scheduler: report dropped")
	}
	return r
}
