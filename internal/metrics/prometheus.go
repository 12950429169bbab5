package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger zerolog.Logger

	// Scheduler metrics
	ticksTotal      prometheus.Counter
	dispatchedTotal prometheus.Counter
	tickDuration    prometheus.Histogram
	firingsTotal    *prometheus.CounterVec
	firingDuration  *prometheus.HistogramVec
	firingsInFlight prometheus.Gauge

	// Dispatcher metrics
	sinkWritesTotal *prometheus.CounterVec
	sinkDuration    *prometheus.HistogramVec
	breakerOpen     *prometheus.GaugeVec

	// Alert delivery metrics
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryOutcomesTotal *prometheus.CounterVec
	webhookDuration       prometheus.Histogram
	retryAttemptsTotal    *prometheus.CounterVec

	// EventBus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Health monitor metrics
	agentHealthy *prometheus.GaugeVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink
// whose unregistered collectors simply go unexported.
func NewPrometheusSink(reg prometheus.Registerer, logger zerolog.Logger) *PrometheusSink {
	s := &PrometheusSink{logger: logger}
	s.initSchedulerMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initDeliveryMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initMonitorMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opsagents_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.dispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opsagents_scheduler_triggers_dispatched_total",
		Help: "Total number of triggers that came due and were dispatched.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "opsagents_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	s.firingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsagents_scheduler_firings_total",
		Help: "Total number of trigger firings by outcome.",
	}, []string{"trigger", "outcome"})
	s.firingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opsagents_scheduler_firing_duration_seconds",
		Help:    "Agent run duration per trigger in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"trigger"})
	s.firingsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opsagents_scheduler_firings_in_flight",
		Help: "Number of agent runs currently executing.",
	})

	s.register(reg, s.ticksTotal, "opsagents_scheduler_ticks_total")
	s.register(reg, s.dispatchedTotal, "opsagents_scheduler_triggers_dispatched_total")
	s.register(reg, s.tickDuration, "opsagents_scheduler_tick_duration_seconds")
	s.register(reg, s.firingsTotal, "opsagents_scheduler_firings_total")
	s.register(reg, s.firingDuration, "opsagents_scheduler_firing_duration_seconds")
	s.register(reg, s.firingsInFlight, "opsagents_scheduler_firings_in_flight")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.sinkWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsagents_dispatcher_sink_writes_total",
		Help: "Total number of report writes per sink and status.",
	}, []string{"sink", "status"})
	s.sinkDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opsagents_dispatcher_sink_write_duration_seconds",
		Help:    "Report write latency per sink in seconds.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"sink"})
	s.breakerOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "opsagents_dispatcher_breaker_open",
		Help: "1 when the sink's circuit breaker is open.",
	}, []string{"sink"})

	s.register(reg, s.sinkWritesTotal, "opsagents_dispatcher_sink_writes_total")
	s.register(reg, s.sinkDuration, "opsagents_dispatcher_sink_write_duration_seconds")
	s.register(reg, s.breakerOpen, "opsagents_dispatcher_breaker_open")
}

func (s *PrometheusSink) initDeliveryMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsagents_alert_delivery_attempts_total",
		Help: "Total number of alert webhook delivery attempts.",
	}, []string{"attempt", "status_class"})
	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsagents_alert_delivery_outcomes_total",
		Help: "Total number of final alert delivery outcomes.",
	}, []string{"outcome"})
	s.webhookDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "opsagents_alert_webhook_duration_seconds",
		Help:    "Alert webhook request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsagents_alert_retry_attempts_total",
		Help: "Total number of alert retry attempts (excludes first attempt).",
	}, []string{"retryable"})

	s.register(reg, s.deliveryAttemptsTotal, "opsagents_alert_delivery_attempts_total")
	s.register(reg, s.deliveryOutcomesTotal, "opsagents_alert_delivery_outcomes_total")
	s.register(reg, s.webhookDuration, "opsagents_alert_webhook_duration_seconds")
	s.register(reg, s.retryAttemptsTotal, "opsagents_alert_retry_attempts_total")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opsagents_eventbus_buffer_size",
		Help: "Current number of reports in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opsagents_eventbus_buffer_capacity",
		Help: "Capacity of the event bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opsagents_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "opsagents_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "opsagents_eventbus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "opsagents_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initMonitorMetrics(reg prometheus.Registerer) {
	s.agentHealthy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "opsagents_agent_healthy",
		Help: "1 when the agent's last health check passed.",
	}, []string{"agent"})

	s.register(reg, s.agentHealthy, "opsagents_agent_healthy")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn().Str("metric", name).Err(err).Msg("metrics: failed to register")
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, dispatched int) {
	s.tickDuration.Observe(duration.Seconds())
	s.dispatchedTotal.Add(float64(dispatched))
}

func (s *PrometheusSink) FiringCompleted(triggerID string, outcome string, duration time.Duration) {
	s.firingsTotal.WithLabelValues(triggerID, outcome).Inc()
	s.firingDuration.WithLabelValues(triggerID).Observe(duration.Seconds())
}

func (s *PrometheusSink) FiringsInFlightIncr() {
	s.firingsInFlight.Inc()
}

func (s *PrometheusSink) FiringsInFlightDecr() {
	s.firingsInFlight.Dec()
}

// Dispatcher metrics implementation

func (s *PrometheusSink) SinkWriteCompleted(sink string, status string, duration time.Duration) {
	s.sinkWritesTotal.WithLabelValues(sink, status).Inc()
	if status != SinkStatusRejected {
		s.sinkDuration.WithLabelValues(sink).Observe(duration.Seconds())
	}
}

func (s *PrometheusSink) BreakerStateUpdate(sink string, open bool) {
	s.breakerOpen.WithLabelValues(sink).Set(boolGauge(open))
}

// Alert delivery metrics implementation

func (s *PrometheusSink) DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.webhookDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	s.retryAttemptsTotal.WithLabelValues(strconv.FormatBool(retryable)).Inc()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Health monitor metrics implementation

func (s *PrometheusSink) AgentHealthUpdate(agent string, healthy bool) {
	s.agentHealthy.WithLabelValues(agent).Set(boolGauge(healthy))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
