package metrics

import (
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, dispatched int)
	FiringCompleted(triggerID string, outcome string, duration time.Duration)
	FiringsInFlightIncr()
	FiringsInFlightDecr()

	// Dispatcher metrics
	SinkWriteCompleted(sink string, status string, duration time.Duration)
	BreakerStateUpdate(sink string, open bool)

	// Alert delivery metrics
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	RetryAttempt(retryable bool)

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()

	// Health monitor metrics
	AgentHealthUpdate(agent string, healthy bool)
}

// Outcome constants for DeliveryOutcome metric.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
)

// Status constants for SinkWriteCompleted metric.
const (
	SinkStatusOK       = "ok"
	SinkStatusFailed   = "failed"
	SinkStatusRejected = "rejected" // circuit open
)

// StatusClass constants for DeliveryAttemptCompleted metric.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
			return StatusClassTimeout
		case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
			strings.Contains(msg, "network is unreachable"), strings.Contains(msg, "dial"):
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
