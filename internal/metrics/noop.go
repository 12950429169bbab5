package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                              {}
func (n *NoopSink) TickCompleted(duration time.Duration, dispatched int)                      {}
func (n *NoopSink) FiringCompleted(triggerID, outcome string, d time.Duration)                {}
func (n *NoopSink) FiringsInFlightIncr()                                                      {}
func (n *NoopSink) FiringsInFlightDecr()                                                      {}
func (n *NoopSink) SinkWriteCompleted(sink, status string, d time.Duration)                   {}
func (n *NoopSink) BreakerStateUpdate(sink string, open bool)                                 {}
func (n *NoopSink) DeliveryAttemptCompleted(attempt int, statusClass string, d time.Duration) {}
func (n *NoopSink) DeliveryOutcome(outcome string)                                            {}
func (n *NoopSink) RetryAttempt(retryable bool)                                               {}
func (n *NoopSink) BufferSizeUpdate(size int)                                                 {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                            {}
func (n *NoopSink) EmitError()                                                                {}
func (n *NoopSink) AgentHealthUpdate(agent string, healthy bool)                              {}
