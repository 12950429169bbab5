package domain

import (
	"time"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeAgentMissing Outcome = "agent_missing"
	OutcomeAgentError   Outcome = "agent_error"
	OutcomeSkipped      Outcome = "skipped"
)

// IsFailure reports whether the outcome should alert an operator.
func (o Outcome) IsFailure() bool {
	return o == OutcomeAgentMissing || o == OutcomeAgentError
}

// Report records the outcome of one firing.
type Report struct {
	ID uuid.UUID

	TriggerID   string
	TriggerName string
	TargetKey   string

	Outcome     Outcome
	ScheduledAt time.Time // instant the cadence produced (UTC)
	Timestamp   time.Time // when the outcome was recorded (UTC)
	Duration    time.Duration
	Detail      string
}
