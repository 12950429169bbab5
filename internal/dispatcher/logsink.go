package dispatcher

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
)

// LogSink writes one structured log event per report.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(ctx context.Context, r domain.Report) error {
	var ev *zerolog.Event
	switch {
	case r.Outcome.IsFailure():
		ev = s.logger.Error()
	case r.Outcome == domain.OutcomeSkipped:
		ev = s.logger.Warn()
	default:
		ev = s.logger.Info()
	}

	ev.Str("report_id", r.ID.String()).
		Str("trigger_id", r.TriggerID).
		Str("agent", r.TargetKey).
		Str("outcome", string(r.Outcome)).
		Time("scheduled_at", r.ScheduledAt).
		Time("timestamp", r.Timestamp).
		Dur("duration", r.Duration)
	if r.Detail != "" {
		ev.Str("detail", r.Detail)
	}
	ev.Msg("report")
	return nil
}
