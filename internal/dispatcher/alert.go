package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/metrics"
)

var defaultBackoff = []time.Duration{
	0,
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
}

const maxAttempts = 4

type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) WebhookResult
}

// DeliveryMetrics defines the interface for recording alert delivery metrics.
// All methods must be non-blocking and fire-and-forget.
type DeliveryMetrics interface {
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	RetryAttempt(retryable bool)
}

// AlertSink posts failure reports (agent_missing, agent_error) to a webhook.
// Other outcomes are accepted and ignored.
type AlertSink struct {
	config  domain.AlertConfig
	sender  WebhookSender
	metrics DeliveryMetrics // optional, nil = disabled
	logger  zerolog.Logger
	backoff []time.Duration
}

func NewAlertSink(config domain.AlertConfig, sender WebhookSender) *AlertSink {
	return &AlertSink{
		config:  config,
		sender:  sender,
		logger:  zerolog.Nop(),
		backoff: defaultBackoff,
	}
}

// WithMetrics attaches a metrics sink to the alert sink.
func (s *AlertSink) WithMetrics(m DeliveryMetrics) *AlertSink {
	s.metrics = m
	return s
}

func (s *AlertSink) WithLogger(logger zerolog.Logger) *AlertSink {
	s.logger = logger
	return s
}

func (s *AlertSink) Name() string { return "alert" }

func (s *AlertSink) Write(ctx context.Context, r domain.Report) error {
	if !r.Outcome.IsFailure() {
		return nil
	}

	req := WebhookRequest{
		URL:     s.config.WebhookURL,
		Secret:  s.config.Secret,
		Timeout: s.config.Timeout,
		Payload: WebhookPayload{
			ReportID:    r.ID.String(),
			TriggerID:   r.TriggerID,
			TriggerName: r.TriggerName,
			Agent:       r.TargetKey,
			Outcome:     string(r.Outcome),
			ScheduledAt: r.ScheduledAt.UTC().Format(time.RFC3339),
			Timestamp:   r.Timestamp.UTC().Format(time.RFC3339),
			Detail:      r.Detail,
		},
	}

	var lastResult WebhookResult

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if s.metrics != nil {
				s.metrics.RetryAttempt(lastResult.IsRetryable())
			}

			idx := attempt - 1
			if idx >= len(s.backoff) {
				idx = len(s.backoff) - 1
			}
			backoff := s.backoff[idx]

			s.logger.Debug().
				Str("report_id", req.Payload.ReportID).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("alert: retrying")

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				if s.metrics != nil {
					s.metrics.DeliveryOutcome(metrics.OutcomeAbandoned)
				}
				return ctx.Err()
			case <-timer.C:
			}
		}

		req.AttemptID = uuid.NewString()
		result := s.sender.Send(ctx, req)
		lastResult = result

		if s.metrics != nil {
			s.metrics.DeliveryAttemptCompleted(attempt, metrics.ClassifyStatus(result.StatusCode, result.Error), result.Duration)
		}

		if result.IsSuccess() {
			s.logger.Info().
				Str("report_id", req.Payload.ReportID).
				Str("trigger_id", r.TriggerID).
				Int("attempt", attempt).
				Msg("alert: delivered")
			if s.metrics != nil {
				s.metrics.DeliveryOutcome(metrics.OutcomeSuccess)
			}
			return nil
		}

		if !result.IsRetryable() {
			s.logger.Warn().
				Str("report_id", req.Payload.ReportID).
				Int("status", result.StatusCode).
				Msg("alert: non-retryable status")
			break
		}

		s.logger.Warn().
			Str("report_id", req.Payload.ReportID).
			Int("attempt", attempt).
			Int("status", result.StatusCode).
			AnErr("send_error", result.Error).
			Msg("alert: attempt failed")
	}

	if s.metrics != nil {
		s.metrics.DeliveryOutcome(metrics.OutcomeFailed)
	}
	if lastResult.Error != nil {
		return fmt.Errorf("alert delivery failed: %w", lastResult.Error)
	}
	return fmt.Errorf("alert delivery failed: status %d", lastResult.StatusCode)
}
