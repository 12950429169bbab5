package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
)

// DefaultDrainTimeout is the maximum time to spend on buffered reports during shutdown.
const DefaultDrainTimeout = 30 * time.Second

// Sink persists or forwards a report. Implementations may be slow; the
// dispatcher calls them sequentially off the scheduler's path.
type Sink interface {
	Name() string
	Write(ctx context.Context, report domain.Report) error
}

// Breaker guards each sink by name.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	SinkWriteCompleted(sink string, status string, duration time.Duration)
	BreakerStateUpdate(sink string, open bool)
}

type Dispatcher struct {
	sinks        []Sink
	breaker      Breaker     // optional, nil = every write attempted
	metrics      MetricsSink // optional, nil = disabled
	logger       zerolog.Logger
	drainTimeout time.Duration
}

func New(sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:        sinks,
		logger:       zerolog.Nop(),
		drainTimeout: DefaultDrainTimeout,
	}
}

func (d *Dispatcher) WithBreaker(b Breaker) *Dispatcher {
	d.breaker = b
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

func (d *Dispatcher) WithLogger(logger zerolog.Logger) *Dispatcher {
	d.logger = logger
	return d
}

func (d *Dispatcher) WithDrainTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.drainTimeout = timeout
	}
	return d
}

// Sinks returns the configured sink names in dispatch order.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Run processes reports from the channel until ctx is cancelled or the
// channel is closed. After cancellation, it drains buffered reports with a timeout.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.Report) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch)
			return
		case report, ok := <-ch:
			if !ok {
				return
			}
			if err := d.Dispatch(ctx, report); err != nil {
				d.logger.Warn().Str("trigger_id", report.TriggerID).Err(err).Msg("dispatcher: error")
			}
		}
	}
}

// drain processes remaining reports in the channel buffer after shutdown signal.
// Uses a background context since the main context is already cancelled.
func (d *Dispatcher) drain(ch <-chan domain.Report) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			d.logger.Warn().Int("processed", count).Msg("dispatcher: drain timeout")
			return
		case report, ok := <-ch:
			if !ok {
				d.logger.Info().Int("processed", count).Msg("dispatcher: drain complete")
				return
			}
			if err := d.Dispatch(drainCtx, report); err != nil {
				d.logger.Warn().Str("trigger_id", report.TriggerID).Err(err).Msg("dispatcher: drain error")
			}
			count++
		default:
			if count > 0 {
				d.logger.Info().Int("processed", count).Msg("dispatcher: drain complete")
			}
			return
		}
	}
}

// Dispatch writes the report to every sink. A failing or rejected sink does
// not prevent later sinks from receiving the report; the joined error names
// every sink that did not accept it.
func (d *Dispatcher) Dispatch(ctx context.Context, report domain.Report) error {
	var errs []error
	for _, sink := range d.sinks {
		if err := d.write(ctx, sink, report); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) write(ctx context.Context, sink Sink, report domain.Report) error {
	name := sink.Name()

	if d.breaker != nil {
		if err := d.breaker.Allow(name); err != nil {
			if d.metrics != nil {
				d.metrics.SinkWriteCompleted(name, "rejected", 0)
				d.metrics.BreakerStateUpdate(name, true)
			}
			return err
		}
	}

	start := time.Now()
	err := sink.Write(ctx, report)
	elapsed := time.Since(start)

	if err != nil {
		if d.breaker != nil {
			d.breaker.RecordFailure(name)
		}
		if d.metrics != nil {
			d.metrics.SinkWriteCompleted(name, "failed", elapsed)
		}
		return err
	}

	if d.breaker != nil {
		d.breaker.RecordSuccess(name)
	}
	if d.metrics != nil {
		d.metrics.SinkWriteCompleted(name, "ok", elapsed)
		d.metrics.BreakerStateUpdate(name, false)
	}
	return nil
}
