// Package channel carries firing reports from the scheduler to the dispatcher
// over a buffered in-process channel.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
)

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 100 * time.Millisecond

var (
	ErrBufferFull = errors.New("event bus buffer full")
	ErrBusClosed  = errors.New("event bus closed")
)

// MetricsSink receives buffer metrics. All methods must be non-blocking.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

type Option func(*EventBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) {
		b.emitTimeout = d
	}
}

func WithMetrics(m MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = m
	}
}

type EventBus struct {
	ch          chan domain.Report
	emitTimeout time.Duration
	metrics     MetricsSink

	mu     sync.RWMutex
	closed bool
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.Report, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues a report, waiting at most the emit timeout for space.
func (b *EventBus) Emit(ctx context.Context, report domain.Report) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- report:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

func (b *EventBus) Channel() <-chan domain.Report {
	return b.ch
}

// Len returns the number of buffered reports.
func (b *EventBus) Len() int {
	return len(b.ch)
}

// Close stops accepting reports and closes the channel so consumers can
// drain what is buffered. Close is idempotent.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
