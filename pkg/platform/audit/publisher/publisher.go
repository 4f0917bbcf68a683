// Package publisher decouples audit emission from the sink. In async mode,
// non-compliance events are queued on a bounded buffer and delivered by a
// single goroutine; compliance events always reach the sink before Emit returns.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "ehrconsent/pkg/platform/audit"
)

// ErrBufferFull is returned when an async publisher cannot queue an event.
var ErrBufferFull = errors.New("audit buffer full")

var droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ehrconsent_audit_events_dropped_total",
	Help: "Audit events dropped because the async buffer was full",
})

type queued struct {
	ctx   context.Context
	event audit.Event
}

// Publisher wraps a sink. The zero buffer size means synchronous delivery.
type Publisher struct {
	sink   audit.Publisher
	logger *slog.Logger
	now    func() time.Time

	bufferSize int
	buffer     chan queued
	done       chan struct{}

	mu     sync.RWMutex
	closed bool
}

type Option func(*Publisher)

// WithAsyncBuffer queues up to size events in memory.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) { p.bufferSize = size }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

func NewPublisher(sink audit.Publisher, opts ...Option) *Publisher {
	p := &Publisher{sink: sink, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.buffer = make(chan queued, p.bufferSize)
		p.done = make(chan struct{})
		go p.run()
	}
	return p
}

// Emit normalizes the event and hands it to the sink, directly or via the buffer.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	event = audit.Normalize(event, p.now())
	if p.buffer == nil || event.Category == audit.CategoryCompliance {
		return p.sink.Emit(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return p.sink.Emit(ctx, event)
	}
	select {
	case p.buffer <- queued{ctx: context.WithoutCancel(ctx), event: event}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		droppedEvents.Inc()
		p.logger.WarnContext(ctx, "audit event dropped", "action", string(event.Action), "consent_id", event.ConsentID)
		return ErrBufferFull
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for q := range p.buffer {
		if err := p.sink.Emit(q.ctx, q.event); err != nil {
			p.logger.ErrorContext(q.ctx, "audit sink rejected event",
				"action", string(q.event.Action),
				"consent_id", q.event.ConsentID,
				"error", err,
			)
		}
	}
}

// Close stops accepting queued events and waits for the buffer to drain or
// ctx to end. Later Emit calls deliver synchronously.
func (p *Publisher) Close(ctx context.Context) error {
	if p.buffer == nil {
		return nil
	}
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.buffer)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
