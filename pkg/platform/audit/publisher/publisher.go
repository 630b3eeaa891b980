// Package publisher delivers audit events to a store, synchronously or
// through a bounded buffer drained by a background worker.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	id "mismobridge/pkg/domain"
	audit "mismobridge/pkg/platform/audit"
	"mismobridge/pkg/platform/audit/worker"
)

var (
	// ErrBufferFull is returned by Emit in async mode when the buffer is full.
	ErrBufferFull = errors.New("audit buffer full")
	// ErrCircuitOpen is returned when the sink is considered unhealthy.
	ErrCircuitOpen = errors.New("audit sink circuit open")
	// ErrClosed is returned by Emit after Close.
	ErrClosed = errors.New("audit publisher closed")
	// ErrNotListable is returned by List when the store cannot read back.
	ErrNotListable = errors.New("audit store does not support listing")
)

// Publisher emits audit events to a store.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
	breaker *CircuitBreaker

	buffer int
	inbox  chan audit.Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer makes Emit enqueue into a buffer of size n drained by a
// background worker.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		p.buffer = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithCircuitBreaker guards the store with a breaker.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(p *Publisher) {
		p.breaker = cb
	}
}

// NewPublisher creates a publisher over store.
func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer > 0 {
		p.inbox = make(chan audit.Event, p.buffer)
		p.done = make(chan struct{})
		w := worker.NewWorker(p.inbox, p.persist, p.logger)
		go func() {
			defer close(p.done)
			w.Run(context.Background())
		}()
	}
	return p
}

// Emit records an event. A zero timestamp is set to now and the category is
// derived from the action.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Category = audit.AuditEvent(event.Action).Category()

	if p.inbox == nil {
		return p.persist(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.inbox <- event:
		return nil
	default:
		p.metrics.IncBufferDropped()
		return ErrBufferFull
	}
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) error {
	if p.breaker != nil && !p.breaker.Allow() {
		p.metrics.IncCircuitBreakerDropped()
		return ErrCircuitOpen
	}
	if err := p.store.Append(ctx, event); err != nil {
		p.metrics.IncPersistFailures()
		if p.breaker != nil {
			opened := p.breaker.RecordFailure()
			p.metrics.SetCircuitBreakerState(opened)
		}
		return err
	}
	if p.breaker != nil {
		p.breaker.RecordSuccess()
		p.metrics.SetCircuitBreakerState(false)
	}
	p.metrics.IncPublished()
	return nil
}

// List returns the events recorded for a run when the store supports it.
func (p *Publisher) List(ctx context.Context, runID id.RunID) ([]audit.Event, error) {
	lister, ok := p.store.(audit.Lister)
	if !ok {
		return nil, ErrNotListable
	}
	return lister.ListByRun(ctx, runID)
}

// Close stops accepting events and, in async mode, waits until the buffer is
// drained.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.inbox != nil {
		close(p.inbox)
	}
	p.mu.Unlock()
	if p.done != nil {
		<-p.done
	}
}
