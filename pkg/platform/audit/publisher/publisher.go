// Package publisher delivers audit events to a store, either inline or
// through a bounded background queue.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	audit "commonvote/pkg/platform/audit"
)

var (
	// ErrBufferFull is returned in async mode when the queue cannot accept an event.
	ErrBufferFull = errors.New("audit buffer full")
	ErrClosed     = errors.New("audit publisher closed")
)

// Metrics receives publisher counters. Nil-safe on the publisher side.
type Metrics interface {
	IncAuditDropped()
	IncAuditPersistFailure()
}

type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics Metrics
	sampler *Sampler

	mu     sync.RWMutex
	closed bool
	queue  chan audit.Event
	wg     sync.WaitGroup
}

type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to async mode with a queue of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan audit.Event, n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithSampler drops a share of operations events before they are stored.
func WithSampler(s *Sampler) Option {
	return func(p *Publisher) {
		p.sampler = s
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queue != nil {
		p.wg.Go(p.drain)
	}
	return p
}

// Emit stamps the event and hands it to the store (sync) or the queue (async).
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if p.sampler != nil && !p.sampler.Keep(event) {
		return nil
	}

	if p.queue == nil {
		return p.store.Append(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.queue <- event:
		return nil
	default:
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.IncAuditDropped()
	}
	return ErrBufferFull
}

// List returns events recorded for a subject.
func (p *Publisher) List(ctx context.Context, subject string) ([]audit.Event, error) {
	return p.store.ListBySubject(ctx, subject)
}

// Close stops accepting events and waits until queued events are persisted.
func (p *Publisher) Close() {
	p.mu.Lock()
	if !p.closed && p.queue != nil {
		close(p.queue)
	}
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) drain() {
	for event := range p.queue {
		// Detached from the request: the emitting request may be long gone.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.store.Append(ctx, event); err != nil {
			if p.metrics != nil {
				p.metrics.IncAuditPersistFailure()
			}
			p.logger.Error("failed to persist audit event",
				"action", event.Action,
				"error", err,
			)
		}
		cancel()
	}
}
