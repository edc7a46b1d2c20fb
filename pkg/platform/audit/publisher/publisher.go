// Package publisher emits audit events to a store and an optional external
// sink. Synchronous mode writes inline; async mode buffers on a channel and
// drains from a background goroutine, dropping (with an error to the caller)
// when the buffer is full rather than blocking domain code.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	id "grouplock/pkg/domain"
	audit "grouplock/pkg/platform/audit"
)

// ErrBufferFull is returned by Emit in async mode when the buffer has no
// capacity. The event is dropped.
var ErrBufferFull = errors.New("audit buffer full")

// Store is the persistence surface the publisher needs.
type Store interface {
	audit.Store
	ListByGroup(ctx context.Context, groupID id.GroupID) ([]audit.Event, error)
}

// Publisher writes audit events to a store and, when configured, forwards
// them to a sink.
type Publisher struct {
	store  Store
	sink   audit.Sink
	logger *slog.Logger

	inbox chan audit.Event
	wg    sync.WaitGroup
	once  sync.Once
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables async mode with the given channel capacity.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.inbox = make(chan audit.Event, size)
		}
	}
}

// WithSink forwards every event to the sink after it is stored.
func WithSink(sink audit.Sink) Option {
	return func(p *Publisher) {
		p.sink = sink
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher constructs a publisher. Without WithAsyncBuffer it writes
// synchronously.
func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	if p.inbox != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records an event. The zero Timestamp is stamped with the current
// time; the category is always derived from the action.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Category = event.Action.Category()

	if p.inbox == nil {
		return p.process(ctx, event)
	}

	select {
	case p.inbox <- event:
		return nil
	default:
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrBufferFull
	}
}

// List returns stored events for a group.
func (p *Publisher) List(ctx context.Context, groupID id.GroupID) ([]audit.Event, error) {
	return p.store.ListByGroup(ctx, groupID)
}

// Close stops async processing after draining buffered events. Safe to call
// more than once.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.inbox != nil {
			close(p.inbox)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.inbox {
		if err := p.process(context.Background(), event); err != nil {
			p.logger.Warn("audit event dropped", "action", event.Action, "error", err)
		}
	}
}

func (p *Publisher) process(ctx context.Context, event audit.Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	if p.sink != nil {
		if err := p.sink.Send(ctx, event); err != nil {
			// The store copy survives; sink delivery is best effort.
			p.logger.Warn("audit sink delivery failed", "action", event.Action, "error", err)
		}
	}
	return nil
}
