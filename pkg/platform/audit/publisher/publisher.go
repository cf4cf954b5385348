// Package publisher emits audit events that are not tied to a ledger
// transaction: rejected payment callbacks, watchdog timeouts and profile
// changes. Financial events go through the transactional outbox instead.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	id "coinledger/pkg/domain"
	audit "coinledger/pkg/platform/audit"
)

var ErrBufferFull = errors.New("audit buffer full")

// Lister is implemented by stores that can read events back.
type Lister interface {
	ListByPrincipal(ctx context.Context, principal id.PrincipalID) ([]audit.Event, error)
}

// Publisher writes events to a store, synchronously by default or through a
// bounded buffer when WithAsyncBuffer is set.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	buffer chan audit.Event
	wg     sync.WaitGroup
	once   sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer enables non-blocking emission with a buffer of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.buffer = make(chan audit.Event, n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records an event. In async mode a full buffer drops the event and
// returns ErrBufferFull rather than blocking the request.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	event.Normalize(time.Now())
	if p.buffer == nil {
		return p.store.Append(ctx, event)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.buffer <- event:
		return nil
	default:
		if p.logger != nil {
			p.logger.WarnContext(ctx, "audit buffer full, dropping event", "action", event.Action)
		}
		return ErrBufferFull
	}
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buffer {
		// Detached context: the emitting request may already be finished.
		if err := p.store.Append(context.Background(), event); err != nil && p.logger != nil {
			p.logger.Error("failed to persist audit event", "action", event.Action, "error", err)
		}
	}
}

// List reads events back when the store supports it.
func (p *Publisher) List(ctx context.Context, principal id.PrincipalID) ([]audit.Event, error) {
	lister, ok := p.store.(Lister)
	if !ok {
		return nil, errors.New("audit store does not support listing")
	}
	return lister.ListByPrincipal(ctx, principal)
}

// Close flushes buffered events and stops the drain goroutine.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.buffer != nil {
			close(p.buffer)
			p.wg.Wait()
		}
	})
}
