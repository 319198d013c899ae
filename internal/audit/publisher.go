package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Publisher is the append-only entry point for vault audit events. With an
// async buffer it never blocks the withdrawal path; a full buffer drops the
// event and logs it.
type Publisher struct {
	store  Store
	events chan Event
	wg     sync.WaitGroup
	logger *slog.Logger
	async  bool

	// mu guards closed against sends on a closed channel
	mu     sync.RWMutex
	closed bool
}

type PublisherOption func(*Publisher)

// WithAsyncBuffer persists events from a background goroutine.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan Event, size)
			p.async = true
		}
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for event := range p.events {
		if err := p.store.Append(context.Background(), event); err != nil && p.logger != nil {
			p.logger.Error("failed to persist audit event",
				"error", err,
				"action", event.Action,
				"authorization_id", event.AuthorizationID,
			)
		}
	}
}

// Close drains pending async events. Later async emits are dropped and logged.
func (p *Publisher) Close() {
	if !p.async || p.events == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if p.async {
		p.mu.RLock()
		defer p.mu.RUnlock()
		if p.closed {
			p.warnDropped(ctx, "audit publisher closed, event dropped", event)
			return nil
		}
		select {
		case p.events <- event:
		default:
			p.warnDropped(ctx, "audit buffer full, event dropped", event)
		}
		return nil
	}
	return p.store.Append(ctx, event)
}

func (p *Publisher) warnDropped(ctx context.Context, msg string, event Event) {
	if p.logger == nil {
		return
	}
	p.logger.WarnContext(ctx, msg,
		"action", event.Action,
		"authorization_id", event.AuthorizationID,
	)
}
