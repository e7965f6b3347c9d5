// Package direct provides an event publisher that delivers each webhook
// event synchronously on the publishing goroutine.
package direct

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
)

// Publisher implements ports.EventPublisher by calling the handler inline.
// It is meant for tests and single-shot tools where queueing adds nothing.
type Publisher struct {
	handler ports.EventHandler
	closed  atomic.Bool
}

// NewPublisher creates a new direct event publisher.
func NewPublisher(handler ports.EventHandler) (*Publisher, error) {
	if handler == nil {
		return nil, errors.New("event handler required")
	}
	return &Publisher{handler: handler}, nil
}

// Publish hands the event to the handler and returns once it is done.
func (p *Publisher) Publish(ctx context.Context, event *domain.WebhookEvent) error {
	if p.closed.Load() {
		return domain.ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.handler(ctx, event)
	return nil
}

// Close stops accepting events.
func (p *Publisher) Close() error {
	p.closed.Store(true)
	return nil
}
