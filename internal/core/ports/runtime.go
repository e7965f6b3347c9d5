package ports

import (
	"context"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based with hot reload (default).
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// EventPublisher queues webhook events for asynchronous delivery.
// Implementations: in-process channel queue (default), Redis list.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.WebhookEvent) error
	Close() error
}

// EventHandler processes one queued webhook event.
type EventHandler func(ctx context.Context, event *domain.WebhookEvent)

// EventSubscriber delivers queued events to a handler until the context is
// cancelled or the queue is closed.
type EventSubscriber interface {
	Subscribe(ctx context.Context, handler EventHandler) error
}

// EventQueue is a queue that can both accept and deliver events.
type EventQueue interface {
	EventPublisher
	EventSubscriber
}
