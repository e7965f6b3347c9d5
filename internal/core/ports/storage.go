package ports

import (
	"context"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
)

// WebhookStore persists provisioned hooks.
type WebhookStore interface {
	// CreateWebhook generates a new hook ID and stores the hook.
	CreateWebhook(ctx context.Context, roomID, userID, label string) (*domain.Webhook, error)

	// GetWebhook returns the hook or domain.ErrHookNotFound.
	GetWebhook(ctx context.Context, id string) (*domain.Webhook, error)

	// ListWebhooks returns every hook that targets the room.
	ListWebhooks(ctx context.Context, roomID string) ([]*domain.Webhook, error)

	// UpdateWebhookLabel changes the label of an existing hook.
	UpdateWebhookLabel(ctx context.Context, id, label string) error

	// DeleteWebhook removes a hook from a room.
	DeleteWebhook(ctx context.Context, roomID, id string) error

	// DeleteWebhooksForRoom removes every hook of a room and reports how many went.
	DeleteWebhooksForRoom(ctx context.Context, roomID string) (int64, error)
}

// AccountDataStore caches per-identity profile state.
type AccountDataStore interface {
	// GetAccountData returns all keys stored for the object. Missing objects
	// yield an empty map.
	GetAccountData(ctx context.Context, objectID string) (map[string]string, error)

	// SetAccountData replaces every key stored for the object.
	SetAccountData(ctx context.Context, objectID string, data map[string]string) error
}

// StorageProvider manages all storage operations.
// Implementations: SQLite (default), PostgreSQL, in-memory
type StorageProvider interface {
	WebhookStore
	AccountDataStore

	Close() error
}
