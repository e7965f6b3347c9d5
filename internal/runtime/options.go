package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/adapters/config/file"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/adapters/events/channel"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/adapters/events/redis"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/storage/memory"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/storage/sqldb"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/telemetry"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		provider, err := file.NewProvider(path, g.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		g.config = provider
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(g *Gateway) error {
		g.config = provider
		return nil
	}
}

// WithSQLite uses SQLite storage regardless of the storage section of the
// configuration.
func WithSQLite(path string) Option {
	return func(g *Gateway) error {
		store, err := sqldb.NewSQLite(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		g.storage = store
		return nil
	}
}

// WithPostgres uses PostgreSQL storage.
func WithPostgres(dsn string) Option {
	return func(g *Gateway) error {
		store, err := sqldb.NewPostgres(dsn)
		if err != nil {
			return fmt.Errorf("create postgres storage: %w", err)
		}
		g.storage = store
		return nil
	}
}

// WithMemoryStorage keeps hooks in memory. Everything is lost on restart.
func WithMemoryStorage() Option {
	return func(g *Gateway) error {
		g.storage = memory.New()
		return nil
	}
}

// WithStorageProvider sets a custom storage provider.
func WithStorageProvider(provider ports.StorageProvider) Option {
	return func(g *Gateway) error {
		g.storage = provider
		return nil
	}
}

// WithChannelQueue delivers webhooks through an in-process queue.
func WithChannelQueue(buffer, workers int) Option {
	return func(g *Gateway) error {
		g.events = channel.New(channel.Config{
			Buffer:  buffer,
			Workers: workers,
			Depth:   g.metrics.QueueDepth,
		})
		return nil
	}
}

// WithRedisQueue delivers webhooks through a Redis list so several bridge
// processes can share the work.
func WithRedisQueue(cfg redis.Config) Option {
	return func(g *Gateway) error {
		if cfg.Logger == nil {
			cfg.Logger = g.logger
		}
		q, err := redis.New(context.Background(), cfg)
		if err != nil {
			return fmt.Errorf("create redis queue: %w", err)
		}
		g.events = q
		return nil
	}
}

// WithDirectEvents delivers each webhook synchronously inside the request
// that accepted it. Useful for tests and tiny deployments.
func WithDirectEvents() Option {
	return func(g *Gateway) error {
		g.direct = true
		return nil
	}
}

// WithEventPublisher sets a custom event publisher. When it also
// implements ports.EventSubscriber the gateway consumes from it.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(g *Gateway) error {
		g.events = publisher
		return nil
	}
}

// WithIntentProvider replaces the homeserver client.
func WithIntentProvider(provider ports.IntentProvider) Option {
	return func(g *Gateway) error {
		g.intents = provider
		return nil
	}
}

// WithMediaUploader replaces the media re-hosting implementation.
func WithMediaUploader(uploader ports.MediaUploader) Option {
	return func(g *Gateway) error {
		g.media = uploader
		return nil
	}
}

// WithMetrics shares a metrics registry with the caller. It must precede
// WithChannelQueue so the queue reports its depth to the same registry.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(g *Gateway) error {
		g.metrics = m
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}
