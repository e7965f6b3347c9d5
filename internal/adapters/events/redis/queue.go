// Package redis provides a dispatch queue backed by a Redis list, so
// several bridge processes can share the delivery work.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
)

// Defaults for Config.
const (
	DefaultKey         = "webhook-bridge:events"
	DefaultWorkers     = 4
	DefaultPollTimeout = time.Second
)

// Config configures a Queue.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
	Workers  int

	// PollTimeout bounds each blocking pop so workers notice Close.
	PollTimeout time.Duration

	Logger *slog.Logger
}

// Queue implements ports.EventQueue with LPUSH and BRPOP on one list.
type Queue struct {
	client      *redis.Client
	key         string
	workers     int
	pollTimeout time.Duration
	logger      *slog.Logger
	closed      atomic.Bool
}

var _ ports.EventQueue = (*Queue)(nil)

// New connects to Redis and returns a queue.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client. The queue owns it from then on.
func NewWithClient(client *redis.Client, cfg Config) *Queue {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{
		client:      client,
		key:         cfg.Key,
		workers:     cfg.Workers,
		pollTimeout: cfg.PollTimeout,
		logger:      cfg.Logger,
	}
}

// Publish pushes the JSON encoded event onto the list.
func (q *Queue) Publish(ctx context.Context, event *domain.WebhookEvent) error {
	if q.closed.Load() {
		return domain.ErrQueueClosed
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Subscribe pops events until Close is called or ctx is done.
func (q *Queue) Subscribe(ctx context.Context, handler ports.EventHandler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx, handler)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *Queue) work(ctx context.Context, handler ports.EventHandler) {
	for !q.closed.Load() && ctx.Err() == nil {
		result, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil || q.closed.Load() {
				return
			}
			q.logger.Warn("failed to pop event", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.pollTimeout):
			}
			continue
		}

		// result is [key, value].
		var event domain.WebhookEvent
		if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
			q.logger.Error("dropping undecodable event", slog.String("error", err.Error()))
			continue
		}
		handler(ctx, &event)
	}
}

// Len returns the number of queued events.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close stops the workers after their current poll and closes the client.
func (q *Queue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	return q.client.Close()
}
