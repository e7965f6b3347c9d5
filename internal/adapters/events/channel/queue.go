// Package channel provides the in-process dispatch queue: a buffered channel
// drained by a fixed pool of workers.
package channel

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
)

// Defaults for Config.
const (
	DefaultBuffer  = 256
	DefaultWorkers = 4
)

// Config configures a Queue.
type Config struct {
	Buffer  int
	Workers int

	// Depth, when set, tracks the number of buffered events.
	Depth prometheus.Gauge
}

// Queue implements ports.EventQueue.
type Queue struct {
	events  chan *domain.WebhookEvent
	workers int
	depth   prometheus.Gauge

	mu     sync.RWMutex
	closed bool
}

var _ ports.EventQueue = (*Queue)(nil)

// New creates a queue.
func New(cfg Config) *Queue {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Queue{
		events:  make(chan *domain.WebhookEvent, cfg.Buffer),
		workers: cfg.Workers,
		depth:   cfg.Depth,
	}
}

// Publish enqueues the event. It blocks while the buffer is full, until the
// context is done.
func (q *Queue) Publish(ctx context.Context, event *domain.WebhookEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return domain.ErrQueueClosed
	}

	select {
	case q.events <- event:
		q.observe()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe runs the worker pool until the queue is closed and drained or
// ctx is done. Each event is handled by exactly one worker.
func (q *Queue) Subscribe(ctx context.Context, handler ports.EventHandler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-q.events:
					if !ok {
						return
					}
					q.observe()
					handler(ctx, event)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	return len(q.events)
}

// Close stops accepting events. Workers finish what is buffered.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.events)
	return nil
}

func (q *Queue) observe() {
	if q.depth != nil {
		q.depth.Set(float64(len(q.events)))
	}
}
