package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"donor-finder/internal/metrics"
)

// LocalBus is the in-process Publisher used when no broker is configured.
// Events are buffered in a bounded queue and handled by a single worker;
// pending events are lost if the process exits.
type LocalBus struct {
	queue   chan RequestEvent
	handler Handler
	retry   RetryPolicy
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewLocalBus creates a bus; call Start to begin handling.
func NewLocalBus(size int, handler Handler, retry RetryPolicy, logger *zap.Logger, m *metrics.Metrics) *LocalBus {
	if size <= 0 {
		size = 1
	}
	return &LocalBus{
		queue:   make(chan RequestEvent, size),
		handler: handler,
		retry:   retry,
		logger:  logger,
		metrics: m,
	}
}

// Start launches the worker. It stops once Close has drained the queue.
func (b *LocalBus) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range b.queue {
			b.handle(ctx, event)
		}
	}()
}

func (b *LocalBus) handle(ctx context.Context, event RequestEvent) {
	err := b.retry.Run(ctx, func(ctx context.Context) error {
		return b.handler(ctx, event)
	})
	if err != nil {
		b.metrics.IncEventFailed(string(event.Kind))
		b.logger.Error("处理请求事件失败",
			zap.Uint("requestID", event.RequestID),
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}

// Publish enqueues event without blocking.
func (b *LocalBus) Publish(_ context.Context, event RequestEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.queue <- event:
		b.metrics.IncEventPublished(string(event.Kind))
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued ones to be handled.
func (b *LocalBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()
	b.wg.Wait()
}

// SyncPublisher runs the handler inline. Used by tests and the admin CLI.
type SyncPublisher struct {
	Handler Handler
}

func (s SyncPublisher) Publish(ctx context.Context, event RequestEvent) error {
	return s.Handler(ctx, event)
}

func (s SyncPublisher) Close() {}
