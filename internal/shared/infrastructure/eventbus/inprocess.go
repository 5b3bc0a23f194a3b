package eventbus

import (
	"context"
	"log/slog"
	"time"
)

// InProcessBus delivers events synchronously to local handlers. Handler
// errors are logged, never returned to the publisher.
type InProcessBus struct {
	registry *Registry
	logger   *slog.Logger
}

// NewInProcessBus creates an in-process bus.
func NewInProcessBus(logger *slog.Logger) *InProcessBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessBus{registry: NewRegistry(logger), logger: logger}
}

// Subscribe implements Subscriber.
func (b *InProcessBus) Subscribe(handler Handler) error {
	b.registry.Add(handler)
	return nil
}

// Publish implements Publisher.
func (b *InProcessBus) Publish(ctx context.Context, event *Event) error {
	start := time.Now()
	err := b.registry.Dispatch(ctx, event)
	b.logger.Debug("event dispatched",
		"routing_key", event.RoutingKey,
		"event_id", event.ID,
		"failed", err != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Start blocks until ctx ends; delivery happens in Publish.
func (b *InProcessBus) Start(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Close implements Publisher and Subscriber.
func (b *InProcessBus) Close() error { return nil }

// NoopPublisher drops every event.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, *Event) error { return nil }

// Close implements Publisher.
func (NoopPublisher) Close() error { return nil }
