package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Registry routes events to handlers by routing key.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{handlers: map[string][]Handler{}, logger: logger}
}

// Add registers handler under each of its routing keys.
func (r *Registry) Add(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range handler.RoutingKeys() {
		r.handlers[key] = append(r.handlers[key], handler)
	}
}

// Handlers returns the handlers of a routing key.
func (r *Registry) Handlers(key string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Handler(nil), r.handlers[key]...)
}

// Keys returns every routing key with a handler.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	return keys
}

// Dispatch runs every handler of the event's routing key. A failing handler
// does not stop the others; their errors are joined.
func (r *Registry) Dispatch(ctx context.Context, event *Event) error {
	handlers := r.Handlers(event.RoutingKey)
	if len(handlers) == 0 {
		r.logger.Debug("no handler for event", "routing_key", event.RoutingKey)
		return nil
	}

	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, event); err != nil {
			r.logger.Error("event handler failed",
				"routing_key", event.RoutingKey,
				"event_id", event.ID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
