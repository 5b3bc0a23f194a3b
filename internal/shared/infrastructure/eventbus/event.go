// Package eventbus carries events between processes: in process for local
// mode, over RabbitMQ when a worker runs separately.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope of every message on the bus.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	RoutingKey    string          `json:"routing_key"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into a new event.
func NewEvent(routingKey string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", routingKey, err)
	}
	return &Event{
		ID:         uuid.New(),
		RoutingKey: routingKey,
		OccurredAt: time.Now().UTC(),
		Payload:    data,
	}, nil
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.RoutingKey, err)
	}
	return nil
}

// Handler processes events of the routing keys it declares.
type Handler interface {
	RoutingKeys() []string
	Handle(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function into a Handler for one routing key.
type HandlerFunc struct {
	Key string
	Fn  func(ctx context.Context, event *Event) error
}

// RoutingKeys implements Handler.
func (h HandlerFunc) RoutingKeys() []string { return []string{h.Key} }

// Handle implements Handler.
func (h HandlerFunc) Handle(ctx context.Context, event *Event) error { return h.Fn(ctx, event) }

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// Subscriber receives events until its context ends.
type Subscriber interface {
	Subscribe(handler Handler) error
	Start(ctx context.Context) error
	Close() error
}
