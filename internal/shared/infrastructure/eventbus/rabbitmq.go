package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// Exchange is the topic exchange all events are published to.
	Exchange = "prosecheck.events"

	// DefaultQueue is the queue the worker consumes from.
	DefaultQueue = "prosecheck.worker"
)

// ErrConsumerRunning is returned by Start when the consumer already runs.
var ErrConsumerRunning = errors.New("consumer already running")

func dial(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

// RabbitMQPublisher publishes events as persistent JSON messages.
type RabbitMQPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewRabbitMQPublisher connects and declares the exchange.
func NewRabbitMQPublisher(url string, logger *slog.Logger) (*RabbitMQPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, ch, err := dial(url, Exchange)
	if err != nil {
		return nil, err
	}
	logger.Info("RabbitMQ publisher connected", "exchange", Exchange)
	return &RabbitMQPublisher{conn: conn, channel: ch, logger: logger}, nil
}

// Publish implements Publisher.
func (p *RabbitMQPublisher) Publish(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, Exchange, event.RoutingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.ID.String(),
		CorrelationId: event.CorrelationID,
		Timestamp:     event.OccurredAt,
		Body:          body,
	})
	if err != nil {
		p.logger.Error("publish failed", "routing_key", event.RoutingKey, "error", err)
		return fmt.Errorf("publish %s: %w", event.RoutingKey, err)
	}
	return nil
}

// IsClosed reports whether the broker connection is gone.
func (p *RabbitMQPublisher) IsClosed() bool {
	return p.conn.IsClosed()
}

// Close implements Publisher.
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		p.logger.Warn("close channel", "error", err)
	}
	return p.conn.Close()
}

// RabbitMQConsumer delivers queued events to registered handlers.
type RabbitMQConsumer struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	queue    string
	registry *Registry
	logger   *slog.Logger
	running  bool
	closed   chan struct{}
}

// NewRabbitMQConsumer connects and declares a durable queue.
func NewRabbitMQConsumer(url, queue string, logger *slog.Logger) (*RabbitMQConsumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if queue == "" {
		queue = DefaultQueue
	}
	conn, ch, err := dial(url, Exchange)
	if err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	logger.Info("RabbitMQ consumer connected", "queue", queue, "exchange", Exchange)
	return &RabbitMQConsumer{
		conn:     conn,
		channel:  ch,
		queue:    queue,
		registry: NewRegistry(logger),
		logger:   logger,
		closed:   make(chan struct{}),
	}, nil
}

// Subscribe implements Subscriber and binds the queue to the handler's keys.
func (c *RabbitMQConsumer) Subscribe(handler Handler) error {
	c.registry.Add(handler)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range handler.RoutingKeys() {
		if err := c.channel.QueueBind(c.queue, key, Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Start consumes until ctx ends or Close is called. Messages whose handler
// fails are requeued; undecodable messages are dropped.
func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrConsumerRunning
	}
	c.running = true
	c.mu.Unlock()

	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}
	deliveries, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.deliver(ctx, msg)
		}
	}
}

func (c *RabbitMQConsumer) deliver(ctx context.Context, msg amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error("dropping undecodable message", "routing_key", msg.RoutingKey, "error", err)
		_ = msg.Ack(false)
		return
	}
	if event.RoutingKey == "" {
		event.RoutingKey = msg.RoutingKey
	}

	start := time.Now()
	if err := c.registry.Dispatch(ctx, &event); err != nil {
		if nackErr := msg.Nack(false, true); nackErr != nil {
			c.logger.Error("nack failed", "error", nackErr)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		c.logger.Error("ack failed", "error", err)
	}
	c.logger.Debug("event processed",
		"routing_key", event.RoutingKey,
		"event_id", event.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// IsClosed reports whether the broker connection is gone.
func (c *RabbitMQConsumer) IsClosed() bool {
	return c.conn.IsClosed()
}

// Close implements Subscriber.
func (c *RabbitMQConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	if err := c.channel.Close(); err != nil {
		c.logger.Warn("close channel", "error", err)
	}
	return c.conn.Close()
}
