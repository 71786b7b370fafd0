// Package messaging carries purchase index events from the API to the indexer.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/boddenberg/budget-tracker-go/internal/infra/resilience"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("messaging")

// EventHandler applies one index event.
type EventHandler func(ctx context.Context, ev domain.IndexEvent) error

// Client publishes and consumes index events on a durable direct exchange.
type Client struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string
	logger   *zap.Logger

	// amqp channels are not safe for concurrent publishing
	mu sync.Mutex
}

// NewClient dials the broker and declares the exchange, queue and binding.
func NewClient(url, exchange, queue string, logger *zap.Logger) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c := &Client{conn: conn, channel: channel, exchange: exchange, queue: queue, logger: logger}
	if err := c.setup(); err != nil {
		c.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	return c, nil
}

func (c *Client) setup() error {
	if err := c.channel.ExchangeDeclare(c.exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := c.channel.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	// routing key is the queue name
	if err := c.channel.QueueBind(c.queue, c.queue, c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// Publish implements port.IndexPublisher.
func (c *Client) Publish(ctx context.Context, ev domain.IndexEvent) error {
	ctx, span := tracer.Start(ctx, "Client.Publish")
	defer span.End()
	span.SetAttributes(attribute.String("event.action", ev.Action), attribute.String("purchase.id", ev.PurchaseID))

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c.mu.Lock()
	err = c.channel.PublishWithContext(ctx, c.exchange, c.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Type:         ev.Action,
		Body:         body,
	})
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	c.logger.Debug("index event published",
		zap.String("action", ev.Action),
		zap.String("purchase_id", ev.PurchaseID),
		zap.String("exchange", c.exchange),
	)
	return nil
}

// Consume delivers events to handler with at most concurrency in flight.
// It returns when ctx is cancelled, after in-flight deliveries finish.
func (c *Client) Consume(ctx context.Context, concurrency int, handler EventHandler) error {
	if concurrency < 1 {
		concurrency = 1
	}
	if err := c.channel.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	c.logger.Info("consuming index events", zap.String("queue", c.queue), zap.Int("concurrency", concurrency))

	bulkhead := resilience.NewBulkhead(concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("stopping consumer", zap.Error(ctx.Err()))
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			if err := bulkhead.Acquire(ctx); err != nil {
				_ = d.Nack(false, true)
				return err
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer bulkhead.Release()
				handleDelivery(ctx, d, handler, c.logger)
			}(d)
		}
	}
}

// handleDelivery acks on success, drops malformed bodies, and requeues a
// failed event once before dropping it.
func handleDelivery(ctx context.Context, d amqp.Delivery, handler EventHandler, logger *zap.Logger) {
	var ev domain.IndexEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		logger.Error("malformed index event", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if err := handler(ctx, ev); err != nil {
		requeue := !d.Redelivered
		logger.Error("index event failed",
			zap.String("action", ev.Action),
			zap.String("purchase_id", ev.PurchaseID),
			zap.Bool("requeue", requeue),
			zap.Error(err),
		)
		_ = d.Nack(false, requeue)
		return
	}

	_ = d.Ack(false)
}

// Ping reports whether the connection is still open.
func (c *Client) Ping(context.Context) error {
	if c.conn == nil || c.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

// Close closes the channel and the connection.
func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// InProcessPublisher applies events synchronously when no broker is configured.
type InProcessPublisher struct {
	handler EventHandler
}

// NewInProcessPublisher wraps handler as a port.IndexPublisher.
func NewInProcessPublisher(handler EventHandler) *InProcessPublisher {
	return &InProcessPublisher{handler: handler}
}

// Publish runs the handler inline.
func (p *InProcessPublisher) Publish(ctx context.Context, ev domain.IndexEvent) error {
	return p.handler(ctx, ev)
}
