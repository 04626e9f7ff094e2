package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/eventix/eventix/pkg/events"
	"github.com/eventix/eventix/pkg/logger"
)

// maxDeliveryAttempts is how many times a delivery is retried before
// it is routed to the dead-letter queue.
const maxDeliveryAttempts = 3

// Handler processes a single decoded event. Returning an error causes
// a redelivery until the attempt budget is exhausted.
type Handler func(ctx context.Context, env *events.Envelope) error

// Consumer consumes a service queue with prefetch 1 and manual acks.
// Deliveries are at-least-once, handlers must be idempotent on the
// event id.
type Consumer struct {
	client    *Client
	queueName string
	log       *logger.Logger

	// attempts tracks failed deliveries per event id. With prefetch 1 a
	// nacked message is redelivered to the same consumer, so the count
	// survives the requeue.
	attempts map[string]int
}

// NewConsumer creates a consumer for the given queue.
func NewConsumer(client *Client, queueName string) *Consumer {
	return &Consumer{
		client:    client,
		queueName: queueName,
		log:       logger.Get().With(zap.String("queue", queueName)),
		attempts:  make(map[string]int),
	}
}

// Start consumes the queue until ctx is cancelled. It blocks, callers
// run it in a goroutine.
func (c *Consumer) Start(ctx context.Context, handler Handler) error {
	ch, err := c.client.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.client.config.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", c.queueName, err)
	}

	c.log.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer stopping")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", c.queueName)
			}
			c.handleDelivery(ctx, d, handler)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler Handler) {
	env, err := events.Unmarshal(d.Body)
	if err != nil {
		// Malformed bodies never become valid, reject straight to DLQ.
		c.log.Warn("rejecting malformed delivery",
			zap.String("routing_key", d.RoutingKey),
			zap.Error(err),
		)
		_ = d.Reject(false)
		return
	}

	if err := handler(ctx, env); err != nil {
		c.attempts[env.EventID]++
		attempt := c.attempts[env.EventID]
		if attempt >= maxDeliveryAttempts {
			delete(c.attempts, env.EventID)
			c.log.Error("delivery attempts exhausted, routing to dlq",
				zap.String("event_type", string(env.EventType)),
				zap.String("event_id", env.EventID),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			_ = d.Nack(false, false)
			return
		}
		c.log.Warn("handler failed, requeueing",
			zap.String("event_type", string(env.EventType)),
			zap.String("event_id", env.EventID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		_ = d.Nack(false, true)
		return
	}
	delete(c.attempts, env.EventID)
	_ = d.Ack(false)
}
