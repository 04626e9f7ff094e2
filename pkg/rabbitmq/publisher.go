package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/eventix/eventix/pkg/events"
	"github.com/eventix/eventix/pkg/logger"
)

// EventPublisher is what services depend on to emit events.
type EventPublisher interface {
	Publish(ctx context.Context, env *events.Envelope) error
}

// Publisher publishes envelopes to the domain exchange derived from
// the event type. Messages are persistent, message_id carries the
// event id and correlation_id the workflow correlation.
type Publisher struct {
	client *Client
	log    *logger.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

// NewPublisher creates a publisher with a dedicated channel.
func NewPublisher(client *Client) (*Publisher, error) {
	ch, err := client.Channel()
	if err != nil {
		return nil, err
	}
	return &Publisher{client: client, log: logger.Get(), ch: ch}, nil
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.client.Channel()
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

// Publish sends the envelope. The routing key is the event type, the
// exchange is derived from the type's domain segment.
func (p *Publisher) Publish(ctx context.Context, env *events.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", env.EventType, err)
	}

	ch, err := p.channel()
	if err != nil {
		return err
	}

	exchange := ExchangeFor(env.EventType.Domain())
	pub := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now(),
		MessageId:     env.EventID,
		CorrelationId: env.CorrelationID,
		Type:          string(env.EventType),
		Body:          body,
	}
	if err := ch.PublishWithContext(ctx, exchange, string(env.EventType), false, false, pub); err != nil {
		return fmt.Errorf("failed to publish %s: %w", env.EventType, err)
	}

	p.log.Debug("event published",
		zap.String("event_type", string(env.EventType)),
		zap.String("event_id", env.EventID),
		zap.String("exchange", exchange),
		zap.String("correlation_id", env.CorrelationID),
	)
	return nil
}

// Close releases the publisher channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch.Close()
	}
	return nil
}
