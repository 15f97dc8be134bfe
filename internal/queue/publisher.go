package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, msg DispatchMessage) error {
	publishing, err := newPublishing(msg)
	if err != nil {
		return err
	}
	return p.publish(ctx, DispatchQueue, publishing)
}

func (p *RabbitMQPublisher) PublishDelayed(ctx context.Context, msg DispatchMessage, delay time.Duration) error {
	if delay <= 0 {
		return p.Publish(ctx, msg)
	}

	publishing, err := newPublishing(msg)
	if err != nil {
		return err
	}
	return p.publish(ctx, DelayQueueName(delayTierFor(delay)), publishing)
}

// publish waits for the broker to confirm the message so an accepted trigger is never
// reported as enqueued while the broker dropped it.
func (p *RabbitMQPublisher) publish(ctx context.Context, queue string, publishing amqp.Publishing) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	ch, err := p.client.confirmChannel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, publishing)
	if err != nil {
		return fmt.Errorf("failed to publish alarm %s to %q: %w", publishing.MessageId, queue, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm alarm %s on %q: %w", publishing.MessageId, queue, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked alarm %s on %q", publishing.MessageId, queue)
	}
	return nil
}

func newPublishing(msg DispatchMessage) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid dispatch message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal dispatch message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     msg.AlarmID,
		CorrelationId: msg.CorrelationID,
		Priority:      PriorityValue(msg.IsTest),
		Body:          payload,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
