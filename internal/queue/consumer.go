package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const consumerTagPrefix = "alarm-dispatch"

// settleAction is how a delivery is finished once its handler returns.
type settleAction int

const (
	settleAck settleAction = iota
	settleRequeue
	settleDeadLetter
)

func (a settleAction) String() string {
	switch a {
	case settleAck:
		return "ack"
	case settleRequeue:
		return "requeue"
	case settleDeadLetter:
		return "dead_letter"
	}
	return "unknown"
}

// settleFor requeues a failed dispatch once. A second failure is parked on the DLQ and
// the alarm is left to the retry sweep.
func settleFor(handlerErr error, redelivered bool) settleAction {
	switch {
	case handlerErr == nil:
		return settleAck
	case redelivered:
		return settleDeadLetter
	default:
		return settleRequeue
	}
}

// RabbitMQConsumer reads dispatch messages with manual acknowledgement.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume blocks until ctx is done, re-subscribing with backoff when the channel drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		c.logger.Warn("dispatch subscription lost, resubscribing",
			zap.String("queue", queue),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		wait = min(wait*2, maxBackoff)
	}
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %q closed", queue)
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// decodeDelivery parses the body and falls back to the AMQP correlation id property.
func decodeDelivery(d amqp.Delivery) (DispatchMessage, error) {
	var msg DispatchMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return DispatchMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return DispatchMessage{}, err
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = d.CorrelationId
	}
	return msg, nil
}

// handleDelivery returns an error only when the broker refuses the settlement, which
// means the channel is gone and the subscription must be rebuilt.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	msg, err := decodeDelivery(d)
	if err != nil {
		c.logger.Warn("dead-lettering undecodable dispatch message",
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject message %q: %w", d.MessageId, rejectErr)
		}
		return nil
	}

	handlerErr := handler(ctx, msg)
	action := settleFor(handlerErr, d.Redelivered)
	if handlerErr != nil {
		c.logger.Warn("dispatch handler failed",
			zap.String("alarmId", msg.AlarmID),
			zap.String("settle", action.String()),
			zap.Error(handlerErr),
		)
	}

	var settleErr error
	switch action {
	case settleAck:
		settleErr = d.Ack(false)
	case settleRequeue:
		settleErr = d.Nack(false, true)
	case settleDeadLetter:
		settleErr = d.Reject(false)
	}
	if settleErr != nil {
		return fmt.Errorf("failed to %s alarm %s: %w", action, msg.AlarmID, settleErr)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
