package queue

import (
	"context"
	"time"
)

// Publisher publishes dispatch messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg DispatchMessage) error
	// PublishDelayed parks the message on a delay queue; it reaches the work queue once the
	// smallest delay tier covering delay elapses.
	PublishDelayed(ctx context.Context, msg DispatchMessage, delay time.Duration) error
	Close() error
}

// MessageHandler handles a consumed dispatch message.
type MessageHandler func(ctx context.Context, msg DispatchMessage) error

// Consumer consumes dispatch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// DispatchQueue is the work queue read by dispatch workers.
	DispatchQueue = "alarm.dispatch"
	// DelayQueue prefixes the per-tier delay queues. They have no consumers; expired messages
	// dead-letter back to DispatchQueue.
	DelayQueue = "alarm.dispatch.delay"
	// DeadLetterQueue receives messages rejected by workers.
	DeadLetterQueue = "dlq.alarm.dispatch"

	// queueMaxPriority is the RabbitMQ x-max-priority value for the work queue.
	queueMaxPriority int32 = 2
)

// PriorityValue maps an alarm to RabbitMQ message priority. Real alarms jump ahead of test alarms.
func PriorityValue(isTest bool) uint8 {
	if isTest {
		return 1
	}
	return 2
}
