package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName  = "alarm.dlx"
	dialTimeout      = 15 * time.Second
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

// queueSpec is one durable queue of the dispatch topology.
type queueSpec struct {
	name string
	args amqp.Table
	// bindKey, when set, binds the queue to the DLX with this routing key.
	bindKey string
}

// dispatchTopology lists the queues alarms move through. Rejected work lands on the DLQ;
// delayed retries expire from their tier's delay queue back into the work queue.
func dispatchTopology() []queueSpec {
	specs := []queueSpec{
		{name: DeadLetterQueue, bindKey: DispatchQueue},
		{name: DispatchQueue, args: amqp.Table{
			"x-dead-letter-exchange":    dlxExchangeName,
			"x-dead-letter-routing-key": DispatchQueue,
			"x-max-priority":            queueMaxPriority,
		}},
	}
	for _, tier := range delayTiers {
		specs = append(specs, queueSpec{name: DelayQueueName(tier), args: amqp.Table{
			"x-message-ttl":             tier.Milliseconds(),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DispatchQueue,
		}})
	}
	return specs
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", dlxExchangeName, err)
	}

	for _, q := range dispatchTopology() {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", q.name, err)
		}
		if q.bindKey == "" {
			continue
		}
		if err := ch.QueueBind(q.name, q.bindKey, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q: %w", q.name, err)
		}
	}
	return nil
}

// RabbitMQ owns one broker connection shared by publishers and consumers. The topology is
// declared once per connection and the connection is re-dialed with backoff when it drops.
type RabbitMQ struct {
	url string

	mu       sync.Mutex
	conn     *amqp.Connection
	declared bool
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	ch, err := r.channel(ctx)
	if err != nil {
		return nil, err
	}
	_ = ch.Close()

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = false
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel returns a fresh channel on a live connection.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if err := r.connectLocked(ctx); err != nil {
			return nil, err
		}

		ch, err := r.conn.Channel()
		if err != nil {
			r.dropLocked()
			continue
		}

		if !r.declared {
			if err := declareTopology(ch); err != nil {
				_ = ch.Close()
				return nil, err
			}
			r.declared = true
		}
		return ch, nil
	}

	return nil, fmt.Errorf("failed to open rabbitmq channel")
}

// confirmChannel returns a channel in publisher-confirm mode.
func (r *RabbitMQ) confirmChannel(ctx context.Context) (*amqp.Channel, error) {
	ch, err := r.channel(ctx)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	return ch, nil
}

func (r *RabbitMQ) connectLocked(ctx context.Context) error {
	if r.conn != nil && !r.conn.IsClosed() {
		return nil
	}
	r.dropLocked()

	wait := reconnectBackoff
	for {
		conn, err := amqp.Dial(r.url)
		if err == nil {
			r.conn = conn
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq dial canceled after %v: %w", err, ctx.Err())
		case <-time.After(wait):
		}
		wait = min(wait*2, maxBackoff)
	}
}

func (r *RabbitMQ) dropLocked() {
	if r.conn != nil && !r.conn.IsClosed() {
		_ = r.conn.Close()
	}
	r.conn = nil
	r.declared = false
}
