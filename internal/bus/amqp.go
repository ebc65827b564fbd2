package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
)

// AMQPBus publishes to a durable topic exchange. Each process consumes through
// its own exclusive, auto-delete queue bound to the topics it subscribes to,
// so every process sees every message.
type AMQPBus struct {
	conn     *amqp091.Connection
	exchange string

	mu  sync.Mutex // amqp channels are not safe for concurrent publishing
	pub *amqp091.Channel
}

var _ Bus = (*AMQPBus)(nil)

func NewAMQPBus(url, exchange string) (*AMQPBus, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPBus{conn: conn, exchange: exchange, pub: ch}, nil
}

func (b *AMQPBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.pub.PublishWithContext(ctx, b.exchange, topic, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
	if err != nil {
		return fmt.Errorf("amqp publish %s: %w", topic, err)
	}
	return nil
}

func (b *AMQPBus) Subscribe(ctx context.Context, topics []string, fn Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, topic := range topics {
		if err := ch.QueueBind(q.Name, topic, b.exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue key=%s: %w", topic, err)
		}
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrClosed
			}
			fn(d.RoutingKey, d.Body)
		}
	}
}

func (b *AMQPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.pub.Close(); err != nil && err != amqp091.ErrClosed {
		return err
	}
	return b.conn.Close()
}
