// Package bus carries fire-and-forget events between gateway processes so a
// broadcast reaches connections held by every process, not only the one that
// produced it.
//
// Delivery is at-most-once: a process that is down or not yet subscribed
// simply misses the message. Durable work belongs on the job queue.
package bus

import (
	"context"
	"errors"
)

// Handler receives one message. Payload bytes are exactly what was published.
type Handler func(topic string, payload []byte)

// Bus is implemented by every transport driver.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe delivers messages for topics to fn, in arrival order, until
	// ctx is cancelled or the bus is closed.
	Subscribe(ctx context.Context, topics []string, fn Handler) error
	Close() error
}

// Driver names accepted by config.
const (
	DriverRedis = "redis"
	DriverAMQP  = "amqp"
	DriverNATS  = "nats"
)

var ErrClosed = errors.New("bus closed")
