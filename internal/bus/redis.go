package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBus uses Redis PUBLISH/SUBSCRIBE. Topic names are used as channel names.
type RedisBus struct {
	rdb redis.UniversalClient
}

var _ Bus = (*RedisBus)(nil)

func NewRedisBus(rdb redis.UniversalClient) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topics []string, fn Handler) error {
	ps := b.rdb.Subscribe(ctx, topics...)
	defer ps.Close()

	// Wait for the subscription confirmation so nothing published after
	// Subscribe returns its first message is missed.
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return ErrClosed
			}
			fn(m.Channel, []byte(m.Payload))
		}
	}
}

// Close is a no-op; the Redis client is shared with presence and closed by main.
func (b *RedisBus) Close() error { return nil }
