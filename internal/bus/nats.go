package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus maps topics onto core NATS subjects.
type NATSBus struct {
	nc *nats.Conn
}

var _ Bus = (*NATSBus)(nil)

func NewNATSBus(url, name string) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSBus{nc: nc}, nil
}

func (b *NATSBus) Publish(_ context.Context, topic string, payload []byte) error {
	if err := b.nc.Publish(topic, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, topics []string, fn Handler) error {
	msgs := make(chan *nats.Msg, 256)
	subs := make([]*nats.Subscription, 0, len(topics))
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()
	for _, topic := range topics {
		s, err := b.nc.ChanSubscribe(topic, msgs)
		if err != nil {
			return fmt.Errorf("nats subscribe %s: %w", topic, err)
		}
		subs = append(subs, s)
	}
	if err := b.nc.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-msgs:
			fn(m.Subject, m.Data)
		}
	}
}

func (b *NATSBus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}
