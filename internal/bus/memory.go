package bus

import (
	"context"
	"sync"
)

// MemoryHub simulates a shared broker: every MemoryBus created from the same
// hub receives what any of them publishes. Tests use one bus per simulated
// gateway process.
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[*memorySub]struct{}
}

type memorySub struct {
	topics map[string]bool
	ch     chan memoryMsg
}

type memoryMsg struct {
	topic   string
	payload []byte
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[*memorySub]struct{})}
}

// Bus returns a new process-facing handle on the hub.
func (h *MemoryHub) Bus() *MemoryBus {
	return &MemoryBus{hub: h, closed: make(chan struct{})}
}

func (h *MemoryHub) publish(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.topics[topic] {
			continue
		}
		msg := memoryMsg{topic: topic, payload: append([]byte(nil), payload...)}
		select {
		case s.ch <- msg:
		default:
			// Slow subscriber; at-most-once like the real brokers.
		}
	}
}

func (h *MemoryHub) add(s *memorySub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = struct{}{}
}

func (h *MemoryHub) remove(s *memorySub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// MemoryBus is one process's connection to a MemoryHub.
type MemoryBus struct {
	hub       *MemoryHub
	closeOnce sync.Once
	closed    chan struct{}
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus returns a bus on a private hub, for single-process use.
func NewMemoryBus() *MemoryBus { return NewMemoryHub().Bus() }

func (b *MemoryBus) Publish(_ context.Context, topic string, payload []byte) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}
	b.hub.publish(topic, payload)
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topics []string, fn Handler) error {
	s := &memorySub{topics: make(map[string]bool, len(topics)), ch: make(chan memoryMsg, 1024)}
	for _, t := range topics {
		s.topics[t] = true
	}
	b.hub.add(s)
	defer b.hub.remove(s)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.closed:
			return ErrClosed
		case m := <-s.ch:
			fn(m.topic, m.payload)
		}
	}
}

func (b *MemoryBus) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

// Subscribers reports active subscriptions across the hub; tests wait on it
// before publishing.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
