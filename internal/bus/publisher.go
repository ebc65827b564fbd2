package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

// Publisher encodes typed events onto a Bus.
type Publisher struct {
	bus         Bus
	onPublished func(topic string)
}

// NewPublisher builds a publisher. onPublished is optional (nil = no-op).
func NewPublisher(b Bus, onPublished func(topic string)) *Publisher {
	if onPublished == nil {
		onPublished = func(string) {}
	}
	return &Publisher{bus: b, onPublished: onPublished}
}

func (p *Publisher) publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	if err := p.bus.Publish(ctx, topic, payload); err != nil {
		return err
	}
	p.onPublished(topic)
	return nil
}

func (p *Publisher) PublishChatMessage(ctx context.Context, m *domain.Message) error {
	return p.publish(ctx, domain.TopicChatMessage, domain.ChatMessageEvent{ConversationID: m.ConversationID, Message: m})
}

// PublishChatEvent sends an ephemeral conversation event such as a typing
// indicator to every process.
func (p *Publisher) PublishChatEvent(ctx context.Context, conversationID, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s data: %w", event, err)
	}
	return p.publish(ctx, domain.TopicChatEvent, domain.ChatEvent{ConversationID: conversationID, Event: event, Data: raw})
}

func (p *Publisher) PublishCRMUpdate(ctx context.Context, sellerID, event string, data json.RawMessage) error {
	return p.publish(ctx, domain.TopicCRMUpdate, domain.CRMUpdateEvent{SellerID: sellerID, Event: event, Data: data})
}

func (p *Publisher) PublishNotification(ctx context.Context, n *domain.Notification) error {
	return p.publish(ctx, domain.TopicNotification, domain.NotificationEvent{UserID: n.UserID, Notification: n})
}
