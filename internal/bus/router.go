package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/channel"
	"github.com/ricirt/marketplace-realtime/internal/domain"
)

// Outbound event names for bus-originated frames.
const (
	EventMessageNew   = "message:new"
	EventNotification = "notification"
)

// ErrMalformedMessage marks a bus payload that failed shape validation.
var ErrMalformedMessage = errors.New("malformed bus message")

// Broadcaster is the slice of the channel registry the router needs.
type Broadcaster interface {
	Broadcast(channel, event string, payload any) int
}

// RouterHooks are optional metric callbacks.
type RouterHooks struct {
	OnReceived func(topic string)
	OnDropped  func(topic string)
}

// Router turns bus messages into local broadcasts. One runs per process.
type Router struct {
	local  Broadcaster
	logger *zap.Logger
	hooks  RouterHooks
}

func NewRouter(local Broadcaster, logger *zap.Logger, hooks RouterHooks) *Router {
	if hooks.OnReceived == nil {
		hooks.OnReceived = func(string) {}
	}
	if hooks.OnDropped == nil {
		hooks.OnDropped = func(string) {}
	}
	return &Router{local: local, logger: logger, hooks: hooks}
}

// Run subscribes to every domain topic and blocks until ctx is done.
func (r *Router) Run(ctx context.Context, b Bus) error {
	r.logger.Info("bus router started", zap.Strings("topics", domain.Topics))
	err := b.Subscribe(ctx, domain.Topics, r.Handle)
	r.logger.Info("bus router stopping")
	return err
}

// Handle processes one message. Invalid messages are logged and dropped; they
// never stop the subscription.
func (r *Router) Handle(topic string, payload []byte) {
	r.hooks.OnReceived(topic)
	if err := r.route(topic, payload); err != nil {
		r.hooks.OnDropped(topic)
		r.logger.Warn("dropping bus message", zap.String("topic", topic), zap.Error(err))
	}
}

func (r *Router) route(topic string, payload []byte) error {
	switch topic {
	case domain.TopicChatMessage:
		var ev struct {
			ConversationID string          `json:"conversationId"`
			Message        json.RawMessage `json:"message"`
		}
		if err := decode(payload, &ev); err != nil {
			return err
		}
		if ev.ConversationID == "" || isNull(ev.Message) {
			return fmt.Errorf("%w: conversationId and message are required", ErrMalformedMessage)
		}
		r.local.Broadcast(channel.ConversationChannel(ev.ConversationID), EventMessageNew, ev.Message)

	case domain.TopicChatEvent:
		var ev domain.ChatEvent
		if err := decode(payload, &ev); err != nil {
			return err
		}
		if ev.ConversationID == "" || ev.Event == "" {
			return fmt.Errorf("%w: conversationId and event are required", ErrMalformedMessage)
		}
		r.local.Broadcast(channel.ConversationChannel(ev.ConversationID), ev.Event, ev.Data)

	case domain.TopicCRMUpdate:
		var ev domain.CRMUpdateEvent
		if err := decode(payload, &ev); err != nil {
			return err
		}
		if ev.SellerID == "" || ev.Event == "" {
			return fmt.Errorf("%w: sellerId and event are required", ErrMalformedMessage)
		}
		data := ev.Data
		if len(data) == 0 {
			data = json.RawMessage("null")
		}
		r.local.Broadcast(channel.CRMChannel(ev.SellerID), ev.Event, data)

	case domain.TopicNotification:
		var ev struct {
			UserID       string          `json:"userId"`
			Notification json.RawMessage `json:"notification"`
		}
		if err := decode(payload, &ev); err != nil {
			return err
		}
		if ev.UserID == "" || isNull(ev.Notification) {
			return fmt.Errorf("%w: userId and notification are required", ErrMalformedMessage)
		}
		r.local.Broadcast(channel.UserChannel(ev.UserID), EventNotification, ev.Notification)

	default:
		return fmt.Errorf("%w: unknown topic", ErrMalformedMessage)
	}
	return nil
}

func decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
