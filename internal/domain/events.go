package domain

import "encoding/json"

// Cross-process bus topics.
const (
	TopicChatMessage  = "chat.message"
	TopicCRMUpdate    = "crm.update"
	TopicNotification = "notification.new"
	// TopicChatEvent carries ephemeral conversation events (typing, read
	// receipts) that must reach participants on every process.
	TopicChatEvent = "chat.event"
)

// Topics is the fixed set every gateway process subscribes to at startup.
var Topics = []string{TopicChatMessage, TopicChatEvent, TopicCRMUpdate, TopicNotification}

// ChatMessageEvent is published on TopicChatMessage.
type ChatMessageEvent struct {
	ConversationID string   `json:"conversationId"`
	Message        *Message `json:"message"`
}

// CRMUpdateEvent is published on TopicCRMUpdate.
type CRMUpdateEvent struct {
	SellerID string          `json:"sellerId"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// NotificationEvent is published on TopicNotification.
type NotificationEvent struct {
	UserID       string        `json:"userId"`
	Notification *Notification `json:"notification"`
}

// ChatEvent is published on TopicChatEvent and rebroadcast to the
// conversation channel under Event.
type ChatEvent struct {
	ConversationID string          `json:"conversationId"`
	Event          string          `json:"event"`
	Data           json.RawMessage `json:"data"`
}
