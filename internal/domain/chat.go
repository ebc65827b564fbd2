package domain

import "time"

// MessageType classifies chat message content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

func (t MessageType) IsValid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

// Message is a persisted chat message.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// SendMessageRequest is the payload of the message:send command.
type SendMessageRequest struct {
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type,omitempty"`
}

// Normalize fills defaults and validates the request.
func (r *SendMessageRequest) Normalize() error {
	if r.ConversationID == "" {
		return ErrInvalidConversation
	}
	if r.Type == "" {
		r.Type = MessageText
	}
	if !r.Type.IsValid() {
		return ErrInvalidMessageType
	}
	if r.Content == "" || len(r.Content) > 4096 {
		return ErrInvalidContent
	}
	return nil
}

// ReadMessageRequest is the payload of the message:read command.
type ReadMessageRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

func (r ReadMessageRequest) Validate() error {
	if r.ConversationID == "" {
		return ErrInvalidConversation
	}
	if r.MessageID == "" {
		return ErrInvalidMessageID
	}
	return nil
}

// ReadReceipt is broadcast as message:read_ack.
type ReadReceipt struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	UserID         string    `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
}

// TypingUpdate is broadcast as typing:update.
type TypingUpdate struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// InactiveConversation is a conversation whose last message is older than the
// inactivity threshold.
type InactiveConversation struct {
	ConversationID string     `json:"conversationId"`
	SellerID       string     `json:"sellerId"`
	LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
}
