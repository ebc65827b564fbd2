package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/repository"
)

// Conversation events fanned out through the chat.event topic.
const (
	EventTyping  = "typing:update"
	EventReadAck = "message:read_ack"
)

// ChatPublisher is the bus side of the chat flow.
type ChatPublisher interface {
	PublishChatMessage(ctx context.Context, m *domain.Message) error
	PublishChatEvent(ctx context.Context, conversationID, event string, data any) error
}

// ChatService implements the chat commands. Every command first checks that
// the caller participates in the conversation; a failed check has no side
// effect.
type ChatService struct {
	chats  repository.ChatRepository
	events ChatPublisher
	logger *zap.Logger
	now    func() time.Time
}

func NewChatService(chats repository.ChatRepository, events ChatPublisher, logger *zap.Logger) *ChatService {
	return &ChatService{chats: chats, events: events, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (s *ChatService) requireParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := s.chats.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return domain.ErrNotParticipant
	}
	return nil
}

// ConversationIDs lists the conversations a connection joins on connect.
func (s *ChatService) ConversationIDs(ctx context.Context, userID string) ([]string, error) {
	return s.chats.ConversationIDsForUser(ctx, userID)
}

// SendMessage stores the message and fans it out to every participant's
// connections, on every process, as message:new.
func (s *ChatService) SendMessage(ctx context.Context, senderID string, req domain.SendMessageRequest) (*domain.Message, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, req.ConversationID, senderID); err != nil {
		return nil, err
	}

	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		Content:        req.Content,
		Type:           req.Type,
		CreatedAt:      s.now(),
	}
	if err := s.chats.CreateMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	if err := s.events.PublishChatMessage(ctx, m); err != nil {
		s.logger.Warn("failed to publish chat message", zap.String("message_id", m.ID), zap.Error(err))
	}
	return m, nil
}

// MarkRead records the read position and resets the caller's unread counter.
func (s *ChatService) MarkRead(ctx context.Context, userID string, req domain.ReadMessageRequest) (*domain.ReadReceipt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, req.ConversationID, userID); err != nil {
		return nil, err
	}

	receipt := &domain.ReadReceipt{
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		UserID:         userID,
		ReadAt:         s.now(),
	}
	if err := s.chats.MarkRead(ctx, req.ConversationID, userID, req.MessageID, receipt.ReadAt); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if err := s.events.PublishChatEvent(ctx, req.ConversationID, EventReadAck, receipt); err != nil {
		s.logger.Warn("failed to publish read receipt", zap.Error(err))
	}
	return receipt, nil
}

// Typing broadcasts a typing indicator. Nothing is persisted.
func (s *ChatService) Typing(ctx context.Context, userID, conversationID string, isTyping bool) (*domain.TypingUpdate, error) {
	if conversationID == "" {
		return nil, domain.ErrInvalidConversation
	}
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	update := &domain.TypingUpdate{ConversationID: conversationID, UserID: userID, IsTyping: isTyping}
	if err := s.events.PublishChatEvent(ctx, conversationID, EventTyping, update); err != nil {
		return nil, fmt.Errorf("publish typing: %w", err)
	}
	return update, nil
}
