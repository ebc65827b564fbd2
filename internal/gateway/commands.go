package gateway

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

// userFacing are the errors whose message is safe to echo to the client.
var userFacing = []error{
	errInvalidFrame,
	domain.ErrNotParticipant,
	domain.ErrInvalidConversation,
	domain.ErrInvalidContent,
	domain.ErrInvalidMessageType,
	domain.ErrInvalidMessageID,
	domain.ErrRateLimited,
	domain.ErrUnknownCommand,
}

func errorMessage(err error) (string, bool) {
	for _, target := range userFacing {
		if errors.Is(err, target) {
			return err.Error(), true
		}
	}
	return "internal error", false
}

type conversationRef struct {
	ConversationID string `json:"conversationId"`
}

// handle runs one inbound frame. Any failure becomes an error frame on this
// connection only; the connection stays open.
func (s *Server) handle(ctx context.Context, c *Conn, raw []byte) {
	if !s.limiter.Allow(c.id) {
		s.hooks.OnRateLimited()
		c.sendError(domain.ErrRateLimited.Error())
		return
	}

	frame, err := decodeFrame(raw)
	if err == nil {
		err = s.dispatch(ctx, c, frame)
	}
	if err == nil {
		return
	}

	msg, expected := errorMessage(err)
	if !expected {
		event := ""
		if frame != nil {
			event = frame.Event
		}
		c.logger.Error("command failed", zap.String("event", event), zap.Error(err))
	}
	c.sendError(msg)
}

func (s *Server) dispatch(ctx context.Context, c *Conn, f *inFrame) error {
	switch c.namespace {
	case NamespaceChat:
		switch f.Event {
		case CommandMessageSend:
			return s.messageSend(ctx, c, f)
		case CommandMessageRead:
			return s.messageRead(ctx, c, f)
		case CommandTypingStart:
			return s.typing(ctx, c, f, true)
		case CommandTypingStop:
			return s.typing(ctx, c, f, false)
		}
	case NamespacePresence:
		if f.Event == CommandGetOnline {
			return s.getOnline(ctx, c, f)
		}
	}
	return domain.ErrUnknownCommand
}

func (s *Server) messageSend(ctx context.Context, c *Conn, f *inFrame) error {
	var req domain.SendMessageRequest
	if err := decodeData(f, &req); err != nil {
		return err
	}
	m, err := s.chats.SendMessage(ctx, c.identity.UserID, req)
	if err != nil {
		return err
	}
	return c.Send(EventMessageDelivered, m)
}

func (s *Server) messageRead(ctx context.Context, c *Conn, f *inFrame) error {
	var req domain.ReadMessageRequest
	if err := decodeData(f, &req); err != nil {
		return err
	}
	_, err := s.chats.MarkRead(ctx, c.identity.UserID, req)
	return err
}

func (s *Server) typing(ctx context.Context, c *Conn, f *inFrame, isTyping bool) error {
	var ref conversationRef
	if err := decodeData(f, &ref); err != nil {
		return err
	}
	_, err := s.chats.Typing(ctx, c.identity.UserID, ref.ConversationID, isTyping)
	return err
}

func (s *Server) getOnline(ctx context.Context, c *Conn, f *inFrame) error {
	var ids []string
	if err := decodeData(f, &ids); err != nil {
		return err
	}
	online, err := s.presence.QueryOnline(ctx, ids)
	if err != nil {
		return err
	}
	return c.Send(EventOnlineStatus, online)
}
