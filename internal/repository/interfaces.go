package repository

import (
	"context"
	"time"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

// NotificationRepository defines all persistence operations for notifications.
// The pgx implementation is in pg_notification_repo.go.
// Tests use a hand-written mock (mock_notification_repo.go).
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, userID string, filter domain.NotificationFilter) ([]*domain.Notification, error)
	MarkRead(ctx context.Context, userID string, ids []string, at time.Time) (int64, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// ChatRepository covers the conversation and message tables used by the gateway.
type ChatRepository interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ConversationIDsForUser(ctx context.Context, userID string) ([]string, error)
	// CreateMessage stores the message and bumps the unread counter of every
	// other participant in one transaction.
	CreateMessage(ctx context.Context, m *domain.Message) error
	MarkRead(ctx context.Context, conversationID, userID, messageID string, at time.Time) error
	// FindInactive pages, by conversation id, through conversations idle
	// since before that have not been reported since their last activity.
	// An empty sellerID matches every seller.
	FindInactive(ctx context.Context, sellerID string, before time.Time, afterID string, limit int) ([]domain.InactiveConversation, error)
	MarkInactivityNotified(ctx context.Context, conversationIDs []string, at time.Time) error
}

// UserRepository resolves the account behind a bearer credential.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// SubscriptionRepository is read by the subscription lifecycle jobs.
type SubscriptionRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Subscription, error)
	// Cancel moves the subscription to canceled only if its status is still
	// one of from; it reports whether a row changed.
	Cancel(ctx context.Context, id string, from ...domain.SubscriptionStatus) (bool, error)
}
