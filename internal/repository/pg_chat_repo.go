package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

type pgChatRepository struct {
	pool *pgxpool.Pool
}

// NewPgChatRepository returns a ChatRepository backed by PostgreSQL.
func NewPgChatRepository(pool *pgxpool.Pool) ChatRepository {
	return &pgChatRepository{pool: pool}
}

func (r *pgChatRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)`, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

func (r *pgChatRepository) ConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT conversation_id FROM conversation_participants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *pgChatRepository) CreateMessage(ctx context.Context, m *domain.Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, type, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.Type, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversation_participants SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND user_id <> $2`, m.ConversationID, m.SenderID)
	if err != nil {
		return fmt.Errorf("bump unread counters: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversations SET last_message_at = $1 WHERE id = $2`, m.CreatedAt, m.ConversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

func (r *pgChatRepository) MarkRead(ctx context.Context, conversationID, userID, messageID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE conversation_participants
		SET unread_count = 0, last_read_message_id = $1, last_read_at = $2
		WHERE conversation_id = $3 AND user_id = $4`,
		messageID, at, conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotParticipant
	}
	return nil
}

func (r *pgChatRepository) FindInactive(ctx context.Context, sellerID string, before time.Time, afterID string, limit int) ([]domain.InactiveConversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, seller_id, last_message_at
		FROM conversations
		WHERE ($1 = '' OR seller_id = $1)
		  AND COALESCE(last_message_at, created_at) < $2
		  AND (inactivity_notified_at IS NULL
		       OR inactivity_notified_at < COALESCE(last_message_at, created_at))
		  AND id > $3
		ORDER BY id
		LIMIT $4`, sellerID, before, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("find inactive conversations: %w", err)
	}
	defer rows.Close()

	var result []domain.InactiveConversation
	for rows.Next() {
		var c domain.InactiveConversation
		if err := rows.Scan(&c.ConversationID, &c.SellerID, &c.LastMessageAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *pgChatRepository) MarkInactivityNotified(ctx context.Context, conversationIDs []string, at time.Time) error {
	if len(conversationIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations SET inactivity_notified_at = $1 WHERE id = ANY($2)`, at, conversationIDs)
	if err != nil {
		return fmt.Errorf("mark inactivity notified: %w", err)
	}
	return nil
}

type pgUserRepository struct {
	pool *pgxpool.Pool
}

// NewPgUserRepository returns a UserRepository backed by PostgreSQL.
func NewPgUserRepository(pool *pgxpool.Pool) UserRepository {
	return &pgUserRepository{pool: pool}
}

func (r *pgUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var (
		u     domain.User
		roles []string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, roles, suspended FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Name, &roles, &u.Suspended)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	for _, role := range roles {
		u.Roles = append(u.Roles, domain.Role(role))
	}
	return &u, nil
}

type pgSubscriptionRepository struct {
	pool *pgxpool.Pool
}

// NewPgSubscriptionRepository returns a SubscriptionRepository backed by PostgreSQL.
func NewPgSubscriptionRepository(pool *pgxpool.Pool) SubscriptionRepository {
	return &pgSubscriptionRepository{pool: pool}
}

func (r *pgSubscriptionRepository) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	var s domain.Subscription
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, plan_name, status, cancel_at_period_end, current_period_end, updated_at
		FROM subscriptions WHERE id = $1`, id).
		Scan(&s.ID, &s.UserID, &s.PlanName, &s.Status, &s.CancelAtPeriodEnd, &s.CurrentPeriodEnd, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &s, nil
}

func (r *pgSubscriptionRepository) Cancel(ctx context.Context, id string, from ...domain.SubscriptionStatus) (bool, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE subscriptions SET status = 'canceled', cancel_at_period_end = FALSE, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)`, id, statuses)
	if err != nil {
		return false, fmt.Errorf("cancel subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
