package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

type pgNotificationRepository struct {
	pool *pgxpool.Pool
}

// NewPgNotificationRepository returns a NotificationRepository backed by PostgreSQL.
func NewPgNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &pgNotificationRepository{pool: pool}
}

func (r *pgNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	data, err := marshalData(n.Data)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, data, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, data, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *pgNotificationRepository) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, type, title, message, data, created_at, read_at
		FROM notifications WHERE id = $1`, id)

	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func (r *pgNotificationRepository) List(ctx context.Context, userID string, f domain.NotificationFilter) ([]*domain.Notification, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, type, title, message, data, created_at, read_at
		FROM notifications
		WHERE user_id = $1 AND ($2::boolean = FALSE OR read_at IS NULL)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		userID, f.UnreadOnly, f.Limit, (f.Page-1)*f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var result []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *pgNotificationRepository) MarkRead(ctx context.Context, userID string, ids []string, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET read_at = $1
		WHERE user_id = $2 AND id = ANY($3) AND read_at IS NULL`, at, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgNotificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET read_at = $1
		WHERE user_id = $2 AND read_at IS NULL`, at, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgNotificationRepository) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// ---- helpers ----

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n    domain.Notification
		data []byte
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &data, &n.CreatedAt, &n.ReadAt); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("decode notification data: %w", err)
		}
	}
	return &n, nil
}

func marshalData(data map[string]any) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode notification data: %w", err)
	}
	return b, nil
}
