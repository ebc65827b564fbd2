package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/queue"
	"github.com/ricirt/marketplace-realtime/internal/repository"
)

// NotificationPublisher is the bus side of the notification flow.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, n *domain.Notification) error
}

// JobEnqueuer routes a payload to its queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, p domain.JobPayload, opts queue.Options) (*domain.Job, error)
}

// NotificationOptions are the orchestrator's tunables.
type NotificationOptions struct {
	EmailBatchDelay time.Duration
	BulkLimit       int
}

// NotificationService coordinates the repository, the bus and the job queue.
// Ordering for a single send is fixed: persist, then publish, then schedule
// the email. The published event therefore always carries a stored record.
type NotificationService struct {
	repo   repository.NotificationRepository
	events NotificationPublisher
	jobs   JobEnqueuer
	opts   NotificationOptions
	logger *zap.Logger
	now    func() time.Time
}

func NewNotificationService(
	repo repository.NotificationRepository,
	events NotificationPublisher,
	jobs JobEnqueuer,
	opts NotificationOptions,
	logger *zap.Logger,
) *NotificationService {
	if opts.EmailBatchDelay <= 0 {
		opts.EmailBatchDelay = 60 * time.Second
	}
	if opts.BulkLimit <= 0 {
		opts.BulkLimit = 5000
	}
	return &NotificationService{
		repo: repo, events: events, jobs: jobs, opts: opts, logger: logger,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Send persists one notification, publishes it to the recipient's processes
// and, if requested, schedules the delayed email.
//
// The bus is at-most-once and the email is best effort: failures after the
// record is stored are logged, not returned, so a retried caller does not
// create a duplicate notification.
func (s *NotificationService) Send(ctx context.Context, req domain.SendNotificationRequest) (*domain.Notification, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	n := &domain.Notification{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Data:      req.Data,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}

	log := s.logger.With(zap.String("notification_id", n.ID), zap.String("user_id", n.UserID))

	if err := s.events.PublishNotification(ctx, n); err != nil {
		log.Warn("failed to publish notification", zap.Error(err))
	}

	if req.SendEmail {
		job, err := s.jobs.Enqueue(ctx, domain.NotificationEmail{UserID: n.UserID, NotificationID: n.ID},
			queue.Options{Delay: s.opts.EmailBatchDelay})
		if err != nil {
			log.Error("failed to schedule notification email", zap.Error(err))
		} else {
			log.Debug("notification email scheduled", zap.String("job_id", job.ID), zap.Time("run_at", job.RunAt))
		}
	}

	return n, nil
}

// SendBulk enqueues exactly one bulk job carrying the recipient list and the
// template. Lists longer than the bulk limit are truncated with a warning.
func (s *NotificationService) SendBulk(ctx context.Context, userIDs []string, tmpl domain.NotificationTemplate) (*domain.Job, error) {
	if len(userIDs) == 0 {
		return nil, domain.ErrEmptyRecipients
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}

	recipients := userIDs
	if len(recipients) > s.opts.BulkLimit {
		s.logger.Warn("bulk notification recipient list truncated",
			zap.Int("original_count", len(userIDs)),
			zap.Int("truncated_count", s.opts.BulkLimit),
		)
		recipients = userIDs[:s.opts.BulkLimit]
	}

	job, err := s.jobs.Enqueue(ctx, domain.BulkNotification{UserIDs: recipients, Template: tmpl}, queue.Options{})
	if err != nil {
		return nil, fmt.Errorf("enqueue bulk notification: %w", err)
	}
	return job, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.repo.MarkRead(ctx, userID, ids, s.now())
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID, s.now())
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.UnreadCount(ctx, userID)
}

func (s *NotificationService) List(ctx context.Context, userID string, f domain.NotificationFilter) ([]*domain.Notification, error) {
	return s.repo.List(ctx, userID, f)
}
