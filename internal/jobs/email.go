package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/provider"
	"github.com/ricirt/marketplace-realtime/internal/repository"
)

// EmailHandlers turn a persisted notification into an email.
type EmailHandlers struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	mailer        provider.Mailer
	logger        *zap.Logger
}

func NewEmailHandlers(
	notifications repository.NotificationRepository,
	users repository.UserRepository,
	mailer provider.Mailer,
	logger *zap.Logger,
) *EmailHandlers {
	return &EmailHandlers{notifications: notifications, users: users, mailer: mailer, logger: logger}
}

func (h *EmailHandlers) Register(r *Registry) {
	r.Register(domain.QueueEmail, domain.JobNotificationEmail, typed(h.notificationEmail))
}

// notificationEmail runs after the batching delay. A notification the user
// already read in-app in the meantime is not emailed.
func (h *EmailHandlers) notificationEmail(ctx context.Context, _ *domain.Job, p *domain.NotificationEmail) error {
	n, err := h.notifications.GetByID(ctx, p.NotificationID)
	if errors.Is(err, domain.ErrNotFound) {
		return Permanent(fmt.Errorf("notification %s: %w", p.NotificationID, err))
	}
	if err != nil {
		return fmt.Errorf("load notification %s: %w", p.NotificationID, err)
	}
	log := h.logger.With(zap.String("notification_id", n.ID), zap.String("user_id", p.UserID))
	if n.ReadAt != nil {
		log.Debug("notification already read, skipping email")
		return nil
	}

	user, err := h.users.GetByID(ctx, p.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return Permanent(fmt.Errorf("user %s: %w", p.UserID, err))
	}
	if err != nil {
		return fmt.Errorf("load user %s: %w", p.UserID, err)
	}
	if user.Email == "" {
		log.Debug("user has no email address, skipping")
		return nil
	}

	receipt, err := h.mailer.Send(ctx, &domain.Email{
		To:             user.Email,
		Subject:        n.Title,
		Body:           n.Message,
		NotificationID: n.ID,
	})
	if err != nil {
		return classify(fmt.Errorf("send email: %w", err))
	}
	log.Info("notification email sent", zap.String("provider_msg_id", receipt.MessageID))
	return nil
}
