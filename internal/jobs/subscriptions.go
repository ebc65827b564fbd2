package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/repository"
)

// Notification types produced by the subscription lifecycle jobs.
const (
	NotificationTypeRenewalReminder = "subscription_renewal_reminder"
	NotificationTypeCanceled        = "subscription_canceled"
	NotificationTypePaymentFailed   = "subscription_payment_failed"
)

// SubscriptionHandlers re-read the subscription before acting. When its state
// moved on since the job was scheduled, the job completes without effect.
type SubscriptionHandlers struct {
	subs     repository.SubscriptionRepository
	notifier Notifier
	logger   *zap.Logger
}

func NewSubscriptionHandlers(subs repository.SubscriptionRepository, notifier Notifier, logger *zap.Logger) *SubscriptionHandlers {
	return &SubscriptionHandlers{subs: subs, notifier: notifier, logger: logger}
}

func (h *SubscriptionHandlers) Register(r *Registry) {
	r.Register(domain.QueueSubscriptions, domain.JobRenewalReminder, typed(h.renewalReminder))
	r.Register(domain.QueueSubscriptions, domain.JobCancelAtPeriodEnd, typed(h.cancelAtPeriodEnd))
	r.Register(domain.QueueSubscriptions, domain.JobPaymentFailedFollowup, typed(h.paymentFailedFollowup))
}

func (h *SubscriptionHandlers) load(ctx context.Context, id string) (*domain.Subscription, error) {
	sub, err := h.subs.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, Permanent(fmt.Errorf("subscription %s: %w", id, err))
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription %s: %w", id, err)
	}
	return sub, nil
}

func (h *SubscriptionHandlers) skip(job *domain.Job, sub *domain.Subscription) error {
	h.logger.Info("subscription state changed, skipping job",
		zap.String("job_name", job.Name),
		zap.String("subscription_id", sub.ID),
		zap.String("status", string(sub.Status)),
		zap.Bool("cancel_at_period_end", sub.CancelAtPeriodEnd),
	)
	return nil
}

func (h *SubscriptionHandlers) renewalReminder(ctx context.Context, job *domain.Job, p *domain.RenewalReminder) error {
	sub, err := h.load(ctx, p.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.Status != domain.SubscriptionActive || sub.CancelAtPeriodEnd {
		return h.skip(job, sub)
	}
	_, err = h.notifier.Send(ctx, domain.SendNotificationRequest{
		UserID:    sub.UserID,
		Type:      NotificationTypeRenewalReminder,
		Title:     "Your subscription renews soon",
		Message:   fmt.Sprintf("Your %s plan renews on %s.", sub.PlanName, sub.CurrentPeriodEnd.Format("January 2, 2006")),
		Data:      map[string]any{"subscriptionId": sub.ID, "daysBefore": p.DaysBefore},
		SendEmail: true,
	})
	return err
}

func (h *SubscriptionHandlers) cancelAtPeriodEnd(ctx context.Context, job *domain.Job, p *domain.CancelAtPeriodEnd) error {
	sub, err := h.load(ctx, p.SubscriptionID)
	if err != nil {
		return err
	}
	if !sub.CancelAtPeriodEnd || sub.Status == domain.SubscriptionCanceled {
		return h.skip(job, sub)
	}
	changed, err := h.subs.Cancel(ctx, sub.ID, domain.SubscriptionActive, domain.SubscriptionPastDue)
	if err != nil {
		return fmt.Errorf("cancel subscription %s: %w", sub.ID, err)
	}
	if !changed {
		// Someone else moved it between our read and the conditional update.
		return h.skip(job, sub)
	}
	_, err = h.notifier.Send(ctx, domain.SendNotificationRequest{
		UserID:    sub.UserID,
		Type:      NotificationTypeCanceled,
		Title:     "Your subscription has ended",
		Message:   fmt.Sprintf("Your %s plan was canceled at the end of the billing period.", sub.PlanName),
		Data:      map[string]any{"subscriptionId": sub.ID},
		SendEmail: true,
	})
	return err
}

func (h *SubscriptionHandlers) paymentFailedFollowup(ctx context.Context, job *domain.Job, p *domain.PaymentFailedFollowup) error {
	sub, err := h.load(ctx, p.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.Status != domain.SubscriptionPastDue {
		return h.skip(job, sub)
	}
	_, err = h.notifier.Send(ctx, domain.SendNotificationRequest{
		UserID:    sub.UserID,
		Type:      NotificationTypePaymentFailed,
		Title:     "We couldn't process your payment",
		Message:   fmt.Sprintf("Please update your payment method to keep your %s plan.", sub.PlanName),
		Data:      map[string]any{"subscriptionId": sub.ID, "attempt": p.Attempt},
		SendEmail: true,
	})
	return err
}
