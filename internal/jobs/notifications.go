package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/repository"
)

// Notification and CRM event names produced by the notifications queue.
const (
	NotificationTypeInactiveConversations = "crm_inactive_conversations"
	CRMEventInactiveConversations         = "conversations:inactive"
)

// NotificationHandlers serve the notifications queue.
type NotificationHandlers struct {
	notifier Notifier
	crm      CRMPublisher
	chats    repository.ChatRepository
	triggers CRMTriggerExecutor
	logger   *zap.Logger
	now      func() time.Time
	pageSize int
}

func NewNotificationHandlers(
	notifier Notifier,
	crm CRMPublisher,
	chats repository.ChatRepository,
	triggers CRMTriggerExecutor,
	logger *zap.Logger,
) *NotificationHandlers {
	return &NotificationHandlers{
		notifier: notifier, crm: crm, chats: chats, triggers: triggers,
		logger: logger, now: time.Now, pageSize: 500,
	}
}

func (h *NotificationHandlers) Register(r *Registry) {
	r.Register(domain.QueueNotifications, domain.JobCRMInactivityCheck, typed(h.inactivityCheck))
	r.Register(domain.QueueNotifications, domain.JobAutoTrigger, typed(h.autoTrigger))
	r.Register(domain.QueueNotifications, domain.JobStandardNotification, typed(h.standard))
	r.Register(domain.QueueNotifications, domain.JobBulkNotification, typed(h.bulk))
}

// inactivityCheck tells each seller which of their conversations went quiet,
// once per seller per run. A conversation is reported once per idle period:
// it is marked after the seller is notified and only comes back after new
// activity.
func (h *NotificationHandlers) inactivityCheck(ctx context.Context, _ *domain.Job, p *domain.CRMInactivityCheck) error {
	now := h.now()
	before := now.Add(-time.Duration(p.InactiveDays) * 24 * time.Hour)

	bySeller := make(map[string][]string)
	total := 0
	for after := ""; ; {
		page, err := h.chats.FindInactive(ctx, p.SellerID, before, after, h.pageSize)
		if err != nil {
			return fmt.Errorf("find inactive conversations: %w", err)
		}
		for _, c := range page {
			bySeller[c.SellerID] = append(bySeller[c.SellerID], c.ConversationID)
		}
		total += len(page)
		if len(page) < h.pageSize {
			break
		}
		after = page[len(page)-1].ConversationID
	}
	sellers := make([]string, 0, len(bySeller))
	for s := range bySeller {
		sellers = append(sellers, s)
	}
	sort.Strings(sellers)

	var errs []error
	for _, sellerID := range sellers {
		convIDs := bySeller[sellerID]
		sort.Strings(convIDs)
		data := map[string]any{"conversationIds": convIDs, "inactiveDays": p.InactiveDays}

		if err := h.crm.PublishUpdate(ctx, sellerID, CRMEventInactiveConversations, data); err != nil {
			h.logger.Warn("crm inactivity publish failed", zap.String("seller_id", sellerID), zap.Error(err))
		}
		_, err := h.notifier.Send(ctx, domain.SendNotificationRequest{
			UserID:  sellerID,
			Type:    NotificationTypeInactiveConversations,
			Title:   "Conversations need your attention",
			Message: fmt.Sprintf("%d conversation(s) have had no activity for %d days", len(convIDs), p.InactiveDays),
			Data:    data,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("notify seller %s: %w", sellerID, err))
			continue
		}
		if err := h.chats.MarkInactivityNotified(ctx, convIDs, now); err != nil {
			errs = append(errs, fmt.Errorf("mark seller %s conversations: %w", sellerID, err))
		}
	}

	h.logger.Info("crm inactivity check finished",
		zap.Int("conversations", total),
		zap.Int("sellers", len(sellers)),
	)
	return errors.Join(errs...)
}

func (h *NotificationHandlers) autoTrigger(ctx context.Context, _ *domain.Job, p *domain.AutoTrigger) error {
	if err := h.triggers.Execute(ctx, p.TriggerID, p.ConversationID); err != nil {
		return classify(fmt.Errorf("execute trigger %s: %w", p.TriggerID, err))
	}
	return nil
}

func (h *NotificationHandlers) standard(ctx context.Context, _ *domain.Job, p *domain.StandardNotification) error {
	_, err := h.notifier.Send(ctx, p.Request())
	return err
}

// bulk expands the template into one notification per recipient. Individual
// failures are logged; the job fails only if no recipient was reached, since
// a retry would re-notify everyone who already got it. The same holds when
// the worker is stopped halfway: the remaining recipients are logged and
// dropped.
func (h *NotificationHandlers) bulk(ctx context.Context, job *domain.Job, p *domain.BulkNotification) error {
	sent, failed := 0, 0
	var lastErr error
	for i, userID := range p.UserIDs {
		if ctx.Err() != nil {
			if sent == 0 {
				return ctx.Err()
			}
			// A retry would notify the first recipients twice.
			h.logger.Warn("bulk notification interrupted",
				zap.String("job_id", job.ID),
				zap.Int("sent", sent),
				zap.Int("failed", failed),
				zap.Int("remaining", len(p.UserIDs)-i),
				zap.Error(ctx.Err()),
			)
			return nil
		}
		if _, err := h.notifier.Send(ctx, p.Template.ForUser(userID)); err != nil {
			failed++
			lastErr = err
			h.logger.Warn("bulk notification recipient failed",
				zap.String("job_id", job.ID),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			continue
		}
		sent++
	}

	h.logger.Info("bulk notification finished",
		zap.String("job_id", job.ID),
		zap.Int("sent", sent),
		zap.Int("failed", failed),
	)
	if sent == 0 && failed > 0 {
		return fmt.Errorf("bulk notification reached no recipients: %w", lastErr)
	}
	return nil
}
