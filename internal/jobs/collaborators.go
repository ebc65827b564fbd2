package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/provider"
)

// EscrowReleaser releases held funds once the buyer protection window closes.
type EscrowReleaser interface {
	ReleaseCourseEnrollment(ctx context.Context, enrollmentID string) error
	ReleaseOrder(ctx context.Context, orderID string) error
}

// PayoutBatcher pays out seller balances accrued up to periodEnd and returns
// how many payouts it created.
type PayoutBatcher interface {
	RunBatch(ctx context.Context, periodEnd time.Time) (int, error)
}

// CRMTriggerExecutor runs a seller-defined automation against a conversation.
type CRMTriggerExecutor interface {
	Execute(ctx context.Context, triggerID, conversationID string) error
}

// Notifier sends one in-app notification. The notification service
// implements it.
type Notifier interface {
	Send(ctx context.Context, req domain.SendNotificationRequest) (*domain.Notification, error)
}

// CRMPublisher pushes an event to a seller's CRM channel.
type CRMPublisher interface {
	PublishUpdate(ctx context.Context, sellerID, event string, data any) error
}

// classify marks a collaborator's rejection of the request as permanent so
// the job is failed instead of retried.
func classify(err error) error {
	if err != nil && errors.Is(err, provider.ErrRejected) {
		return Permanent(err)
	}
	return err
}
