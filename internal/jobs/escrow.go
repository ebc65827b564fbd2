package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

// EscrowHandlers release funds for completed course enrollments and orders.
type EscrowHandlers struct {
	releaser EscrowReleaser
	logger   *zap.Logger
}

func NewEscrowHandlers(releaser EscrowReleaser, logger *zap.Logger) *EscrowHandlers {
	return &EscrowHandlers{releaser: releaser, logger: logger}
}

func (h *EscrowHandlers) Register(r *Registry) {
	r.Register(domain.QueueEscrowRelease, domain.JobCourseAutoRelease, typed(h.courseAutoRelease))
	r.Register(domain.QueueEscrowRelease, domain.JobOrderEscrowRelease, typed(h.orderRelease))
}

func (h *EscrowHandlers) courseAutoRelease(ctx context.Context, _ *domain.Job, p *domain.CourseAutoRelease) error {
	if err := h.releaser.ReleaseCourseEnrollment(ctx, p.EnrollmentID); err != nil {
		return classify(fmt.Errorf("release enrollment %s: %w", p.EnrollmentID, err))
	}
	h.logger.Info("course escrow released", zap.String("enrollment_id", p.EnrollmentID))
	return nil
}

func (h *EscrowHandlers) orderRelease(ctx context.Context, _ *domain.Job, p *domain.OrderEscrowRelease) error {
	if err := h.releaser.ReleaseOrder(ctx, p.OrderID); err != nil {
		return classify(fmt.Errorf("release order %s: %w", p.OrderID, err))
	}
	h.logger.Info("order escrow released", zap.String("order_id", p.OrderID))
	return nil
}
