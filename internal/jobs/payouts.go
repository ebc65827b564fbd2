package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

type PayoutHandlers struct {
	batcher PayoutBatcher
	logger  *zap.Logger
	now     func() time.Time
}

func NewPayoutHandlers(batcher PayoutBatcher, logger *zap.Logger) *PayoutHandlers {
	return &PayoutHandlers{batcher: batcher, logger: logger, now: time.Now}
}

func (h *PayoutHandlers) Register(r *Registry) {
	r.Register(domain.QueuePayouts, domain.JobWeeklyPayoutBatch, typed(h.weeklyBatch))
}

func (h *PayoutHandlers) weeklyBatch(ctx context.Context, _ *domain.Job, p *domain.WeeklyPayoutBatch) error {
	periodEnd := p.PeriodEnd
	if periodEnd.IsZero() {
		periodEnd = h.now().UTC()
	}
	n, err := h.batcher.RunBatch(ctx, periodEnd)
	if err != nil {
		return classify(fmt.Errorf("payout batch up to %s: %w", periodEnd.Format(time.RFC3339), err))
	}
	h.logger.Info("weekly payout batch finished", zap.Time("period_end", periodEnd), zap.Int("payouts", n))
	return nil
}
