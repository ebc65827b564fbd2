package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/queue"
)

// Reaper polls the store for active jobs whose lease has expired and puts
// them back in line. This is what turns a worker crash mid-job into a
// redelivery instead of a lost job.
//
// Each tick also snapshots queue depths for the metrics gauges.
type Reaper struct {
	queues   *queue.Queues
	interval time.Duration
	logger   *zap.Logger
	onDepths func(map[string]domain.QueueDepth)
	now      func() time.Time
}

// NewReaper builds a reaper. onDepths is optional (nil = no-op).
func NewReaper(
	queues *queue.Queues,
	interval time.Duration,
	logger *zap.Logger,
	onDepths func(map[string]domain.QueueDepth),
) *Reaper {
	if onDepths == nil {
		onDepths = func(map[string]domain.QueueDepth) {}
	}
	return &Reaper{
		queues: queues, interval: interval, logger: logger, onDepths: onDepths,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("job reaper started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job reaper stopping")
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Reaper) poll(ctx context.Context) {
	n, err := r.queues.Store().RequeueExpired(ctx, r.now())
	if err != nil {
		r.logger.Error("reap poll error", zap.Error(err))
	} else if n > 0 {
		r.logger.Warn("requeued jobs with expired leases", zap.Int64("count", n))
	}

	depths, err := r.queues.Depths(ctx)
	if err != nil {
		r.logger.Error("queue depth snapshot failed", zap.Error(err))
		return
	}
	r.onDepths(depths)
}
