package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/queue"
)

// Scheduler enqueues recurring jobs on cron schedules.
//
// Every gateway process runs one. Each firing enqueues with an id derived
// from the job name and the firing minute, so the processes that fire for
// the same slot collapse into a single job.
type Scheduler struct {
	cron   *cron.Cron
	queues *queue.Queues
	logger *zap.Logger
	now    func() time.Time
}

func NewScheduler(queues *queue.Queues, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cron.NewParser(
				cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
			)),
			cron.WithLocation(time.UTC),
		),
		queues: queues,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Add registers a recurring job. build is called at every firing so payloads
// can carry the firing time.
func (s *Scheduler) Add(spec string, build func(firedAt time.Time) domain.JobPayload) error {
	probe := build(time.Time{})
	if _, ok := domain.QueueForJob(probe.JobName()); !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownJob, probe.JobName())
	}
	_, err := s.cron.AddFunc(spec, func() { s.fire(context.Background(), build) })
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", probe.JobName(), spec, err)
	}
	s.logger.Info("recurring job scheduled", zap.String("job_name", probe.JobName()), zap.String("spec", spec))
	return nil
}

func (s *Scheduler) fire(ctx context.Context, build func(time.Time) domain.JobPayload) {
	firedAt := s.now().Truncate(time.Minute)
	p := build(firedAt)
	id := fmt.Sprintf("%s@%s", p.JobName(), firedAt.Format(time.RFC3339))

	job, err := s.queues.Enqueue(ctx, p, queue.Options{ID: id})
	switch {
	case errors.Is(err, queue.ErrDuplicateJob):
		s.logger.Debug("recurring job already enqueued by another process", zap.String("job_id", id))
	case err != nil:
		s.logger.Error("recurring job enqueue failed", zap.String("job_name", p.JobName()), zap.Error(err))
	default:
		s.logger.Info("recurring job enqueued", zap.String("job_id", job.ID), zap.String("queue", job.Queue))
	}
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts future firings and waits for a firing in progress, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Entries returns the number of registered schedules.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
