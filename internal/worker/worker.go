package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/jobs"
	"github.com/ricirt/marketplace-realtime/internal/queue"
)

// Worker is a single goroutine that continuously claims jobs from one queue,
// dispatches them to the registered handler and records the outcome.
type Worker struct {
	id       string
	queue    string
	store    queue.Store
	registry *jobs.Registry
	opts     Options
	logger   *zap.Logger
	hooks    MetricHooks
	now      func() time.Time
}

// NewWorker constructs a worker. Nil hooks are replaced with no-ops.
func NewWorker(
	id, queueName string,
	store queue.Store,
	registry *jobs.Registry,
	opts Options,
	logger *zap.Logger,
	hooks MetricHooks,
) *Worker {
	return &Worker{
		id: id, queue: queueName, store: store, registry: registry,
		opts: opts.withDefaults(), logger: logger, hooks: hooks.withDefaults(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is cancelled, processing one job per iteration. An
// empty queue is polled again after PollInterval.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping")
			return
		}
		job, err := w.store.Claim(ctx, w.queue, w.id, w.opts.LeaseTimeout)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("claim failed", zap.Error(err))
		}
		if job == nil {
			select {
			case <-ctx.Done():
				w.logger.Info("worker stopping")
				return
			case <-time.After(w.opts.PollInterval):
			}
			continue
		}
		w.process(ctx, job)
	}
}

// process runs the handler to completion even if ctx is cancelled meanwhile,
// bounded by the lease, so shutdown does not abandon a half-done job.
func (w *Worker) process(ctx context.Context, job *domain.Job) {
	start := time.Now()
	log := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("queue", job.Queue),
		zap.String("job_name", job.Name),
		zap.Int("attempt", job.Attempts),
	)

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.LeaseTimeout)
	defer cancel()

	err := w.dispatch(runCtx, job)
	elapsed := time.Since(start)

	if err == nil {
		if err := w.store.Complete(runCtx, job.ID, w.id); err != nil {
			w.reportLost(log, err)
			return
		}
		w.hooks.OnCompleted(job.Queue, job.Name, elapsed)
		log.Info("job completed", zap.Duration("latency", elapsed))
		return
	}

	w.handleFailure(runCtx, log, job, err)
}

// dispatch converts a handler panic into an error so one bad job cannot kill
// the worker goroutine.
func (w *Worker) dispatch(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return w.registry.Dispatch(ctx, job)
}

// handleFailure either schedules a retry (if attempts remain and the error is
// retryable) or marks the job as permanently failed.
//
// Retry schedule uses the configured backoff list:
//
//	attempt 1 → backoff[0]  (default 5 s)
//	attempt 2 → backoff[1]  (default 30 s)
//	attempt N > len(backoff) → last backoff entry (clamped)
func (w *Worker) handleFailure(ctx context.Context, log *zap.Logger, job *domain.Job, jobErr error) {
	if jobs.IsPermanent(jobErr) || job.Attempts >= job.MaxAttempts {
		log.Error("job failed", zap.Error(jobErr), zap.Int("max_attempts", job.MaxAttempts))
		if err := w.store.Fail(ctx, job.ID, w.id, jobErr.Error()); err != nil {
			w.reportLost(log, err)
			return
		}
		w.hooks.OnFailed(job.Queue, job.Name)
		return
	}

	idx := job.Attempts - 1
	if idx >= len(w.opts.Backoff) {
		idx = len(w.opts.Backoff) - 1
	}
	if idx < 0 {
		idx = 0
	}
	next := w.now().Add(w.opts.Backoff[idx])

	log.Warn("job attempt failed, retry scheduled", zap.Error(jobErr), zap.Time("next_attempt_at", next))
	if err := w.store.Retry(ctx, job.ID, w.id, next, jobErr.Error()); err != nil {
		w.reportLost(log, err)
		return
	}
	w.hooks.OnRetried(job.Queue, job.Name)
}

func (w *Worker) reportLost(log *zap.Logger, err error) {
	if errors.Is(err, queue.ErrLeaseLost) {
		// The reaper already handed the job to someone else.
		log.Warn("job lease lost before outcome was recorded")
		return
	}
	log.Error("failed to record job outcome", zap.Error(err))
}
