// Package queue persists deferred jobs and hands them to workers.
//
// A job is claimed atomically: at most one worker holds a given attempt, and
// its hold is a lease. A worker that dies mid-job lets the lease expire and
// the reaper puts the job back, so delivery is at-least-once and handlers
// must tolerate replays.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

var (
	// ErrLeaseLost is returned when a worker reports on a job it no longer holds.
	ErrLeaseLost = errors.New("job lease lost")
	// ErrWrongQueue is returned when a payload is enqueued on a queue its job
	// name does not belong to.
	ErrWrongQueue = errors.New("job does not belong to this queue")
	// ErrDuplicateJob is returned when a job with the same id already exists.
	ErrDuplicateJob = errors.New("job already enqueued")
	// ErrUnknownQueue is returned for a queue name this process does not run.
	ErrUnknownQueue = errors.New("unknown queue")
)

// Store is the durable backing of every named queue.
type Store interface {
	// Enqueue stores a new job; an existing id yields ErrDuplicateJob.
	Enqueue(ctx context.Context, job *domain.Job) error
	// Claim moves the next due job of queue to active for workerID and returns
	// it, or returns nil, nil when nothing is due.
	Claim(ctx context.Context, queue, workerID string, lease time.Duration) (*domain.Job, error)
	Complete(ctx context.Context, id, workerID string) error
	// Retry releases the job back to delayed until runAt.
	Retry(ctx context.Context, id, workerID string, runAt time.Time, errMsg string) error
	Fail(ctx context.Context, id, workerID, errMsg string) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	Depths(ctx context.Context, queue string) (domain.QueueDepth, error)
	// RequeueExpired returns active jobs whose lease ended before now to
	// waiting, or fails them when no attempts remain. It returns the number
	// of jobs touched.
	RequeueExpired(ctx context.Context, now time.Time) (int64, error)
}

const leaseExpiredMsg = "lease expired before the job finished"
