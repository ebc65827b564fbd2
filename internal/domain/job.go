package domain

import (
	"encoding/json"
	"time"
)

// JobState tracks the lifecycle of a queued job.
//
//	waiting|delayed -> active -> completed
//	                          -> failed
//	                          -> delayed (retry scheduled, attempts remain)
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobDelayed   JobState = "delayed"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is the persisted unit of deferred work.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	State       JobState        `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	RunAt       time.Time       `json:"runAt"`
	LockedBy    *string         `json:"lockedBy,omitempty"`
	LockedUntil *time.Time      `json:"lockedUntil,omitempty"`
	LastError   *string         `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// QueueDepth is a per-state count snapshot for one queue.
type QueueDepth struct {
	Waiting   int `json:"waiting"`
	Delayed   int `json:"delayed"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// JobPayload is implemented by every job variant. The job name is the
// discriminator of the tagged union stored in Job.Name.
type JobPayload interface {
	JobName() string
	Validate() error
}

// Add accumulates n jobs in state into the snapshot.
func (d *QueueDepth) Add(state JobState, n int) {
	switch state {
	case JobWaiting:
		d.Waiting += n
	case JobDelayed:
		d.Delayed += n
	case JobActive:
		d.Active += n
	case JobCompleted:
		d.Completed += n
	case JobFailed:
		d.Failed += n
	}
}
