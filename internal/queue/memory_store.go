package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

// MemoryStore is a Store held in process memory. A single mutex serialises
// every transition, which gives the same claim atomicity as the Postgres store.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	seq  map[string]int64 // insertion order, tie-breaker for equal run_at
	next int64
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*domain.Job),
		seq:  make(map[string]int64),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock swaps the time source; used by tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	c.Payload = append([]byte(nil), j.Payload...)
	return &c
}

func (s *MemoryStore) Enqueue(_ context.Context, j *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; exists {
		return ErrDuplicateJob
	}
	c := cloneJob(j)
	c.Attempts = 0
	c.UpdatedAt = c.CreatedAt
	s.jobs[j.ID] = c
	s.next++
	s.seq[j.ID] = s.next
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, queue, workerID string, lease time.Duration) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	var due []*domain.Job
	for _, j := range s.jobs {
		if j.Queue != queue || (j.State != domain.JobWaiting && j.State != domain.JobDelayed) || j.RunAt.After(now) {
			continue
		}
		due = append(due, j)
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(a, b int) bool {
		if !due[a].RunAt.Equal(due[b].RunAt) {
			return due[a].RunAt.Before(due[b].RunAt)
		}
		return s.seq[due[a].ID] < s.seq[due[b].ID]
	})

	j := due[0]
	until := now.Add(lease)
	owner := workerID
	j.State = domain.JobActive
	j.Attempts++
	j.LockedBy = &owner
	j.LockedUntil = &until
	j.UpdatedAt = now
	return cloneJob(j), nil
}

func (s *MemoryStore) held(id, workerID string) (*domain.Job, error) {
	j, ok := s.jobs[id]
	if !ok || j.State != domain.JobActive || j.LockedBy == nil || *j.LockedBy != workerID {
		return nil, ErrLeaseLost
	}
	return j, nil
}

func (s *MemoryStore) Complete(_ context.Context, id, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.held(id, workerID)
	if err != nil {
		return err
	}
	now := s.now()
	j.State = domain.JobCompleted
	j.LockedBy, j.LockedUntil = nil, nil
	j.UpdatedAt, j.FinishedAt = now, &now
	return nil
}

func (s *MemoryStore) Retry(_ context.Context, id, workerID string, runAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.held(id, workerID)
	if err != nil {
		return err
	}
	j.State = domain.JobDelayed
	j.RunAt = runAt
	j.LastError = &errMsg
	j.LockedBy, j.LockedUntil = nil, nil
	j.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, id, workerID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.held(id, workerID)
	if err != nil {
		return err
	}
	now := s.now()
	j.State = domain.JobFailed
	j.LastError = &errMsg
	j.LockedBy, j.LockedUntil = nil, nil
	j.UpdatedAt, j.FinishedAt = now, &now
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) Depths(_ context.Context, queue string) (domain.QueueDepth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d domain.QueueDepth
	for _, j := range s.jobs {
		if j.Queue == queue {
			d.Add(j.State, 1)
		}
	}
	return d, nil
}

func (s *MemoryStore) RequeueExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	msg := leaseExpiredMsg
	for _, j := range s.jobs {
		if j.State != domain.JobActive || j.LockedUntil == nil || !j.LockedUntil.Before(now) {
			continue
		}
		if j.Attempts >= j.MaxAttempts {
			finished := now
			j.State = domain.JobFailed
			j.FinishedAt = &finished
		} else {
			j.State = domain.JobWaiting
		}
		j.RunAt = now
		j.LastError = &msg
		j.LockedBy, j.LockedUntil = nil, nil
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

// Jobs returns every job of queue ordered by enqueue time; test helper.
func (s *MemoryStore) Jobs(queue string) []*domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Job
	for _, j := range s.jobs {
		if j.Queue == queue {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return s.seq[out[a].ID] < s.seq[out[b].ID] })
	return out
}
