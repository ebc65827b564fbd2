package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

// Options tune a single enqueue. Zero values mean "run now", a generated id
// and the queue's default attempt budget.
type Options struct {
	// ID makes the enqueue idempotent: a second job with the same id is
	// rejected with ErrDuplicateJob.
	ID          string
	Delay       time.Duration
	RunAt       time.Time
	MaxAttempts int
}

// Queue is a named view over the shared Store.
type Queue struct {
	name        string
	store       Store
	maxAttempts int
	now         func() time.Time
}

func New(name string, store Store, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Queue{name: name, store: store, maxAttempts: maxAttempts, now: func() time.Time { return time.Now().UTC() }}
}

func (q *Queue) Name() string { return q.name }

// Enqueue validates and stores payload. The returned job is the handle the
// caller can poll with Store.Get.
func (q *Queue) Enqueue(ctx context.Context, p domain.JobPayload, opts Options) (*domain.Job, error) {
	name := p.JobName()
	queueName, ok := domain.QueueForJob(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownJob, name)
	}
	if queueName != q.name {
		return nil, fmt.Errorf("%w: %s belongs to %s, not %s", ErrWrongQueue, name, queueName, q.name)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidJobPayload, name, err)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", name, err)
	}

	now := q.now()
	runAt := now
	switch {
	case !opts.RunAt.IsZero():
		runAt = opts.RunAt.UTC()
	case opts.Delay > 0:
		runAt = now.Add(opts.Delay)
	}
	state := domain.JobWaiting
	if runAt.After(now) {
		state = domain.JobDelayed
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	job := &domain.Job{
		ID:          id,
		Queue:       q.name,
		Name:        name,
		Payload:     payload,
		State:       state,
		MaxAttempts: maxAttempts,
		RunAt:       runAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.store.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Queues groups every named queue over one store and routes payloads to
// their queue by job name.
type Queues struct {
	store  Store
	byName map[string]*Queue
}

func NewQueues(store Store, maxAttempts int, names ...string) *Queues {
	qs := &Queues{store: store, byName: make(map[string]*Queue, len(names))}
	for _, n := range names {
		qs.byName[n] = New(n, store, maxAttempts)
	}
	return qs
}

func (qs *Queues) Store() Store { return qs.store }

func (qs *Queues) Get(name string) (*Queue, bool) {
	q, ok := qs.byName[name]
	return q, ok
}

// Names returns the queue names, sorted.
func (qs *Queues) Names() []string {
	names := make([]string, 0, len(qs.byName))
	for n := range qs.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Enqueue routes p to the queue its job name belongs to.
func (qs *Queues) Enqueue(ctx context.Context, p domain.JobPayload, opts Options) (*domain.Job, error) {
	queueName, ok := domain.QueueForJob(p.JobName())
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownJob, p.JobName())
	}
	return qs.EnqueueOn(ctx, queueName, p, opts)
}

// EnqueueOn stores p on the named queue. The job name must belong to it.
func (qs *Queues) EnqueueOn(ctx context.Context, queueName string, p domain.JobPayload, opts Options) (*domain.Job, error) {
	q, ok := qs.byName[queueName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queueName)
	}
	return q.Enqueue(ctx, p, opts)
}

// Depths snapshots every queue.
func (qs *Queues) Depths(ctx context.Context) (map[string]domain.QueueDepth, error) {
	out := make(map[string]domain.QueueDepth, len(qs.byName))
	for _, name := range qs.Names() {
		d, err := qs.store.Depths(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = d
	}
	return out, nil
}

// Job looks up a job handle by id in any queue.
func (qs *Queues) Job(ctx context.Context, id string) (*domain.Job, error) {
	return qs.store.Get(ctx, id)
}
