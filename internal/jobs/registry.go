// Package jobs maps job names to the handlers that execute them.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

// Handler executes one decoded job. It may run more than once for the same
// job and must tolerate that.
type Handler func(ctx context.Context, job *domain.Job, payload domain.JobPayload) error

// ErrPermanent marks a failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent job failure")

// Permanent wraps err so the worker fails the job without retrying.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }

// Registry holds the handler of every (queue, job name) pair. Registration
// happens once at startup; lookups afterwards are read-only.
type Registry struct {
	handlers map[string]map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]map[string]Handler)}
}

// Register binds h to name on queue. An unknown job name, a queue the name
// does not belong to, or a duplicate binding is a programming error and
// panics at startup.
func (r *Registry) Register(queue, name string, h Handler) {
	owner, ok := domain.QueueForJob(name)
	if !ok {
		panic(fmt.Sprintf("jobs: register unknown job %q", name))
	}
	if owner != queue {
		panic(fmt.Sprintf("jobs: job %q belongs to queue %q, not %q", name, owner, queue))
	}
	byName, ok := r.handlers[queue]
	if !ok {
		byName = make(map[string]Handler)
		r.handlers[queue] = byName
	}
	if _, dup := byName[name]; dup {
		panic(fmt.Sprintf("jobs: duplicate handler for %q", name))
	}
	byName[name] = h
}

// Queues returns the queues with at least one handler, sorted.
func (r *Registry) Queues() []string {
	out := make([]string, 0, len(r.handlers))
	for q := range r.handlers {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

// Names returns the job names registered on queue, sorted.
func (r *Registry) Names(queue string) []string {
	out := make([]string, 0, len(r.handlers[queue]))
	for n := range r.handlers[queue] {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Dispatch decodes the job payload and runs its handler. Decoding failures
// and missing handlers are permanent.
func (r *Registry) Dispatch(ctx context.Context, job *domain.Job) error {
	h, ok := r.handlers[job.Queue][job.Name]
	if !ok {
		return Permanent(fmt.Errorf("%w: no handler for %q on queue %q", domain.ErrUnknownJob, job.Name, job.Queue))
	}
	payload, err := domain.DecodeJobPayload(job.Name, job.Payload)
	if err != nil {
		return Permanent(err)
	}
	return h(ctx, job, payload)
}
