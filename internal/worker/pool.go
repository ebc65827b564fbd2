package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/jobs"
	"github.com/ricirt/marketplace-realtime/internal/queue"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the pool constructor signature clean.
type MetricHooks struct {
	OnCompleted func(queue, name string, latency time.Duration)
	OnFailed    func(queue, name string)
	OnRetried   func(queue, name string)
}

func (h MetricHooks) withDefaults() MetricHooks {
	if h.OnCompleted == nil {
		h.OnCompleted = func(string, string, time.Duration) {}
	}
	if h.OnFailed == nil {
		h.OnFailed = func(string, string) {}
	}
	if h.OnRetried == nil {
		h.OnRetried = func(string, string) {}
	}
	return h
}

// Options are shared by every worker of a pool.
type Options struct {
	NodeName     string
	PollInterval time.Duration
	LeaseTimeout time.Duration
	Backoff      []time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = 5 * time.Minute
	}
	if len(o.Backoff) == 0 {
		o.Backoff = []time.Duration{5 * time.Second, 30 * time.Second, 120 * time.Second}
	}
	return o
}

// PanicError is returned for a job whose handler panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("handler panic: %v", e.Value) }

// Pool manages the lifecycle of the workers of one queue.
type Pool struct {
	queue   string
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool creates size identical workers for queueName. Worker ids include
// the node name so leases stay distinguishable across processes.
func NewPool(
	queueName string,
	size int,
	store queue.Store,
	registry *jobs.Registry,
	opts Options,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pool {
	if size < 1 {
		size = 1
	}
	workers := make([]*Worker, size)
	for i := range workers {
		id := fmt.Sprintf("%s/%s-%d", opts.NodeName, queueName, i)
		workers[i] = NewWorker(
			id, queueName, store, registry, opts,
			logger.With(zap.String("worker_id", id), zap.String("queue", queueName)),
			hooks,
		)
	}
	return &Pool{queue: queueName, workers: workers}
}

func (p *Pool) Queue() string { return p.queue }
func (p *Pool) Size() int     { return len(p.workers) }

// Start launches all workers as goroutines.
// The provided ctx is forwarded to every worker; cancelling it
// triggers a graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
// Call this after cancelling the context to ensure in-flight jobs finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}
