// Package tasks runs fire-and-forget background work so that no failure goes
// unobserved and shutdown can wait for in-flight work.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Tracker launches named goroutines bound to a shared context. Every error
// or panic is reported to one logger.
type Tracker struct {
	ctx    context.Context
	logger *zap.Logger
	wg     sync.WaitGroup
	failed atomic.Int64
}

func NewTracker(ctx context.Context, logger *zap.Logger) *Tracker {
	return &Tracker{ctx: ctx, logger: logger}
}

// Go runs fn in a new goroutine.
func (t *Tracker) Go(name string, fn func(ctx context.Context) error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.run(fn); err != nil {
			t.failed.Add(1)
			t.logger.Error("background task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

func (t *Tracker) run(fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(t.ctx)
}

// Wait blocks until every task started so far has returned.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Failures returns how many tasks have reported an error.
func (t *Tracker) Failures() int64 {
	return t.failed.Load()
}
