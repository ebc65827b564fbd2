package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestTracker_ReportsFailuresAndPanics(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	tr := NewTracker(context.Background(), zap.New(core))

	tr.Go("ok", func(context.Context) error { return nil })
	tr.Go("broken", func(context.Context) error { return errors.New("redis unavailable") })
	tr.Go("panicky", func(context.Context) error { panic("boom") })
	tr.Wait()

	assert.Equal(t, int64(2), tr.Failures())
	entries := logs.FilterMessage("background task failed").All()
	assert.Len(t, entries, 2)
	tasks := map[any]bool{}
	for _, e := range entries {
		tasks[e.ContextMap()["task"]] = true
	}
	assert.True(t, tasks["broken"])
	assert.True(t, tasks["panicky"])
}

func TestTracker_PassesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := NewTracker(ctx, zap.NewNop())

	started := make(chan struct{})
	tr.Go("waiter", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	<-started
	cancel()
	tr.Wait()
	assert.Zero(t, tr.Failures())
}
