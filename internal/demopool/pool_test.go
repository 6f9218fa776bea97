package demopool_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sentinel-labs/taskconsumer/internal/demopool"
	"github.com/sentinel-labs/taskconsumer/internal/readyqueue"
	"github.com/sentinel-labs/taskconsumer/internal/task"
)

func newTask(id string, acked, rejected *atomic.Int32) *task.Task {
	return task.New(id, "add", nil, nil,
		func() error { acked.Add(1); return nil },
		func() error { rejected.Add(1); return nil },
	)
}

// Test: pool processes tasks and acknowledges them.
func TestPool_ProcessAndAck(t *testing.T) {
	q := readyqueue.New(16)
	var acked, rejected atomic.Int32

	p := demopool.New(2, q, func(context.Context, *task.Task) error { return nil }, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	for i := 0; i < 5; i++ {
		q.Put(newTask("t", &acked, &rejected))
	}

	time.Sleep(200 * time.Millisecond)
	cancel()
	p.Stop()

	if acked.Load() != 5 {
		t.Errorf("expected 5 acks, got %d", acked.Load())
	}
	if rejected.Load() != 0 {
		t.Errorf("expected 0 rejects, got %d", rejected.Load())
	}
}

// Test: pool rejects tasks whose handler fails.
func TestPool_RejectsOnFailure(t *testing.T) {
	q := readyqueue.New(16)
	var acked, rejected atomic.Int32

	p := demopool.New(1, q, func(context.Context, *task.Task) error {
		return context.DeadlineExceeded
	}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	q.Put(newTask("t", &acked, &rejected))

	time.Sleep(200 * time.Millisecond)
	cancel()
	p.Stop()

	if rejected.Load() != 1 {
		t.Errorf("expected 1 reject, got %d", rejected.Load())
	}
	if acked.Load() != 0 {
		t.Errorf("expected 0 acks, got %d", acked.Load())
	}
}

// Test: pool shuts down gracefully on context cancellation.
func TestPool_GracefulShutdown(t *testing.T) {
	q := readyqueue.New(16)
	var acked, rejected atomic.Int32

	p := demopool.New(4, q, func(context.Context, *task.Task) error { return nil }, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	q.Put(newTask("t1", &acked, &rejected))
	q.Put(newTask("t2", &acked, &rejected))

	time.Sleep(50 * time.Millisecond)
	cancel()
	p.Stop()

	total := acked.Load() + rejected.Load()
	if total < 1 {
		t.Errorf("expected at least 1 processed task, got %d", total)
	}
}
