// Package demopool is a minimal external execution pool that drains the
// Consumer core's ready queue and acknowledges each task, standing in
// for the real worker pool the spec treats as an opaque handle (spec §3
// "pool", §6). Structured the way the teacher's own internal/pool did:
// a fixed-size set of goroutines reading from a channel, tracked with a
// WaitGroup and recovering from handler panics.
package demopool

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sentinel-labs/taskconsumer/internal/metrics"
	"github.com/sentinel-labs/taskconsumer/internal/readyqueue"
	"github.com/sentinel-labs/taskconsumer/internal/task"
)

// Handler executes a single task. Returning an error causes the pool to
// Reject the delivery instead of Acknowledging it.
type Handler func(ctx context.Context, t *task.Task) error

// Pool manages a fixed-size set of goroutines consuming from a
// readyqueue.Queue.
type Pool struct {
	size    int
	queue   *readyqueue.Queue
	handler Handler
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// New creates a Pool of the given size over queue, dispatching every
// task it receives to handler.
func New(size int, queue *readyqueue.Queue, handler Handler, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{size: size, queue: queue, handler: handler, logger: logger}
}

// Start launches the worker goroutines. Call Stop to wait for them to
// drain and exit.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Starting demo execution pool", zap.Int("pool_size", p.size))
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop waits for all workers to finish their current task and exit.
func (p *Pool) Stop() {
	p.wg.Wait()
	p.logger.Info("Demo execution pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool worker panic recovered", zap.Int("worker_id", id), zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-p.queue.Chan():
			if !ok {
				return
			}
			p.handle(ctx, id, t)
		}
	}
}

func (p *Pool) handle(ctx context.Context, id int, t *task.Task) {
	metrics.PoolWorkersActive.Inc()
	defer metrics.PoolWorkersActive.Dec()

	err := p.handler(ctx, t)
	if err != nil {
		p.logger.Error("pool: task handler failed",
			zap.Int("worker_id", id), zap.Stringer("task", t), zap.Error(err))
		if rejErr := t.Reject(); rejErr != nil {
			p.logger.Error("pool: failed to reject task", zap.Error(rejErr))
		}
		metrics.PoolExecutionsTotal.WithLabelValues("error").Inc()
		return
	}

	if ackErr := t.Acknowledge(); ackErr != nil {
		p.logger.Error("pool: failed to acknowledge task", zap.Error(ackErr))
	}
	metrics.PoolExecutionsTotal.WithLabelValues("ok").Inc()
}
