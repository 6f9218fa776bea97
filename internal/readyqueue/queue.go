// Package readyqueue implements the bounded handoff channel from the
// Consumer to the execution pool (spec §3, §6). Put is non-blocking on
// purpose — back-pressure into the broker is regulated by QoS, not by
// blocking the Consumer's single logical thread here.
package readyqueue

import "github.com/sentinel-labs/taskconsumer/internal/task"

// Queue is safe for a single producer (the Consumer) and many
// concurrent consumers (pool workers), per spec §5.
type Queue struct {
	ch chan *task.Task
}

// New creates a Queue with the given capacity.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan *task.Task, capacity)}
}

// Put attempts to enqueue t without blocking. Returns false if the
// queue is full, in which case the caller still owns t (it has not been
// acked or rejected).
func (q *Queue) Put(t *task.Task) bool {
	select {
	case q.ch <- t:
		return true
	default:
		return false
	}
}

// Chan exposes the receive side for pool workers.
func (q *Queue) Chan() <-chan *task.Task {
	return q.ch
}

// Clear drains all pending entries without executing them, matching
// Consumer.on_close's ready_queue.clear() (spec §3): items in flight at
// channel-close time belong to a broker channel that is about to be
// torn down anyway, so they are simply dropped.
func (q *Queue) Clear() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}

// Len reports the number of items currently buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}
