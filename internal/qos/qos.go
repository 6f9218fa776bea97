// Package qos maintains the advertised prefetch count and its pending
// delta, mediating between in-flight work and the broker's unacked-
// message window (spec §4.4).
package qos

import "sync"

// Setter is the broker-side operation that applies a prefetch count.
// amqp091-go's (*Channel).Qos and sarama's equivalent both fit this
// shape once partially applied over their other fixed arguments.
type Setter func(prefetchCount int) error

// QoS tracks the current advertised prefetch value plus a pending delta
// accumulated by IncrementEventually/DecrementEventually between flush
// points. The delta is only applied to the broker on Flush, so ETA
// bookkeeping never races the event loop's own Qos calls.
type QoS struct {
	mu       sync.Mutex
	value    int
	pending  int
	setValue Setter
}

// New creates a QoS controller with the given initial prefetch value
// (concurrency × prefetch multiplier) and broker-applying Setter.
func New(initial int, set Setter) *QoS {
	return &QoS{value: initial, setValue: set}
}

// IncrementEventually queues a +n delta, applied on the next Flush.
func (q *QoS) IncrementEventually(n int) {
	q.mu.Lock()
	q.pending += n
	q.mu.Unlock()
}

// DecrementEventually queues a -n delta, applied on the next Flush.
func (q *QoS) DecrementEventually(n int) {
	q.mu.Lock()
	q.pending -= n
	q.mu.Unlock()
}

// Set forces the prefetch value immediately, applying it to the broker
// and clearing any pending delta.
func (q *QoS) Set(n int) error {
	q.mu.Lock()
	q.value = n
	q.pending = 0
	set := q.setValue
	q.mu.Unlock()
	if set == nil {
		return nil
	}
	return set(n)
}

// Value returns the current advertised prefetch count, not including an
// unflushed pending delta.
func (q *QoS) Value() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.value
}

// Flush applies any pending delta to the advertised value and pushes it
// to the broker. A no-op when there is nothing pending.
func (q *QoS) Flush() error {
	q.mu.Lock()
	if q.pending == 0 {
		q.mu.Unlock()
		return nil
	}
	q.value += q.pending
	q.pending = 0
	v := q.value
	set := q.setValue
	q.mu.Unlock()
	if set == nil {
		return nil
	}
	return set(v)
}
