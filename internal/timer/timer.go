// Package timer implements the Consumer's in-process priority-ordered
// schedule of future callbacks (spec §3, §4.5), used for ETA tasks and
// heartbeats. It runs on its own goroutine so the supervisory loop and
// the event loop are never blocked by it, but delivers callbacks one at
// a time in deadline order to match the single-threaded cooperative
// model described in spec §5.
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Entry is a handle to a scheduled callback, returned by ApplyAt so
// callers can Cancel it before it fires.
type Entry struct {
	item *item
}

type item struct {
	at       time.Time
	priority int
	seq      uint64 // insertion order, for stable tie-break within equal (at, priority)
	fn       func()
	canceled bool
	index    int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Timer is a goroutine-backed priority queue of (deadline, callback)
// pairs. The zero value is not usable; construct with New.
type Timer struct {
	mu     sync.Mutex
	heap   itemHeap
	nextID uint64
	wake   chan struct{}
	done   chan struct{}
	stop   sync.Once
}

// New starts a Timer's background dispatch goroutine.
func New() *Timer {
	t := &Timer{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go t.run()
	return t
}

// ApplyAt schedules fn to run at (or shortly after) at, ordered against
// other entries at the same deadline by priority (lower runs first),
// then by insertion order. Matches spec §4.5's apply_at(timestamp,
// callback, args, priority) — args are expected to be closed over by fn.
func (t *Timer) ApplyAt(at time.Time, priority int, fn func()) *Entry {
	t.mu.Lock()
	t.nextID++
	it := &item{at: at, priority: priority, seq: t.nextID, fn: fn}
	heap.Push(&t.heap, it)
	t.mu.Unlock()

	t.signal()
	return &Entry{item: it}
}

// Cancel prevents a not-yet-fired entry from running. Safe to call after
// the entry has already fired (no-op).
func (e *Entry) Cancel() {
	if e == nil || e.item == nil {
		return
	}
	e.item.canceled = true
}

// Clear removes all pending entries without running them, matching the
// timer.clear() called from Consumer.on_close (spec §3).
func (t *Timer) Clear() {
	t.mu.Lock()
	t.heap = itemHeap{}
	t.mu.Unlock()
}

// Len reports the number of entries still pending, useful for tests
// asserting the ETA-scheduled-vs-fired invariant (spec §8).
func (t *Timer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.heap)
}

// Stop terminates the dispatch goroutine. The Timer is unusable after.
func (t *Timer) Stop() {
	t.stop.Do(func() { close(t.done) })
}

func (t *Timer) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Timer) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		t.mu.Lock()
		var wait time.Duration
		if len(t.heap) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(t.heap[0].at)
			if wait < 0 {
				wait = 0
			}
		}
		t.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-t.done:
			return
		case <-t.wake:
			continue
		case <-timer.C:
			t.fireDue()
		}
	}
}

func (t *Timer) fireDue() {
	now := time.Now()
	for {
		t.mu.Lock()
		if len(t.heap) == 0 || t.heap[0].at.After(now) {
			t.mu.Unlock()
			return
		}
		it := heap.Pop(&t.heap).(*item)
		t.mu.Unlock()

		if it.canceled {
			continue
		}
		it.fn()
	}
}
