// Package loop implements the two interchangeable event-loop variants
// from spec §4.6, expressed per spec §9's design note as a tagged
// variant chosen at construction rather than selected by attribute
// probing.
package loop

import (
	"time"

	"github.com/sentinel-labs/taskconsumer/internal/broker"
	"github.com/sentinel-labs/taskconsumer/internal/qos"
)

// flushInterval is how often the loop flushes qos's pending
// increment/decrement delta to the broker (spec §4.4's "next flush
// point"), mirroring Celery's own hub loop ticking qos.update()
// periodically rather than on every single event.
const flushInterval = 50 * time.Millisecond

// Hub stands in for a poller/reactor (e.g. an epoll event loop) that
// services transport read file-descriptors alongside other I/O. Only
// the async variant uses one; supplying a non-nil Hub at construction
// is what selects Async over Sync (spec §4.6, §9).
type Hub interface {
	// Run services registered readers until done fires or an error
	// occurs reading from the transport.
	Run(done <-chan struct{}) error
}

// Variant is the tagged union of event-loop implementations: exactly
// one of Hub (async) or neither field set (sync) is meaningful.
type Variant struct {
	hub Hub
}

// Async selects the hub-driven asynchronous loop.
func Async(hub Hub) Variant { return Variant{hub: hub} }

// Sync selects the synchronous blocking-drain loop.
func Sync() Variant { return Variant{} }

// IsAsync reports which variant this is.
func (v Variant) IsAsync() bool { return v.hub != nil }

// Run blocks until the task consumer's delivery stream ends (broker
// error or close), the hub reports an error, or done fires — matching
// spec §4.6: "return only on broker error (caught by §4.1) or on
// namespace.state == CLOSE". Timer servicing happens independently on
// the timer's own goroutine (internal/timer), so neither variant needs
// to drive it explicitly, unlike the Python original's single-threaded
// event loop. qosCtl, if non-nil, is flushed on flushInterval for as
// long as Run is active — the one flush point both variants share
// (spec §4.4).
func (v Variant) Run(tc broker.TaskConsumer, qosCtl *qos.QoS, done <-chan struct{}) error {
	if tc == nil {
		<-done
		return nil
	}

	stopFlush := make(chan struct{})
	defer close(stopFlush)
	if qosCtl != nil {
		go flushPeriodically(qosCtl, done, stopFlush)
	}

	if !v.IsAsync() {
		return tc.Drain(done)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- tc.Drain(done) }()
	go func() { errCh <- v.hub.Run(done) }()

	select {
	case err := <-errCh:
		return err
	case <-done:
		return nil
	}
}

// flushPeriodically pushes qosCtl's pending delta to the broker every
// flushInterval until done or stop fires.
func flushPeriodically(qosCtl *qos.QoS, done <-chan struct{}, stop <-chan struct{}) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = qosCtl.Flush()
		case <-done:
			return
		case <-stop:
			return
		}
	}
}
