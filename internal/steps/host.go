// Package steps implements the Consumer's built-in boot steps (spec
// §2, §4.2–§4.4): the connection step, the task-consumer step, the
// event-dispatcher step, and the heartbeat step. Each is a
// bootstep.Step operating against a Host — the narrow capability
// interface this package needs from the Consumer — so steps never
// import the consumer package directly (spec §9's "typed artifact"
// design note).
package steps

import (
	"time"

	"go.uber.org/zap"

	"github.com/sentinel-labs/taskconsumer/internal/broker"
	"github.com/sentinel-labs/taskconsumer/internal/eventbus"
	"github.com/sentinel-labs/taskconsumer/internal/qos"
	"github.com/sentinel-labs/taskconsumer/internal/timer"
)

// Settings carries the configuration knobs the built-in steps consume
// (spec §6).
type Settings struct {
	Queues                  []broker.QueueBinding
	Concurrency             int
	PrefetchMultiplier      int
	AMQHeartbeatSeconds     int
	BrokerConnectionRetry   bool
	BrokerConnectionMaxTries int
	EventsEnabled           bool
}

// Host is everything the built-in boot steps need from the Consumer.
// consumer.Consumer implements it.
type Host interface {
	Logger() *zap.Logger
	Settings() Settings

	// NewConnection builds an unconnected broker.Connection; called
	// fresh on every (re)start since a Connection is single-use once
	// closed (spec §3 "connection ... created, destroyed, and
	// re-created").
	NewConnection() broker.Connection
	Connection() broker.Connection
	SetConnection(broker.Connection)

	TaskConsumer() broker.TaskConsumer
	SetTaskConsumer(broker.TaskConsumer)

	QoS() *qos.QoS
	SetQoS(*qos.QoS)

	Timer() *timer.Timer

	EventDispatcher() eventbus.Dispatcher
	SetEventDispatcher(eventbus.Dispatcher)
	// NewEventDispatcher builds the dispatcher used when events are
	// enabled; returns eventbus.Noop if no event backend is configured.
	NewEventDispatcher() eventbus.Dispatcher

	// MaybeShutdown reports whether a cooperative shutdown has been
	// requested (spec §4.2, §5).
	MaybeShutdown() bool

	// OnMessage is the dispatch callback installed on the task
	// consumer (spec §4.3); it classifies and routes each delivery.
	OnMessage(broker.Delivery)
}

// secondsToDuration is a small shared helper used by the heartbeat step.
func secondsToDuration(s int) time.Duration { return time.Duration(s) * time.Second }
