// Package consumer implements the Consumer core described by spec §1–§9:
// the supervisory loop, the step-graph lifecycle, and the glue between
// the broker, the QoS controller, the ETA timer, and the ready queue.
package consumer

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sentinel-labs/taskconsumer/internal/bootstep"
	"github.com/sentinel-labs/taskconsumer/internal/broker"
	"github.com/sentinel-labs/taskconsumer/internal/eventbus"
	"github.com/sentinel-labs/taskconsumer/internal/loop"
	"github.com/sentinel-labs/taskconsumer/internal/metrics"
	"github.com/sentinel-labs/taskconsumer/internal/qos"
	"github.com/sentinel-labs/taskconsumer/internal/readyqueue"
	"github.com/sentinel-labs/taskconsumer/internal/registry"
	"github.com/sentinel-labs/taskconsumer/internal/steps"
	"github.com/sentinel-labs/taskconsumer/internal/task"
	"github.com/sentinel-labs/taskconsumer/internal/timer"
)

// Log message text mirroring the original Celery consumer's constants
// (spec §7), kept verbatim where spec §8's testable scenarios match on
// them (e.g. "UNKNOWN_TASK_ERROR").
const (
	connectionRetryMsg = "consumer: Connection to broker lost. Trying to re-establish the connection..."
	unknownFormatMsg   = "UNKNOWN_FORMAT: received and rejected a message with an unrecognised shape"
	unknownTaskErrMsg  = "UNKNOWN_TASK_ERROR: received a task of an unregistered type"
	invalidTaskErrMsg  = "INVALID_TASK_ERROR: received an invalid task message"
)

// Config bundles everything needed to construct a Consumer.
type Config struct {
	Hostname           string
	Logger             *zap.Logger
	ReadyQueueCapacity int
	Settings           steps.Settings
	TaskDefs           []registry.TaskDef

	// NewConnection builds a fresh, unconnected broker.Connection. Called
	// by the connection step on every (re)start.
	NewConnection func() broker.Connection

	// NewEventDispatcher builds the event dispatcher used when
	// Settings.EventsEnabled is true. May be nil, in which case events
	// are always disabled regardless of Settings.EventsEnabled.
	NewEventDispatcher func() eventbus.Dispatcher

	// Hub, if non-nil, selects the asynchronous event-loop variant
	// (spec §4.6); nil selects the synchronous drain loop.
	Hub loop.Hub

	// ExtraSteps are appended to the built-in boot steps, corresponding
	// to spec §6's CELERYD_CONSUMER_BOOT_STEPS knob.
	ExtraSteps []bootstep.Step
}

// Consumer is the supervisory heart of a worker process (spec §3).
type Consumer struct {
	hostname string
	logger   *zap.Logger
	settings steps.Settings

	readyQueue *readyqueue.Queue
	timerQ     *timer.Timer
	registry   *registry.Registry
	taskDefs   []registry.TaskDef

	newConnection      func() broker.Connection
	newEventDispatcher func() eventbus.Dispatcher
	loopVariant        loop.Variant

	namespace *bootstep.Namespace

	mu              sync.Mutex
	connection      broker.Connection
	taskConsumer    broker.TaskConsumer
	qosCtl          *qos.QoS
	eventDispatcher eventbus.Dispatcher

	shutdownRequested atomic.Bool
	shutdownCh        chan struct{}
	shutdownOnce      sync.Once

	reservedCount atomic.Int64
}

// New constructs a Consumer and its boot-step namespace. The namespace
// is topologically sorted immediately; New fails only if the step graph
// (built-ins plus cfg.ExtraSteps) is malformed.
func New(cfg Config) (*Consumer, error) {
	hostname := cfg.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	capacity := cfg.ReadyQueueCapacity
	if capacity <= 0 {
		capacity = 1024
	}

	c := &Consumer{
		hostname:           hostname,
		logger:             logger,
		settings:           cfg.Settings,
		readyQueue:         readyqueue.New(capacity),
		timerQ:             timer.New(),
		registry:           registry.New(),
		taskDefs:           cfg.TaskDefs,
		newConnection:      cfg.NewConnection,
		newEventDispatcher: cfg.NewEventDispatcher,
		shutdownCh:         make(chan struct{}),
	}
	if cfg.Hub != nil {
		c.loopVariant = loop.Async(cfg.Hub)
	} else {
		c.loopVariant = loop.Sync()
	}

	builtins := []bootstep.Step{
		steps.ConnectionStep{},
		steps.TaskConsumerStep{},
		steps.EventDispatcherStep{},
		steps.HeartbeatStep{},
	}
	ns, err := bootstep.New(append(builtins, cfg.ExtraSteps...))
	if err != nil {
		return nil, fmt.Errorf("consumer: %w", err)
	}
	c.namespace = ns

	c.updateStrategies()
	return c, nil
}

// ---- steps.Host implementation ----

func (c *Consumer) Logger() *zap.Logger      { return c.logger }
func (c *Consumer) Settings() steps.Settings { return c.settings }

func (c *Consumer) NewConnection() broker.Connection {
	if c.newConnection == nil {
		return nil
	}
	return c.newConnection()
}

func (c *Consumer) Connection() broker.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connection
}

func (c *Consumer) SetConnection(conn broker.Connection) {
	c.mu.Lock()
	c.connection = conn
	c.mu.Unlock()
}

func (c *Consumer) TaskConsumer() broker.TaskConsumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taskConsumer
}

func (c *Consumer) SetTaskConsumer(tc broker.TaskConsumer) {
	c.mu.Lock()
	c.taskConsumer = tc
	c.mu.Unlock()
}

// QoS returns the current QoS controller, or nil before the
// task-consumer step has run once. Exported (not just the Host-internal
// QoS()) because callers outside this package's steps wiring — tests,
// Info() — need it too; Go's method set makes this the same method for
// both purposes.
func (c *Consumer) QoS() *qos.QoS {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.qosCtl
}

func (c *Consumer) SetQoS(q *qos.QoS) {
	c.mu.Lock()
	c.qosCtl = q
	c.mu.Unlock()
}

func (c *Consumer) Timer() *timer.Timer { return c.timerQ }

func (c *Consumer) EventDispatcher() eventbus.Dispatcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventDispatcher
}

func (c *Consumer) SetEventDispatcher(d eventbus.Dispatcher) {
	c.mu.Lock()
	c.eventDispatcher = d
	c.mu.Unlock()
}

func (c *Consumer) NewEventDispatcher() eventbus.Dispatcher {
	if c.newEventDispatcher == nil {
		return eventbus.Noop{}
	}
	return c.newEventDispatcher()
}

// MaybeShutdown reports whether a cooperative shutdown has been
// requested (spec §4.2, §5). Threaded explicitly rather than polling a
// process-wide flag, per spec §9's design note.
func (c *Consumer) MaybeShutdown() bool { return c.shutdownRequested.Load() }

// RequestShutdown sets the cooperative shutdown signal and unblocks
// anything waiting on it (the connection retry loop, the event loop).
// Idempotent.
func (c *Consumer) RequestShutdown() {
	c.shutdownRequested.Store(true)
	c.shutdownOnce.Do(func() { close(c.shutdownCh) })
}

// ReadyQueue exposes the hand-off channel to the pool (spec §6).
func (c *Consumer) ReadyQueue() *readyqueue.Queue { return c.readyQueue }

// ReservedCount reports how many tasks have been reserved (counted
// against the in-flight budget) since construction — test/introspection
// aid for spec §8's QoS-balance invariant.
func (c *Consumer) ReservedCount() int64 { return c.reservedCount.Load() }

func (c *Consumer) reserve() { c.reservedCount.Add(1) }

// Info returns broker connection metadata (password stripped) and the
// current prefetch count (spec §6).
func (c *Consumer) Info() map[string]any {
	brokerInfo := map[string]any{}
	if conn := c.Connection(); conn != nil {
		for k, v := range conn.Info() {
			if k == "password" {
				continue
			}
			brokerInfo[k] = v
		}
	}
	prefetch := 0
	if q := c.QoS(); q != nil {
		prefetch = q.Value()
	}
	return map[string]any{"broker": brokerInfo, "prefetch_count": prefetch}
}

// AddTaskQueue implements spec §4.3's dynamic queue addition.
func (c *Consumer) AddTaskQueue(b broker.QueueBinding) error {
	return steps.AddTaskQueue(c, b)
}

// CancelTaskQueue implements spec §4.3's dynamic queue cancellation.
func (c *Consumer) CancelTaskQueue(name string) error {
	return steps.CancelTaskQueue(c, name)
}

// updateStrategies rebuilds the strategies table from the task catalog
// (spec §4.7). Every strategy's terminal action is a call to OnTask —
// this core has no task-tracing/build_tracer equivalent to install
// since execution itself is out of scope (spec §1 Non-goals). Invoked
// from New and again from Start/Restart, since Celery's
// update_strategies() is itself re-run on every consumer (re)start.
func (c *Consumer) updateStrategies() {
	c.registry.Rebuild(c.taskDefs, func(def registry.TaskDef) registry.Strategy {
		return func(t *task.Task) { c.OnTask(t) }
	})
}

// ---- supervisory lifecycle (spec §4.1) ----

// Start runs the supervisory loop: boot the namespace, run the event
// loop, and transparently restart on recoverable broker errors returned
// by the event loop. Returns nil once a cooperative shutdown has fully
// closed the namespace, or a non-nil error for anything the broker
// connection classifies as unrecoverable (spec §7: "errors other than
// connection/channel errors propagate to the caller unchanged"). An
// error while booting the namespace, including an exhausted connection
// retry budget, is returned as is without a restart.
func (c *Consumer) Start() error {
	for {
		if c.MaybeShutdown() {
			return c.Shutdown()
		}

		c.updateStrategies()
		if err := c.namespace.Start(c); err != nil {
			return err
		}

		err := c.loopVariant.Run(c.TaskConsumer(), c.QoS(), c.shutdownCh)

		if c.namespace.State() == bootstep.StateClose {
			return err
		}
		if err == nil {
			if c.MaybeShutdown() {
				return c.Shutdown()
			}
			continue
		}

		conn := c.Connection()
		if conn != nil && conn.IsRecoverable(err) {
			c.logger.Warn(connectionRetryMsg, zap.Error(err))
			metrics.ConsumerRestartsTotal.Inc()
			if restartErr := c.Restart(); restartErr != nil {
				return restartErr
			}
			continue
		}
		return err
	}
}

// Restart tears every boot step down and back up in place, preserving
// state individual steps choose to keep across Create calls (e.g. the
// QoS controller — see steps.TaskConsumerStep.Create). Matches spec
// §4.1's restart semantics and the idempotence property in spec §8.
func (c *Consumer) Restart() error {
	return c.namespace.Restart(c)
}

// Stop runs every boot step's Stop without releasing the broker
// connection — the resumable half of spec §9's stop()/shutdown()
// distinction. The built-in steps' Stop methods do nothing, so the
// task consumer keeps delivering messages after Stop returns.
func (c *Consumer) Stop() error {
	return c.namespace.Stop(c)
}

// Shutdown performs the two-phase teardown from spec §4.1/§8, then
// drops any work that was still buffered locally: in-flight deliveries
// belong to a channel that is about to close anyway (spec §3
// on_close).
func (c *Consumer) Shutdown() error {
	c.RequestShutdown()
	err := c.namespace.Shutdown(c)
	c.readyQueue.Clear()
	c.timerQ.Clear()
	return err
}
