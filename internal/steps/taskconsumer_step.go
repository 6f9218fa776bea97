package steps

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sentinel-labs/taskconsumer/internal/broker"
	"github.com/sentinel-labs/taskconsumer/internal/metrics"
	"github.com/sentinel-labs/taskconsumer/internal/qos"
)

// TaskConsumerStep binds to the configured queues and installs the
// dispatch callback (spec §4.3). It declares delay_shutdown=true, so its
// Shutdown runs in the second, forced phase (spec §4.1, §8); it does not
// wait for in-flight reserved tasks to finish.
type TaskConsumerStep struct{}

func (TaskConsumerStep) Name() string        { return "task-consumer" }
func (TaskConsumerStep) Requires() []string  { return []string{"connection"} }
func (TaskConsumerStep) Last() bool          { return true }
func (TaskConsumerStep) DelayShutdown() bool { return true }

// Create builds the QoS controller once and leaves it alone on later
// restarts — qos must survive across restarts the same way strategies,
// ready_queue, and timer do (spec §4.1, §8 restart-idempotence).
func (TaskConsumerStep) Create(parent any) error {
	h := parent.(Host)
	if h.QoS() != nil {
		return nil
	}
	settings := h.Settings()
	initial := settings.Concurrency * settings.PrefetchMultiplier
	if initial <= 0 {
		initial = 1
	}
	h.SetQoS(qos.New(initial, func(n int) error {
		metrics.PrefetchCount.Set(float64(n))
		conn := h.Connection()
		if conn == nil {
			return nil
		}
		return conn.SetPrefetch(n)
	}))
	return nil
}

func (TaskConsumerStep) Start(parent any) error {
	h := parent.(Host)
	conn := h.Connection()
	if conn == nil {
		return fmt.Errorf("steps: task-consumer started before connection")
	}

	tc, err := conn.NewTaskConsumer(h.Settings().Queues, h.OnMessage)
	if err != nil {
		return fmt.Errorf("steps: new task consumer: %w", err)
	}
	h.SetTaskConsumer(tc)

	// Advertise the current prefetch value on the new connection — on
	// first start this is the initial concurrency×multiplier value set
	// by Create; on restart it re-applies whatever value qos has
	// accumulated, since Create no longer rebuilds it.
	if qosCtl := h.QoS(); qosCtl != nil {
		if err := qosCtl.Set(qosCtl.Value()); err != nil {
			return fmt.Errorf("steps: apply initial prefetch: %w", err)
		}
	}

	for _, binding := range h.Settings().Queues {
		h.Logger().Info("Started consuming from queue", zap.String("queue", binding.Name))
	}
	return nil
}

func (TaskConsumerStep) Stop(parent any) error { return nil }

func (TaskConsumerStep) Shutdown(parent any, force bool) error {
	// force=true in the second shutdown phase means "stop waiting for
	// in-flight work and release now" (spec §4.1). This adapter has no
	// separate drain timeout to enforce, so both phases behave the
	// same: per-queue consume loops have already ended, because the
	// connection step closed the channel in the first phase.
	return nil
}

// AddTaskQueue implements spec §4.3's dynamic add: idempotent, it binds
// the queue on the live task consumer and starts consuming if not
// already. The queue is not added to Settings().Queues, so it is not
// bound again after a restart.
func AddTaskQueue(h Host, b broker.QueueBinding) error {
	tc := h.TaskConsumer()
	if tc == nil {
		return fmt.Errorf("steps: no task consumer to add a queue to")
	}
	if tc.ConsumingFrom(b.Name) {
		return nil
	}
	if err := tc.AddQueue(b); err != nil {
		return err
	}
	return tc.Consume()
}

// CancelTaskQueue implements spec §4.3's dynamic cancel.
func CancelTaskQueue(h Host, name string) error {
	tc := h.TaskConsumer()
	if tc == nil {
		return nil
	}
	return tc.CancelByQueue(name)
}
