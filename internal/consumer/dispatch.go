package consumer

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sentinel-labs/taskconsumer/internal/broker"
	"github.com/sentinel-labs/taskconsumer/internal/metrics"
	"github.com/sentinel-labs/taskconsumer/internal/task"
)

// maxReasonableYear bounds ETA scheduling: a delivery whose eta decodes
// to a year beyond this is treated the same way the original Celery
// consumer treats a float-timestamp overflow — logged and dropped
// rather than handed to the timer, since container/heap and time.Time
// don't share that failure mode and would otherwise happily schedule a
// callback centuries out. A deliberate simplification of the original
// overflow check, not a literal port of it.
const maxReasonableYear = 9000

// OnMessage is the task-consumer step's dispatch callback (spec §4.3):
// it classifies an inbound delivery and routes it to the matching
// handler.
func (c *Consumer) OnMessage(d broker.Delivery) {
	c.dispatch(d)
}

func (c *Consumer) dispatch(d broker.Delivery) {
	t, err := task.Decode(d.Body)
	switch {
	case err == nil:
		// fall through to strategy lookup below
	case errors.Is(err, task.ErrUnknownFormat):
		metrics.DispatchTotal.WithLabelValues("unknown_format").Inc()
		c.handleUnknownMessage(d, err)
		return
	case errors.Is(err, task.ErrInvalidTask):
		metrics.DispatchTotal.WithLabelValues("invalid_task").Inc()
		c.handleInvalidTask(d, err)
		return
	default:
		metrics.DispatchTotal.WithLabelValues("decode_error").Inc()
		c.onDecodeError(d, err)
		return
	}

	strategy, ok := c.registry.Lookup(t.Name)
	if !ok {
		metrics.DispatchTotal.WithLabelValues("unknown_task").Inc()
		c.handleUnknownTask(d, t)
		return
	}

	metrics.DispatchTotal.WithLabelValues("ok").Inc()
	t.SetAckCallbacks(d.Ack, d.Reject)
	strategy(t)
}

// onDecodeError handles a body that could not be parsed at all (spec
// §4.3 step 1, §7): logged at ERROR, the most severe non-panicking zap
// level (zap has no CRITICAL level), since a message the codec can't
// even parse usually indicates broker/codec misconfiguration, then
// acknowledged so it is not redelivered forever.
func (c *Consumer) onDecodeError(d broker.Delivery, err error) {
	c.logger.Error("Can't decode message body", zap.Error(err))
	c.ackWithLogging(d)
}

// handleUnknownMessage handles a body that parsed but isn't a
// recognised task envelope at all (spec §4.3 step 4, §7): logged at
// WARN and rejected, since — unlike a decode failure — the message
// might be intelligible to some other consumer of the same queue.
func (c *Consumer) handleUnknownMessage(d broker.Delivery, err error) {
	c.logger.Warn(unknownFormatMsg, zap.Error(err))
	c.rejectWithLogging(d)
}

// handleInvalidTask handles a body that is a task envelope missing
// required structure, e.g. no task name (spec §4.3 step 3, §7): logged
// at ERROR and rejected.
func (c *Consumer) handleInvalidTask(d broker.Delivery, err error) {
	c.logger.Error(invalidTaskErrMsg, zap.Error(err))
	c.rejectWithLogging(d)
}

// handleUnknownTask handles a well-formed task envelope naming a task
// this worker has no strategy for (spec §4.3 step 2, §7): logged at
// ERROR and rejected.
func (c *Consumer) handleUnknownTask(d broker.Delivery, t *task.Task) {
	c.logger.Error(unknownTaskErrMsg, zap.String("task", t.Name), zap.String("id", t.ID))
	c.rejectWithLogging(d)
}

// rejectWithLogging rejects a delivery, swallowing any error the
// current connection classifies as recoverable — by the time a reject
// fails with a connection/channel error, the consumer is already about
// to restart and re-deliver everything unacked on this channel anyway
// (spec §4.3 "reject ... swallowing connection/channel errors").
func (c *Consumer) rejectWithLogging(d broker.Delivery) {
	if d.Reject == nil {
		return
	}
	if err := d.Reject(); err != nil && !c.isRecoverableBrokerErr(err) {
		c.logger.Error("Failed to reject message", zap.Error(err))
	}
}

// ackWithLogging mirrors rejectWithLogging for the decode-error path,
// which acknowledges rather than rejects (spec §4.3 step 1).
func (c *Consumer) ackWithLogging(d broker.Delivery) {
	if d.Ack == nil {
		return
	}
	if err := d.Ack(); err != nil && !c.isRecoverableBrokerErr(err) {
		c.logger.Error("Failed to acknowledge message", zap.Error(err))
	}
}

func (c *Consumer) isRecoverableBrokerErr(err error) bool {
	conn := c.Connection()
	return conn != nil && conn.IsRecoverable(err)
}

// OnTask implements spec §4.5's on_task algorithm: revoked check, an
// INFO-level receipt log, an event-dispatcher notification, then either
// ETA scheduling or immediate handoff to the ready queue.
func (c *Consumer) OnTask(t *task.Task) {
	if t.Revoked() {
		return
	}

	if ce := c.logger.Check(zap.InfoLevel, "Got task from broker"); ce != nil {
		ce.Write(zap.Stringer("task", t))
	}

	if d := c.EventDispatcher(); d != nil && d.Enabled() {
		_ = d.Send("task-received", map[string]any{
			"uuid":    t.ID,
			"name":    t.Name,
			"args":    t.Args,
			"kwargs":  t.Kwargs,
			"retries": t.Retries(),
			"eta":     formatOptionalTime(t.ETA),
			"expires": formatOptionalTime(t.Expires),
		})
	}

	if t.ETA != nil {
		c.applyETA(t)
		return
	}

	c.reserve()
	metrics.TasksReservedTotal.WithLabelValues("immediate").Inc()
	if !c.readyQueue.Put(t) {
		metrics.ReadyQueueDropsTotal.Inc()
		c.logger.Warn("Ready queue full, dropping task", zap.Stringer("task", t))
	}
}

// applyETA schedules t for the timer rather than handing it to the
// ready queue immediately (spec §4.5). A far-future eta is treated as
// an overflow: logged, acknowledged, and dropped rather than scheduled
// — see maxReasonableYear.
func (c *Consumer) applyETA(t *task.Task) {
	eta := *t.ETA
	if eta.Year() > maxReasonableYear {
		c.logger.Error("ETA overflow, dropping task", zap.Stringer("task", t), zap.Time("eta", eta))
		c.ackWithLogging(broker.Delivery{Ack: t.Acknowledge})
		return
	}

	metrics.ETAScheduleDelay.Observe(time.Until(eta).Seconds())
	if q := c.QoS(); q != nil {
		q.IncrementEventually(1)
	}
	c.timerQ.ApplyAt(eta, 6, func() { c.applyETATask(t) })
}

// applyETATask is the timer callback that finally hands an ETA task to
// the ready queue once its deadline has passed (spec §4.5).
func (c *Consumer) applyETATask(t *task.Task) {
	c.reserve()
	metrics.TasksReservedTotal.WithLabelValues("eta").Inc()
	if !c.readyQueue.Put(t) {
		metrics.ReadyQueueDropsTotal.Inc()
		c.logger.Warn("Ready queue full, dropping ETA task", zap.Stringer("task", t))
	}
	if q := c.QoS(); q != nil {
		q.DecrementEventually(1)
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
