package steps

import (
	"time"

	"go.uber.org/zap"
)

// HeartbeatStep periodically exercises the broker connection when a
// heartbeat interval is configured (spec §2, §6 BROKER_HEARTBEAT). It
// reschedules itself on the shared Timer rather than spawning its own
// goroutine, keeping it on the Consumer's single logical thread (spec
// §5).
type HeartbeatStep struct{}

func (HeartbeatStep) Name() string        { return "heartbeat" }
func (HeartbeatStep) Requires() []string  { return []string{"connection"} }
func (HeartbeatStep) Last() bool          { return false }
func (HeartbeatStep) DelayShutdown() bool { return false }

func (HeartbeatStep) Create(parent any) error { return nil }

func (HeartbeatStep) Start(parent any) error {
	h := parent.(Host)
	interval := h.Settings().AMQHeartbeatSeconds
	if interval <= 0 {
		return nil
	}
	scheduleHeartbeat(h, secondsToDuration(interval))
	return nil
}

func scheduleHeartbeat(h Host, interval time.Duration) {
	var tick func()
	tick = func() {
		conn := h.Connection()
		if conn == nil {
			return
		}
		if err := conn.SetPrefetch(h.QoS().Value()); err != nil {
			h.Logger().Warn("heartbeat: failed to touch broker connection", zap.Error(err))
		}
		h.Timer().ApplyAt(time.Now().Add(interval), 0, tick)
	}
	h.Timer().ApplyAt(time.Now().Add(interval), 0, tick)
}

func (HeartbeatStep) Stop(parent any) error { return nil }

func (HeartbeatStep) Shutdown(parent any, force bool) error { return nil }
