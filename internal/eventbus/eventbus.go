// Package eventbus implements the optional task-received event
// dispatcher (spec §2, §3 event_dispatcher, §4.5 step 3), backed by
// Redis pub/sub — the teacher's go-redis/v9 dependency, previously
// scoped to idempotency locking, repurposed here to the event-dispatch
// concern the Consumer core actually owns.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Dispatcher is the external interface the event-dispatcher step and
// on_task consult (spec §6).
type Dispatcher interface {
	Enabled() bool
	Send(event string, fields map[string]any) error
	Close() error
}

// RedisDispatcher publishes events as JSON onto a single Redis pub/sub
// channel.
type RedisDispatcher struct {
	client  *goredis.Client
	channel string
}

// NewRedis builds a Dispatcher over an existing Redis client.
func NewRedis(client *goredis.Client, channel string) *RedisDispatcher {
	return &RedisDispatcher{client: client, channel: channel}
}

func (d *RedisDispatcher) Enabled() bool { return d != nil && d.client != nil }

// Send publishes {"event": name, "timestamp": ..., fields...} to the
// configured channel.
func (d *RedisDispatcher) Send(event string, fields map[string]any) error {
	if !d.Enabled() {
		return nil
	}
	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload["event"] = event
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event %s: %w", event, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return d.client.Publish(ctx, d.channel, body).Err()
}

func (d *RedisDispatcher) Close() error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}

// Noop is the zero-cost Dispatcher used when events are disabled.
type Noop struct{}

func (Noop) Enabled() bool                          { return false }
func (Noop) Send(string, map[string]any) error { return nil }
func (Noop) Close() error                           { return nil }

var (
	_ Dispatcher = (*RedisDispatcher)(nil)
	_ Dispatcher = Noop{}
)
