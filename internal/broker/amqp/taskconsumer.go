package amqp

import (
	"fmt"
	"sync"

	amqplib "github.com/rabbitmq/amqp091-go"

	"github.com/sentinel-labs/taskconsumer/internal/broker"
)

// NewTaskConsumer declares the given queues (idempotently) and starts
// consuming from all of them, invoking onMessage for every delivery.
// Mirrors the teacher's declare-then-Consume sequence in
// internal/delivery/amqp/consumer.go, generalised to dynamic add/cancel
// (spec §4.3).
func (c *Connection) NewTaskConsumer(queues []broker.QueueBinding, onMessage func(broker.Delivery)) (broker.TaskConsumer, error) {
	tc := &TaskConsumer{
		conn:      c,
		onMessage: onMessage,
		consuming: make(map[string]chan struct{}),
	}
	for _, q := range queues {
		if err := tc.AddQueue(q); err != nil {
			return nil, err
		}
	}
	return tc, nil
}

// TaskConsumer binds queues on a single amqp channel and fans their
// deliveries into one onMessage callback, matching spec §4.3's "per-
// queue dispatch callback" over a shared Consumer.
type TaskConsumer struct {
	conn      *Connection
	onMessage func(broker.Delivery)

	mu        sync.Mutex
	bindings  map[string]broker.QueueBinding
	consuming map[string]chan struct{} // queue -> stop signal for its Consume goroutine
}

// ConsumingFrom reports whether name is currently bound and consumed.
func (tc *TaskConsumer) ConsumingFrom(name string) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	_, ok := tc.consuming[name]
	return ok
}

// AddQueue declares the exchange/queue/binding and, if not already
// consuming from it, starts a consume loop (spec §4.3 add_task_queue).
func (tc *TaskConsumer) AddQueue(b broker.QueueBinding) error {
	if tc.ConsumingFrom(b.Name) {
		return nil
	}

	ch := tc.conn.channel()
	if ch == nil {
		return fmt.Errorf("amqp: channel not connected")
	}

	exchange := b.Exchange
	if exchange == "" {
		exchange = b.Name
	}
	exchangeType := b.ExchangeType
	if exchangeType == "" {
		exchangeType = "direct"
	}
	routingKey := b.RoutingKey
	if routingKey == "" {
		routingKey = b.Name
	}

	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, exchangeType, true, false, false, false, nil); err != nil {
			return fmt.Errorf("amqp exchange declare %s: %w", exchange, err)
		}
	}
	if _, err := ch.QueueDeclare(b.Name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp queue declare %s: %w", b.Name, err)
	}
	if exchange != "" {
		if err := ch.QueueBind(b.Name, routingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("amqp queue bind %s: %w", b.Name, err)
		}
	}

	return tc.startConsuming(b.Name)
}

func (tc *TaskConsumer) startConsuming(name string) error {
	ch := tc.conn.channel()
	// The queue name doubles as the consumer tag so CancelByQueue can
	// cancel the broker-side consumer.
	deliveries, err := ch.Consume(name, name, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume %s: %w", name, err)
	}

	stop := make(chan struct{})
	tc.mu.Lock()
	if tc.bindings == nil {
		tc.bindings = make(map[string]broker.QueueBinding)
	}
	tc.consuming[name] = stop
	tc.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				tag := d.DeliveryTag
				tc.onMessage(broker.Delivery{
					Body: d.Body,
					Ack:  func() error { return ch.Ack(tag, false) },
					Reject: func() error { return ch.Nack(tag, false, false) },
				})
			}
		}
	}()
	return nil
}

// Consume is a no-op for this adapter: AddQueue already starts the
// per-queue consume goroutine. It exists to satisfy broker.TaskConsumer
// for callers following the Celery-shaped "add then consume" sequence.
func (tc *TaskConsumer) Consume() error { return nil }

// CancelByQueue stops consuming from name without closing the channel
// (spec §4.3 cancel_task_queue).
func (tc *TaskConsumer) CancelByQueue(name string) error {
	tc.mu.Lock()
	stop, ok := tc.consuming[name]
	if ok {
		delete(tc.consuming, name)
	}
	tc.mu.Unlock()
	if ok {
		close(stop)
		if ch := tc.conn.channel(); ch != nil {
			return ch.Cancel(name, false)
		}
	}
	return nil
}

// Drain blocks until done fires or the amqp channel closes; delivery
// dispatch already runs on per-queue goroutines started by AddQueue, so
// Drain only watches for the end of the session. A channel or connection
// closure is returned as an *amqplib.Error, which IsRecoverable accepts.
func (tc *TaskConsumer) Drain(done <-chan struct{}) error {
	ch := tc.conn.channel()
	if ch == nil {
		return amqplib.ErrClosed
	}
	closed := ch.NotifyClose(make(chan *amqplib.Error, 1))
	select {
	case <-done:
		return nil
	case err, ok := <-closed:
		if !ok || err == nil {
			return amqplib.ErrClosed
		}
		return err
	}
}

var _ broker.TaskConsumer = (*TaskConsumer)(nil)
