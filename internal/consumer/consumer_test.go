package consumer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sentinel-labs/taskconsumer/internal/broker"
	"github.com/sentinel-labs/taskconsumer/internal/consumer"
	"github.com/sentinel-labs/taskconsumer/internal/qos"
	"github.com/sentinel-labs/taskconsumer/internal/registry"
	"github.com/sentinel-labs/taskconsumer/internal/steps"
	"github.com/sentinel-labs/taskconsumer/internal/task"
)

// fakeConnection is a minimal broker.Connection test double.
type fakeConnection struct {
	connectErr    error
	connectCalls  int
	prefetchCalls []int
	recoverable   bool
	alternate     bool
	closed        bool
}

func (f *fakeConnection) Connect() error {
	f.connectCalls++
	return f.connectErr
}
func (f *fakeConnection) AsURI() string         { return "fake://broker" }
func (f *fakeConnection) Info() map[string]any {
	return map[string]any{"hostname": "fake", "password": "secret"}
}
func (f *fakeConnection) IsRecoverable(error) bool { return f.recoverable }
func (f *fakeConnection) HasAlternate() bool    { return f.alternate }
func (f *fakeConnection) SetPrefetch(n int) error {
	f.prefetchCalls = append(f.prefetchCalls, n)
	return nil
}
func (f *fakeConnection) NewTaskConsumer(queues []broker.QueueBinding, onMessage func(broker.Delivery)) (broker.TaskConsumer, error) {
	return &fakeTaskConsumer{onMessage: onMessage}, nil
}
func (f *fakeConnection) Close() error { f.closed = true; return nil }

type fakeTaskConsumer struct {
	onMessage func(broker.Delivery)
	queues    map[string]bool
}

func (f *fakeTaskConsumer) ConsumingFrom(name string) bool { return f.queues[name] }
func (f *fakeTaskConsumer) AddQueue(b broker.QueueBinding) error {
	if f.queues == nil {
		f.queues = map[string]bool{}
	}
	f.queues[b.Name] = true
	return nil
}
func (f *fakeTaskConsumer) Consume() error { return nil }
func (f *fakeTaskConsumer) CancelByQueue(name string) error {
	delete(f.queues, name)
	return nil
}
func (f *fakeTaskConsumer) Drain(done <-chan struct{}) error {
	<-done
	return nil
}

func newTestConsumer(t *testing.T) (*consumer.Consumer, *fakeConnection) {
	t.Helper()
	fc := &fakeConnection{}
	c, err := consumer.New(consumer.Config{
		Hostname:           "test-host",
		Logger:             zap.NewNop(),
		ReadyQueueCapacity: 8,
		Settings: steps.Settings{
			Concurrency:        2,
			PrefetchMultiplier: 4,
		},
		TaskDefs:      []registry.TaskDef{{Name: "add"}},
		NewConnection: func() broker.Connection { return fc },
	})
	require.NoError(t, err)
	return c, fc
}

func TestConsumer_OnTask_ImmediateTaskGoesToReadyQueue(t *testing.T) {
	c, _ := newTestConsumer(t)
	tk := task.New("1", "add", nil, nil, nil, nil)

	c.OnTask(tk)

	require.EqualValues(t, 1, c.ReservedCount())
	select {
	case got := <-c.ReadyQueue().Chan():
		require.Equal(t, tk, got)
	default:
		t.Fatal("expected task in ready queue")
	}
}

func TestConsumer_OnTask_RevokedTaskIsDropped(t *testing.T) {
	c, _ := newTestConsumer(t)
	tk := task.New("1", "add", nil, nil, nil, nil)
	tk.SetRevokedFunc(func(string) bool { return true })

	c.OnTask(tk)

	require.EqualValues(t, 0, c.ReservedCount())
	require.Equal(t, 0, c.ReadyQueue().Len())
}

func TestConsumer_OnTask_ETASchedulesTimerAndIncrementsQoSPending(t *testing.T) {
	c, _ := newTestConsumer(t)
	c.SetQoS(qos.New(4, func(int) error { return nil }))

	eta := time.Now().Add(time.Hour)
	tk := task.New("1", "add", nil, nil, nil, nil)
	tk.ETA = &eta

	c.OnTask(tk)

	require.Equal(t, 1, c.Timer().Len())
	require.Equal(t, 0, c.ReadyQueue().Len(), "ETA task must not be ready immediately")

	require.Equal(t, 4, c.QoS().Value(), "increment stays pending until Flush")
	require.NoError(t, c.QoS().Flush())
	require.Equal(t, 5, c.QoS().Value())
}

func TestConsumer_OnTask_ETAOverflowAcksAndDrops(t *testing.T) {
	c, _ := newTestConsumer(t)
	farFuture := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	acked := false
	tk := task.New("1", "add", nil, nil, func() error { acked = true; return nil }, nil)
	tk.ETA = &farFuture

	c.OnTask(tk)

	require.True(t, acked)
	require.Equal(t, 0, c.Timer().Len())
	require.Equal(t, 0, c.ReadyQueue().Len())
}

func TestDispatch_UnknownFormatRejects(t *testing.T) {
	c, _ := newTestConsumer(t)
	rejected := false
	c.OnMessage(broker.Delivery{
		Body:   []byte(`[1,2,3]`),
		Reject: func() error { rejected = true; return nil },
	})
	require.True(t, rejected)
}

func TestDispatch_InvalidTaskRejects(t *testing.T) {
	c, _ := newTestConsumer(t)
	rejected := false
	c.OnMessage(broker.Delivery{
		Body:   []byte(`{"id":"1"}`),
		Reject: func() error { rejected = true; return nil },
	})
	require.True(t, rejected)
}

func TestDispatch_DecodeErrorAcks(t *testing.T) {
	c, _ := newTestConsumer(t)
	acked := false
	c.OnMessage(broker.Delivery{
		Body: []byte(`not json`),
		Ack:  func() error { acked = true; return nil },
	})
	require.True(t, acked)
}

func TestDispatch_UnknownTaskRejects(t *testing.T) {
	c, _ := newTestConsumer(t)
	rejected := false
	c.OnMessage(broker.Delivery{
		Body:   []byte(`{"id":"1","task":"no-such-task"}`),
		Reject: func() error { rejected = true; return nil },
	})
	require.True(t, rejected)
}

func TestDispatch_KnownTaskInvokesStrategy(t *testing.T) {
	c, _ := newTestConsumer(t)
	c.OnMessage(broker.Delivery{
		Body: []byte(`{"id":"1","task":"add","args":[1,2]}`),
	})
	require.EqualValues(t, 1, c.ReservedCount())
}

func TestConsumer_Shutdown_ClearsQueuesAndClosesConnection(t *testing.T) {
	c, fc := newTestConsumer(t)
	require.NoError(t, c.Restart())
	tk := task.New("1", "add", nil, nil, nil, nil)
	c.OnTask(tk)
	require.Equal(t, 1, c.ReadyQueue().Len())

	require.NoError(t, c.Shutdown())

	require.Equal(t, 0, c.ReadyQueue().Len())
	require.True(t, fc.closed)
	require.True(t, c.MaybeShutdown())
}

func TestConsumer_Restart_PreservesQoSAcrossRestarts(t *testing.T) {
	c, _ := newTestConsumer(t)
	require.NoError(t, c.Restart())
	first := c.QoS()
	require.NotNil(t, first)
	first.IncrementEventually(3)
	require.NoError(t, first.Flush())

	require.NoError(t, c.Restart())

	require.Same(t, first, c.QoS(), "QoS controller must survive a restart")
	require.Equal(t, first.Value(), c.QoS().Value())
}

func TestConsumer_Info_RedactsPassword(t *testing.T) {
	c, _ := newTestConsumer(t)
	require.NoError(t, c.Restart())

	info := c.Info()
	broker, ok := info["broker"].(map[string]any)
	require.True(t, ok)
	_, hasPassword := broker["password"]
	require.False(t, hasPassword)
}
