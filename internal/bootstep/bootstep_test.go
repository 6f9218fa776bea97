package bootstep_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentinel-labs/taskconsumer/internal/bootstep"
)

type fakeStep struct {
	name          string
	requires      []string
	last          bool
	delayShutdown bool
	calls         *[]string
}

func (f *fakeStep) Name() string          { return f.name }
func (f *fakeStep) Requires() []string    { return f.requires }
func (f *fakeStep) Last() bool            { return f.last }
func (f *fakeStep) DelayShutdown() bool   { return f.delayShutdown }
func (f *fakeStep) Create(parent any) error { *f.calls = append(*f.calls, f.name+".create"); return nil }
func (f *fakeStep) Start(parent any) error  { *f.calls = append(*f.calls, f.name+".start"); return nil }
func (f *fakeStep) Stop(parent any) error   { *f.calls = append(*f.calls, f.name+".stop"); return nil }
func (f *fakeStep) Shutdown(parent any, force bool) error {
	suffix := "shutdown"
	if force {
		suffix = "shutdown(force)"
	}
	*f.calls = append(*f.calls, f.name+"."+suffix)
	return nil
}

func TestNamespace_StartsInDependencyOrder(t *testing.T) {
	var calls []string
	conn := &fakeStep{name: "connection", calls: &calls}
	taskConsumer := &fakeStep{name: "task-consumer", requires: []string{"connection"}, calls: &calls}
	heartbeat := &fakeStep{name: "heartbeat", requires: []string{"connection"}, calls: &calls}

	ns, err := bootstep.New([]bootstep.Step{taskConsumer, heartbeat, conn})
	require.NoError(t, err)
	require.NoError(t, ns.Start(nil))

	// connection must precede both of its dependents; dependents may
	// interleave relative to each other but each call pairs create+start.
	require.Equal(t, []string{
		"connection.create", "connection.start",
		"task-consumer.create", "task-consumer.start",
		"heartbeat.create", "heartbeat.start",
	}, calls)
}

func TestNamespace_LastStepSortsAfterOrdinarySteps(t *testing.T) {
	var calls []string
	last := &fakeStep{name: "task-consumer", last: true, calls: &calls}
	ordinary := &fakeStep{name: "connection", calls: &calls}

	// Declared in "wrong" order on purpose — Last() must still win.
	ns, err := bootstep.New([]bootstep.Step{last, ordinary})
	require.NoError(t, err)
	require.NoError(t, ns.Start(nil))

	require.Equal(t, []string{
		"connection.create", "connection.start",
		"task-consumer.create", "task-consumer.start",
	}, calls)
}

func TestNamespace_StopRunsInReverseOrder(t *testing.T) {
	var calls []string
	a := &fakeStep{name: "a", calls: &calls}
	b := &fakeStep{name: "b", requires: []string{"a"}, calls: &calls}

	ns, err := bootstep.New([]bootstep.Step{a, b})
	require.NoError(t, err)
	require.NoError(t, ns.Start(nil))
	calls = nil

	require.NoError(t, ns.Stop(nil))
	require.Equal(t, []string{"b.stop", "a.stop"}, calls)
}

func TestNamespace_ShutdownRunsDelayedStepsLast(t *testing.T) {
	var calls []string
	a := &fakeStep{name: "a", calls: &calls}
	delayed := &fakeStep{name: "delayed", requires: []string{"a"}, delayShutdown: true, calls: &calls}
	c := &fakeStep{name: "c", requires: []string{"delayed"}, calls: &calls}

	ns, err := bootstep.New([]bootstep.Step{a, delayed, c})
	require.NoError(t, err)
	require.NoError(t, ns.Start(nil))
	calls = nil

	require.NoError(t, ns.Shutdown(nil))

	require.Equal(t, []string{"c.shutdown", "a.shutdown", "delayed.shutdown(force)"}, calls)
	require.Equal(t, bootstep.StateClose, ns.State())
}

func TestNamespace_DetectsDependencyCycle(t *testing.T) {
	var calls []string
	a := &fakeStep{name: "a", requires: []string{"b"}, calls: &calls}
	b := &fakeStep{name: "b", requires: []string{"a"}, calls: &calls}

	_, err := bootstep.New([]bootstep.Step{a, b})
	require.Error(t, err)
}
