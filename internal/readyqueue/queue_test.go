package readyqueue_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentinel-labs/taskconsumer/internal/readyqueue"
	"github.com/sentinel-labs/taskconsumer/internal/task"
)

func TestQueue_PutNonBlockingWhenFull(t *testing.T) {
	q := readyqueue.New(1)
	require.True(t, q.Put(&task.Task{Name: "a"}))
	require.False(t, q.Put(&task.Task{Name: "b"}), "Put must not block; it reports failure instead")
	require.Equal(t, 1, q.Len())
}

func TestQueue_ClearDropsBufferedItems(t *testing.T) {
	q := readyqueue.New(4)
	q.Put(&task.Task{Name: "a"})
	q.Put(&task.Task{Name: "b"})
	require.Equal(t, 2, q.Len())

	q.Clear()
	require.Equal(t, 0, q.Len())
}

func TestQueue_PreservesArrivalOrder(t *testing.T) {
	q := readyqueue.New(4)
	q.Put(&task.Task{Name: "first"})
	q.Put(&task.Task{Name: "second"})

	require.Equal(t, "first", (<-q.Chan()).Name)
	require.Equal(t, "second", (<-q.Chan()).Name)
}
