package qos_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentinel-labs/taskconsumer/internal/qos"
)

func TestQoS_IncrementDecrementNetsOutOnFlush(t *testing.T) {
	var applied []int
	q := qos.New(4, func(n int) error {
		applied = append(applied, n)
		return nil
	})

	q.IncrementEventually(1)
	q.IncrementEventually(1)
	q.DecrementEventually(1)

	require.Equal(t, 4, q.Value(), "value must not change before Flush")

	require.NoError(t, q.Flush())
	require.Equal(t, 5, q.Value())
	require.Equal(t, []int{5}, applied)

	// Second flush with nothing pending is a no-op.
	require.NoError(t, q.Flush())
	require.Equal(t, []int{5}, applied)
}

func TestQoS_SetOverridesPendingDelta(t *testing.T) {
	var applied []int
	q := qos.New(4, func(n int) error {
		applied = append(applied, n)
		return nil
	})

	q.IncrementEventually(3)
	require.NoError(t, q.Set(10))
	require.Equal(t, 10, q.Value())

	// The queued +3 must not resurrect on the next flush.
	require.NoError(t, q.Flush())
	require.Equal(t, 10, q.Value())
	require.Equal(t, []int{10}, applied)
}
