package timer_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentinel-labs/taskconsumer/internal/timer"
)

func TestTimer_FiresInDeadlineOrder(t *testing.T) {
	tm := timer.New()
	defer tm.Stop()

	var mu sync.Mutex
	var order []int

	record := func(n int) func() {
		return func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}
	}

	now := time.Now()
	tm.ApplyAt(now.Add(60*time.Millisecond), 6, record(2))
	tm.ApplyAt(now.Add(10*time.Millisecond), 6, record(1))
	tm.ApplyAt(now.Add(110*time.Millisecond), 6, record(3))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestTimer_ClearDropsPendingEntries(t *testing.T) {
	tm := timer.New()
	defer tm.Stop()

	fired := false
	tm.ApplyAt(time.Now().Add(20*time.Millisecond), 6, func() { fired = true })
	require.Equal(t, 1, tm.Len())

	tm.Clear()
	require.Equal(t, 0, tm.Len())

	time.Sleep(50 * time.Millisecond)
	require.False(t, fired)
}

func TestTimer_CancelSkipsCallback(t *testing.T) {
	tm := timer.New()
	defer tm.Stop()

	fired := false
	e := tm.ApplyAt(time.Now().Add(15*time.Millisecond), 6, func() { fired = true })
	e.Cancel()

	time.Sleep(50 * time.Millisecond)
	require.False(t, fired)
}
