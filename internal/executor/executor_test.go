package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecutor_StepDeliversFIFO(t *testing.T) {
	e := New(nil, nil)
	var order []int
	var mu sync.Mutex

	for i := 0; i < 5; i++ {
		i := i
		e.RegisterPendingRcvSync("filterA", "portA", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	for e.Step(nil) {
	}

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestExecutor_StepSkipsBlockedConsumer(t *testing.T) {
	e := New(nil, nil)
	var ranA, ranB bool
	e.RegisterPendingRcvSync("A", "portA", func() { ranA = true })
	e.RegisterPendingRcvSync("B", "portB", func() { ranB = true })

	e.addBlocked("A")
	require.True(t, e.Step(nil), "should deliver the non-blocked event")
	require.False(t, ranA)
	require.True(t, ranB)

	e.removeBlocked("A")
	require.True(t, e.Step(nil))
	require.True(t, ranA)
}

func TestExecutor_MultiStepBoundedByMaxEvents(t *testing.T) {
	e := New(nil, nil)
	var count atomic.Int32
	for i := 0; i < MaxEventsPerStep+10; i++ {
		e.RegisterPendingRcvSync("f", "p", func() { count.Add(1) })
	}

	e.MultiStep()
	require.Equal(t, int32(MaxEventsPerStep), count.Load())
	require.Equal(t, 10, e.PendingCount())
}

func TestExecutor_FinalizeCapsPerPort(t *testing.T) {
	e := New(nil, nil)
	var count atomic.Int32
	for i := 0; i < MaxLoopsFinalize+5; i++ {
		e.RegisterPendingRcvSync("f", "portOnly", func() { count.Add(1) })
	}

	e.Finalize()
	require.Equal(t, int32(MaxLoopsFinalize), count.Load())
}

func TestExecutor_ClearDiscardsPending(t *testing.T) {
	e := New(nil, nil)
	delivered := false
	e.RegisterPendingRcvSync("f", "p", func() { delivered = true })

	e.Clear()
	require.False(t, e.Step(nil))
	require.False(t, delivered)
}

func TestExecutor_NotifyCoalesced(t *testing.T) {
	var notifyCount atomic.Int32
	e := New(nil, func() { notifyCount.Add(1) })

	e.RegisterPendingRcvSync("f", "p", func() {})
	e.RegisterPendingRcvSync("f", "p", func() {})
	require.Equal(t, int32(1), notifyCount.Load(), "second register should not notify again while first is pending")

	e.Step(nil)
	e.RegisterPendingRcvSync("f", "p", func() {})
	require.Equal(t, int32(2), notifyCount.Load())
}

func TestExecutor_ProducerGoroutinePreservesAcceptOrder(t *testing.T) {
	e := New(nil, nil)
	const n = 200
	var wg sync.WaitGroup
	results := make([]int, 0, n)
	var mu sync.Mutex

	// A single producer goroutine (other than the draining one) registers
	// in order; the executor must dispatch in that same order. Producers on
	// other connections could interleave with it, but each connection's own
	// order is preserved because registration is serialized per producer
	// thread.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			i := i
			e.RegisterPendingRcvSync("f", "p", func() {
				mu.Lock()
				results = append(results, i)
				mu.Unlock()
			})
		}
	}()
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for e.Step(nil) {
		if time.Now().After(deadline) {
			t.Fatal("timed out draining events")
		}
	}

	require.Len(t, results, n)
	for i, v := range results {
		require.Equal(t, i, v)
	}
}
