package goroutineid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCurrent_StableWithinGoroutine(t *testing.T) {
	require.Equal(t, Current(), Current())
}

func TestCurrent_DistinctAcrossGoroutines(t *testing.T) {
	mainID := Current()

	var wg sync.WaitGroup
	ids := make(chan int64, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			ids <- Current()
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		require.NotEqual(t, mainID, id)
		require.False(t, seen[id], "goroutine IDs must be distinct")
		seen[id] = true
	}
}
