package ringqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPut_RejectsPastCapacity(t *testing.T) {
	b := New[int](2)
	a, bb, c := 1, 2, 3
	require.True(t, b.Put(&a))
	require.True(t, b.Put(&bb))
	require.False(t, b.Put(&c), "a full buffer must reject further Put calls")
	assert.Equal(t, 2, b.Size())
}

func TestPutEvicting_DropsOldest(t *testing.T) {
	b := New[int](2)
	v1, v2, v3 := 1, 2, 3
	b.Put(&v1)
	b.Put(&v2)

	dropped := b.PutEvicting(&v3)
	require.NotNil(t, dropped)
	assert.Equal(t, 1, *dropped)
	assert.Equal(t, 2, b.Size())

	newest, ok := b.Newest()
	require.True(t, ok)
	assert.Equal(t, 3, *newest)
}

func TestPeekFromNewest_OrderingAndBounds(t *testing.T) {
	b := New[int](4)
	for _, v := range []int{10, 20, 30} {
		v := v
		b.Put(&v)
	}

	newest, ok := b.PeekFromNewest(0)
	require.True(t, ok)
	assert.Equal(t, 30, *newest)

	one, ok := b.PeekFromNewest(1)
	require.True(t, ok)
	assert.Equal(t, 20, *one)

	oldest, ok := b.Oldest()
	require.True(t, ok)
	assert.Equal(t, 10, *oldest)

	_, ok = b.PeekFromNewest(3)
	assert.False(t, ok, "out of range delay must report not-found")

	_, ok = b.PeekFromNewest(-1)
	assert.False(t, ok)
}

func TestTrimToNewest_BoundsSize(t *testing.T) {
	b := New[int](5)
	for _, v := range []int{1, 2, 3, 4, 5} {
		v := v
		b.Put(&v)
	}

	dropped := b.TrimToNewest(2)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, 2, b.Size())

	newest, ok := b.Newest()
	require.True(t, ok)
	assert.Equal(t, 5, *newest)
}

func TestTrimWhileOldest_StopsAtFirstFalsePredicate(t *testing.T) {
	b := New[int](5)
	for _, v := range []int{1, 2, 3, 4} {
		v := v
		b.Put(&v)
	}

	dropped := b.TrimWhileOldest(func(it *int) bool { return *it < 3 })
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 2, b.Size())

	oldest, ok := b.Oldest()
	require.True(t, ok)
	assert.Equal(t, 3, *oldest)
}

func TestClear_EmptiesBuffer(t *testing.T) {
	b := New[int](3)
	v := 1
	b.Put(&v)
	b.Clear()
	assert.Equal(t, 0, b.Size())
	_, ok := b.Newest()
	assert.False(t, ok)
}

func TestNew_ZeroCapacityCoercedToOne(t *testing.T) {
	b := New[int](0)
	assert.Equal(t, 1, b.Capacity())
}

func TestPut_ConcurrentProducersNeverExceedCapacity(t *testing.T) {
	b := New[int](8)
	var wg sync.WaitGroup
	accepted := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		v := i
		go func() {
			defer wg.Done()
			accepted <- b.Put(&v)
		}()
	}
	wg.Wait()
	close(accepted)

	n := 0
	for ok := range accepted {
		if ok {
			n++
		}
	}
	assert.Equal(t, 8, n, "exactly capacity puts should succeed under contention")
	assert.Equal(t, 8, b.Size())
}
