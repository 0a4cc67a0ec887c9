package port

import (
	"testing"

	"github.com/ifm/nexxT/internal/sample"
	"github.com/stretchr/testify/require"
)

func mkSample(ts int64) *sample.Sample {
	return sample.New([]byte("x"), "text/plain", ts)
}

func TestInputQueue_CountEviction(t *testing.T) {
	q := NewInputQueue(3, -1)
	for i := int64(0); i < 5; i++ {
		q.Push(mkSample(i))
	}
	require.Equal(t, 3, q.Size())

	newest, err := q.GetData(0, 0)
	require.NoError(t, err)
	require.Equal(t, int64(4), newest.Timestamp())
}

func TestInputQueue_TimeEviction(t *testing.T) {
	q := NewInputQueue(100, 10) // 10 second window
	ticksPerSecond := int64(1 / sample.TimestampRes)

	q.Push(mkSample(0))
	q.Push(mkSample(5 * ticksPerSecond))
	q.Push(mkSample(12 * ticksPerSecond)) // drops t=0, keeps t=5s (within 10s of newest)

	require.Equal(t, 2, q.Size())
	oldest, err := q.GetData(1, 0)
	require.NoError(t, err)
	require.Equal(t, 5*ticksPerSecond, oldest.Timestamp())
}

func TestInputQueue_GetDataBySampleDelay(t *testing.T) {
	q := NewInputQueue(5, -1)
	for i := int64(0); i < 3; i++ {
		q.Push(mkSample(i))
	}

	s, err := q.GetData(1, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), s.Timestamp())

	_, err = q.GetData(10, 0)
	require.Error(t, err)
}

func TestInputQueue_GetDataBySecondsDelay(t *testing.T) {
	q := NewInputQueue(100, -1)
	ticksPerSecond := int64(1 / sample.TimestampRes)
	q.Push(mkSample(0))
	q.Push(mkSample(2 * ticksPerSecond))
	q.Push(mkSample(4 * ticksPerSecond))

	s, err := q.GetData(0, 3)
	require.NoError(t, err)
	require.Equal(t, int64(0), s.Timestamp())
}

func TestInputQueue_BothDelaysRejected(t *testing.T) {
	q := NewInputQueue(5, -1)
	q.Push(mkSample(0))
	_, err := q.GetData(1, 1)
	require.Error(t, err)
}

func TestInputQueue_EmptyQueueOutOfRange(t *testing.T) {
	q := NewInputQueue(5, -1)
	_, err := q.GetData(0, 0)
	require.Error(t, err)
}

func TestInputQueue_SetSizeSamplesGrowsAndShrinks(t *testing.T) {
	q := NewInputQueue(2, -1)
	q.Push(mkSample(0))
	q.Push(mkSample(1))
	require.Equal(t, 2, q.Size())

	q.SetSizeSamples(5)
	q.Push(mkSample(2))
	q.Push(mkSample(3))
	require.Equal(t, 4, q.Size())

	q.SetSizeSamples(1)
	require.Equal(t, 1, q.Size())
}
