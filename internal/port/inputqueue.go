package port

import (
	"sync"

	"github.com/ifm/nexxT/internal/errs"
	"github.com/ifm/nexxT/internal/sample"
	"github.com/ifm/nexxT/pkg/ringqueue"
)

// fallbackCapacity bounds the backing array when a queue is governed only
// by a time span (no positive sample-count bound): ringqueue needs a
// finite backing array, so an unusually bursty producer is still capped,
// with eviction by time doing the real work in the common case.
const fallbackCapacity = 1024

// InputQueue is the per-InputPort history buffer: newest
// sample first, evicted by sample count and/or time span relative to the
// newest arrival's timestamp.
type InputQueue struct {
	mu sync.Mutex

	sizeSamples int
	sizeSeconds float64

	buf *ringqueue.Buffer[sample.Sample]
}

// NewInputQueue creates a queue with the given bounds. sizeSamples <= 0
// disables count-based eviction; sizeSeconds <= 0 disables time-based
// eviction.
func NewInputQueue(sizeSamples int, sizeSeconds float64) *InputQueue {
	cap := sizeSamples
	if cap <= 0 {
		cap = fallbackCapacity
	}
	return &InputQueue{
		sizeSamples: sizeSamples,
		sizeSeconds: sizeSeconds,
		buf:         ringqueue.New[sample.Sample](uint32(cap)),
	}
}

// Push inserts s as the newest sample and applies count/time eviction.
func (q *InputQueue) Push(s *sample.Sample) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.buf.PutEvicting(s)
	q.evictByCountLocked()
	q.evictByTimeLocked(s.Timestamp())
}

func (q *InputQueue) evictByCountLocked() {
	if q.sizeSamples > 0 {
		q.buf.TrimToNewest(q.sizeSamples)
	}
}

func (q *InputQueue) evictByTimeLocked(newestTimestamp int64) {
	if q.sizeSeconds <= 0 {
		return
	}
	thresholdTicks := int64(q.sizeSeconds / sample.TimestampRes)
	cutoff := newestTimestamp - thresholdTicks
	q.buf.TrimWhileOldest(func(it *sample.Sample) bool {
		return it.Timestamp() < cutoff
	})
}

// GetData retrieves a sample relative to the newest arrival.
// Exactly one of delaySamples, delaySeconds should be positive; if both
// are positive that is ambiguous and rejected, and if neither is positive
// the newest sample is returned.
func (q *InputQueue) GetData(delaySamples int, delaySeconds float64) (*sample.Sample, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if delaySamples > 0 && delaySeconds > 0 {
		return nil, errs.NewOutOfRange("delaySamples and delaySeconds are mutually exclusive")
	}

	if delaySamples > 0 {
		it, ok := q.buf.PeekFromNewest(delaySamples)
		if !ok {
			return nil, errs.NewOutOfRange("no sample at requested sample delay")
		}
		return it, nil
	}

	if delaySeconds > 0 {
		// Of the samples at least delaySeconds older than the newest
		// arrival, return the youngest (smallest index), i.e. the one
		// closest to the requested delay.
		newest, ok := q.buf.Newest()
		if !ok {
			return nil, errs.NewOutOfRange("queue is empty")
		}
		thresholdTicks := int64(delaySeconds / sample.TimestampRes)
		cutoff := newest.Timestamp() - thresholdTicks
		n := q.buf.Size()
		for i := 0; i < n; i++ {
			it, ok := q.buf.PeekFromNewest(i)
			if !ok {
				break
			}
			if it.Timestamp() <= cutoff {
				return it, nil
			}
		}
		return nil, errs.NewOutOfRange("no sample old enough for requested time delay")
	}

	it, ok := q.buf.Newest()
	if !ok {
		return nil, errs.NewOutOfRange("queue is empty")
	}
	return it, nil
}

// Size returns the number of retained samples.
func (q *InputQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Size()
}

// SetSizeSamples updates the count-based eviction bound, growing the
// backing buffer if needed. Only valid while the owning filter's state
// permits port edits; the caller enforces that.
func (q *InputQueue) SetSizeSamples(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sizeSamples = n

	cap := n
	if cap <= 0 {
		cap = fallbackCapacity
	}
	if cap > q.buf.Capacity() {
		q.resizeCapacityLocked(cap)
	}
	q.evictByCountLocked()
}

// SetSizeSeconds updates the time-based eviction bound. Applied lazily on
// the next Push.
func (q *InputQueue) SetSizeSeconds(s float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sizeSeconds = s
}

func (q *InputQueue) resizeCapacityLocked(newCap int) {
	n := q.buf.Size()
	items := make([]*sample.Sample, 0, n)
	for i := n - 1; i >= 0; i-- {
		if it, ok := q.buf.PeekFromNewest(i); ok {
			items = append(items, it)
		}
	}
	nb := ringqueue.New[sample.Sample](uint32(newCap))
	start := 0
	if len(items) > newCap {
		start = len(items) - newCap
	}
	for _, it := range items[start:] {
		nb.Put(it)
	}
	q.buf = nb
}
