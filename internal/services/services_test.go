package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistrySetGetRemove(t *testing.T) {
	r := New()

	_, ok := r.Get(Logging)
	assert.False(t, ok)

	r.Set(Logging, "a logger")
	v, ok := r.Get(Logging)
	assert.True(t, ok)
	assert.Equal(t, "a logger", v)

	r.Remove(Logging)
	_, ok = r.Get(Logging)
	assert.False(t, ok)
}

func TestRegistryNames(t *testing.T) {
	r := New()
	r.Set(Logging, 1)
	r.Set(Profiling, 2)
	assert.ElementsMatch(t, []string{Logging, Profiling}, r.Names())
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordDelivered("Sink.in")
	m.RecordDelivered("Sink.in")
	m.RecordDropped("Sink.in")
	m.TransitionsCompleted.Add(6)

	snap := m.Snapshot()
	assert.Equal(t, uint64(6), snap.TransitionsCompleted)
	assert.Equal(t, uint64(2), snap.Ports["Sink.in"].Delivered)
	assert.Equal(t, uint64(1), snap.Ports["Sink.in"].Dropped)
}
