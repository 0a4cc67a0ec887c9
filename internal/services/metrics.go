package services

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is the minimal in-memory counters object held by the lifecycle
// controller and passed to the connections it materializes (it is not
// stored in the Registry): messages delivered/dropped per port, completed
// lifecycle transitions, and total credit-wait time. The core updates these
// in-process; exporting them is left to whatever collector reads the
// snapshot.
type Metrics struct {
	TransitionsCompleted atomic.Uint64
	CreditWaitNs         atomic.Uint64

	mu        sync.Mutex
	delivered map[string]uint64
	dropped   map[string]uint64

	startTime time.Time
}

// NewMetrics creates an empty Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		delivered: make(map[string]uint64),
		dropped:   make(map[string]uint64),
		startTime: time.Now(),
	}
}

// RecordDelivered increments the delivered counter for portKey
// ("<filterName>.<portName>").
func (m *Metrics) RecordDelivered(portKey string) {
	m.mu.Lock()
	m.delivered[portKey]++
	m.mu.Unlock()
}

// RecordDropped increments the dropped counter for portKey.
func (m *Metrics) RecordDropped(portKey string) {
	m.mu.Lock()
	m.dropped[portKey]++
	m.mu.Unlock()
}

// RecordCreditWait accumulates time spent blocked acquiring an
// interthread connection credit.
func (m *Metrics) RecordCreditWait(d time.Duration) {
	if d > 0 {
		m.CreditWaitNs.Add(uint64(d.Nanoseconds()))
	}
}

// PortCounters is a point-in-time read of one port's delivered/dropped
// counts.
type PortCounters struct {
	Delivered uint64
	Dropped   uint64
}

// Snapshot is a point-in-time view of all counters.
type Snapshot struct {
	Timestamp            time.Time
	TransitionsCompleted uint64
	CreditWaitNs         uint64
	Ports                map[string]PortCounters
}

// Snapshot builds a Snapshot of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	ports := make(map[string]PortCounters, len(m.delivered)+len(m.dropped))
	for k, v := range m.delivered {
		c := ports[k]
		c.Delivered = v
		ports[k] = c
	}
	for k, v := range m.dropped {
		c := ports[k]
		c.Dropped = v
		ports[k] = c
	}

	return Snapshot{
		Timestamp:            time.Now(),
		TransitionsCompleted: m.TransitionsCompleted.Load(),
		CreditWaitNs:         m.CreditWaitNs.Load(),
		Ports:                ports,
	}
}
