// Package executor implements the per-thread cooperative scheduler that
// drains pending input deliveries. An Executor lives on
// exactly one worker thread; every callback it dispatches runs on that
// thread.
//
// Executor is deliberately decoupled from the port/sample/filter types:
// a pending delivery is an envelope of {consumer filter identity,
// consumer port identity, a closure to run}. Callers (internal/port,
// internal/connection) build the closures; Executor only sequences them.
package executor

import (
	"sync"
	"time"

	"github.com/ifm/nexxT/internal/nxlog"
)

// Scheduling tunables.
const (
	MaxEventsPerStep = 32
	StepDeadline     = 100 * time.Millisecond
	MaxLoopsFinalize = 5
)

// event is one pending delivery.
type event struct {
	consumerFilter any
	consumerPort   any
	deliver        func()
}

// Executor is the mutex-protected FIFO of pending deliveries for one
// worker thread, plus the blocked-producer re-entrancy guard.
type Executor struct {
	log nxlog.Logger

	mu      sync.Mutex
	events  []event
	stopped bool

	blockedMu sync.Mutex
	blocked   map[any]int // refcount, since a producer may recursively pump while already blocked

	pending int // coalesced wake-up counter, guarded by mu
	notify  func()
}

// New creates an Executor. notify is called (from any goroutine) whenever
// a new event is registered and no multiStep is currently scheduled; the
// owning thread's event loop is expected to respond by calling MultiStep.
// notify may be nil in tests that drive Step/MultiStep directly.
func New(log nxlog.Logger, notify func()) *Executor {
	if log == nil {
		log = nxlog.Nop{}
	}
	return &Executor{
		log:     log,
		blocked: make(map[any]int),
		notify:  notify,
	}
}

// RegisterPendingRcvSync appends a synchronous delivery and requests a
// wake-up.
func (e *Executor) RegisterPendingRcvSync(consumerFilter, consumerPort any, deliver func()) {
	e.register(consumerFilter, consumerPort, deliver)
}

// RegisterPendingRcvAsync appends an asynchronous (cross-thread) delivery
// and requests a wake-up. Semantically identical to the sync path from
// the Executor's point of view — the sync/async distinction only matters
// to the caller building the delivery closure (whether it must release a
// credit on completion).
func (e *Executor) RegisterPendingRcvAsync(consumerFilter, consumerPort any, deliver func()) {
	e.register(consumerFilter, consumerPort, deliver)
}

func (e *Executor) register(consumerFilter, consumerPort any, deliver func()) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.events = append(e.events, event{consumerFilter: consumerFilter, consumerPort: consumerPort, deliver: deliver})
	shouldNotify := e.pending == 0
	if shouldNotify {
		e.pending++
	}
	e.mu.Unlock()

	if shouldNotify && e.notify != nil {
		e.notify()
	}
}

// isBlocked reports whether filter is currently acting as a cooperating
// producer that must not be re-entered.
func (e *Executor) isBlocked(filter any) bool {
	if filter == nil {
		return false
	}
	e.blockedMu.Lock()
	defer e.blockedMu.Unlock()
	return e.blocked[filter] > 0
}

func (e *Executor) addBlocked(filter any) {
	if filter == nil {
		return
	}
	e.blockedMu.Lock()
	e.blocked[filter]++
	e.blockedMu.Unlock()
}

func (e *Executor) removeBlocked(filter any) {
	if filter == nil {
		return
	}
	e.blockedMu.Lock()
	e.blocked[filter]--
	if e.blocked[filter] <= 0 {
		delete(e.blocked, filter)
	}
	e.blockedMu.Unlock()
}

// Step performs a single-event tick. fromFilter, if non-nil,
// identifies a producer that is cooperatively pumping this Executor while
// blocked waiting for a credit; that producer is pushed onto the
// blocked-producers set for the duration of this call so that it cannot
// be re-entered (e.g. when the graph is cyclic and the producer is also
// a consumer on this same executor).
func (e *Executor) Step(fromFilter any) bool {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	e.addBlocked(fromFilter)
	defer e.removeBlocked(fromFilter)

	e.mu.Lock()
	idx := -1
	for i := range e.events {
		if !e.isBlockedLocked(e.events[i].consumerFilter) {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return false
	}
	ev := e.events[idx]
	e.events = append(e.events[:idx], e.events[idx+1:]...)
	if e.pending > 0 {
		e.pending--
	}
	e.mu.Unlock()

	e.dispatch(ev)
	return true
}

// isBlockedLocked is isBlocked but callable while e.mu is already held;
// it takes the separate blockedMu lock, which is never held across e.mu,
// so lock order is consistent (mu then blockedMu, never reversed).
func (e *Executor) isBlockedLocked(filter any) bool {
	return e.isBlocked(filter)
}

func (e *Executor) dispatch(ev event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic delivering port event, dropping",
				nxlog.Any("panic", r))
		}
	}()
	ev.deliver()
}

// MultiStep is the event loop's wake-up handler: it calls Step up to
// MaxEventsPerStep times or until StepDeadline elapses since MultiStep
// started, whichever comes first. The deadline is a scheduling-frequency
// floor, not a hard limit on any single callback's duration: a callback
// that runs long simply finishes before the deadline is next checked.
// If work remains when MultiStep returns, it re-arms a wake-up so the
// event loop calls it again.
func (e *Executor) MultiStep() {
	deadline := time.Now().Add(StepDeadline)
	for i := 0; i < MaxEventsPerStep; i++ {
		if !e.Step(nil) {
			return
		}
		if time.Now().After(deadline) {
			break
		}
	}
	if e.hasPending() && e.notify != nil {
		e.notify()
	}
}

func (e *Executor) hasPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events) > 0
}

// Finalize drains pending events during shutdown, allowing each consumer
// port at most MaxLoopsFinalize deliveries, so a producer that keeps
// re-arming events cannot stall shutdown indefinitely.
func (e *Executor) Finalize() {
	loops := make(map[any]int)
	for {
		e.mu.Lock()
		idx := -1
		for i := range e.events {
			port := e.events[i].consumerPort
			if loops[port] >= MaxLoopsFinalize {
				continue
			}
			if !e.isBlockedLocked(e.events[i].consumerFilter) {
				idx = i
				break
			}
		}
		if idx < 0 {
			e.mu.Unlock()
			return
		}
		ev := e.events[idx]
		e.events = append(e.events[:idx], e.events[idx+1:]...)
		e.mu.Unlock()

		loops[ev.consumerPort]++
		e.dispatch(ev)
	}
}

// Clear marks the Executor stopped and discards all pending events.
func (e *Executor) Clear() {
	e.mu.Lock()
	e.stopped = true
	e.events = nil
	e.pending = 0
	e.mu.Unlock()
}

// PendingCount reports the number of undelivered events, for tests and
// telemetry.
func (e *Executor) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}
