// Package port implements Port, InputPort, OutputPort and InputQueue.
// It depends only on the leaf packages (sample, errs, state, nxlog,
// goroutineid, pkg/ringqueue) and on the generic executor — never on filter or
// connection directly, so filter and connection can both import port
// without a cycle. A Connection is referenced only through the minimal
// Sink interface it implements.
package port

import (
	"fmt"
	"sync"

	"github.com/ifm/nexxT/internal/errs"
	"github.com/ifm/nexxT/internal/executor"
	"github.com/ifm/nexxT/internal/goroutineid"
	"github.com/ifm/nexxT/internal/nxlog"
	"github.com/ifm/nexxT/internal/sample"
	"github.com/ifm/nexxT/internal/state"
)

// Direction distinguishes input from output ports.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Receiver is the minimal view of a Filter that delivery code needs: the
// one callback invoked on sample arrival. Defined here (not in the filter
// package) so port and connection never need to import filter.
type Receiver interface {
	OnPortDataChanged(p *InputPort) error
}

// Owner is the minimal view of a FilterEnvironment that a Port needs:
// enough to assert thread affinity, read/log against the current
// lifecycle state, and reach the filter's delivery callback, without port
// importing the filter package.
type Owner interface {
	FilterName() string
	ThreadName() string
	ThreadID() int64
	State() state.State
	Logger() nxlog.Logger
	Executor() *executor.Executor
	FilterReceiver() Receiver
}

// Sink is the minimal view of a Connection that OutputPort.Transmit needs.
// Connection implements this; port never imports the connection package.
type Sink interface {
	// Send delivers sample s over the connection. Connections never
	// return errors from Send: a stopped or failed transport is logged
	// and the sample dropped internally, and the caller proceeds.
	Send(s *sample.Sample)
}

// Port is the common interface shared by InputPort and OutputPort.
type Port interface {
	Name() string
	Direction() Direction
	Dynamic() bool
	Owner() Owner
}

func assertOwnerThread(owner Owner, operation string) error {
	if owner == nil {
		return nil
	}
	cur := goroutineid.Current()
	if cur == owner.ThreadID() {
		return nil
	}
	return errs.NewWrongThread(operation, owner.ThreadName(), fmt.Sprintf("goroutine-%d", cur))
}

// OutputPort fans a sample out to every Connection attached to it.
type OutputPort struct {
	name    string
	dynamic bool
	owner   Owner

	mu    sync.Mutex
	sinks []Sink
}

// NewOutputPort creates a named output port owned by owner.
func NewOutputPort(name string, dynamic bool, owner Owner) *OutputPort {
	return &OutputPort{name: name, dynamic: dynamic, owner: owner}
}

func (p *OutputPort) Name() string        { return p.name }
func (p *OutputPort) Direction() Direction { return Output }
func (p *OutputPort) Dynamic() bool        { return p.dynamic }
func (p *OutputPort) Owner() Owner         { return p.owner }

// AddSink attaches a Connection (or test double) to this port's fan-out
// set. Connection construction calls this; it is not part of the public
// plugin-facing API.
func (p *OutputPort) AddSink(s Sink) {
	p.mu.Lock()
	p.sinks = append(p.sinks, s)
	p.mu.Unlock()
}

// RemoveSink detaches a previously attached sink.
func (p *OutputPort) RemoveSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, sink := range p.sinks {
		if sink == s {
			p.sinks = append(p.sinks[:i], p.sinks[i+1:]...)
			return
		}
	}
}

// Transmit sends a copy-on-write reference to s to every attached
// Connection. Must be called from the owning thread; samples
// emitted outside ACTIVE are dropped with a warning rather than
// propagated.
func (p *OutputPort) Transmit(s *sample.Sample) error {
	if err := assertOwnerThread(p.owner, "OutputPort.Transmit"); err != nil {
		return err
	}
	if p.owner != nil && p.owner.State() != state.Active {
		if p.owner.Logger() != nil {
			p.owner.Logger().Warn("dropping sample transmitted outside ACTIVE state",
				nxlog.String("port", p.name), nxlog.String("state", p.owner.State().String()))
		}
		return nil
	}

	p.mu.Lock()
	sinks := make([]Sink, len(p.sinks))
	copy(sinks, p.sinks)
	p.mu.Unlock()

	for _, sink := range sinks {
		sink.Send(s)
	}
	return nil
}

// Defaults for InputPort queue sizing.
const (
	DefaultQueueSizeSamples = 1
	DefaultQueueSizeSeconds = -1.0
)

// InputPort owns an InputQueue and the current-sample slot that
// onPortDataChanged callbacks read from.
type InputPort struct {
	name    string
	dynamic bool
	owner   Owner

	queueSizeSamples        int
	queueSizeSeconds        float64
	interthreadDynamicQueue bool

	queue *InputQueue
}

// InputPortOption configures an InputPort at construction time.
type InputPortOption func(*InputPort)

// WithQueueSizeSamples overrides the default history length of 1.
func WithQueueSizeSamples(n int) InputPortOption {
	return func(p *InputPort) { p.queueSizeSamples = n }
}

// WithQueueSizeSeconds overrides the default (disabled, -1) time-span
// eviction bound.
func WithQueueSizeSeconds(s float64) InputPortOption {
	return func(p *InputPort) { p.queueSizeSeconds = s }
}

// WithInterthreadDynamicQueue enables credit-driven dynamic queue sizing
// for interthread connections feeding this port. Only
// meaningful while the owning filter is in a port-editable state.
func WithInterthreadDynamicQueue(enabled bool) InputPortOption {
	return func(p *InputPort) { p.interthreadDynamicQueue = enabled }
}

// NewInputPort creates a named input port owned by owner, applying the
// defaults (1 sample, no time bound) and then any options. If both
// resulting bounds are non-positive the sample bound is coerced back to 1
// and a warning is logged, since an unbounded queue in both dimensions
// would never evict.
func NewInputPort(name string, dynamic bool, owner Owner, opts ...InputPortOption) *InputPort {
	p := &InputPort{
		name:             name,
		dynamic:          dynamic,
		owner:            owner,
		queueSizeSamples: DefaultQueueSizeSamples,
		queueSizeSeconds: DefaultQueueSizeSeconds,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queueSizeSamples <= 0 && p.queueSizeSeconds <= 0 {
		if owner != nil && owner.Logger() != nil {
			owner.Logger().Warn("input port has no positive queue bound, coercing to 1 sample",
				nxlog.String("port", name))
		}
		p.queueSizeSamples = 1
	}
	p.queue = NewInputQueue(p.queueSizeSamples, p.queueSizeSeconds)
	return p
}

func (p *InputPort) Name() string        { return p.name }
func (p *InputPort) Direction() Direction { return Input }
func (p *InputPort) Dynamic() bool        { return p.dynamic }
func (p *InputPort) Owner() Owner         { return p.owner }

// QueueSizeSamples returns the configured sample-count eviction bound.
func (p *InputPort) QueueSizeSamples() int { return p.queueSizeSamples }

// QueueSizeSeconds returns the configured time-span eviction bound.
func (p *InputPort) QueueSizeSeconds() float64 { return p.queueSizeSeconds }

// InterthreadDynamicQueue reports whether dynamic queue sizing is enabled.
func (p *InputPort) InterthreadDynamicQueue() bool { return p.interthreadDynamicQueue }

// SetQueueSize updates the sample-count bound. Only valid while the
// owning filter's state permits port edits; callers (the
// lifecycle controller, or onInit) are responsible for the state check —
// this is a mechanical setter with no state check of its own.
func (p *InputPort) SetQueueSize(n int) {
	p.queueSizeSamples = n
	p.queue.SetSizeSamples(n)
}

// Queue returns the backing InputQueue.
func (p *InputPort) Queue() *InputQueue { return p.queue }

// Enqueue appends a newly arrived sample to the queue. Called by
// Connection's delivery closure, which runs on this port's owning thread
// via the Executor.
func (p *InputPort) Enqueue(s *sample.Sample) {
	p.queue.Push(s)
}

// GetData retrieves a sample relative to the newest arrival. At most one
// of delaySamples or delaySeconds may be positive; if neither is, the
// newest sample is returned. Must be called from the owning thread.
func (p *InputPort) GetData(delaySamples int, delaySeconds float64) (*sample.Sample, error) {
	if err := assertOwnerThread(p.owner, "InputPort.GetData"); err != nil {
		return nil, err
	}
	return p.queue.GetData(delaySamples, delaySeconds)
}

var _ Port = (*OutputPort)(nil)
var _ Port = (*InputPort)(nil)
