// Package connection implements the transport between an OutputPort and
// an InputPort: direct delivery when producer and
// consumer share a thread, credit-bounded interthread delivery
// otherwise. Transport selection happens once, when the lifecycle
// controller materializes connections during OPENING.
package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ifm/nexxT/internal/errs"
	"github.com/ifm/nexxT/internal/executor"
	"github.com/ifm/nexxT/internal/nxlog"
	"github.com/ifm/nexxT/internal/port"
	"github.com/ifm/nexxT/internal/sample"
	"github.com/ifm/nexxT/internal/services"
	"github.com/ifm/nexxT/internal/state"
	"golang.org/x/sync/semaphore"
)

// Breaker is the minimal view of a per-port resilience guard a Connection
// needs. *resilience.PortBreaker implements this; defined here so
// connection never needs to import the resilience package directly and a
// test double is trivial to write. Guard returns nil only when deliver
// ran and succeeded; any non-nil return means the sample was dropped.
type Breaker interface {
	Guard(deliver func() error) error
}

// CreditAcquireAttempt bounds one spin of the credit-acquire loop.
const CreditAcquireAttempt = 500 * time.Millisecond

// Connection delivers samples from one OutputPort to one InputPort. It
// implements port.Sink so OutputPort.Transmit can call it without
// importing this package.
type Connection struct {
	name string
	log  nxlog.Logger

	producerExec *executor.Executor
	consumerExec *executor.Executor
	producer     any // filter identity, for the blocked-producers re-entrancy guard
	consumer     *port.InputPort

	direct bool // same-thread fast path

	width int // 0 = unbounded
	mu    sync.Mutex
	sem   *semaphore.Weighted
	n     int // outstanding credits handed out but not yet released (dynamic mode)

	interthreadDynamicQueue bool
	stopped                 bool

	breaker Breaker            // optional; nil delivers without a trip guard
	metrics *services.Metrics  // optional; nil disables counter updates
	portKey string             // "<filterName>.<portName>" of the consumer
}

// Config carries everything needed to materialize one connection.
type Config struct {
	Name                    string
	Log                     nxlog.Logger
	Direct                  bool
	Width                   int
	ProducerExecutor        *executor.Executor
	ConsumerExecutor        *executor.Executor
	ProducerFilter          any
	Consumer                *port.InputPort
	InterthreadDynamicQueue bool
	Breaker                 Breaker           // optional per-port resilience guard
	Metrics                 *services.Metrics // optional delivery counters
}

// New materializes a Connection per cfg. Called by the lifecycle
// controller during OPENING, once producer and consumer threads are
// known.
func New(cfg Config) *Connection {
	log := cfg.Log
	if log == nil {
		log = nxlog.Nop{}
	}
	c := &Connection{
		name:                    cfg.Name,
		log:                     log,
		producerExec:            cfg.ProducerExecutor,
		consumerExec:            cfg.ConsumerExecutor,
		producer:                cfg.ProducerFilter,
		consumer:                cfg.Consumer,
		direct:                  cfg.Direct,
		width:                   cfg.Width,
		interthreadDynamicQueue: cfg.InterthreadDynamicQueue,
		breaker:                 cfg.Breaker,
		metrics:                 cfg.Metrics,
	}
	if cfg.Consumer != nil && cfg.Consumer.Owner() != nil {
		c.portKey = cfg.Consumer.Owner().FilterName() + "." + cfg.Consumer.Name()
	}
	if !c.direct && c.width > 0 {
		c.sem = semaphore.NewWeighted(int64(c.width))
	}
	return c
}

// Send implements port.Sink. Called synchronously from OutputPort.Transmit
// on the producer's owning thread.
func (c *Connection) Send(s *sample.Sample) {
	if c.direct {
		c.consumerExec.RegisterPendingRcvSync(c.consumerFilterID(), c.consumer, func() {
			c.receiveSync(s)
		})
		return
	}
	c.receiveSample(s)
}

// consumerFilterID returns the identity used as the re-entrancy guard key:
// the consumer's owning environment. A producer cooperatively pumping its
// own executor (acquireCredit, below) pushes its own identity onto the
// blocked-producers set so that Step never re-enters that same filter's
// onPortDataChanged while it is itself suspended mid-emit — this only bites
// when the producer is also the consumer on this executor (a cyclic graph
// on one thread).
func (c *Connection) consumerFilterID() any {
	if c.consumer == nil {
		return nil
	}
	return c.consumer.Owner()
}

// receiveSample implements the interthread emit path.
func (c *Connection) receiveSample(s *sample.Sample) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.log.Warn("dropping sample on stopped connection", nxlog.String("connection", c.name))
		c.recordDropped()
		return
	}
	c.mu.Unlock()

	if c.width > 0 {
		if !c.acquireCredit() {
			c.log.Warn("dropping sample, connection stopped while waiting for credit",
				nxlog.String("connection", c.name))
			c.recordDropped()
			return
		}
		if c.interthreadDynamicQueue {
			// This send's credit is now outstanding; returnCredit accounts
			// for it via n when the sample arrives on the consumer side.
			c.mu.Lock()
			c.n++
			c.mu.Unlock()
		}
	}

	c.consumerExec.RegisterPendingRcvAsync(c.consumerFilterID(), c.consumer, func() {
		c.receiveAsync(s)
	})
}

// acquireCredit blocks until a credit is available, cooperatively pumping
// the producer's own executor between bounded spin attempts so a cyclic
// or mutually-blocked graph can still make progress. Returns false only
// if the connection was stopped while waiting.
func (c *Connection) acquireCredit() bool {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordCreditWait(time.Since(start))
		}
	}()
	for {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return false
		}
		sem := c.sem
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), CreditAcquireAttempt)
		err := sem.Acquire(ctx, 1)
		cancel()
		if err == nil {
			return true
		}

		if c.producerExec != nil {
			c.producerExec.Step(c.producer)
		}
	}
}

// receiveSync is the direct-connection delivery path.
func (c *Connection) receiveSync(s *sample.Sample) {
	c.deliver(s)
}

// receiveAsync is the interthread delivery path: insert into the queue,
// return credit per static/dynamic queue mode, then deliver.
func (c *Connection) receiveAsync(s *sample.Sample) {
	c.consumer.Enqueue(s)

	if c.width > 0 {
		c.returnCredit()
	}

	c.invokeCallback()
}

// deliver is the direct-connection path: insert then invoke.
func (c *Connection) deliver(s *sample.Sample) {
	c.consumer.Enqueue(s)
	c.invokeCallback()
}

func (c *Connection) invokeCallback() {
	owner := c.consumer.Owner()
	if owner == nil {
		return
	}
	switch owner.State() {
	case state.Active:
	case state.Opened:
		c.log.Warn("dropping delivery, filter not yet started",
			nxlog.String("port", c.consumer.Name()))
		c.recordDropped()
		return
	default:
		c.log.Error("dropping delivery in illegal state",
			nxlog.String("port", c.consumer.Name()), nxlog.String("state", owner.State().String()),
			nxlog.Err(errs.NewInvariantViolation("sample delivered outside ACTIVE/OPENED")))
		c.recordDropped()
		return
	}
	recv := owner.FilterReceiver()
	if recv == nil {
		return
	}
	deliver := func() error { return safeCall(func() error { return recv.OnPortDataChanged(c.consumer) }) }
	if c.breaker != nil {
		// The breaker logs skips and callback failures itself.
		if err := c.breaker.Guard(deliver); err != nil {
			c.recordDropped()
			return
		}
		c.recordDelivered()
		return
	}
	if err := deliver(); err != nil {
		c.log.Error("onPortDataChanged failed, dropping and continuing",
			nxlog.String("connection", c.name), nxlog.Err(err))
		c.recordDropped()
		return
	}
	c.recordDelivered()
}

func (c *Connection) recordDelivered() {
	if c.metrics != nil {
		c.metrics.RecordDelivered(c.portKey)
	}
}

func (c *Connection) recordDropped() {
	if c.metrics != nil {
		c.metrics.RecordDropped(c.portKey)
	}
}

// safeCall invokes fn, converting a panic into an error so a misbehaving
// filter callback cannot take down its worker thread: the failure is
// caught at the port boundary, logged, and the pipeline continues.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.NewPluginError("", "onPortDataChanged", fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}

// returnCredit implements static vs dynamic queue credit-return.
func (c *Connection) returnCredit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.interthreadDynamicQueue {
		c.sem.Release(1)
		return
	}

	currentQueueLen := c.consumer.Queue().Size()
	delta := c.n - currentQueueLen
	if delta <= 0 {
		c.sem.Release(int64(1 - delta))
		c.n += -delta
		return
	}

	c.n--
	for i := 0; i < delta-1; i++ {
		if c.sem.TryAcquire(1) {
			c.n--
		}
	}
}

// SetStopped toggles the connection's open/closed state; the lifecycle
// controller calls SetStopped(false) at STARTING and SetStopped(true) at
// STOPPING. Reopening resets available credits back to width.
func (c *Connection) SetStopped(stopped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = stopped
	if !stopped && !c.direct && c.width > 0 {
		c.sem = semaphore.NewWeighted(int64(c.width))
		c.n = 0
	}
}

// Stopped reports the current stopped flag.
func (c *Connection) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Name returns the connection's diagnostic name.
func (c *Connection) Name() string { return c.name }

var _ port.Sink = (*Connection)(nil)
