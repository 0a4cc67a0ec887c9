// Package threadpool implements the named worker threads that host
// filters: each thread runs one serial event loop backed by exactly one
// Executor. Within a thread, execution is cooperative and
// single-threaded; callbacks run to completion, there is no
// pre-emption within a filter.
package threadpool

import (
	"sync"
	"time"

	"github.com/ifm/nexxT/internal/executor"
	"github.com/ifm/nexxT/internal/goroutineid"
	"github.com/ifm/nexxT/internal/nxlog"
)

// Thread is one named worker: a goroutine running a serial event loop
// that wakes on notification and drains its Executor.
type Thread struct {
	name string
	log  nxlog.Logger
	exec *executor.Executor

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	idOnce sync.Once
	idCh   chan int64
	id     int64
}

// newThread creates a Thread named name. The Executor's notify callback
// wakes this thread's event loop; multiple notify calls before the loop
// drains coalesce into a single pending wake-up (buffered channel of
// size 1), matching the Executor's own pending-notification counter.
func newThread(name string, log nxlog.Logger) *Thread {
	t := &Thread{
		name: name,
		log:  log,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		idCh: make(chan int64, 1),
	}
	t.exec = executor.New(log, t.requestWake)
	return t
}

func (t *Thread) requestWake() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Name returns the thread's configured name.
func (t *Thread) Name() string { return t.name }

// Executor returns the thread's Executor, for wiring ports/connections.
func (t *Thread) Executor() *executor.Executor { return t.exec }

// Start launches the thread's event loop goroutine. The calling goroutine
// blocks until the loop has captured its own goroutine ID, so ThreadID()
// is safe to call immediately after Start returns.
func (t *Thread) Start() {
	go t.run()
	t.id = <-t.idCh
}

// ThreadID returns the goroutine ID of this thread's event loop, captured
// once at Start. FilterEnvironment stores this for thread-affinity
// assertions.
func (t *Thread) ThreadID() int64 { return t.id }

// RunOnThread schedules fn as a synchronous event on this thread's
// Executor and blocks until it has run, returning fn's error. It is how
// the lifecycle controller invokes a filter callback (or asks the
// Executor itself to Finalize) on the filter's owning thread from
// outside that thread — the same "queued connection" delivery mechanism
// a cross-thread sample uses, carrying a callback instead of a sample.
// Must not be called after Stop/StopWithTimeout has been invoked: a
// stopped Executor silently discards the registration and this call
// would block forever.
func (t *Thread) RunOnThread(fn func() error) error {
	result := make(chan error, 1)
	t.exec.RegisterPendingRcvSync(nil, nil, func() {
		result <- fn()
	})
	return <-result
}

func (t *Thread) run() {
	defer close(t.done)
	t.idCh <- goroutineid.Current()

	for {
		select {
		case <-t.wake:
			t.exec.MultiStep()
		case <-t.stop:
			t.exec.Finalize()
			t.exec.Clear()
			return
		}
	}
}

// Stop signals the event loop to finalize pending deliveries and exit,
// blocking until it has done so.
func (t *Thread) Stop() {
	close(t.stop)
	<-t.done
}

// StopWithTimeout is Stop bounded by a deadline; it returns false if the
// loop did not exit within d. The loop itself keeps running to
// completion in the background; a stuck filter callback inside
// Finalize is a pipeline bug the framework does not force-kill, and
// corrective action is operator-side.
func (t *Thread) StopWithTimeout(d time.Duration) bool {
	close(t.stop)
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

// DefaultShutdownTimeout bounds how long the lifecycle controller waits
// for each thread to drain during Shutdown before reporting it as stuck.
const DefaultShutdownTimeout = 5 * time.Second

// Pool is the named collection of worker threads a graph's nodes are
// distributed across, one Thread per distinct "thread" field in the
// graph configuration (default "main").
type Pool struct {
	log nxlog.Logger

	mu      sync.Mutex
	threads map[string]*Thread
}

// New creates an empty Pool.
func New(log nxlog.Logger) *Pool {
	if log == nil {
		log = nxlog.Nop{}
	}
	return &Pool{log: log, threads: make(map[string]*Thread)}
}

// GetOrCreate returns the named Thread, creating and starting it if this
// is the first reference.
func (p *Pool) GetOrCreate(name string) *Thread {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.threads[name]; ok {
		return t
	}
	t := newThread(name, p.log.WithFields(nxlog.String("thread", name)))
	t.Start()
	p.threads[name] = t
	return t
}

// Thread looks up an already-created thread by name.
func (p *Pool) Thread(name string) (*Thread, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.threads[name]
	return t, ok
}

// Names returns the currently registered thread names.
func (p *Pool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.threads))
	for name := range p.threads {
		out = append(out, name)
	}
	return out
}

// StopAll stops every thread in the pool, each bounded by perThreadTimeout.
// Returns the names of threads that did not stop in time.
func (p *Pool) StopAll(perThreadTimeout time.Duration) []string {
	p.mu.Lock()
	threads := make(map[string]*Thread, len(p.threads))
	for k, v := range p.threads {
		threads[k] = v
	}
	p.mu.Unlock()

	var stuck []string
	for name, t := range threads {
		if !t.StopWithTimeout(perThreadTimeout) {
			stuck = append(stuck, name)
		}
	}
	return stuck
}
