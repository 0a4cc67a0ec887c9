// Package lifecycle implements the global Lifecycle Controller: the
// state machine that sequences every filter in a graph through
// CONSTRUCTING -> ... -> DESTRUCTED, materializes connections during
// OPENING and tears them down during CLOSING. A callback failure aborts
// the forward phase and runs the reverse sequence from whatever states
// each filter actually reached.
package lifecycle

import (
	"fmt"
	"sync"

	"github.com/ifm/nexxT/internal/connection"
	"github.com/ifm/nexxT/internal/errs"
	"github.com/ifm/nexxT/internal/filter"
	"github.com/ifm/nexxT/internal/nxlog"
	"github.com/ifm/nexxT/internal/port"
	"github.com/ifm/nexxT/internal/resilience"
	"github.com/ifm/nexxT/internal/services"
	"github.com/ifm/nexxT/internal/state"
	"github.com/ifm/nexxT/internal/threadpool"
)

// PortConfig declares one static input port at node-construction time.
type PortConfig struct {
	Name                    string
	QueueSizeSamples        int
	QueueSizeSeconds        float64
	InterthreadDynamicQueue bool
}

// NodeSpec is everything the controller needs to construct one filter
// instance and register it in the graph.
type NodeSpec struct {
	Name                   string
	ThreadName             string
	Factory                filter.Factory
	DynamicInputSupported  bool
	DynamicOutputSupported bool
	StaticInputPorts       []PortConfig
	StaticOutputPorts      []string
	Properties             map[string]any
	// Resilience, if ResilienceEnabled is set, enables a circuit breaker
	// guarding every connection (direct or interthread) delivering into
	// this node.
	Resilience        resilience.Config
	ResilienceEnabled bool
}

// ConnectionSpec names one edge: an output port on FromNode to an input
// port on ToNode. Width < 0 means "use the default width of 1"; 0 means
// unbounded (no flow control).
type ConnectionSpec struct {
	FromNode string
	FromPort string
	ToNode   string
	ToPort   string
	Width    int
}

type nodeEntry struct {
	spec   NodeSpec
	env    *filter.Environment
	thread *threadpool.Thread

	reachedInit  bool
	reachedOpen  bool
	reachedStart bool
}

// Controller drives every registered node through the full lifecycle in
// lock-step, barrier-style: all filters complete a transition before the
// next transition begins for any of them.
type Controller struct {
	log      nxlog.Logger
	pool     *threadpool.Pool
	services *services.Registry
	metrics  *services.Metrics

	mu          sync.Mutex
	order       []string
	nodes       map[string]*nodeEntry
	connSpecs   []ConnectionSpec
	connections []*connection.Connection
}

// New creates an empty Controller. pool, svc, and metrics may be nil;
// zero values (a fresh Pool/Registry/Metrics) are substituted.
func New(log nxlog.Logger, pool *threadpool.Pool, svc *services.Registry, metrics *services.Metrics) *Controller {
	if log == nil {
		log = nxlog.Nop{}
	}
	if pool == nil {
		pool = threadpool.New(log)
	}
	if svc == nil {
		svc = services.New()
	}
	if metrics == nil {
		metrics = services.NewMetrics()
	}
	return &Controller{
		log:      log,
		pool:     pool,
		services: svc,
		metrics:  metrics,
		nodes:    make(map[string]*nodeEntry),
	}
}

// AddNode constructs one filter instance per spec: it claims (or
// creates) its named thread, builds a FilterEnvironment in CONSTRUCTING,
// invokes the factory, advances the environment to CONSTRUCTED, and then
// registers static ports and properties. Must be called before RunForward.
func (c *Controller) AddNode(spec NodeSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("lifecycle: node spec missing name")
	}
	threadName := spec.ThreadName
	if threadName == "" {
		threadName = "main"
	}

	c.mu.Lock()
	if _, exists := c.nodes[spec.Name]; exists {
		c.mu.Unlock()
		return fmt.Errorf("lifecycle: duplicate node name %q", spec.Name)
	}
	c.mu.Unlock()

	th := c.pool.GetOrCreate(threadName)
	env := filter.NewEnvironment(spec.Name, threadName, th.ThreadID(), c.log, th.Executor(),
		spec.DynamicInputSupported, spec.DynamicOutputSupported)
	env.SetLogger(c.log.WithFields(nxlog.String("filter", spec.Name), nxlog.String("filterID", env.ID().String())))

	f, err := spec.Factory(env)
	if err != nil {
		return fmt.Errorf("lifecycle: constructing node %q: %w", spec.Name, err)
	}
	env.SetFilter(f)
	env.SetState(state.Constructed)

	for _, pc := range spec.StaticInputPorts {
		opts := []port.InputPortOption{port.WithQueueSizeSamples(pc.QueueSizeSamples)}
		if pc.QueueSizeSeconds != 0 {
			opts = append(opts, port.WithQueueSizeSeconds(pc.QueueSizeSeconds))
		} else {
			opts = append(opts, port.WithQueueSizeSeconds(-1))
		}
		if pc.InterthreadDynamicQueue {
			opts = append(opts, port.WithInterthreadDynamicQueue(true))
		}
		env.AddInputPort(port.NewInputPort(pc.Name, false, env, opts...))
	}
	for _, name := range spec.StaticOutputPorts {
		env.AddOutputPort(port.NewOutputPort(name, false, env))
	}
	for k, v := range spec.Properties {
		env.SetProperty(k, v)
	}

	c.mu.Lock()
	c.nodes[spec.Name] = &nodeEntry{spec: spec, env: env, thread: th}
	c.order = append(c.order, spec.Name)
	c.mu.Unlock()
	return nil
}

// AddConnection registers one edge to be materialized at OPENING.
func (c *Controller) AddConnection(spec ConnectionSpec) {
	c.mu.Lock()
	c.connSpecs = append(c.connSpecs, spec)
	c.mu.Unlock()
}

// Environment looks up a registered node's FilterEnvironment.
func (c *Controller) Environment(name string) (*filter.Environment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[name]
	if !ok {
		return nil, false
	}
	return n.env, true
}

// invoke runs fn on entry's owning thread, tagging any error/panic as a
// PluginError with the callback name.
func (c *Controller) invoke(entry *nodeEntry, callback string, fn func() error) error {
	err := entry.thread.RunOnThread(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	})
	if err != nil {
		return errs.NewPluginError(entry.spec.Name, callback, err)
	}
	return nil
}

// RunForward drives every node from CONSTRUCTED through INITIALIZED,
// OPENED (materializing connections), and ACTIVE. On any callback
// failure it aborts remaining stages and runs the reverse sequence from
// whatever states were actually reached, returning the original error.
func (c *Controller) RunForward() error {
	if err := c.runInit(); err != nil {
		c.runReverse()
		return err
	}
	if err := c.runOpen(); err != nil {
		c.runReverse()
		return err
	}
	if err := c.runStart(); err != nil {
		c.runReverse()
		return err
	}
	return nil
}

func (c *Controller) entries() []*nodeEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*nodeEntry, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.nodes[name])
	}
	return out
}

func (c *Controller) runInit() error {
	var firstErr error
	for _, n := range c.entries() {
		n.env.SetState(state.Initializing)
		err := c.invoke(n, "onInit", n.env.Filter().OnInit)
		if err != nil {
			c.log.Error("onInit failed", nxlog.String("filter", n.spec.Name), nxlog.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n.env.SetState(state.Initialized)
		n.reachedInit = true
	}
	c.metrics.TransitionsCompleted.Add(1)
	return firstErr
}

func (c *Controller) runOpen() error {
	var firstErr error
	for _, n := range c.entries() {
		if !n.reachedInit {
			continue
		}
		n.env.SetState(state.Opening)
		err := c.invoke(n, "onOpen", n.env.Filter().OnOpen)
		if err != nil {
			c.log.Error("onOpen failed", nxlog.String("filter", n.spec.Name), nxlog.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n.env.SetState(state.Opened)
		n.reachedOpen = true
	}
	if firstErr != nil {
		return firstErr
	}
	if err := c.materializeConnections(); err != nil {
		return err
	}
	c.metrics.TransitionsCompleted.Add(1)
	return nil
}

func (c *Controller) runStart() error {
	var firstErr error
	for _, n := range c.entries() {
		if !n.reachedOpen {
			continue
		}
		n.env.SetState(state.Starting)
		err := c.invoke(n, "onStart", n.env.Filter().OnStart)
		if err != nil {
			c.log.Error("onStart failed", nxlog.String("filter", n.spec.Name), nxlog.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n.env.SetState(state.Active)
		n.reachedStart = true
	}
	if firstErr != nil {
		return firstErr
	}
	c.mu.Lock()
	conns := append([]*connection.Connection(nil), c.connections...)
	c.mu.Unlock()
	for _, conn := range conns {
		conn.SetStopped(false)
	}
	c.metrics.TransitionsCompleted.Add(1)
	return nil
}

// runReverse runs the teardown sequence (Stop, Close, Deinit) for every
// node according to what it actually reached. It does not stop the worker
// threads; Shutdown does that afterwards. Called both after a
// forward-transition failure and during an ordinary Shutdown.
func (c *Controller) runReverse() {
	c.runStop()
	c.runClose()
	c.runDeinit()
}

func (c *Controller) runStop() {
	c.mu.Lock()
	conns := append([]*connection.Connection(nil), c.connections...)
	c.mu.Unlock()
	for _, conn := range conns {
		conn.SetStopped(true)
	}

	for _, n := range c.entries() {
		if !n.reachedStart {
			continue
		}
		n.env.SetState(state.Stopping)
		if err := c.invoke(n, "onStop", n.env.Filter().OnStop); err != nil {
			c.log.Error("onStop failed", nxlog.String("filter", n.spec.Name), nxlog.Err(err))
		}
		n.reachedStart = false
	}

	for _, name := range c.pool.Names() {
		th, ok := c.pool.Thread(name)
		if !ok {
			continue
		}
		_ = th.RunOnThread(func() error {
			th.Executor().Finalize()
			return nil
		})
	}
	c.metrics.TransitionsCompleted.Add(1)
}

func (c *Controller) runClose() {
	for _, n := range c.entries() {
		if !n.reachedOpen {
			continue
		}
		n.env.SetState(state.Closing)
		if err := c.invoke(n, "onClose", n.env.Filter().OnClose); err != nil {
			c.log.Error("onClose failed", nxlog.String("filter", n.spec.Name), nxlog.Err(err))
		}
		n.reachedOpen = false
	}
	c.teardownConnections()
	c.metrics.TransitionsCompleted.Add(1)
}

func (c *Controller) runDeinit() {
	for _, n := range c.entries() {
		if !n.reachedInit {
			continue
		}
		n.env.SetState(state.Deinitializing)
		if err := c.invoke(n, "onDeinit", n.env.Filter().OnDeinit); err != nil {
			c.log.Error("onDeinit failed", nxlog.String("filter", n.spec.Name), nxlog.Err(err))
		}
		n.env.SetState(state.Destructing)
		n.reachedInit = false
		n.env.SetState(state.Destructed)
	}
	c.metrics.TransitionsCompleted.Add(1)
}

// Shutdown runs the ordinary (non-failure) reverse sequence from ACTIVE
// down to DESTRUCTED for every node, then stops every worker thread.
func (c *Controller) Shutdown() {
	c.runReverse()
	stuck := c.pool.StopAll(threadpool.DefaultShutdownTimeout)
	for _, name := range stuck {
		c.log.Warn("thread did not stop within shutdown timeout", nxlog.String("thread", name))
	}
}

// materializeConnections builds a connection.Connection for every
// registered ConnectionSpec, deciding direct vs interthread transport by
// comparing producer/consumer owning threads, and attaches it as a sink
// on the producer's output port.
func (c *Controller) materializeConnections() error {
	c.mu.Lock()
	specs := append([]ConnectionSpec(nil), c.connSpecs...)
	c.mu.Unlock()

	for _, spec := range specs {
		producer, ok := c.nodes[spec.FromNode]
		if !ok {
			return fmt.Errorf("lifecycle: connection references unknown node %q", spec.FromNode)
		}
		consumer, ok := c.nodes[spec.ToNode]
		if !ok {
			return fmt.Errorf("lifecycle: connection references unknown node %q", spec.ToNode)
		}
		outPort, ok := producer.env.OutputPort(spec.FromPort)
		if !ok {
			return fmt.Errorf("lifecycle: node %q has no output port %q", spec.FromNode, spec.FromPort)
		}
		inPort, ok := consumer.env.InputPort(spec.ToPort)
		if !ok {
			return fmt.Errorf("lifecycle: node %q has no input port %q", spec.ToNode, spec.ToPort)
		}

		width := spec.Width
		if width < 0 {
			width = 1
		}
		direct := producer.env.ThreadID() == consumer.env.ThreadID()

		var brk connection.Breaker
		if consumer.spec.ResilienceEnabled {
			brk = resilience.NewPortBreaker(consumer.spec.Name, inPort.Name(), consumer.spec.Resilience, consumer.env.Logger())
		}

		conn := connection.New(connection.Config{
			Name:                    fmt.Sprintf("%s.%s->%s.%s", spec.FromNode, spec.FromPort, spec.ToNode, spec.ToPort),
			Log:                     c.log,
			Direct:                  direct,
			Width:                   width,
			ProducerExecutor:        producer.env.Executor(),
			ConsumerExecutor:        consumer.env.Executor(),
			ProducerFilter:          producer.env,
			Consumer:                inPort,
			InterthreadDynamicQueue: inPort.InterthreadDynamicQueue(),
			Breaker:                 brk,
			Metrics:                 c.metrics,
		})
		outPort.AddSink(conn)

		c.mu.Lock()
		c.connections = append(c.connections, conn)
		c.mu.Unlock()
	}
	return nil
}

func (c *Controller) teardownConnections() {
	c.mu.Lock()
	conns := append([]*connection.Connection(nil), c.connections...)
	c.connections = nil
	specs := append([]ConnectionSpec(nil), c.connSpecs...)
	c.mu.Unlock()

	for i, spec := range specs {
		if i >= len(conns) {
			break
		}
		producer, ok := c.nodes[spec.FromNode]
		if !ok {
			continue
		}
		outPort, ok := producer.env.OutputPort(spec.FromPort)
		if !ok {
			continue
		}
		outPort.RemoveSink(conns[i])
	}
}
