// Package filter defines the Filter plugin contract and FilterEnvironment.
// A Filter is constructed with
// (dynamicInputSupported, dynamicOutputSupported, environment) and may
// override any of the seven lifecycle callbacks; BaseFilter supplies the
// no-op defaults so a plugin only implements what it needs.
package filter

import (
	"sync"
	"sync/atomic"

	"github.com/ifm/nexxT/internal/executor"
	"github.com/ifm/nexxT/internal/nxid"
	"github.com/ifm/nexxT/internal/nxlog"
	"github.com/ifm/nexxT/internal/port"
	"github.com/ifm/nexxT/internal/state"
)

// Filter is the contract every plugin implements. Every callback executes
// on the filter's owning thread; the lifecycle controller and
// the executor are the only callers.
type Filter interface {
	OnInit() error
	OnOpen() error
	OnStart() error
	OnPortDataChanged(p *port.InputPort) error
	OnStop() error
	OnClose() error
	OnDeinit() error
}

// BaseFilter implements Filter with no-op defaults. Plugins embed it and
// override only the callbacks they need.
type BaseFilter struct{}

func (BaseFilter) OnInit() error                            { return nil }
func (BaseFilter) OnOpen() error                            { return nil }
func (BaseFilter) OnStart() error                           { return nil }
func (BaseFilter) OnPortDataChanged(p *port.InputPort) error { return nil }
func (BaseFilter) OnStop() error                            { return nil }
func (BaseFilter) OnClose() error                           { return nil }
func (BaseFilter) OnDeinit() error                          { return nil }

var _ Filter = BaseFilter{}

// Environment is the per-filter container: owning thread, ordered port lists, the dynamic-port capability flags,
// the current lifecycle state, and a property collection. Exactly one
// Environment exists per filter instance; state is advanced only by the
// lifecycle controller via SetState.
type Environment struct {
	id         nxid.ID
	name       string
	threadName string
	threadID   int64
	log        nxlog.Logger
	exec       *executor.Executor

	dynamicInputSupported  bool
	dynamicOutputSupported bool

	mu          sync.Mutex
	inputPorts  []*port.InputPort
	outputPorts []*port.OutputPort
	properties  map[string]any

	st atomic.Int32 // state.State, advanced only by the lifecycle controller

	filter Filter
}

// NewEnvironment creates a FilterEnvironment bound to one thread. threadID
// is the owning goroutine's ID, captured once by the ThreadPool when the
// thread's filters are constructed.
func NewEnvironment(name, threadName string, threadID int64, log nxlog.Logger, exec *executor.Executor, dynamicInputSupported, dynamicOutputSupported bool) *Environment {
	if log == nil {
		log = nxlog.Nop{}
	}
	e := &Environment{
		id:                     nxid.New(),
		name:                   name,
		threadName:             threadName,
		threadID:               threadID,
		log:                    log,
		exec:                   exec,
		dynamicInputSupported:  dynamicInputSupported,
		dynamicOutputSupported: dynamicOutputSupported,
		properties:             make(map[string]any),
	}
	e.st.Store(int32(state.Constructing))
	return e
}

// ID returns this environment's correlation identifier, assigned once at
// construction and stable for the environment's lifetime. It is used in
// log fields only; nothing in the runtime branches on it.
func (e *Environment) ID() nxid.ID { return e.id }

// SetLogger replaces the environment's logger, e.g. once the caller has
// enriched it with correlation fields (filter name, ID) not yet known at
// construction time.
func (e *Environment) SetLogger(log nxlog.Logger) {
	if log == nil {
		log = nxlog.Nop{}
	}
	e.log = log
}

// SetFilter attaches the constructed filter instance. Called once, right
// after the plugin factory returns.
func (e *Environment) SetFilter(f Filter) { e.filter = f }

// Filter returns the owned filter instance.
func (e *Environment) Filter() Filter { return e.filter }

// port.Owner implementation.

func (e *Environment) FilterName() string           { return e.name }
func (e *Environment) ThreadName() string           { return e.threadName }
func (e *Environment) ThreadID() int64              { return e.threadID }
func (e *Environment) State() state.State           { return state.State(e.st.Load()) }
func (e *Environment) Logger() nxlog.Logger         { return e.log }
func (e *Environment) Executor() *executor.Executor { return e.exec }

// FilterReceiver exposes the owned filter as a port.Receiver so delivery
// code in internal/connection can invoke OnPortDataChanged without
// importing this package.
func (e *Environment) FilterReceiver() port.Receiver {
	if e.filter == nil {
		return nil
	}
	return e.filter
}

var _ port.Owner = (*Environment)(nil)

// SetState advances the lifecycle state. Only the lifecycle controller
// calls this.
func (e *Environment) SetState(s state.State) { e.st.Store(int32(s)) }

// DynamicInputSupported reports whether onOpen/onClose may add/remove
// input ports.
func (e *Environment) DynamicInputSupported() bool { return e.dynamicInputSupported }

// DynamicOutputSupported reports whether onOpen/onClose may add/remove
// output ports.
func (e *Environment) DynamicOutputSupported() bool { return e.dynamicOutputSupported }

// AddInputPort registers a new input port. Only valid while
// State().PortEditable() is true; callers enforce that.
func (e *Environment) AddInputPort(p *port.InputPort) {
	e.mu.Lock()
	e.inputPorts = append(e.inputPorts, p)
	e.mu.Unlock()
}

// AddOutputPort registers a new output port.
func (e *Environment) AddOutputPort(p *port.OutputPort) {
	e.mu.Lock()
	e.outputPorts = append(e.outputPorts, p)
	e.mu.Unlock()
}

// RemoveInputPort unregisters an input port by name.
func (e *Environment) RemoveInputPort(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range e.inputPorts {
		if p.Name() == name {
			e.inputPorts = append(e.inputPorts[:i], e.inputPorts[i+1:]...)
			return
		}
	}
}

// RemoveOutputPort unregisters an output port by name.
func (e *Environment) RemoveOutputPort(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range e.outputPorts {
		if p.Name() == name {
			e.outputPorts = append(e.outputPorts[:i], e.outputPorts[i+1:]...)
			return
		}
	}
}

// InputPorts returns the current ordered input-port list.
func (e *Environment) InputPorts() []*port.InputPort {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*port.InputPort, len(e.inputPorts))
	copy(out, e.inputPorts)
	return out
}

// OutputPorts returns the current ordered output-port list.
func (e *Environment) OutputPorts() []*port.OutputPort {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*port.OutputPort, len(e.outputPorts))
	copy(out, e.outputPorts)
	return out
}

// InputPort looks up an input port by name.
func (e *Environment) InputPort(name string) (*port.InputPort, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.inputPorts {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// OutputPort looks up an output port by name.
func (e *Environment) OutputPort(name string) (*port.OutputPort, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.outputPorts {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// SetProperty stores a property value. The core only needs storage plus
// lookup here; dispatching change notifications back to the owning
// filter's thread is left to callers that need it.
func (e *Environment) SetProperty(key string, value any) {
	e.mu.Lock()
	e.properties[key] = value
	e.mu.Unlock()
}

// Property looks up a property value.
func (e *Environment) Property(key string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.properties[key]
	return v, ok
}

// Factory constructs a Filter instance bound to env. Plugin modules expose
// a name -> Factory mapping ("Plugin registration"); the core
// iterates it without caring whether the implementation is built-in or
// dynamically loaded.
type Factory func(env *Environment) (Filter, error)

// Registry is a plugin module's exposed name -> Factory mapping.
type Registry map[string]Factory
