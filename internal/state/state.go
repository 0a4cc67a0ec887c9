// Package state defines the per-filter lifecycle states. It is kept
// separate from the lifecycle controller package so that ports and
// filters, which need to read the current state without driving
// transitions, do not import the controller.
package state

// State is a position in the filter lifecycle sequence. Filters advance
// through these strictly in order; no state is skipped or revisited
// during the forward phase.
type State int32

const (
	Constructing State = iota
	Constructed
	Initializing
	Initialized
	Opening
	Opened
	Starting
	Active
	Stopping
	Closing
	Deinitializing
	Destructing
	Destructed
)

var names = [...]string{
	"CONSTRUCTING", "CONSTRUCTED", "INITIALIZING", "INITIALIZED",
	"OPENING", "OPENED", "STARTING", "ACTIVE",
	"STOPPING", "CLOSING", "DEINITIALIZING", "DESTRUCTING", "DESTRUCTED",
}

// String renders the state's name.
func (s State) String() string {
	if s < 0 || int(s) >= len(names) {
		return "UNKNOWN"
	}
	return names[s]
}

// PortEditable reports whether ports may be added or removed while a
// filter is in this state (CONSTRUCTING..INITIALIZED).
func (s State) PortEditable() bool {
	return s >= Constructing && s <= Initialized
}

// DynamicQueueEditable reports whether InterthreadDynamicQueue may still
// be flipped on an input port in this state (CONSTRUCTING..INITIALIZED).
func (s State) DynamicQueueEditable() bool {
	return s.PortEditable()
}
