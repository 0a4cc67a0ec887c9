// Package errs defines the runtime's error kinds. Each is a small
// struct implementing error so callers can branch on the kind with
// errors.As rather than matching message strings.
package errs

import "fmt"

// WrongThreadError is returned when an operation is invoked from a
// goroutine other than the port/filter's owning thread.
type WrongThreadError struct {
	Operation string
	Owning    string
	Caller    string
}

func (e *WrongThreadError) Error() string {
	return fmt.Sprintf("%s: called from thread %q, owned by thread %q", e.Operation, e.Caller, e.Owning)
}

// NewWrongThread builds a WrongThreadError for the given operation.
func NewWrongThread(operation, owning, caller string) *WrongThreadError {
	return &WrongThreadError{Operation: operation, Owning: owning, Caller: caller}
}

// OutOfRangeError is returned by InputQueue.GetData when no sample
// satisfies the requested delay.
type OutOfRangeError struct {
	Reason string
}

func (e *OutOfRangeError) Error() string { return "out of range: " + e.Reason }

// NewOutOfRange builds an OutOfRangeError with the given reason.
func NewOutOfRange(reason string) *OutOfRangeError { return &OutOfRangeError{Reason: reason} }

// InvariantViolation marks a state-machine invariant breach. The runtime
// logs these and continues rather than crashing.
type InvariantViolation struct {
	Detail string
}

func (e *InvariantViolation) Error() string { return "invariant violation: " + e.Detail }

// NewInvariantViolation builds an InvariantViolation.
func NewInvariantViolation(detail string) *InvariantViolation {
	return &InvariantViolation{Detail: detail}
}

// TransportStopped describes a send attempted on a stopped connection.
// The connection package does not construct it: a stopped send is only
// logged as a warning and the sample dropped.
type TransportStopped struct {
	Connection string
}

func (e *TransportStopped) Error() string { return "transport stopped: " + e.Connection }

// NewTransportStopped builds a TransportStopped error.
func NewTransportStopped(connection string) *TransportStopped {
	return &TransportStopped{Connection: connection}
}

// PluginError wraps a panic or error raised by user-supplied filter code,
// tagged with which filter and callback raised it so the framework
// boundary can log it with full context.
type PluginError struct {
	Filter   string
	Callback string
	Cause    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin error in %s.%s: %v", e.Filter, e.Callback, e.Cause)
}

func (e *PluginError) Unwrap() error { return e.Cause }

// NewPluginError builds a PluginError.
func NewPluginError(filterName, callback string, cause error) *PluginError {
	return &PluginError{Filter: filterName, Callback: callback, Cause: cause}
}
