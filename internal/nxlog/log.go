// Package nxlog defines the logging port used throughout the runtime and a
// logrus-backed default implementation.
package nxlog

// Field represents a single structured logging field.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the leveled, structured logging port consumed by every
// runtime component. "Logging" is one of the two well-known Services
// registry keys (the other being "Profiling"); runtime components receive
// their Logger by injection rather than by registry lookup.
type Logger interface {
	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

// String creates a string-valued logging field with the given key.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an int-valued logging field with the given key.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 creates an int64-valued logging field with the given key.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Float64 creates a float64-valued logging field with the given key.
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

// Bool creates a bool-valued logging field with the given key.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Err creates a logging field for an error value under the key "error".
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Any creates a logging field with an arbitrary value under the given key.
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Nop is a Logger that discards everything; useful in tests that don't
// care about log output but still need a non-nil Logger.
type Nop struct{}

func (Nop) Trace(string, ...Field)       {}
func (Nop) Debug(string, ...Field)       {}
func (Nop) Info(string, ...Field)        {}
func (Nop) Warn(string, ...Field)        {}
func (Nop) Error(string, ...Field)       {}
func (Nop) Fatal(string, ...Field)       {}
func (n Nop) WithFields(...Field) Logger { return n }
