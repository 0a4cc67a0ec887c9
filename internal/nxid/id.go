// Package nxid provides UUID-based identity for filter environments and
// connections, used purely for log correlation — nothing in the runtime
// branches on these values.
package nxid

import "github.com/google/uuid"

// ID is an opaque, loggable identifier.
type ID string

// New returns a fresh random identifier.
func New() ID {
	return ID(uuid.NewString())
}

// String satisfies fmt.Stringer so IDs print cleanly in log fields.
func (i ID) String() string {
	return string(i)
}
