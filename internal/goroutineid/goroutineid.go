// Package goroutineid gives each goroutine a stable numeric identity for
// thread-affinity assertions: ports and connections must detect
// calls made from outside their owning thread. Go has no public API for
// this, so Current parses the header line runtime.Stack already prints
// for panics ("goroutine 123 [running]:").
package goroutineid

import (
	"bytes"
	"runtime"
	"strconv"
)

// Current returns the calling goroutine's runtime-assigned ID. The value is
// stable for the lifetime of the goroutine and has no meaning beyond
// equality comparison.
func Current() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]

	fields := bytes.Fields(buf)
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
