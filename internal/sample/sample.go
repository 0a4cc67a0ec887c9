// Package sample implements DataSample, the immutable carrier that flows
// along every connection in the runtime.
package sample

import "time"

// TimestampRes is the resolution of Sample.Timestamp, in seconds per unit
// (i.e. timestamps are in microseconds since epoch).
const TimestampRes = 1e-6

// Sample is an immutable carrier of an opaque payload, a short type tag,
// and a timestamp. It is never mutated after construction; callers that
// need a mutable copy must call Copy. Equality is identity (pointer
// equality) — two samples with equal fields are still distinct samples.
//
// Lifetime is whatever Go's garbage collector decides: nothing retains a
// Sample past the last queue entry, in-flight delivery, or filter that
// holds a pointer to it, which is exactly the reference-counted lifetime
// the runtime this package implements calls for.
type Sample struct {
	content   []byte
	datatype  string
	timestamp int64
}

// New constructs a Sample. content is retained by reference, not copied;
// callers must not mutate it afterwards.
func New(content []byte, datatype string, timestamp int64) *Sample {
	return &Sample{content: content, datatype: datatype, timestamp: timestamp}
}

// Copy returns a new Sample with the same datatype and timestamp as src,
// and an independent copy of its content buffer.
func Copy(src *Sample) *Sample {
	if src == nil {
		return nil
	}
	content := make([]byte, len(src.content))
	copy(content, src.content)
	return &Sample{content: content, datatype: src.datatype, timestamp: src.timestamp}
}

// Content returns the sample's payload. Callers must treat it as
// read-only.
func (s *Sample) Content() []byte { return s.content }

// Datatype returns the sample's short type tag.
func (s *Sample) Datatype() string { return s.datatype }

// Timestamp returns the sample's timestamp in microseconds.
func (s *Sample) Timestamp() int64 { return s.timestamp }

// CurrentTime returns the current time as microseconds since the Unix
// epoch, in the same units as Sample.Timestamp.
func CurrentTime() int64 {
	return time.Now().UnixNano() / 1000
}
