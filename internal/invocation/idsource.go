// Package invocation provides the monotonic id generator for outbound
// invocations.
package invocation

import "sync/atomic"

// IDSource hands out monotonically increasing invocation ids, unique
// within this process.
type IDSource struct {
	next uint64
}

// NewIDSource returns an id source starting at 1.
func NewIDSource() *IDSource {
	return &IDSource{}
}

// Next returns the next invocation id.
func (s *IDSource) Next() uint64 {
	return atomic.AddUint64(&s.next, 1)
}
