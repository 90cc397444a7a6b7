package sequence

import (
	"fmt"
	"sync/atomic"
)

// Counter allocates human-readable order numbers from an atomic counter.
// Numbers are strictly increasing and never reused, including under
// concurrent allocation; counting existing orders and adding one would race.
type Counter struct {
	prefix string
	width  int
	last   atomic.Uint64
}

// NewCounter starts allocation at start+1. Prefix and width shape the output,
// e.g. prefix "ORD-" and width 6 yield "ORD-000123".
func NewCounter(prefix string, width int, start uint64) *Counter {
	c := &Counter{prefix: prefix, width: width}
	c.last.Store(start)
	return c
}

// Next returns the next order number.
func (c *Counter) Next() string {
	n := c.last.Add(1)
	return fmt.Sprintf("%s%0*d", c.prefix, c.width, n)
}
