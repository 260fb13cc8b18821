package poll

import "sync/atomic"

// LoadingCounter aggregates loading deltas into a busy indicator.
//
// Its Add method satisfies [LoadingFunc], so one counter can be shared by
// several pollers. The zero value is ready to use.
type LoadingCounter struct {
	n        atomic.Int64
	onChange func(count int64)
}

// NewLoadingCounter returns a counter that calls onChange with the new
// count after every delta. onChange may be nil.
func NewLoadingCounter(onChange func(count int64)) *LoadingCounter {
	return &LoadingCounter{onChange: onChange}
}

// Add applies a delta.
func (c *LoadingCounter) Add(delta int) {
	n := c.n.Add(int64(delta))
	if c.onChange != nil {
		c.onChange(n)
	}
}

// Count returns the number of in-flight operations.
func (c *LoadingCounter) Count() int64 {
	return c.n.Load()
}

// Busy reports whether at least one operation is in flight.
func (c *LoadingCounter) Busy() bool {
	return c.n.Load() > 0
}
