package session

import "sync/atomic"

// IDAllocator hands out session ids. It is shared by the streaming table and the registry.
type IDAllocator struct {
	v atomic.Int64
}

func NewIDAllocator(start int) *IDAllocator {
	a := &IDAllocator{}
	a.v.Store(int64(start))
	return a
}

// Take returns the current value and advances the counter.
func (a *IDAllocator) Take() int {
	return int(a.v.Add(1) - 1)
}

// Next advances the counter and returns the new value.
func (a *IDAllocator) Next() int {
	return int(a.v.Add(1))
}

func (a *IDAllocator) Current() int {
	return int(a.v.Load())
}
