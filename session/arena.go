package session

import (
	"github.com/jnesss/diagview/types"
)

// Handle identifies a message stored in an Arena. The zero value is no message.
type Handle uint32

const NoHandle Handle = 0

// Arena owns decoded messages. Sessions refer to them by handle, so moving a message between
// sessions never copies it.
type Arena struct {
	slots []*types.RadioMessage
	free  []Handle
	live  int
}

func NewArena() *Arena {
	return &Arena{}
}

// Put stores a message and returns its handle.
func (a *Arena) Put(m *types.RadioMessage) Handle {
	a.live++
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[h-1] = m
		return h
	}
	a.slots = append(a.slots, m)
	return Handle(len(a.slots))
}

// Get returns the message behind h, or nil when h is empty or released.
func (a *Arena) Get(h Handle) *types.RadioMessage {
	if h == NoHandle || int(h) > len(a.slots) {
		return nil
	}
	return a.slots[h-1]
}

// Release drops the message behind h.
func (a *Arena) Release(h Handle) {
	if a.Get(h) == nil {
		return
	}
	a.slots[h-1] = nil
	a.free = append(a.free, h)
	a.live--
}

// Len returns the number of live messages.
func (a *Arena) Len() int {
	return a.live
}
