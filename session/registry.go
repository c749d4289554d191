package session

import (
	"container/list"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jnesss/diagview/types"
)

// CreateParams describe a dynamically created session
type CreateParams struct {
	ID         int // negative allocates the next shared id
	Name       string
	Key        []byte
	MCC        int
	MNC        int
	LAC        int
	CID        int
	CellARFCNs []uint16
	Now        int64
}

// Registry tracks dynamically created sessions for the management interface. Every list
// operation holds the mutex; nothing blocking runs under it.
type Registry struct {
	mu       sync.Mutex
	sessions *list.List
	arena    *Arena
	ids      *IDAllocator

	autoReset     bool
	autoTimestamp bool
	clock         func() time.Time
}

func NewRegistry(ids *IDAllocator, autoReset, autoTimestamp bool, clock func() time.Time) *Registry {
	if ids == nil {
		ids = NewIDAllocator(0)
	}
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		sessions:      list.New(),
		arena:         NewArena(),
		ids:           ids,
		autoReset:     autoReset,
		autoTimestamp: autoTimestamp,
		clock:         clock,
	}
}

// Create builds a session and links it in front of the registry.
func (r *Registry) Create(p CreateParams) *Session {
	s := newSession(nil)

	if p.ID < 0 {
		s.ID = r.ids.Take()
	} else {
		s.ID = p.ID
	}
	s.Name = p.Name

	if r.autoTimestamp {
		s.Timestamp = r.clock()
	} else {
		s.Timestamp = time.Unix(p.Now, 0)
	}

	if len(p.Key) > 0 {
		s.HaveKey = true
		copy(s.Key[:], p.Key)
	}

	s.MCC = p.MCC
	s.MNC = p.MNC
	s.LAC = p.LAC
	s.CID = p.CID
	if len(p.CellARFCNs) > 0 {
		s.CellARFCNs = append([]uint16(nil), p.CellARFCNs...)
	}
	s.Decoded = KeyRecovered

	r.mu.Lock()
	s.arena = r.arena
	s.elem = r.sessions.PushFront(s)
	r.mu.Unlock()

	return s
}

// Free unlinks a session. Only allowed when sessions are not reset automatically.
func (r *Registry) Free(s *Session) error {
	if r.autoReset {
		return errors.WithStack(ErrAutoReset)
	}
	if s == nil {
		return errors.Wrap(ErrNilSession, "free")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s.elem != nil {
		r.sessions.Remove(s.elem)
		s.elem = nil
	}
	if s.pending != NoHandle {
		r.arena.Release(s.pending)
		s.pending = NoHandle
	}
	s.release()

	return nil
}

// Entry is one line of an enumeration
type Entry struct {
	ID   int
	Name string
}

// Processing returns the sessions currently being processed, most recently created first.
func (r *Registry) Processing() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var entries []Entry
	for e := r.sessions.Front(); e != nil; e = e.Next() {
		s := e.Value.(*Session)
		if s.Processing {
			entries = append(entries, Entry{ID: s.ID, Name: s.Name})
		}
	}
	return entries
}

// Enumerate counts processing sessions and, when w is not nil, lists them.
func (r *Registry) Enumerate(w io.Writer) int {
	entries := r.Processing()

	if w != nil {
		fmt.Fprintln(w, "Open sessions:")
		for _, e := range entries {
			fmt.Fprintf(w, " %d: %s\n", e.ID, e.Name)
		}
		fmt.Fprintln(w)
	}

	return len(entries)
}

// Begin marks a registry session as processing.
func (r *Registry) Begin(s *Session, rat types.RAT) {
	r.mu.Lock()
	s.Start(rat)
	r.mu.Unlock()
}

// Finish marks a registry session as no longer processing.
func (r *Registry) Finish(s *Session) {
	r.mu.Lock()
	s.Processing = false
	r.mu.Unlock()
}

// Len returns the number of linked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.Len()
}
