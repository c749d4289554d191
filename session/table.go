package session

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/jnesss/diagview/types"
)

// Persister accepts one generated statement. An error aborts the process.
type Persister interface {
	Persist(statement string) error
}

// PersistFunc adapts a function to Persister
type PersistFunc func(statement string) error

func (f PersistFunc) Persist(statement string) error {
	return f(statement)
}

// Sink forwards decoded messages to an external consumer. Deliver must not block indefinitely.
type Sink interface {
	Deliver(m *types.RadioMessage) error
}

// Output renders a closing session. Statements returns nothing for sessions that are not
// started or already closed.
type Output interface {
	Summary(s *Session) string
	Statements(s *Session) []string
}

// Logger interface for session diagnostics
type Logger interface {
	Debug(component, format string, args ...interface{})
	Info(component, format string, args ...interface{})
	Warning(component, format string, args ...interface{})
	Error(component, format string, args ...interface{})
	Trace(component, format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, string, ...interface{})   {}
func (nopLogger) Info(string, string, ...interface{})    {}
func (nopLogger) Warning(string, string, ...interface{}) {}
func (nopLogger) Error(string, string, ...interface{})   {}
func (nopLogger) Trace(string, string, ...interface{})   {}

// Options configure a Table
type Options struct {
	StartSID      int
	NoAutoReset   bool
	AutoTimestamp bool

	// Stream delivers queued messages to Sink on close. Ignored while sessions reset automatically.
	Stream bool
	Sink   Sink

	// Console receives the human readable summary of every closed session.
	Console io.Writer
	Output  Output

	Persister Persister

	// OnClose runs after a session generation is closed.
	OnClose func(s *Session)

	IDs    *IDAllocator
	Clock  func() time.Time
	Logger Logger
}

// Table owns the two live sessions, one per domain. It is driven by a single goroutine.
type Table struct {
	slots [2]*Session
	arena *Arena
	ids   *IDAllocator

	autoReset     bool
	autoTimestamp bool
	stream        bool
	sink          Sink
	console       io.Writer
	output        Output
	onClose       func(*Session)
	clock         func() time.Time
	logger        Logger

	now int64
}

func NewTable(opts Options) *Table {
	t := &Table{
		arena:         NewArena(),
		ids:           opts.IDs,
		autoReset:     !opts.NoAutoReset,
		autoTimestamp: opts.AutoTimestamp,
		stream:        opts.Stream,
		sink:          opts.Sink,
		console:       opts.Console,
		output:        opts.Output,
		onClose:       opts.OnClose,
		clock:         opts.Clock,
		logger:        opts.Logger,
	}
	if t.ids == nil {
		t.ids = NewIDAllocator(opts.StartSID)
	}
	if t.clock == nil {
		t.clock = time.Now
	}
	if t.logger == nil {
		t.logger = nopLogger{}
	}

	for d := range t.slots {
		s := newSession(t.arena)
		s.ID = t.ids.Take()
		s.Domain = types.Domain(d)
		s.Persister = opts.Persister
		t.slots[d] = s
	}

	return t
}

// Slot returns the live session of a domain.
func (t *Table) Slot(d types.Domain) *Session {
	if d == types.DOMAIN_PS {
		return t.slots[types.DOMAIN_PS]
	}
	return t.slots[types.DOMAIN_CS]
}

// Sessions returns both live sessions, circuit switched first.
func (t *Table) Sessions() []*Session {
	return []*Session{t.slots[0], t.slots[1]}
}

func (t *Table) Arena() *Arena {
	return t.arena
}

func (t *Table) IDs() *IDAllocator {
	return t.ids
}

func (t *Table) AutoReset() bool {
	return t.autoReset
}

// SetNow records the capture time of the latest signalling frame.
func (t *Table) SetNow(epoch int64) {
	t.now = epoch
}

func (t *Table) Now() int64 {
	return t.now
}

// SyncTimestamp applies a time sync epoch to both sessions.
func (t *Table) SyncTimestamp(epoch int64) {
	ts := time.Unix(epoch, 0)
	for _, s := range t.slots {
		s.Timestamp = ts
	}
}

// Attach makes m the pending message of s. The previous pending message is committed first.
func (t *Table) Attach(s *Session, m *types.RadioMessage) error {
	if s == nil {
		return errors.Wrap(ErrNilSession, "attach")
	}
	if m == nil {
		return nil
	}

	if s.pending != NoHandle {
		t.logger.Trace("session", "linking to domain %d message %d", s.Domain, s.pending)
		s.link(s.pending)
	}
	s.pending = t.arena.Put(m)
	s.ObserveFN(m.FrameNumber())

	return nil
}

// Discard drops the pending message of s without committing it.
func (t *Table) Discard(s *Session) {
	if s == nil || s.pending == NoHandle {
		return
	}
	t.arena.Release(s.pending)
	s.pending = NoHandle
}

// Reset closes an unfinished generation and rebuilds s in place from its carry set. A forced
// reset carries the pending message into the next generation instead of committing it.
func (t *Table) Reset(s *Session, forced bool) error {
	if s == nil {
		return errors.Wrap(ErrNilSession, "reset")
	}
	if !t.autoReset {
		return nil
	}
	t.logger.Trace("session", "Session RESET! domain: %d, forced release: %v", s.Domain, forced)

	carried := NoHandle
	if forced {
		carried = s.pending
	} else if s.pending != NoHandle {
		s.link(s.pending)
	}
	s.pending = NoHandle

	if s.Active() {
		t.logger.Debug("session", "RAT: %s", s.RAT)
		s.Cracked = true
		if err := t.Close(s); err != nil {
			return err
		}
	}

	next := carryFrom(s, carried, t.ids, t.autoTimestamp).build(t.arena)

	if carried != NoHandle && s.contains(carried) {
		return errors.Wrapf(ErrInvariant, "carried message %d still linked in domain %d queue", carried, s.Domain)
	}

	s.release()
	*s = *next

	return nil
}

// Close finalizes a session generation. It does nothing unless the session is active, so output
// is produced at most once per generation.
func (t *Table) Close(s *Session) error {
	if s == nil {
		return errors.Wrap(ErrNilSession, "close")
	}
	if !s.Active() {
		return nil
	}

	s.Processing = false

	if t.autoTimestamp {
		s.Timestamp = t.clock()
	} else if t.now != 0 {
		s.Timestamp = time.Unix(t.now, 0)
	}

	s.Duration = frameMillis(types.FrameDelta(s.FirstFN, s.LastFN))
	if s.Auth != 0 && s.AuthReqFN != 0 && s.AuthRespFN != 0 {
		s.AuthDelta = frameMillis(types.FrameDelta(s.AuthReqFN, s.AuthRespFN))
	}
	if s.Cipher != 0 && s.CMCmdFN != 0 && s.CipherCompLastFN != 0 {
		s.CipherDelta = frameMillis(types.FrameDelta(s.CMCmdFN, s.CipherCompLastFN))
	}

	if t.stream && !t.autoReset && t.sink != nil {
		t.streamMessages(s)
	}

	if t.output != nil {
		if t.console != nil {
			if summary := t.output.Summary(s); summary != "" {
				fmt.Fprint(t.console, summary)
			}
		}
		if s.Persister != nil {
			for _, stmt := range t.output.Statements(s) {
				if err := s.Persister.Persist(stmt); err != nil {
					return errors.Wrapf(err, "persisting session %d: %s", s.ID, stmt)
				}
			}
		}
	}

	s.Closed = true

	if t.onClose != nil {
		t.onClose(s)
	}

	return nil
}

func (t *Table) streamMessages(s *Session) {
	for _, m := range s.Messages() {
		if !m.Decoded() {
			continue
		}
		if err := t.sink.Deliver(m); err != nil {
			t.logger.Warning("session", "Failed to deliver message of session %d: %v", s.ID, err)
		}
	}
}

// Destroy flushes both sessions and returns the last allocated session id.
func (t *Table) Destroy() (int, error) {
	t.logger.Trace("session", "session_destroy!")

	if err := t.Reset(t.slots[types.DOMAIN_CS], false); err != nil {
		return t.ids.Current(), err
	}
	t.Discard(t.slots[types.DOMAIN_PS])
	if err := t.Reset(t.slots[types.DOMAIN_PS], false); err != nil {
		return t.ids.Current(), err
	}

	return t.ids.Current(), nil
}
