package session

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/diagview/types"
)

type recordingOutput struct {
	summaries  []int
	statements []int
}

func (o *recordingOutput) Summary(s *Session) string {
	o.summaries = append(o.summaries, s.ID)
	return fmt.Sprintf("session %d\n", s.ID)
}

func (o *recordingOutput) Statements(s *Session) []string {
	o.statements = append(o.statements, s.ID)
	return []string{fmt.Sprintf("INSERT %d;\n", s.ID)}
}

type collectingPersister struct {
	statements []string
	err        error
}

func (p *collectingPersister) Persist(stmt string) error {
	if p.err != nil {
		return p.err
	}
	p.statements = append(p.statements, stmt)
	return nil
}

type collectingSink struct {
	delivered []*types.RadioMessage
}

func (c *collectingSink) Deliver(m *types.RadioMessage) error {
	c.delivered = append(c.delivered, m)
	return nil
}

type closedRecord struct {
	id      int
	cracked bool
	queue   int
}

type fixture struct {
	table     *Table
	output    *recordingOutput
	persister *collectingPersister
	console   *bytes.Buffer
	closed    []closedRecord
}

var fixedClock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		output:    &recordingOutput{},
		persister: &collectingPersister{},
		console:   &bytes.Buffer{},
	}
	opts := Options{
		StartSID:  100,
		Output:    f.output,
		Persister: f.persister,
		Console:   f.console,
		Clock:     func() time.Time { return fixedClock },
		OnClose: func(s *Session) {
			f.closed = append(f.closed, closedRecord{id: s.ID, cracked: s.Cracked, queue: s.QueueLen()})
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.table = NewTable(opts)
	return f
}

func message(fn uint32, flags uint8) *types.RadioMessage {
	m := &types.RadioMessage{RAT: types.RAT_GSM, Flags: flags}
	m.Burst.FN[0] = fn
	return m
}

func TestNewTable(t *testing.T) {
	f := newFixture(t, nil)

	cs := f.table.Slot(types.DOMAIN_CS)
	ps := f.table.Slot(types.DOMAIN_PS)
	assert.Equal(t, 100, cs.ID)
	assert.Equal(t, 101, ps.ID)
	assert.Equal(t, types.DOMAIN_CS, cs.Domain)
	assert.Equal(t, types.DOMAIN_PS, ps.Domain)
	assert.Equal(t, 102, f.table.IDs().Current())
	assert.NotSame(t, cs, ps)
	assert.Len(t, f.table.Sessions(), 2)
}

func TestAttachKeepsFIFOOrder(t *testing.T) {
	f := newFixture(t, nil)
	s := f.table.Slot(types.DOMAIN_CS)

	m1, m2, m3 := message(10, 0), message(11, 0), message(15, 0)
	require.NoError(t, f.table.Attach(s, m1))
	assert.Same(t, m1, s.Pending())
	assert.Equal(t, 0, s.QueueLen())

	require.NoError(t, f.table.Attach(s, m2))
	require.NoError(t, f.table.Attach(s, m3))
	assert.Same(t, m3, s.Pending())
	assert.Equal(t, []*types.RadioMessage{m1, m2}, s.Messages())
	assert.Equal(t, uint32(10), s.FirstFN)
	assert.Equal(t, uint32(15), s.LastFN)
}

func TestResetClosesActiveSession(t *testing.T) {
	f := newFixture(t, nil)
	s := f.table.Slot(types.DOMAIN_CS)
	s.Start(types.RAT_GSM)
	s.IMSI = "262011234567890"
	s.Name = "capture"
	s.AppID = 0xdeadbeef
	s.MCC, s.MNC, s.LAC, s.CID = 262, 1, 0x1a2b, 0xc3d4
	s.LastDTAP = []byte{5, 8, 1}
	s.LastDTAPRAT = types.RAT_GSM
	s.ChanSDCCH[0] = 0x42
	s.Cipher = 3

	require.NoError(t, f.table.Attach(s, message(1, types.MSG_DECODED)))
	require.NoError(t, f.table.Attach(s, message(2, types.MSG_DECODED)))

	require.NoError(t, f.table.Reset(s, false))

	require.Len(t, f.closed, 1)
	assert.Equal(t, closedRecord{id: 100, cracked: true, queue: 2}, f.closed[0], "pending message committed")
	assert.Equal(t, []string{"INSERT 100;\n"}, f.persister.statements)
	assert.Equal(t, "session 100\n", f.console.String())

	// successor generation
	assert.Same(t, s, f.table.Slot(types.DOMAIN_CS))
	assert.Equal(t, 103, s.ID)
	assert.False(t, s.Started)
	assert.False(t, s.Closed)
	assert.False(t, s.Cracked)
	assert.Zero(t, s.Cipher)
	assert.Equal(t, "262011234567890", s.IMSI)
	assert.Equal(t, "capture", s.Name)
	assert.Equal(t, uint32(0xdeadbeef), s.AppID)
	assert.Equal(t, 262, s.MCC)
	assert.Equal(t, 0x1a2b, s.LAC)
	assert.Zero(t, s.CID, "GSM cell id is rediscovered")
	assert.Equal(t, []byte{5, 8, 1}, s.LastDTAP)
	assert.Equal(t, byte(0x42), s.ChanSDCCH[0])
	assert.Same(t, f.persister, s.Persister)
	assert.Nil(t, s.Pending())
	assert.Zero(t, s.QueueLen())
	assert.Zero(t, f.table.Arena().Len())
}

func TestResetCarriesCellIDForNonGSM(t *testing.T) {
	f := newFixture(t, nil)
	s := f.table.Slot(types.DOMAIN_PS)
	s.Start(types.RAT_LTE)
	s.CID = 0x0102030

	require.NoError(t, f.table.Reset(s, false))
	assert.Equal(t, 0x0102030, s.CID)
}

func TestForcedResetCarriesPendingMessage(t *testing.T) {
	f := newFixture(t, nil)
	s := f.table.Slot(types.DOMAIN_CS)
	s.Start(types.RAT_GSM)

	old := message(500, types.MSG_DECODED)
	carried := message(700, types.MSG_DECODED)
	require.NoError(t, f.table.Attach(s, old))
	require.NoError(t, f.table.Attach(s, carried))

	require.NoError(t, f.table.Reset(s, true))

	require.Len(t, f.closed, 1)
	assert.True(t, f.closed[0].cracked)
	assert.Equal(t, 1, f.closed[0].queue, "carried message is not committed to the closing generation")

	assert.Same(t, carried, s.Pending())
	assert.Zero(t, s.QueueLen())
	assert.Equal(t, 1, f.table.Arena().Len(), "old queue released, carried message kept")
	assert.Equal(t, uint32(700), s.FirstFN)
	assert.Equal(t, uint32(700), s.LastFN)

	// next attach commits the carried message into the new generation
	next := message(701, 0)
	require.NoError(t, f.table.Attach(s, next))
	assert.Equal(t, []*types.RadioMessage{carried}, s.Messages())
}

func TestForcedResetWithoutPendingMessage(t *testing.T) {
	f := newFixture(t, nil)
	s := f.table.Slot(types.DOMAIN_CS)
	s.Start(types.RAT_GSM)

	require.NoError(t, f.table.Reset(s, true))

	require.Len(t, f.closed, 1)
	assert.True(t, f.closed[0].cracked)
	assert.Nil(t, s.Pending())
}

func TestResetIDPolicy(t *testing.T) {
	f := newFixture(t, nil)
	s := f.table.Slot(types.DOMAIN_CS)

	// never started: keeps its id
	require.NoError(t, f.table.Reset(s, false))
	assert.Equal(t, 100, s.ID)
	assert.Empty(t, f.closed)

	// closed cleanly: fresh id
	s.Start(types.RAT_GSM)
	require.NoError(t, f.table.Close(s))
	require.NoError(t, f.table.Reset(s, false))
	assert.Equal(t, 103, s.ID)
	require.Len(t, f.closed, 1)
	assert.False(t, f.closed[0].cracked)
}

func TestResetDetectsAliasedMessage(t *testing.T) {
	f := newFixture(t, nil)
	s := f.table.Slot(types.DOMAIN_CS)

	h := f.table.Arena().Put(message(1, 0))
	s.link(h)
	s.pending = h

	err := f.table.Reset(s, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariant))
}

func TestResetWithoutAutoReset(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.NoAutoReset = true })
	s := f.table.Slot(types.DOMAIN_CS)
	s.Start(types.RAT_GSM)
	m := message(3, 0)
	require.NoError(t, f.table.Attach(s, m))

	require.NoError(t, f.table.Reset(s, false))
	assert.Same(t, m, s.Pending())
	assert.True(t, s.Active())
	assert.Empty(t, f.closed)
}

func TestNilSession(t *testing.T) {
	f := newFixture(t, nil)

	for _, err := range []error{
		f.table.Reset(nil, false),
		f.table.Close(nil),
		f.table.Attach(nil, message(1, 0)),
	} {
		assert.True(t, errors.Is(err, ErrNilSession), "got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	s := f.table.Slot(types.DOMAIN_CS)

	require.NoError(t, f.table.Close(s))
	assert.Empty(t, f.output.statements, "not started")

	s.Start(types.RAT_GSM)
	require.NoError(t, f.table.Close(s))
	require.NoError(t, f.table.Close(s))

	assert.Equal(t, []int{100}, f.output.statements)
	assert.Equal(t, []int{100}, f.output.summaries)
	assert.Len(t, f.persister.statements, 1)
	assert.Len(t, f.closed, 1)
	assert.True(t, s.Closed)
	assert.False(t, s.Processing)
}

func TestCloseDerivedStatistics(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(s *Session)
		duration    int
		authDelta   int
		cipherDelta int
	}{
		{
			name: "plain",
			setup: func(s *Session) {
				s.FirstFN, s.LastFN = 1000, 1200
			},
			duration: 923,
		},
		{
			name: "wraps across modulus",
			setup: func(s *Session) {
				s.FirstFN, s.LastFN = 2715600, 100
			},
			duration: 683,
		},
		{
			name: "auth and cipher deltas",
			setup: func(s *Session) {
				s.FirstFN, s.LastFN = 10, 60
				s.Auth = 1
				s.AuthReqFN, s.AuthRespFN = 10, 20
				s.Cipher = 1
				s.CMCmdFN, s.CipherCompLastFN = 2715640, 4
			},
			duration:    230,
			authDelta:   46,
			cipherDelta: 55,
		},
		{
			name: "auth without response",
			setup: func(s *Session) {
				s.Auth = 1
				s.AuthReqFN = 10
				s.CMCmdFN, s.CipherCompLastFN = 10, 20
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			s := f.table.Slot(types.DOMAIN_CS)
			s.Start(types.RAT_GSM)
			tt.setup(s)

			require.NoError(t, f.table.Close(s))
			assert.Equal(t, tt.duration, s.Duration)
			assert.Equal(t, tt.authDelta, s.AuthDelta)
			assert.Equal(t, tt.cipherDelta, s.CipherDelta)
		})
	}
}

func TestCloseTimestamp(t *testing.T) {
	f := newFixture(t, nil)
	s := f.table.Slot(types.DOMAIN_CS)
	s.Start(types.RAT_GSM)
	f.table.SetNow(1700000000)
	require.NoError(t, f.table.Close(s))
	assert.Equal(t, int64(1700000000), s.Timestamp.Unix())

	f = newFixture(t, func(o *Options) { o.AutoTimestamp = true })
	s = f.table.Slot(types.DOMAIN_CS)
	s.Start(types.RAT_GSM)
	f.table.SetNow(1700000000)
	require.NoError(t, f.table.Close(s))
	assert.Equal(t, fixedClock, s.Timestamp)
}

func TestSyncTimestampCarriedWithoutAutoTimestamp(t *testing.T) {
	f := newFixture(t, nil)
	f.table.SyncTimestamp(1600000000)
	for _, s := range f.table.Sessions() {
		assert.Equal(t, int64(1600000000), s.Timestamp.Unix())
	}

	s := f.table.Slot(types.DOMAIN_PS)
	require.NoError(t, f.table.Reset(s, false))
	assert.Equal(t, int64(1600000000), s.Timestamp.Unix())

	f = newFixture(t, func(o *Options) { o.AutoTimestamp = true })
	f.table.SyncTimestamp(1600000000)
	s = f.table.Slot(types.DOMAIN_PS)
	require.NoError(t, f.table.Reset(s, false))
	assert.True(t, s.Timestamp.IsZero())
}

func TestClosePersistFailure(t *testing.T) {
	boom := errors.New("disk full")
	f := newFixture(t, nil)
	f.persister.err = boom
	s := f.table.Slot(types.DOMAIN_CS)
	s.Start(types.RAT_GSM)

	err := f.table.Close(s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "INSERT 100")
	assert.False(t, s.Closed)
}

func TestCloseStreamsOnlyWithoutAutoReset(t *testing.T) {
	sink := &collectingSink{}
	f := newFixture(t, func(o *Options) {
		o.NoAutoReset = true
		o.Stream = true
		o.Sink = sink
	})
	s := f.table.Slot(types.DOMAIN_CS)
	s.Start(types.RAT_GSM)

	decoded1 := message(1, types.MSG_DECODED)
	raw := message(2, 0)
	decoded2 := message(3, types.MSG_DECODED)
	for _, m := range []*types.RadioMessage{decoded1, raw, decoded2, message(4, types.MSG_DECODED)} {
		require.NoError(t, f.table.Attach(s, m))
	}

	require.NoError(t, f.table.Close(s))
	assert.Equal(t, []*types.RadioMessage{decoded1, decoded2}, sink.delivered)

	sink = &collectingSink{}
	f = newFixture(t, func(o *Options) {
		o.Stream = true
		o.Sink = sink
	})
	s = f.table.Slot(types.DOMAIN_CS)
	s.Start(types.RAT_GSM)
	require.NoError(t, f.table.Attach(s, decoded1))
	require.NoError(t, f.table.Reset(s, false))
	assert.Empty(t, sink.delivered)
}

func TestDestroy(t *testing.T) {
	f := newFixture(t, nil)
	cs := f.table.Slot(types.DOMAIN_CS)
	ps := f.table.Slot(types.DOMAIN_PS)
	cs.Start(types.RAT_GSM)
	ps.Start(types.RAT_GSM)
	require.NoError(t, f.table.Attach(cs, message(1, 0)))
	require.NoError(t, f.table.Attach(ps, message(2, 0)))

	last, err := f.table.Destroy()
	require.NoError(t, err)
	require.Len(t, f.closed, 2)
	assert.Equal(t, 1, f.closed[0].queue, "CS pending message committed")
	assert.Equal(t, 0, f.closed[1].queue, "PS pending message dropped")
	assert.Equal(t, 104, last)
	assert.Zero(t, f.table.Arena().Len())
}
