package session

import (
	"container/list"
	"time"

	"github.com/jnesss/diagview/types"
)

// RandCounter tracks how many padding bytes of one class were seen and how many of them looked random.
type RandCounter struct {
	ByteCount int
	RandCount int
}

// Add records padding bytes. A byte is random when it differs from the GSM fill pattern.
func (c *RandCounter) Add(padding []byte) {
	for _, b := range padding {
		c.ByteCount++
		if b != 0x2b {
			c.RandCount++
		}
	}
}

// FrameCounts summarises dedicated channel frames before and after ciphering.
type FrameCounts struct {
	Unenc       int
	UnencRand   int
	Enc         int
	EncRand     int
	EncNull     int
	EncNullRand int
	EncSI       int
	EncSIRand   int
	Predict     int
}

// Assignment holds the channel description of the last assignment or handover command.
type Assignment struct {
	ChanNr   uint8
	TSC      uint8
	Hopping  bool
	ARFCN    uint16
	HSN      uint8
	MAIO     uint8
	MALen    uint8
	ChanMode uint8
	RateConf uint8
}

// KeyState is the tri-state key availability of a session.
type KeyState int

const (
	KeyNotFound     KeyState = -1
	KeyNotAvailable KeyState = 0
	KeyRecovered    KeyState = 1
)

// Session aggregates everything observed for one call-domain transaction.
type Session struct {
	// Identity
	ID        int
	AppID     uint32
	Name      string
	Timestamp time.Time
	IMSI      string
	IMEI      string
	MSISDN    string
	OldTMSI   [4]byte
	NewTMSI   [4]byte
	TLLI      [4]byte

	// Cell locator
	RAT        types.RAT
	Domain     types.Domain
	MCC        int
	MNC        int
	LAC        int
	CID        int
	ARFCN      int
	PSC        int
	NeighCount int
	CellARFCNs []uint16

	// Security state
	Cipher         int
	Integrity      int
	Key            [8]byte
	HaveKey        bool
	Decoded        KeyState
	CMCIMEISV      bool
	CipherMissing  int
	CipherSeq      int
	InitialSeq     int
	MSCipherMask   int
	UECipherCap    int
	UEIntegrityCap int

	// Padding randomization
	SI5      RandCounter
	SI5bis   RandCounter
	SI5ter   RandCounter
	SI6      RandCounter
	Null     RandCounter
	SDCCHPad RandCounter
	SACCHPad RandCounter
	Frames   FrameCounts

	// Frame number bookkeeping
	FirstFN           uint32
	LastFN            uint32
	Duration          int
	AuthReqFN         uint32
	AuthRespFN        uint32
	AuthDelta         int
	CMCmdFN           uint32
	CipherCompFirstFN uint32
	CipherCompLastFN  uint32
	CipherCompCount   int
	CipherDelta       int

	// Protocol events
	Auth           int
	MO             bool
	MT             bool
	PagingMI       int
	Unknown        bool
	Detach         bool
	LocUpd         bool
	LUType         int
	LUAccept       bool
	LUReject       bool
	LURejCause     int
	LUMCC          int
	LUMNC          int
	LULAC          int
	Abort          bool
	RAUpd          bool
	Attach         bool
	AttachAccept   bool
	PDPActivate    bool
	PDPIP          string
	Call           bool
	SMS            bool
	SSA            bool
	TMSIRealloc    bool
	Release        bool
	RRCause        int
	HaveGPRS       bool
	IdenIMSIAC     bool
	IdenIMSIBC     bool
	IdenIMEIAC     bool
	IdenIMEIBC     bool
	Assignment     bool
	AssignComplete bool
	Handover       bool
	ForcedHO       bool
	GA             Assignment
	CallPresence   bool
	SMSPresence    bool
	ServiceReq     int
	AvgPower       int
	UplinkAvail    bool
	MeasReports    int

	// Lifecycle
	Started    bool
	Closed     bool
	Cracked    bool
	Processing bool

	// Persister receives the generated statements on close. Nil disables persistence.
	Persister Persister

	// Duplicate retransmission detection
	LastDTAP    []byte
	LastDTAPRAT types.RAT

	// Per logical channel reconstruction scratch
	ChanSDCCH [types.CHAN_BUF_SIZE]byte
	ChanSACCH [types.CHAN_BUF_SIZE]byte
	ChanFACCH [types.CHAN_BUF_SIZE]byte

	sms     []types.SMSMeta
	arena   *Arena
	queue   []Handle
	pending Handle
	fnSeen  bool
	elem    *list.Element
}

func newSession(arena *Arena) *Session {
	return &Session{arena: arena}
}

// Start marks the session active for the given radio access technology.
func (s *Session) Start(rat types.RAT) {
	if !s.Started {
		s.RAT = rat
	}
	s.Started = true
	s.Processing = true
}

// Active reports whether the session is started and not yet closed.
func (s *Session) Active() bool {
	return s.Started && !s.Closed
}

// Pending returns the in-flight message not yet committed to the queue.
func (s *Session) Pending() *types.RadioMessage {
	if s.pending == NoHandle || s.arena == nil {
		return nil
	}
	return s.arena.Get(s.pending)
}

// Messages returns the committed queue in arrival order.
func (s *Session) Messages() []*types.RadioMessage {
	msgs := make([]*types.RadioMessage, 0, len(s.queue))
	for _, h := range s.queue {
		if m := s.arena.Get(h); m != nil {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// QueueLen returns the number of committed messages.
func (s *Session) QueueLen() int {
	return len(s.queue)
}

// AddSMS appends an SMS metadata record.
func (s *Session) AddSMS(meta types.SMSMeta) {
	meta.Sequence = len(s.sms)
	s.sms = append(s.sms, meta)
}

// SMSList returns the SMS metadata records of this generation.
func (s *Session) SMSList() []types.SMSMeta {
	return s.sms
}

// KeyState reports whether a key was recovered for this session.
func (s *Session) KeyState() KeyState {
	switch {
	case s.Decoded == KeyRecovered:
		return KeyRecovered
	case s.Decoded < 0:
		return KeyNotFound
	default:
		return KeyNotAvailable
	}
}

// ObserveFN updates the first/last frame number bookkeeping.
func (s *Session) ObserveFN(fn uint32) {
	if !s.fnSeen {
		s.FirstFN = fn
		s.fnSeen = true
	}
	s.LastFN = fn
}

func (s *Session) link(h Handle) {
	s.queue = append(s.queue, h)
}

func (s *Session) contains(h Handle) bool {
	for _, q := range s.queue {
		if q == h {
			return true
		}
	}
	return false
}

// release frees the queue and SMS list of this generation.
func (s *Session) release() {
	for _, h := range s.queue {
		s.arena.Release(h)
	}
	s.queue = nil
	s.sms = nil
}
