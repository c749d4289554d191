package types

import (
	"bytes"
	"time"
)

// Radio access technologies
type RAT uint8

const (
	RAT_GSM  RAT = 0
	RAT_UMTS RAT = 1
	RAT_LTE  RAT = 2
)

func (r RAT) String() string {
	switch r {
	case RAT_GSM:
		return "GSM"
	case RAT_UMTS:
		return "UMTS"
	case RAT_LTE:
		return "LTE"
	default:
		return "UNKNOWN"
	}
}

// Call domains. Exactly one live session exists per domain.
type Domain uint8

const (
	DOMAIN_CS Domain = 0
	DOMAIN_PS Domain = 1
)

func (d Domain) String() string {
	if d == DOMAIN_PS {
		return "PS"
	}
	return "CS"
}

// Message flags (logical channel bitmask plus markers)
const (
	MSG_SDCCH    uint8 = 0x01
	MSG_SACCH    uint8 = 0x02
	MSG_FACCH    uint8 = 0x04
	MSG_BCCH     uint8 = 0x08
	MSG_CIPHERED uint8 = 0x40
	MSG_DECODED  uint8 = 0x80

	MSG_CHANNEL_MASK uint8 = 0x0f
)

// ARFCN_UPLINK marks Burst.ARFCN[0] of messages sent by the handset (GSMTAP convention).
const ARFCN_UPLINK uint16 = 0x4000

// GSM frame clock
const (
	GSM_MAX_FN        = 2715648
	TICKS_PER_FRAME   = 204800
	FRAME_DURATION_MS = 4.615
)

// FrameDelta returns the number of frames from one frame number to another across the wraparound.
func FrameDelta(from, to uint32) uint32 {
	if from <= to {
		return to - from
	}
	return ((to + GSM_MAX_FN) - from) % GSM_MAX_FN
}

// Fixed destination capacities. A payload that does not fit is rejected, never truncated.
const (
	MAX_MSG_LEN   = 256
	BURST_SLOTS   = 2 * 4
	BURST_DATA    = 2 * 4 * 114
	BURST_SBITS   = 2 * 4 * 2
	INFO_LEN      = 128
	MAX_DTAP_LEN  = 256
	CHAN_BUF_SIZE = 23 * 4
)

// BurstBuf carries optional demodulation metadata and, for UMTS/LTE, the raw RRC/NAS payload.
type BurstBuf struct {
	Count    uint32
	Errors   uint32
	SNR      [BURST_SLOTS]uint32
	RxLevel  [BURST_SLOTS]uint32
	FN       [BURST_SLOTS]uint32
	ARFCN    [BURST_SLOTS]uint16
	Data     []byte
	SoftBits [BURST_SBITS]uint8
}

// RadioMessage is one decoded signalling message. It is owned by at most one session queue at a time.
type RadioMessage struct {
	ID        uint32
	RAT       RAT
	Domain    Domain
	Flags     uint8
	Timestamp time.Time
	Info      string
	ChanNr    uint8
	Msg       []byte
	Burst     BurstBuf
}

// Uplink reports whether the message was sent by the handset.
func (m *RadioMessage) Uplink() bool {
	return m.Burst.ARFCN[0]&ARFCN_UPLINK != 0
}

// FrameNumber returns the GSM frame number the message was observed at.
func (m *RadioMessage) FrameNumber() uint32 {
	return m.Burst.FN[0]
}

// Channel returns the logical channel bits of Flags.
func (m *RadioMessage) Channel() uint8 {
	return m.Flags & MSG_CHANNEL_MASK
}

func (m *RadioMessage) Decoded() bool {
	return m.Flags&MSG_DECODED != 0
}

func (m *RadioMessage) Ciphered() bool {
	return m.Flags&MSG_CIPHERED != 0
}

// Payload returns the signalling bytes: the L3 buffer for GSM, the burst data for UMTS/LTE.
func (m *RadioMessage) Payload() []byte {
	if len(m.Msg) > 0 {
		return m.Msg
	}
	return m.Burst.Data
}

// SetInfo stores a short description bounded to INFO_LEN bytes.
func (m *RadioMessage) SetInfo(info string) {
	if len(info) > INFO_LEN-1 {
		info = info[:INFO_LEN-1]
	}
	m.Info = info
}

// SamePayload reports whether two payloads are byte-identical.
func SamePayload(a, b []byte) bool {
	return len(a) == len(b) && bytes.Equal(a, b)
}

func ChannelName(flags uint8) string {
	switch flags & MSG_CHANNEL_MASK {
	case MSG_SDCCH:
		return "SDCCH"
	case MSG_SACCH:
		return "SACCH"
	case MSG_FACCH:
		return "FACCH"
	case MSG_BCCH:
		return "BCCH"
	default:
		return "UNKNOWN"
	}
}

// SMSMeta describes one short message observed within a session.
type SMSMeta struct {
	Sequence    int
	FromNetwork bool
	PID         uint8
	DCS         uint8
	UDHI        bool
	OTA         bool
	Concat      bool
	ConcatFrag  uint8
	ConcatTotal uint8
	SrcPort     uint16
	DstPort     uint16
	Length      int
	SMSC        string
	MSISDN      string
	Info        string
}

// Alert is a rule match raised against a closed session.
type Alert struct {
	ID              string
	Timestamp       time.Time
	SessionID       int
	RuleID          string
	RuleName        string
	RuleLevel       string
	RuleDescription string
	MatchDetails    string
	RuleTags        []string
	EventData       map[string]interface{}
}
