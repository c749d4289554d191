package l3

import (
	"github.com/jnesss/diagview/session"
	"github.com/jnesss/diagview/types"
)

type paddingClass int

const (
	padNone paddingClass = iota
	padSI5
	padSI5bis
	padSI5ter
	padSI6
	padNull
	padDedicated
)

// LAPDm UI frame without information: address, control, length
const nullFrameLen = 3

func isNullFrame(b []byte) bool {
	return len(b) >= nullFrameLen && b[0] == 0x01 && b[1] == 0x03 && b[2] == 0x01
}

type bodyLen struct {
	class paddingClass
	len   int
}

// messages whose body length is fixed; anything past it is fill
var rrBodies = map[uint8]bodyLen{
	0x1d: {padSI5, 18},
	0x05: {padSI5bis, 18},
	0x06: {padSI5ter, 18},
	0x1e: {padSI6, 11},
	0x35: {padDedicated, 3},
	0x0d: {padDedicated, 3},
}

var mmBodies = map[uint8]bodyLen{
	0x18: {padDedicated, 3},
	0x12: {padDedicated, 19},
}

func paddingOf(l l3msg) (paddingClass, int) {
	var body bodyLen
	switch l.pd {
	case PD_RR:
		body = rrBodies[l.mt]
	case PD_MM:
		body = mmBodies[l.mt]
	}
	return body.class, body.len
}

func counterFor(s *session.Session, class paddingClass, channel uint8) *session.RandCounter {
	switch class {
	case padSI5:
		return &s.SI5
	case padSI5bis:
		return &s.SI5bis
	case padSI5ter:
		return &s.SI5ter
	case padSI6:
		return &s.SI6
	case padNull:
		return &s.Null
	case padDedicated:
		if channel == types.MSG_SACCH {
			return &s.SACCHPad
		}
		return &s.SDCCHPad
	}
	return nil
}

// countPadding feeds the fill octets after the known body of m into the randomization counters and
// updates the frame statistics of GSM sessions. The frame is counted as encrypted once a cipher is set.
func countPadding(s *session.Session, m *types.RadioMessage, class paddingClass, body int) {
	random := false
	if c := counterFor(s, class, m.Channel()); c != nil && body < len(m.Msg) {
		before := c.RandCount
		c.Add(m.Msg[body:])
		random = c.RandCount > before
	}

	if m.RAT != types.RAT_GSM {
		return
	}

	f := &s.Frames
	if s.Cipher == 0 {
		f.Unenc++
		if random {
			f.UnencRand++
		}
		return
	}

	f.Enc++
	if random {
		f.EncRand++
	}

	predictable := false
	switch class {
	case padNull:
		f.EncNull++
		if random {
			f.EncNullRand++
		}
		predictable = !random
	case padSI5, padSI5bis, padSI5ter, padSI6:
		f.EncSI++
		if random {
			f.EncSIRand++
		}
		predictable = !random
	}
	if predictable {
		f.Predict++
	}
}
