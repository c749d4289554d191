package l3

import (
	"github.com/jnesss/diagview/session"
	"github.com/jnesss/diagview/types"
)

// EPS mobile identity types (TS 24.301 9.9.3.12)
const (
	EPS_MI_IMSI = 1
	EPS_MI_IMEI = 3
	EPS_MI_GUTI = 6
)

func emm(s *session.Session, m *types.RadioMessage, mt uint8, b []byte) {
	fn := m.FrameNumber()

	switch mt {
	case 0x41:
		// attach request: KSI and attach type, EPS mobile identity (LV), UE network capability (LV)
		s.Attach = true
		next, ok := epsIdentityAt(s, b, 3)
		if !ok {
			return
		}
		if caps, _, err := lv(b, next); err == nil {
			ueNetworkCapability(s, caps)
		}

	case 0x42:
		s.AttachAccept = true

	case 0x44, 0x4b:
		s.LUReject = true
		if len(b) > 2 {
			s.LURejCause = int(b[2])
		}

	case 0x45:
		s.Detach = true

	case 0x48:
		s.LocUpd = true
		if len(b) > 2 {
			s.LUType = int(b[2] & 0x07)
		}

	case 0x49:
		s.LUAccept = true

	case 0x52:
		s.Auth = 2
		s.AuthReqFN = fn

	case 0x53:
		s.AuthRespFN = fn

	case 0x55:
		if len(b) > 2 {
			identityRequested(s, b[2])
		}

	case 0x56:
		identityAt(s, b, 2, false)

	case 0x5d:
		// security mode command: selected algorithms, KSI, replayed UE security capabilities (LV)
		if len(b) < 3 {
			return
		}
		s.Cipher = int((b[2] >> 4) & 0x07)
		s.Integrity = int(b[2] & 0x07)
		s.CMCmdFN = fn
		s.InitialSeq = s.QueueLen()
		if caps, _, err := lv(b, 4); err == nil {
			ueNetworkCapability(s, caps)
		}

	case 0x5e:
		cipherComplete(s, fn)
		// optional IMEISV
		if len(b) > 3 && b[2] == 0x23 {
			identityAt(s, b, 3, false)
		}
	}
}

// epsIdentityAt decodes an EPS mobile identity (LV) at off and returns the offset following it.
func epsIdentityAt(s *session.Session, b []byte, off int) (int, bool) {
	v, next, err := lv(b, off)
	if err != nil || len(v) == 0 {
		return off, false
	}

	switch v[0] & 0x07 {
	case EPS_MI_IMSI, EPS_MI_IMEI:
		mi, err := ParseMobileIdentity(v)
		if err != nil {
			return next, false
		}
		applyIdentity(s, mi, false)
	case EPS_MI_GUTI:
		// the M-TMSI closes the GUTI
		if len(v) < 11 {
			return next, false
		}
		copy(s.OldTMSI[:], v[7:11])
	}
	return next, true
}

// ueNetworkCapability records the EEA1-3 and EIA1-3 support bits as UEA/UIA style masks.
func ueNetworkCapability(s *session.Session, caps []byte) {
	if len(caps) < 2 {
		return
	}
	s.UECipherCap = algorithmMask(caps[0])
	s.UEIntegrityCap = algorithmMask(caps[1])
}

// algorithmMask maps the octet layout 0,1,2,3,... (msb first) to bit 0 for algorithm 1, bit 1 for 2 and bit 2 for 3.
func algorithmMask(octet uint8) int {
	return int(octet>>6&1) | int(octet>>5&1)<<1 | int(octet>>4&1)<<2
}
