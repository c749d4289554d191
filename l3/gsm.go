package l3

import (
	"encoding/binary"
	"net"

	"github.com/jnesss/diagview/session"
	"github.com/jnesss/diagview/types"
)

// fixed size optional elements of assignment and handover commands (TV, IEI included)
var assignmentFixedIEs = map[uint8]int{
	0x11: 2,  // mode of channel set 2
	0x62: 17, // cell channel description
	0x63: 2,  // channel mode
	0x64: 4,  // channel description after time
	0x66: 3,  // starting time (handover)
	0x7c: 3,  // starting time
	0x7d: 2,  // synchronization indication (handover)
}

func (in *Inspector) rr(s *session.Session, m *types.RadioMessage, mt uint8, b []byte) {
	fn := m.FrameNumber()

	switch mt {
	case 0x27:
		// paging response: cksn, classmark 2 (LV), mobile identity (LV)
		s.MT = true
		_, next, err := lv(b, 3)
		if err != nil {
			return
		}
		if mi, _, ok := identityAt(s, b, next, false); ok {
			s.PagingMI = int(mi.Type)
		}

	case 0x35:
		if len(b) < 3 {
			return
		}
		mode := b[2]
		if mode&0x01 != 0 {
			s.Cipher = int((mode>>1)&0x07) + 1
		}
		s.CMCIMEISV = mode&0x10 != 0
		s.CMCmdFN = fn
		s.InitialSeq = s.QueueLen()

	case 0x32:
		cipherComplete(s, fn)
		if len(b) > 3 && b[2] == 0x17 {
			identityAt(s, b, 3, false)
		}

	case 0x2e:
		s.Assignment = true
		if len(b) < 5 {
			return
		}
		applyChannelDescription(s, b[2:5])
		optionalIEs(b, 6, assignmentFixedIEs, func(iei uint8, v []byte) {
			assignmentIE(s, iei, v)
		})

	case 0x29:
		s.AssignComplete = true

	case 0x2b:
		s.Handover = true
		s.ForcedHO = s.MeasReports == 0
		if len(b) < 7 {
			return
		}
		applyChannelDescription(s, b[4:7])
		optionalIEs(b, 9, assignmentFixedIEs, func(iei uint8, v []byte) {
			assignmentIE(s, iei, v)
		})

	case 0x0d:
		s.Release = true
		if len(b) > 2 {
			s.RRCause = int(b[2])
		}
		if s.CMCmdFN != 0 && s.CipherCompCount == 0 {
			s.CipherMissing = 1
		}

	case 0x15:
		measurementReport(s, b)

	case 0x16:
		// classmark change: classmark 2 (LV)
		cm2, _, err := lv(b, 2)
		if err != nil || len(cm2) < 3 {
			return
		}
		mask := 0
		if cm2[0]&0x08 == 0 {
			mask |= 1
		}
		if cm2[2]&0x01 != 0 {
			mask |= 2
		}
		if cm2[2]&0x02 != 0 {
			mask |= 4
		}
		s.MSCipherMask = mask

	case 0x1e:
		// SI6 in dedicated mode: cell identity, then LAI
		if len(b) < 9 {
			return
		}
		lai, err := ParseLAI(b[4:9])
		if err != nil {
			return
		}
		s.MCC = lai.MCC
		s.MNC = lai.MNC
		s.LAC = lai.LAC
		s.CID = int(binary.BigEndian.Uint16(b[2:4]))
	}
}

func cipherComplete(s *session.Session, fn uint32) {
	if s.CipherCompCount == 0 {
		s.CipherCompFirstFN = fn
	}
	s.CipherCompLastFN = fn
	s.CipherCompCount++
	s.CipherSeq = s.QueueLen() - s.InitialSeq
}

func applyChannelDescription(s *session.Session, b []byte) {
	cd, err := ParseChannelDescription(b)
	if err != nil {
		return
	}
	s.GA.ChanNr = cd.ChanNr
	s.GA.TSC = cd.TSC
	s.GA.Hopping = cd.Hopping
	s.GA.ARFCN = cd.ARFCN
	s.GA.MAIO = cd.MAIO
	s.GA.HSN = cd.HSN
}

func assignmentIE(s *session.Session, iei uint8, v []byte) {
	switch iei {
	case 0x63:
		if len(v) > 0 {
			s.GA.ChanMode = v[0]
		}
	case 0x03:
		// multirate configuration: the second octet is the codec mode set
		if len(v) > 1 {
			s.GA.RateConf = v[1]
		}
	case 0x72, 0x21:
		s.GA.MALen = uint8(len(v))
	}
}

// measurementReport tracks the serving cell level and neighbour count (TS 44.018 10.5.2.20).
func measurementReport(s *session.Session, b []byte) {
	if len(b) < 6 {
		return
	}
	s.MeasReports++

	rxlev := int(b[2] & 0x3f)
	s.AvgPower = (s.AvgPower*(s.MeasReports-1) + rxlev) / s.MeasReports

	ncell := int(b[4]&0x01)<<2 | int(b[5]>>6)
	if ncell == 7 {
		// neighbour cell information not available
		ncell = 0
	}
	s.NeighCount = ncell
}

func mm(s *session.Session, m *types.RadioMessage, mt uint8, b []byte) {
	fn := m.FrameNumber()

	switch mt {
	case 0x08:
		// location updating request: type, LAI, classmark 1, mobile identity (LV)
		s.LocUpd = true
		if len(b) < 9 {
			return
		}
		s.LUType = int(b[2] & 0x03)
		if lai, err := ParseLAI(b[3:8]); err == nil {
			s.LUMCC = lai.MCC
			s.LUMNC = lai.MNC
			s.LULAC = lai.LAC
		}
		identityAt(s, b, 9, false)

	case 0x02:
		s.LUAccept = true
		if len(b) < 7 {
			return
		}
		if lai, err := ParseLAI(b[2:7]); err == nil {
			s.MCC = lai.MCC
			s.MNC = lai.MNC
			s.LAC = lai.LAC
		}
		if len(b) > 8 && b[7] == 0x17 {
			identityAt(s, b, 8, true)
		}

	case 0x04:
		s.LUReject = true
		if len(b) > 2 {
			s.LURejCause = int(b[2])
		}

	case 0x01:
		// IMSI detach indication: classmark 1, mobile identity (LV)
		s.Detach = true
		identityAt(s, b, 3, false)

	case 0x12:
		s.Auth = 1
		s.AuthReqFN = fn

	case 0x14:
		s.AuthRespFN = fn

	case 0x18:
		if len(b) > 2 {
			identityRequested(s, b[2])
		}

	case 0x19:
		identityAt(s, b, 2, false)

	case 0x1a:
		// TMSI reallocation command: LAI, mobile identity (LV)
		s.TMSIRealloc = true
		identityAt(s, b, 7, true)

	case 0x24:
		// CM service request: cksn and service type, classmark 2 (LV), mobile identity (LV)
		s.MO = true
		if len(b) < 3 {
			return
		}
		s.ServiceReq = int(b[2] & 0x0f)
		switch s.ServiceReq {
		case 1:
			s.Call = true
		case 4:
			s.SMS = true
		case 8:
			s.SSA = true
		}
		if _, next, err := lv(b, 3); err == nil {
			identityAt(s, b, next, false)
		}

	case 0x29:
		s.Abort = true
	}
}

func cc(s *session.Session, m *types.RadioMessage, mt uint8) {
	if mt != 0x05 {
		return
	}
	s.Call = true
	s.CallPresence = true
	if m.Uplink() {
		s.MO = true
	} else {
		s.MT = true
	}
}

func gmm(s *session.Session, m *types.RadioMessage, mt uint8, b []byte) {
	s.HaveGPRS = true

	switch mt {
	case 0x01:
		s.Attach = true
	case 0x02:
		s.AttachAccept = true
	case 0x05:
		s.Detach = true
	case 0x08:
		s.RAUpd = true
	case 0x12:
		s.Auth = 1
		s.AuthReqFN = m.FrameNumber()
	case 0x13:
		s.AuthRespFN = m.FrameNumber()
	case 0x15:
		// identity type shares its octet with the force to standby field
		if len(b) > 2 {
			identityRequested(s, b[2])
		}
	case 0x16:
		identityAt(s, b, 2, false)
	}
}

func sm(s *session.Session, mt uint8, b []byte) {
	switch mt {
	case 0x41:
		s.PDPActivate = true
	case 0x42:
		// activate PDP context accept: LLC SAPI, QoS (LV), radio priority, optional elements
		_, off, err := lv(b, 3)
		if err != nil {
			return
		}
		off++
		for off+1 < len(b) {
			iei, n := b[off], int(b[off+1])
			if off+2+n > len(b) {
				return
			}
			v := b[off+2 : off+2+n]
			if iei == 0x2b && len(v) >= 6 && v[1] == 0x21 {
				s.PDPIP = net.IP(v[2:6]).String()
				return
			}
			off += 2 + n
		}
	}
}
