package l3

import (
	"encoding/binary"

	"github.com/jnesss/diagview/session"
	"github.com/jnesss/diagview/types"
)

// Logger interface for inspector diagnostics
type Logger interface {
	Debug(component, format string, args ...interface{})
	Trace(component, format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, string, ...interface{}) {}
func (nopLogger) Trace(string, string, ...interface{}) {}

// Cell is a cell identity learned from broadcast system information.
// CID is negative when the message does not carry one.
type Cell struct {
	RAT   types.RAT
	MCC   int
	MNC   int
	LAC   int
	CID   int
	ARFCN int
}

// CellObserver receives what the inspector learns from broadcast channels.
type CellObserver interface {
	CellSeen(c Cell)
	PagingSeen(miType uint8)
}

type Config struct {
	Table  *session.Table
	Cells  CellObserver
	Logger Logger
}

// Inspector interprets decoded messages and applies them to the session of their domain.
// It is driven by the same goroutine as the session table.
type Inspector struct {
	table  *session.Table
	cells  CellObserver
	logger Logger
}

func NewInspector(cfg Config) *Inspector {
	in := &Inspector{
		table:  cfg.Table,
		cells:  cfg.Cells,
		logger: cfg.Logger,
	}
	if in.logger == nil {
		in.logger = nopLogger{}
	}
	return in
}

// l3msg is a layer 3 message located inside a RadioMessage.
type l3msg struct {
	pd       uint8
	mt       uint8
	b        []byte // starts at the protocol discriminator
	nas      bool
	ciphered bool
	service  bool
}

// Transaction starts begin a new session generation when one is already running.
func (l l3msg) transactionStart() bool {
	switch l.pd {
	case PD_RR:
		return l.mt == 0x27
	case PD_MM:
		return l.mt == 0x24 || l.mt == 0x08 || l.mt == 0x01
	case PD_GMM:
		return l.mt == 0x01
	case PD_EMM:
		return l.mt == 0x41 || l.mt == 0x48
	}
	return false
}

func (l l3msg) channelRelease() bool {
	return l.pd == PD_RR && l.mt == 0x0d
}

// locate finds the layer 3 message carried by m.
func locate(m *types.RadioMessage) (l3msg, bool) {
	if len(m.Msg) >= 2 {
		pd := m.Msg[0] & 0x0f
		return l3msg{
			pd:  pd,
			mt:  MessageType(pd, m.Msg[1]),
			b:   m.Msg,
			nas: pd != PD_RR,
		}, true
	}
	if m.RAT == types.RAT_LTE {
		return locateNAS(m.Burst.Data)
	}
	return l3msg{}, false
}

// locateNAS strips the EPS security header (TS 24.301 9.3.1).
func locateNAS(b []byte) (l3msg, bool) {
	if len(b) < 2 {
		return l3msg{}, false
	}

	sechdr := b[0] >> 4
	pd := b[0] & 0x0f

	switch pd {
	case PD_ESM:
		if len(b) < 3 {
			return l3msg{}, false
		}
		return l3msg{pd: pd, mt: b[2], b: b, nas: true}, true
	case PD_EMM:
	default:
		return l3msg{}, false
	}

	switch sechdr {
	case 0:
	case 1, 3:
		if len(b) < 8 {
			return l3msg{}, false
		}
		return locateNAS(b[6:])
	case 2, 4:
		return l3msg{pd: pd, b: b, nas: true, ciphered: true}, true
	case 0x0c:
		return l3msg{pd: pd, b: b, nas: true, service: true}, true
	default:
		return l3msg{}, false
	}

	return l3msg{pd: pd, mt: b[1], b: b, nas: true}, true
}

// Handle applies one decoded message. Broadcast messages update cell knowledge only.
func (in *Inspector) Handle(m *types.RadioMessage) error {
	if m == nil {
		return nil
	}
	if m.Channel() == types.MSG_BCCH {
		in.broadcast(m)
		return nil
	}

	s := in.table.Slot(m.Domain)

	if m.RAT == types.RAT_GSM && isNullFrame(m.Msg) {
		countPadding(s, m, padNull, nullFrameLen)
		return nil
	}

	l, ok := locate(m)
	if ok && l.nas && !l.ciphered {
		if len(m.Info) == 0 && !l.service {
			m.SetInfo(MessageName(l.pd, l.mt))
		}
		payload := m.Payload()
		if s.LastDTAPRAT == m.RAT && types.SamePayload(s.LastDTAP, payload) {
			in.logger.Trace("l3", "Dropping retransmitted %s", m.Info)
			return nil
		}
		s.LastDTAP = append(s.LastDTAP[:0], payload...)
		s.LastDTAPRAT = m.RAT
	}

	if ok && l.transactionStart() && s.Active() {
		in.logger.Debug("l3", "%s starts a new transaction in session %d", m.Info, s.ID)
		if err := in.table.Attach(s, m); err != nil {
			return err
		}
		if err := in.table.Reset(s, true); err != nil {
			return err
		}
	} else if err := in.table.Attach(s, m); err != nil {
		return err
	}

	s.Start(m.RAT)
	if m.Uplink() {
		s.UplinkAvail = true
	}
	if !ok {
		return nil
	}

	class, body := paddingOf(l)
	countPadding(s, m, class, body)
	in.apply(s, m, l)

	if l.channelRelease() {
		return in.table.Reset(s, false)
	}
	return nil
}

func (in *Inspector) apply(s *session.Session, m *types.RadioMessage, l l3msg) {
	switch l.pd {
	case PD_RR:
		in.rr(s, m, l.mt, l.b)
	case PD_MM:
		mm(s, m, l.mt, l.b)
	case PD_CC:
		cc(s, m, l.mt)
	case PD_SS:
		if l.mt == 0x3b {
			s.SSA = true
		}
	case PD_SMS:
		if l.mt == 0x01 {
			in.sms(s, m, l.b)
		}
	case PD_GMM:
		gmm(s, m, l.mt, l.b)
	case PD_SM:
		sm(s, l.mt, l.b)
	case PD_EMM:
		switch {
		case l.service:
			s.MO = true
		case !l.ciphered:
			emm(s, m, l.mt, l.b)
		}
	case PD_ESM:
		if l.mt == 0xd0 {
			s.PDPActivate = true
		}
	default:
		in.logger.Trace("l3", "Unhandled protocol discriminator %d", l.pd)
	}
}

func applyIdentity(s *session.Session, mi MobileIdentity, assigned bool) {
	switch mi.Type {
	case MI_IMSI:
		s.IMSI = mi.Digits
	case MI_IMEI, MI_IMEISV:
		s.IMEI = mi.Digits
	case MI_TMSI:
		if assigned {
			s.NewTMSI = mi.TMSI
		} else {
			s.OldTMSI = mi.TMSI
		}
	}
}

// identityAt decodes a length-value mobile identity at off.
func identityAt(s *session.Session, b []byte, off int, assigned bool) (MobileIdentity, int, bool) {
	v, next, err := lv(b, off)
	if err != nil {
		return MobileIdentity{}, off, false
	}
	mi, err := ParseMobileIdentity(v)
	if err != nil {
		return mi, next, false
	}
	applyIdentity(s, mi, assigned)
	return mi, next, true
}

func identityRequested(s *session.Session, idType uint8) {
	ciphered := s.Cipher != 0
	switch idType & 0x07 {
	case MI_IMSI:
		if ciphered {
			s.IdenIMSIAC = true
		} else {
			s.IdenIMSIBC = true
		}
	case MI_IMEI, MI_IMEISV:
		if ciphered {
			s.IdenIMEIAC = true
		} else {
			s.IdenIMEIBC = true
		}
	}
}

func (in *Inspector) broadcast(m *types.RadioMessage) {
	b := m.Msg
	if len(b) < 3 || b[1]&0x0f != PD_RR {
		return
	}

	switch b[2] {
	case 0x1b:
		// SI3: cell identity, then LAI
		if len(b) < 10 {
			return
		}
		lai, err := ParseLAI(b[5:10])
		if err != nil {
			return
		}
		in.cellSeen(m, lai, int(binary.BigEndian.Uint16(b[3:5])))
	case 0x1c:
		lai, err := ParseLAI(b[3:])
		if err != nil {
			return
		}
		in.cellSeen(m, lai, -1)
	case 0x21, 0x22, 0x24:
		in.paging(b)
	}
}

func (in *Inspector) cellSeen(m *types.RadioMessage, lai LAI, cid int) {
	for _, s := range in.table.Sessions() {
		if s.Started {
			continue
		}
		s.MCC = lai.MCC
		s.MNC = lai.MNC
		s.LAC = lai.LAC
		if cid >= 0 {
			s.CID = cid
		}
	}

	if in.cells != nil {
		in.cells.CellSeen(Cell{
			RAT:   m.RAT,
			MCC:   lai.MCC,
			MNC:   lai.MNC,
			LAC:   lai.LAC,
			CID:   cid,
			ARFCN: int(m.Burst.ARFCN[0] &^ types.ARFCN_UPLINK),
		})
	}
}

// paging counts the identities of a paging request type 1, 2 or 3.
func (in *Inspector) paging(b []byte) {
	if in.cells == nil || len(b) < 4 {
		return
	}

	var rest int
	switch b[2] {
	case 0x21:
		v, next, err := lv(b, 4)
		if err != nil {
			return
		}
		if mi, err := ParseMobileIdentity(v); err == nil {
			in.cells.PagingSeen(mi.Type)
		}
		rest = next
	case 0x22:
		rest = in.pagedTMSIs(b, 2)
	case 0x24:
		rest = in.pagedTMSIs(b, 4)
	}

	// optional trailing mobile identity
	if rest > 0 && rest+1 < len(b) && b[rest] == 0x17 {
		v, _, err := lv(b, rest+1)
		if err != nil {
			return
		}
		if mi, err := ParseMobileIdentity(v); err == nil {
			in.cells.PagingSeen(mi.Type)
		}
	}
}

func (in *Inspector) pagedTMSIs(b []byte, n int) int {
	off := 4
	for i := 0; i < n; i++ {
		if off+4 > len(b) {
			return 0
		}
		in.cells.PagingSeen(MI_TMSI)
		off += 4
	}
	return off
}
