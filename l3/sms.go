package l3

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"

	"github.com/jnesss/diagview/session"
	"github.com/jnesss/diagview/types"
)

// RP and TP message type indicators
const (
	rpDataMSToNet = 0
	rpDataNetToMS = 1

	tpDeliver = 0
	tpSubmit  = 1
)

func (in *Inspector) sms(s *session.Session, m *types.RadioMessage, b []byte) {
	// CP-DATA: CP-User data (LV) holds the RPDU
	rpdu, _, err := lv(b, 2)
	if err != nil {
		in.logger.Debug("l3", "Short CP-DATA")
		return
	}

	meta, err := ParseRPData(rpdu)
	if err != nil {
		in.logger.Trace("l3", "Not an SMS transfer: %v", err)
		return
	}

	s.SMS = true
	s.SMSPresence = true
	s.AddSMS(meta)
	in.logger.Debug("l3", "%s in session %d", meta.Info, s.ID)
}

// ParseRPData decodes an RP-DATA message (TS 24.011 7.3.1) and the TPDU it carries.
func ParseRPData(rp []byte) (types.SMSMeta, error) {
	var meta types.SMSMeta

	if len(rp) < 2 {
		return meta, errors.Wrap(ErrShortIE, "rp header")
	}
	mti := rp[0] & 0x07
	if mti != rpDataMSToNet && mti != rpDataNetToMS {
		return meta, errors.Errorf("rp message type %d", mti)
	}
	meta.FromNetwork = mti == rpDataNetToMS

	oa, next, err := lv(rp, 2)
	if err != nil {
		return meta, errors.Wrap(err, "rp originator")
	}
	da, next, err := lv(rp, next)
	if err != nil {
		return meta, errors.Wrap(err, "rp destination")
	}
	tpdu, _, err := lv(rp, next)
	if err != nil {
		return meta, errors.Wrap(err, "rp user data")
	}

	if meta.FromNetwork {
		meta.SMSC = rpAddress(oa)
	} else {
		meta.SMSC = rpAddress(da)
	}

	if err := parseTPDU(tpdu, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

func parseTPDU(t []byte, meta *types.SMSMeta) error {
	if len(t) < 2 {
		return errors.Wrap(ErrShortIE, "tpdu")
	}

	first := t[0]
	meta.UDHI = first&0x40 != 0

	off := 1
	switch first & 0x03 {
	case tpDeliver:
		meta.Info = "SMS-DELIVER"
	case tpSubmit:
		meta.Info = "SMS-SUBMIT"
		off++ // message reference
	default:
		return errors.Errorf("tp message type %d", first&0x03)
	}

	// TP-OA / TP-DA: digit count, type of address, semi octets
	if off+2 > len(t) {
		return errors.Wrap(ErrShortIE, "tp address")
	}
	digits := int(t[off])
	octets := (digits + 1) / 2
	if off+2+octets > len(t) {
		return errors.Wrap(ErrShortIE, "tp address")
	}
	meta.MSISDN = semiOctets(t[off+2:off+2+octets], digits)
	off += 2 + octets

	if off+2 > len(t) {
		return errors.Wrap(ErrShortIE, "tp pid/dcs")
	}
	meta.PID = t[off]
	meta.DCS = t[off+1]
	off += 2

	if first&0x03 == tpDeliver {
		off += 7 // service centre time stamp
	} else {
		switch (first >> 3) & 0x03 {
		case 2:
			off++
		case 1, 3:
			off += 7
		}
	}

	if off >= len(t) {
		return errors.Wrap(ErrShortIE, "tp user data length")
	}
	meta.Length = int(t[off])
	ud := t[off+1:]

	meta.OTA = meta.PID == 0x7f || meta.DCS&0xf6 == 0xf6

	if meta.UDHI && len(ud) > 0 {
		parseUDH(ud, meta)
	}
	return nil
}

// parseUDH extracts concatenation and port addressing from a user data header.
func parseUDH(ud []byte, meta *types.SMSMeta) {
	udhl := int(ud[0])
	if 1+udhl > len(ud) {
		return
	}
	h := ud[1 : 1+udhl]

	for i := 0; i+1 < len(h); {
		iei, n := h[i], int(h[i+1])
		if i+2+n > len(h) {
			return
		}
		v := h[i+2 : i+2+n]
		switch {
		case iei == 0x00 && n == 3:
			meta.Concat = true
			meta.ConcatTotal = v[1]
			meta.ConcatFrag = v[2]
		case iei == 0x08 && n == 4:
			meta.Concat = true
			meta.ConcatTotal = v[2]
			meta.ConcatFrag = v[3]
		case iei == 0x04 && n == 2:
			meta.DstPort = uint16(v[0])
			meta.SrcPort = uint16(v[1])
		case iei == 0x05 && n == 4:
			meta.DstPort = binary.BigEndian.Uint16(v[0:2])
			meta.SrcPort = binary.BigEndian.Uint16(v[2:4])
		}
		i += 2 + n
	}
}

// rpAddress decodes an RP address value: type of number octet, then semi octets.
func rpAddress(v []byte) string {
	if len(v) < 2 {
		return ""
	}
	return semiOctets(v[1:], 2*(len(v)-1))
}

func semiOctets(b []byte, digits int) string {
	var sb strings.Builder
	for _, v := range b {
		for _, d := range [2]uint8{v & 0x0f, v >> 4} {
			if sb.Len() == digits || d == 0x0f {
				return sb.String()
			}
			sb.WriteByte(bcdDigit(d))
		}
	}
	return sb.String()
}
