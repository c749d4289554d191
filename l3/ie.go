package l3

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
)

var ErrShortIE = errors.New("information element too short")

// Mobile identity types (TS 24.008 10.5.1.4)
const (
	MI_NONE   = 0
	MI_IMSI   = 1
	MI_IMEI   = 2
	MI_IMEISV = 3
	MI_TMSI   = 4
)

// MobileIdentity is a decoded mobile identity value part.
type MobileIdentity struct {
	Type   uint8
	Digits string
	TMSI   [4]byte
}

// ParseMobileIdentity decodes the value part of a mobile identity (length octet excluded).
func ParseMobileIdentity(b []byte) (MobileIdentity, error) {
	var mi MobileIdentity
	if len(b) < 1 {
		return mi, ErrShortIE
	}

	mi.Type = b[0] & 0x07
	switch mi.Type {
	case MI_TMSI:
		if len(b) < 5 {
			return mi, errors.Wrap(ErrShortIE, "tmsi")
		}
		copy(mi.TMSI[:], b[1:5])
	case MI_IMSI, MI_IMEI, MI_IMEISV:
		odd := b[0]&0x08 != 0
		var sb strings.Builder
		sb.WriteByte('0' + b[0]>>4)
		for i, v := range b[1:] {
			sb.WriteByte(bcdDigit(v & 0x0f))
			hi := v >> 4
			// the last high nibble is a filler on an even digit count
			if i == len(b)-2 && !odd {
				break
			}
			sb.WriteByte(bcdDigit(hi))
		}
		mi.Digits = sb.String()
	}

	return mi, nil
}

func bcdDigit(v uint8) byte {
	if v > 9 {
		return '?'
	}
	return '0' + v
}

// LAI is a location area identification.
type LAI struct {
	MCC int
	MNC int
	LAC int
}

// ParseLAI decodes a 5 byte location area identification (TS 24.008 10.5.1.3).
func ParseLAI(b []byte) (LAI, error) {
	if len(b) < 5 {
		return LAI{}, errors.Wrap(ErrShortIE, "lai")
	}

	mcc := int(b[0]&0x0f)*100 + int(b[0]>>4)*10 + int(b[1]&0x0f)
	mnc3 := b[1] >> 4
	mnc := int(b[2]&0x0f)*10 + int(b[2]>>4)
	if mnc3 != 0x0f {
		mnc = mnc*10 + int(mnc3)
	}

	return LAI{
		MCC: mcc,
		MNC: mnc,
		LAC: int(binary.BigEndian.Uint16(b[3:5])),
	}, nil
}

// lv returns the value of a length-value element at off and the offset following it.
func lv(b []byte, off int) ([]byte, int, error) {
	if off >= len(b) {
		return nil, off, ErrShortIE
	}
	n := int(b[off])
	if off+1+n > len(b) {
		return nil, off, ErrShortIE
	}
	return b[off+1 : off+1+n], off + 1 + n, nil
}

// ChannelDescription is a decoded channel description (TS 44.018 10.5.2.5).
type ChannelDescription struct {
	ChanNr  uint8
	TSC     uint8
	Hopping bool
	ARFCN   uint16
	MAIO    uint8
	HSN     uint8
}

func ParseChannelDescription(b []byte) (ChannelDescription, error) {
	if len(b) < 3 {
		return ChannelDescription{}, errors.Wrap(ErrShortIE, "channel description")
	}

	cd := ChannelDescription{
		ChanNr:  b[0],
		TSC:     b[1] >> 5,
		Hopping: b[1]&0x10 != 0,
	}
	if cd.Hopping {
		cd.MAIO = (b[1]&0x0f)<<2 | b[2]>>6
		cd.HSN = b[2] & 0x3f
	} else {
		cd.ARFCN = uint16(b[1]&0x03)<<8 | uint16(b[2])
	}
	return cd, nil
}

// optionalIEs walks the optional part of an RR message starting at off. Type 1 and type 3
// elements with a fixed size are listed in fixed; everything else is taken as TLV. The walk
// stops at the first fill octet or at a malformed element.
func optionalIEs(b []byte, off int, fixed map[uint8]int, fn func(iei uint8, value []byte)) {
	for off < len(b) {
		iei := b[off]
		if iei == fillOctet {
			return
		}
		if iei&0x80 != 0 {
			// type 1, half octet IEI
			fn(iei&0xf0, []byte{iei & 0x0f})
			off++
			continue
		}
		if n, ok := fixed[iei]; ok {
			if off+n > len(b) {
				return
			}
			fn(iei, b[off+1:off+n])
			off += n
			continue
		}
		value, next, err := lv(b, off+1)
		if err != nil {
			return
		}
		fn(iei, value)
		off = next
	}
}
