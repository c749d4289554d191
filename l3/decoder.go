package l3

import (
	"fmt"
	"sync/atomic"

	"github.com/jnesss/diagview/types"
)

// Protocol discriminators (TS 24.007)
const (
	PD_ESM = 0x02
	PD_CC  = 0x03
	PD_MM  = 0x05
	PD_RR  = 0x06
	PD_EMM = 0x07
	PD_GMM = 0x08
	PD_SMS = 0x09
	PD_SM  = 0x0a
	PD_SS  = 0x0b
)

const fillOctet = 0x2b

var rrNames = map[uint8]string{
	0x05: "SYSTEM INFORMATION 5bis",
	0x06: "SYSTEM INFORMATION 5ter",
	0x0d: "CHANNEL RELEASE",
	0x15: "MEASUREMENT REPORT",
	0x16: "CLASSMARK CHANGE",
	0x17: "CHANNEL MODE MODIFY ACK",
	0x19: "SYSTEM INFORMATION 1",
	0x1a: "SYSTEM INFORMATION 2",
	0x1b: "SYSTEM INFORMATION 3",
	0x1c: "SYSTEM INFORMATION 4",
	0x1d: "SYSTEM INFORMATION 5",
	0x1e: "SYSTEM INFORMATION 6",
	0x21: "PAGING REQUEST 1",
	0x22: "PAGING REQUEST 2",
	0x24: "PAGING REQUEST 3",
	0x27: "PAGING RESPONSE",
	0x29: "ASSIGNMENT COMPLETE",
	0x2b: "HANDOVER COMMAND",
	0x2c: "HANDOVER COMPLETE",
	0x2e: "ASSIGNMENT COMMAND",
	0x32: "CIPHERING MODE COMPLETE",
	0x34: "GPRS SUSPENSION REQUEST",
	0x35: "CIPHERING MODE COMMAND",
	0x3f: "IMMEDIATE ASSIGNMENT",
	0x60: "UTRAN CLASSMARK CHANGE",
}

var mmNames = map[uint8]string{
	0x01: "IMSI DETACH INDICATION",
	0x02: "LOCATION UPDATING ACCEPT",
	0x04: "LOCATION UPDATING REJECT",
	0x08: "LOCATION UPDATING REQUEST",
	0x11: "AUTHENTICATION REJECT",
	0x12: "AUTHENTICATION REQUEST",
	0x14: "AUTHENTICATION RESPONSE",
	0x18: "IDENTITY REQUEST",
	0x19: "IDENTITY RESPONSE",
	0x1a: "TMSI REALLOCATION COMMAND",
	0x1b: "TMSI REALLOCATION COMPLETE",
	0x21: "CM SERVICE ACCEPT",
	0x22: "CM SERVICE REJECT",
	0x24: "CM SERVICE REQUEST",
	0x29: "ABORT",
	0x32: "MM INFORMATION",
}

var ccNames = map[uint8]string{
	0x01: "ALERTING",
	0x02: "CALL PROCEEDING",
	0x05: "SETUP",
	0x07: "CONNECT",
	0x0f: "CONNECT ACKNOWLEDGE",
	0x25: "DISCONNECT",
	0x2a: "RELEASE COMPLETE",
	0x2d: "RELEASE",
}

var gmmNames = map[uint8]string{
	0x01: "ATTACH REQUEST",
	0x02: "ATTACH ACCEPT",
	0x03: "ATTACH COMPLETE",
	0x04: "ATTACH REJECT",
	0x05: "DETACH REQUEST",
	0x06: "DETACH ACCEPT",
	0x08: "ROUTING AREA UPDATE REQUEST",
	0x09: "ROUTING AREA UPDATE ACCEPT",
	0x12: "AUTHENTICATION AND CIPHERING REQUEST",
	0x13: "AUTHENTICATION AND CIPHERING RESPONSE",
	0x15: "IDENTITY REQUEST",
	0x16: "IDENTITY RESPONSE",
}

var smNames = map[uint8]string{
	0x41: "ACTIVATE PDP CONTEXT REQUEST",
	0x42: "ACTIVATE PDP CONTEXT ACCEPT",
	0x43: "ACTIVATE PDP CONTEXT REJECT",
	0x46: "DEACTIVATE PDP CONTEXT REQUEST",
}

var smsNames = map[uint8]string{
	0x01: "CP-DATA",
	0x04: "CP-ACK",
	0x10: "CP-ERROR",
}

var emmNames = map[uint8]string{
	0x41: "ATTACH REQUEST",
	0x42: "ATTACH ACCEPT",
	0x43: "ATTACH COMPLETE",
	0x44: "ATTACH REJECT",
	0x45: "DETACH REQUEST",
	0x46: "DETACH ACCEPT",
	0x48: "TRACKING AREA UPDATE REQUEST",
	0x49: "TRACKING AREA UPDATE ACCEPT",
	0x4b: "TRACKING AREA UPDATE REJECT",
	0x52: "AUTHENTICATION REQUEST",
	0x53: "AUTHENTICATION RESPONSE",
	0x55: "IDENTITY REQUEST",
	0x56: "IDENTITY RESPONSE",
	0x5d: "SECURITY MODE COMMAND",
	0x5e: "SECURITY MODE COMPLETE",
	0x5f: "SECURITY MODE REJECT",
}

var esmNames = map[uint8]string{
	0xc1: "ACTIVATE DEFAULT EPS BEARER CONTEXT REQUEST",
	0xd0: "PDN CONNECTIVITY REQUEST",
	0xd1: "PDN CONNECTIVITY REJECT",
}

// MessageType strips the send sequence bits MM and CC carry in the type octet.
func MessageType(pd, mt uint8) uint8 {
	switch pd {
	case PD_MM, PD_CC, PD_SS:
		return mt & 0x3f
	default:
		return mt
	}
}

// MessageName returns a short name for a layer 3 message.
func MessageName(pd, mt uint8) string {
	var names map[uint8]string
	switch pd {
	case PD_RR:
		names = rrNames
	case PD_MM:
		names = mmNames
	case PD_CC:
		names = ccNames
	case PD_GMM:
		names = gmmNames
	case PD_SM:
		names = smNames
	case PD_SMS:
		names = smsNames
	case PD_EMM:
		names = emmNames
	case PD_ESM:
		names = esmNames
	}
	if name, ok := names[MessageType(pd, mt)]; ok {
		return name
	}
	return fmt.Sprintf("PD %d TYPE 0x%02x", pd, mt)
}

// PacketDomain reports whether a protocol discriminator belongs to the packet switched domain.
func PacketDomain(pd uint8) bool {
	return pd == PD_GMM || pd == PD_SM || pd == PD_EMM || pd == PD_ESM
}

// Decoder is the default layer 3 decoder used by the dispatcher. It copies the
// message into a RadioMessage and names it. Message content is interpreted by
// the Inspector.
type Decoder struct {
	nextID atomic.Uint32
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) newMessage(data []byte, rat types.RAT, domain types.Domain, fn uint32, uplink bool, channel uint8) *types.RadioMessage {
	if len(data) == 0 || len(data) > types.MAX_MSG_LEN {
		return nil
	}

	m := &types.RadioMessage{
		ID:     d.nextID.Add(1),
		RAT:    rat,
		Domain: domain,
		Flags:  channel | types.MSG_DECODED,
		Msg:    append([]byte(nil), data...),
	}
	m.Burst.FN[0] = fn
	if uplink {
		m.Burst.ARFCN[0] = types.ARFCN_UPLINK
	}
	return m
}

// DecodeL3 wraps a dedicated channel layer 3 message. The domain follows the protocol discriminator.
func (d *Decoder) DecodeL3(data []byte, rat types.RAT, domain types.Domain, fn uint32, uplink bool, channel uint8) *types.RadioMessage {
	m := d.newMessage(data, rat, domain, fn, uplink, channel)
	if m == nil {
		return nil
	}

	pd := data[0] & 0x0f
	if PacketDomain(pd) {
		m.Domain = types.DOMAIN_PS
	}
	if len(data) >= 2 {
		m.SetInfo(MessageName(pd, data[1]))
	}
	return m
}

// DecodeL2Broadcast wraps a broadcast frame. The first octet is the L2 pseudo length.
func (d *Decoder) DecodeL2Broadcast(data []byte, rat types.RAT, domain types.Domain, fn uint32, uplink bool, channel uint8) *types.RadioMessage {
	m := d.newMessage(data, rat, domain, fn, uplink, channel)
	if m == nil {
		return nil
	}

	if len(data) >= 3 {
		m.SetInfo(MessageName(data[1]&0x0f, data[2]))
	}
	return m
}
