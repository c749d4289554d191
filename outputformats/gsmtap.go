package outputformats

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"

	"github.com/jnesss/diagview/types"
)

const (
	GSMTAPPort    = 4729
	gsmtapVersion = 2
	gsmtapHdrLen  = 16
)

// GSMTAP payload types
const (
	gsmtapTypeUM      = 0x01
	gsmtapTypeAbis    = 0x02
	gsmtapTypeUMTSRRC = 0x0c
	gsmtapTypeLTENAS  = 0x12
)

// GSMTAP channel subtypes
const (
	gsmtapChanBCCH  = 0x01
	gsmtapChanSDCCH = 0x06
	gsmtapChanTCHF  = 0x09
	gsmtapChanACCH  = 0x80

	gsmtapRRCDLDCCH = 0x00
	gsmtapRRCULDCCH = 0x01
)

// EncodeGSMTAP prepends a GSMTAP v2 header to the signalling payload of m
func EncodeGSMTAP(m *types.RadioMessage) ([]byte, error) {
	payload := m.Payload()
	if len(payload) == 0 {
		return nil, fmt.Errorf("message %d has no payload", m.ID)
	}

	var typ, sub uint8
	switch m.RAT {
	case types.RAT_GSM:
		switch m.Channel() {
		case types.MSG_BCCH:
			typ, sub = gsmtapTypeUM, gsmtapChanBCCH
		case types.MSG_SACCH:
			typ, sub = gsmtapTypeAbis, gsmtapChanSDCCH|gsmtapChanACCH
		case types.MSG_FACCH:
			typ, sub = gsmtapTypeAbis, gsmtapChanTCHF
		default:
			typ, sub = gsmtapTypeAbis, gsmtapChanSDCCH
		}
	case types.RAT_UMTS:
		typ, sub = gsmtapTypeUMTSRRC, gsmtapRRCDLDCCH
		if m.Uplink() {
			sub = gsmtapRRCULDCCH
		}
	case types.RAT_LTE:
		typ = gsmtapTypeLTENAS
	default:
		return nil, fmt.Errorf("message %d has unknown rat %d", m.ID, m.RAT)
	}

	b := make([]byte, gsmtapHdrLen+len(payload))
	b[0] = gsmtapVersion
	b[1] = gsmtapHdrLen / 4
	b[2] = typ
	b[3] = m.ChanNr & 0x07
	binary.BigEndian.PutUint16(b[4:6], m.Burst.ARFCN[0])
	binary.BigEndian.PutUint32(b[8:12], m.FrameNumber())
	b[12] = sub
	copy(b[gsmtapHdrLen:], payload)

	return b, nil
}

// GSMTAPSink streams decoded messages as GSMTAP over UDP and optionally into a pcap file
type GSMTAPSink struct {
	conn     net.Conn
	pcap     *pcapgo.Writer
	pcapFile *os.File
	mu       sync.Mutex

	// OnDeliver observes the outcome of every delivery
	OnDeliver func(err error)
}

// NewGSMTAPSink opens the UDP target (host or host:port) and the pcap file. Either may be empty.
func NewGSMTAPSink(target, pcapPath string) (*GSMTAPSink, error) {
	g := &GSMTAPSink{}

	if target != "" {
		if _, _, err := net.SplitHostPort(target); err != nil {
			target = net.JoinHostPort(target, fmt.Sprint(GSMTAPPort))
		}
		conn, err := net.Dial("udp", target)
		if err != nil {
			return nil, fmt.Errorf("failed to open gsmtap target: %v", err)
		}
		g.conn = conn
	}

	if pcapPath != "" {
		f, err := os.Create(pcapPath)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("failed to create pcap file: %v", err)
		}
		w := pcapgo.NewWriter(f)
		if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
			f.Close()
			g.Close()
			return nil, fmt.Errorf("failed to write pcap header: %v", err)
		}
		g.pcapFile = f
		g.pcap = w
	}

	return g, nil
}

func (g *GSMTAPSink) Deliver(m *types.RadioMessage) error {
	err := g.deliver(m)
	if g.OnDeliver != nil {
		g.OnDeliver(err)
	}
	return err
}

func (g *GSMTAPSink) deliver(m *types.RadioMessage) error {
	frame, err := EncodeGSMTAP(m)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn != nil {
		if _, err := g.conn.Write(frame); err != nil {
			return fmt.Errorf("gsmtap send: %v", err)
		}
	}

	if g.pcap != nil {
		data, err := wrapUDP(frame)
		if err != nil {
			return err
		}
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     ts,
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := g.pcap.WritePacket(ci, data); err != nil {
			return fmt.Errorf("pcap write: %v", err)
		}
	}

	return nil
}

// wrapUDP builds the loopback Ethernet/IPv4/UDP frame carrying one GSMTAP datagram
func wrapUDP(gsmtap []byte) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		SrcIP:    net.IPv4(127, 0, 0, 1),
		DstIP:    net.IPv4(127, 0, 0, 1),
		Protocol: layers.IPProtocolUDP,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(GSMTAPPort),
		DstPort: layers.UDPPort(GSMTAPPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	err := gopacket.SerializeLayers(buf, opts,
		&layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			DstMAC:       net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			EthernetType: layers.EthernetTypeIPv4,
		},
		ip,
		udp,
		gopacket.Payload(gsmtap),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize gsmtap packet: %v", err)
	}
	return buf.Bytes(), nil
}

func (g *GSMTAPSink) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	if g.pcapFile != nil {
		g.pcapFile.Close()
		g.pcapFile = nil
		g.pcap = nil
	}
	return nil
}
