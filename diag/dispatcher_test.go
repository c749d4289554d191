package diag

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/diagview/types"
)

type decodeCall struct {
	data      []byte
	rat       types.RAT
	domain    types.Domain
	fn        uint32
	uplink    bool
	channel   uint8
	broadcast bool
}

type fakeDecoder struct {
	calls []decodeCall
}

func (f *fakeDecoder) decode(c decodeCall) *types.RadioMessage {
	f.calls = append(f.calls, c)
	m := &types.RadioMessage{RAT: c.rat, Domain: c.domain, Flags: c.channel | types.MSG_DECODED}
	m.Msg = append([]byte(nil), c.data...)
	m.Burst.FN[0] = c.fn
	if c.uplink {
		m.Burst.ARFCN[0] = types.ARFCN_UPLINK
	}
	return m
}

func (f *fakeDecoder) DecodeL3(data []byte, rat types.RAT, domain types.Domain, fn uint32, uplink bool, channel uint8) *types.RadioMessage {
	return f.decode(decodeCall{data, rat, domain, fn, uplink, channel, false})
}

func (f *fakeDecoder) DecodeL2Broadcast(data []byte, rat types.RAT, domain types.Domain, fn uint32, uplink bool, channel uint8) *types.RadioMessage {
	return f.decode(decodeCall{data, rat, domain, fn, uplink, channel, true})
}

type countingRecorder struct {
	seen     map[uint16]int
	dropped  map[string]int
	decoded  int
	telemetr map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{seen: map[uint16]int{}, dropped: map[string]int{}, telemetr: map[string]int{}}
}

func (r *countingRecorder) FrameSeen(class uint16)               { r.seen[class]++ }
func (r *countingRecorder) FrameDropped(reason string)           { r.dropped[reason]++ }
func (r *countingRecorder) TelemetryDecoded(kind string)         { r.telemetr[kind]++ }
func (r *countingRecorder) MessageDecoded(m *types.RadioMessage) { r.decoded++ }

var testWall = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDispatcher() (*Dispatcher, *fakeDecoder, *countingRecorder) {
	dec := &fakeDecoder{}
	rec := newCountingRecorder()
	d := NewDispatcher(Config{
		Decoder:  dec,
		Recorder: rec,
		Clock:    func() time.Time { return testWall },
	})
	return d, dec, rec
}

func seq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i + 1)
	}
	return b
}

func TestDispatcherUMTS(t *testing.T) {
	tests := []struct {
		msgType uint8
		flags   uint8
		uplink  bool
	}{
		{0, types.MSG_FACCH, true},
		{1, types.MSG_SDCCH, true},
		{2, types.MSG_FACCH, false},
		{3, types.MSG_SDCCH, false},
	}

	for _, tt := range tests {
		d, dec, _ := newTestDispatcher()
		payload := seq(30)

		m := d.Handle(signalling(PROTO_UMTS_RRC, tt.msgType, 0, payload))
		require.NotNil(t, m, "type %d", tt.msgType)
		assert.Equal(t, types.RAT_UMTS, m.RAT)
		assert.Equal(t, tt.flags, m.Flags)
		assert.Equal(t, tt.uplink, m.Uplink())
		assert.Equal(t, payload[1:], m.Burst.Data)
		assert.Equal(t, uint32(1000), m.FrameNumber())
		assert.Equal(t, testWall.Unix(), m.Timestamp.Unix())
		assert.Empty(t, dec.calls)
	}

	d, _, rec := newTestDispatcher()
	assert.Nil(t, d.Handle(signalling(PROTO_UMTS_RRC, 4, 0, seq(30))))
	assert.Equal(t, 1, rec.dropped["unmapped_type"])
}

func TestDispatcherRejectsOversizedPayload(t *testing.T) {
	d, _, rec := newTestDispatcher()

	fits := d.Handle(signalling(PROTO_UMTS_RRC, 1, 0, seq(types.BURST_DATA+1)))
	require.NotNil(t, fits)
	assert.Len(t, fits.Burst.Data, types.BURST_DATA)

	assert.Nil(t, d.Handle(signalling(PROTO_UMTS_RRC, 1, 0, seq(types.BURST_DATA+2))))
	assert.Equal(t, 1, rec.dropped["too_large"])
}

func TestDispatcherLTE(t *testing.T) {
	tests := []struct {
		protocol uint16
		flags    uint8
		uplink   bool
	}{
		{PROTO_LTE_NAS_ESM_DL_PROT, types.MSG_SDCCH | types.MSG_CIPHERED, false},
		{PROTO_LTE_NAS_EMM_DL_PROT, types.MSG_SDCCH | types.MSG_CIPHERED, false},
		{PROTO_LTE_NAS_ESM_UL_PROT, types.MSG_SDCCH | types.MSG_CIPHERED, true},
		{PROTO_LTE_NAS_EMM_UL_PROT, types.MSG_SDCCH | types.MSG_CIPHERED, true},
		{PROTO_LTE_NAS_ESM_DL, types.MSG_SDCCH, false},
		{PROTO_LTE_NAS_EMM_DL, types.MSG_SDCCH, false},
		{PROTO_LTE_NAS_ESM_UL, types.MSG_SDCCH, true},
		{PROTO_LTE_NAS_EMM_UL, types.MSG_SDCCH, true},
	}

	for _, tt := range tests {
		d, _, _ := newTestDispatcher()
		m := d.Handle(signalling(tt.protocol, 0, 0, seq(12)))
		require.NotNil(t, m, "protocol %04x", tt.protocol)
		assert.Equal(t, types.RAT_LTE, m.RAT)
		assert.Equal(t, tt.flags, m.Flags)
		assert.Equal(t, tt.uplink, m.Uplink())
		assert.Len(t, m.Burst.Data, 11)
	}
}

func TestDispatcherDropsLTERRC(t *testing.T) {
	d, dec, rec := newTestDispatcher()

	assert.Nil(t, d.Handle(signalling(PROTO_LTE_RRC, 0, 0, []byte{1, 2, 3, 4})))
	assert.Nil(t, d.Handle(signalling(PROTO_LTE_RRC, 0, 0, []byte{0, 2, 3, 4})))
	assert.Equal(t, 2, rec.dropped["lte_rrc_dropped"])
	assert.Empty(t, dec.calls)
	assert.Zero(t, rec.decoded)
}

func TestDispatcherGSMRR(t *testing.T) {
	tests := []struct {
		name      string
		msgType   uint8
		subtype   uint8
		forwarded bool
		channel   uint8
		uplink    bool
	}{
		{name: "sdcch dl", msgType: RR_SDCCH_DL, subtype: 0x35, forwarded: true, channel: types.MSG_SDCCH},
		{name: "sacch dl", msgType: RR_SACCH_DL, subtype: 0x1d, forwarded: true, channel: types.MSG_SACCH},
		{name: "paging response", msgType: RR_SDCCH_UL, subtype: 39, forwarded: true, channel: types.MSG_SDCCH, uplink: true},
		{name: "ciphering mode complete", msgType: RR_SDCCH_UL, subtype: 50, forwarded: true, channel: types.MSG_SDCCH, uplink: true},
		{name: "utran classmark change", msgType: RR_SDCCH_UL, subtype: 96, forwarded: true, channel: types.MSG_SDCCH, uplink: true},
		{name: "measurement report", msgType: RR_SACCH_UL, subtype: 21, forwarded: true, channel: types.MSG_SACCH, uplink: true},
		{name: "uplink subtype not allowed", msgType: RR_SDCCH_UL, subtype: 40},
		{name: "sacch uplink subtype not allowed", msgType: RR_SACCH_UL, subtype: 22},
		{name: "unknown type", msgType: 7, subtype: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, dec, _ := newTestDispatcher()
			payload := seq(20)

			m := d.Handle(signalling(PROTO_GSM_RR, tt.msgType, tt.subtype, payload))
			if !tt.forwarded {
				assert.Nil(t, m)
				assert.Empty(t, dec.calls)
				return
			}

			require.NotNil(t, m)
			require.Len(t, dec.calls, 1)
			call := dec.calls[0]
			assert.False(t, call.broadcast)
			assert.Equal(t, payload, call.data)
			assert.Equal(t, types.RAT_GSM, call.rat)
			assert.Equal(t, types.DOMAIN_CS, call.domain)
			assert.Equal(t, tt.channel, call.channel)
			assert.Equal(t, tt.uplink, call.uplink)
			assert.Equal(t, uint32(1000), call.fn)
		})
	}
}

func TestDispatcherBroadcast(t *testing.T) {
	for _, msgType := range []uint8{RR_BCCH, RR_CCCH} {
		d, dec, _ := newTestDispatcher()
		payload := seq(23)

		m := d.Handle(signalling(PROTO_GSM_RR, msgType, 0x1b, payload))
		require.NotNil(t, m)
		require.Len(t, dec.calls, 1)
		assert.True(t, dec.calls[0].broadcast)
		assert.Equal(t, types.MSG_BCCH, dec.calls[0].channel)
		assert.Equal(t, payload, dec.calls[0].data)
	}

	d, dec, rec := newTestDispatcher()
	buf := buildFrame(frameSpec{
		class:    CLASS_SIGNALLING,
		protocol: PROTO_GSM_RR,
		msgType:  RR_BCCH,
		dataLen:  40,
		payload:  seq(23),
		innerLen: -1,
	})
	assert.Nil(t, d.Handle(buf))
	assert.Empty(t, dec.calls)
	assert.Equal(t, 1, rec.dropped["truncated"])
}

func TestDispatcherDTAP(t *testing.T) {
	dtap := []byte{0x05, 0x08, 0x70, 0x62, 0xf2, 0x20}
	payload := append([]byte{0xaa, 0xbb}, dtap...)

	d, dec, _ := newTestDispatcher()
	m := d.Handle(signalling(PROTO_DTAP, 1, uint8(len(dtap)), payload))
	require.NotNil(t, m)
	require.Len(t, dec.calls, 1)
	assert.Equal(t, dtap, dec.calls[0].data)
	assert.True(t, dec.calls[0].uplink)
	assert.Equal(t, types.MSG_SDCCH, dec.calls[0].channel)
	assert.Equal(t, types.DOMAIN_CS, dec.calls[0].domain)

	d, dec, _ = newTestDispatcher()
	require.NotNil(t, d.Handle(signalling(PROTO_DTAP, 0, uint8(len(dtap)), payload)))
	assert.False(t, dec.calls[0].uplink)

	d, dec, _ = newTestDispatcher()
	assert.Nil(t, d.Handle(signalling(PROTO_DTAP, 1, 0, payload)), "zero subtype")
	assert.Nil(t, d.Handle(signalling(PROTO_DTAP, 1, uint8(len(payload)+1), payload)), "subtype beyond frame")
	assert.Empty(t, dec.calls)
}

func TestDispatcherInnerLengthMismatch(t *testing.T) {
	for protocol := range protocolKinds {
		d, dec, rec := newTestDispatcher()
		buf := buildFrame(frameSpec{
			class:    CLASS_SIGNALLING,
			protocol: protocol,
			msgType:  1,
			subtype:  4,
			dataLen:  20,
			payload:  seq(20),
			innerLen: 5,
		})

		assert.NotPanics(t, func() {
			assert.Nil(t, d.Handle(buf), "protocol %04x", protocol)
		})
		assert.Empty(t, dec.calls)
		assert.Equal(t, 1, rec.dropped["length_mismatch"])
	}
}

func TestDispatcherTrailingBytes(t *testing.T) {
	for protocol := range protocolKinds {
		d, dec, rec := newTestDispatcher()
		buf := signalling(protocol, RR_SDCCH_DL, 4, seq(22))
		buf = append(buf, seq(40)...)

		assert.Nil(t, d.Handle(buf), "protocol %04x", protocol)
		assert.Empty(t, dec.calls)
		assert.Equal(t, 1, rec.dropped["length_mismatch"])
	}
}

func TestDispatcherTruncatedInput(t *testing.T) {
	full := signalling(PROTO_UMTS_RRC, 1, 0, seq(40))
	d, _, _ := newTestDispatcher()

	for n := 0; n < len(full); n++ {
		assert.NotPanics(t, func() {
			assert.Nil(t, d.Handle(full[:n]), "length %d", n)
		})
	}
}

func TestDispatcherClasses(t *testing.T) {
	var synced []int64
	var maintained []int64

	dec := &fakeDecoder{}
	rec := newCountingRecorder()
	d := NewDispatcher(Config{
		Decoder:    dec,
		Recorder:   rec,
		Clock:      func() time.Time { return testWall },
		OnTimeSync: func(epoch int64) { synced = append(synced, epoch) },
		Maintain:   func(now int64) { maintained = append(maintained, now) },
	})

	sync := make([]byte, 12)
	binary.LittleEndian.PutUint16(sync, CLASS_TIME_SYNC)
	binary.LittleEndian.PutUint32(sync[4:], 4000000000)
	assert.Nil(t, d.Handle(sync))
	require.Len(t, synced, 1)
	assert.Equal(t, int64(1280000000+315964800), synced[0])
	assert.Empty(t, maintained)

	other := signalling(PROTO_GSM_RR, RR_SDCCH_DL, 0, seq(20))
	binary.LittleEndian.PutUint16(other, 0x0098)
	assert.Nil(t, d.Handle(other))
	assert.Empty(t, maintained)
	assert.Equal(t, 1, rec.dropped["unknown_class"])

	require.NotNil(t, d.Handle(signalling(PROTO_GSM_RR, RR_SDCCH_DL, 0, seq(20))))
	assert.Nil(t, d.Handle(signalling(0x1234, 0, 0, seq(20))))
	assert.Equal(t, []int64{testWall.Unix(), testWall.Unix()}, maintained)
	assert.Equal(t, testWall.Unix(), d.Now())
	assert.Equal(t, 1, rec.dropped["unknown_protocol"])
}

func TestDispatcherTelemetryNeverDecodes(t *testing.T) {
	d, dec, rec := newTestDispatcher()

	// The record area starts at the type byte: type, subtype and data_len hold the first three bytes.
	ta := buildFrame(frameSpec{
		class:    CLASS_SIGNALLING,
		protocol: PROTO_TXLEV_TIMING_ADVANCE,
		msgType:  0x10,
		subtype:  0x7c,
		dataLen:  5,
		payload:  []byte{20},
		innerLen: -1,
	})
	assert.Nil(t, d.Handle(ta))
	assert.Equal(t, 1, rec.telemetr["txlev_timing_advance"])

	assert.Nil(t, d.Handle(signalling(PROTO_BURST_METRICS, 0, 0, seq(10))))
	assert.Equal(t, 1, rec.dropped["telemetry_length"])

	assert.Nil(t, d.Handle(signalling(PROTO_SERVING_AUX_MEAS, 0, 0, seq(10))))
	assert.Nil(t, d.Handle(signalling(PROTO_GPRS_GMM, 0, 0, seq(10))))
	assert.Empty(t, dec.calls)
}

func TestClassifyDataDriven(t *testing.T) {
	f := &Frame{Protocol: PROTO_GSM_RR, Type: RR_SDCCH_UL, Subtype: 50}
	ch, err := Classify(f)
	require.NoError(t, err)
	assert.True(t, ch.Uplink)
	assert.Equal(t, "ciphering mode complete", SubtypeName(RR_SDCCH_UL, 50))

	f = &Frame{Protocol: PROTO_TXLEV_TIMING_ADVANCE}
	_, err = Classify(f)
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestDropReason(t *testing.T) {
	assert.Equal(t, "bad_crc", DropReason(ErrBadCRC))
	assert.Equal(t, "truncated", DropReason(ErrTruncated))
	assert.Equal(t, "other", DropReason(bytes.ErrTooLarge))
}
