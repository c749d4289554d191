package diag

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/diagview/types"
)

type frameSpec struct {
	class    uint16
	protocol uint16
	ticks    uint64
	msgType  uint8
	subtype  uint8
	dataLen  uint8
	payload  []byte
	innerLen int // -1 keeps it equal to the declared length
}

// buildFrame assembles header, payload and a valid CRC trailer.
func buildFrame(s frameSpec) []byte {
	declared := HeaderLen + len(s.payload) + TrailerLen - lenOverhead
	inner := declared
	if s.innerLen >= 0 {
		inner = s.innerLen
	}

	b := make([]byte, HeaderLen, HeaderLen+len(s.payload)+TrailerLen)
	binary.LittleEndian.PutUint16(b[offClass:], s.class)
	binary.LittleEndian.PutUint16(b[offLen:], uint16(declared))
	binary.LittleEndian.PutUint16(b[offInnerLen:], uint16(inner))
	binary.LittleEndian.PutUint16(b[offProtocol:], s.protocol)
	binary.LittleEndian.PutUint64(b[offTimestamp:], s.ticks)
	b[offType] = s.msgType
	b[offSubtype] = s.subtype
	b[offDataLen] = s.dataLen
	b = append(b, s.payload...)
	return AppendCRC(b)
}

func signalling(protocol uint16, msgType, subtype uint8, payload []byte) []byte {
	return buildFrame(frameSpec{
		class:    CLASS_SIGNALLING,
		protocol: protocol,
		ticks:    204800 * 1000,
		msgType:  msgType,
		subtype:  subtype,
		dataLen:  uint8(len(payload)),
		payload:  payload,
		innerLen: -1,
	})
}

func TestParseFrame(t *testing.T) {
	valid := signalling(PROTO_GSM_RR, RR_SDCCH_DL, 0, make([]byte, 20))

	mismatch := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint16(mismatch[offInnerLen:], 3)

	truncated := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint16(truncated[offLen:], uint16(len(valid)))
	binary.LittleEndian.PutUint16(truncated[offInnerLen:], uint16(len(valid)))

	tests := []struct {
		name    string
		buf     []byte
		wantErr error
		wantLen int
	}{
		{name: "valid", buf: valid, wantLen: len(valid)},
		{name: "trailing bytes", buf: append(append([]byte(nil), valid...), 0xaa, 0xbb), wantErr: ErrLengthMismatch},
		{name: "shorter than header", buf: valid[:HeaderLen-1], wantErr: ErrShortFrame},
		{name: "header without trailer", buf: valid[:HeaderLen+1], wantErr: ErrShortFrame},
		{name: "declared length exceeds buffer", buf: truncated, wantErr: ErrTruncated},
		{name: "inner length mismatch", buf: mismatch, wantErr: ErrLengthMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame(tt.buf)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLen, f.Size())
			assert.Equal(t, PROTO_GSM_RR, f.Protocol)
			assert.Equal(t, RR_SDCCH_DL, f.Type)
			assert.Len(t, f.Body(), 20)
		})
	}
}

func TestParseHeaderFields(t *testing.T) {
	buf := buildFrame(frameSpec{
		class:    CLASS_SIGNALLING,
		protocol: PROTO_DTAP,
		ticks:    0x0102030405060708,
		msgType:  1,
		subtype:  7,
		dataLen:  9,
		payload:  []byte{1, 2, 3},
		innerLen: -1,
	})

	f, err := ParseHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, CLASS_SIGNALLING, f.Class)
	assert.Equal(t, uint16(len(buf)-lenOverhead), f.Len)
	assert.Equal(t, f.Len, f.InnerLen)
	assert.Equal(t, PROTO_DTAP, f.Protocol)
	assert.Equal(t, uint64(0x0102030405060708), f.Timestamp)
	assert.Equal(t, uint8(1), f.Type)
	assert.Equal(t, uint8(7), f.Subtype)
	assert.Equal(t, uint8(9), f.DataLen)
	assert.Equal(t, "713a/001/007", f.String())
}

func TestDeriveFrameNumber(t *testing.T) {
	tests := []struct {
		ticks uint64
		want  uint32
	}{
		{0, 0},
		{204799, 0},
		{204800, 1},
		{204800 * 2715647, 2715647},
		{204800 * 2715648, 0},
		{204800*2715649 + 5, 1},
		{math.MaxUint64, uint32((math.MaxUint64 / 204800) % 2715648)},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveFrameNumber(tt.ticks), "ticks %d", tt.ticks)
	}
}

func TestDeriveEpochSeconds(t *testing.T) {
	wall := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return wall }

	gps := make([]byte, 5)
	gps[0] = 0xff
	binary.LittleEndian.PutUint32(gps[1:], 4000000000)

	unlocked := make([]byte, 5)
	binary.LittleEndian.PutUint32(unlocked[1:], 1000)

	// 3125000000 * 0.32 == 1e9 exactly, which is not above the threshold
	boundary := make([]byte, 5)
	binary.LittleEndian.PutUint32(boundary[1:], 3125000000)

	tests := []struct {
		name string
		b    []byte
		want int64
	}{
		{name: "gps time", b: gps, want: 1280000000 + 315964800},
		{name: "clock not locked", b: unlocked, want: wall.Unix()},
		{name: "threshold is exclusive", b: boundary, want: wall.Unix()},
		{name: "short buffer", b: []byte{0, 1, 2}, want: wall.Unix()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveEpochSeconds(tt.b, clock))
		})
	}
}

func TestFrameDeltaWraps(t *testing.T) {
	assert.Equal(t, uint32(148), types.FrameDelta(2715600, 100))
	assert.Equal(t, uint32(50), types.FrameDelta(100, 150))
	assert.Equal(t, uint32(0), types.FrameDelta(7, 7))
}
