package diag

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16(t *testing.T) {
	// CRC-16/X.25 check value
	assert.Equal(t, uint16(0x906e), CRC16([]byte("123456789")))
}

func TestScannerRoundTrip(t *testing.T) {
	bodies := [][]byte{
		{0x10, 0x00, 0x7e, 0x01},
		{0x7d, 0x7d, 0x5e, 0x7e},
		signalling(PROTO_GSM_RR, RR_SDCCH_DL, 0, seq(20))[:39],
	}

	var stream bytes.Buffer
	stream.WriteByte(hdlcFlag) // leading flag yields an empty frame that is skipped
	for _, b := range bodies {
		stream.Write(Encode(b))
	}

	sc := NewScanner(&stream, true)
	var got [][]byte
	for sc.Scan() {
		frame, err := sc.Frame()
		require.NoError(t, err)
		got = append(got, frame[:len(frame)-TrailerLen])
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, bodies, got)
}

func TestScannerBadCRC(t *testing.T) {
	good := Encode([]byte{1, 2, 3, 4})
	bad := Encode([]byte{5, 6, 7, 8})
	bad[0] ^= 0xff

	stream := append(append(append([]byte(nil), good...), bad...), good...)

	tests := []struct {
		name     string
		checkCRC bool
		wantErrs int
	}{
		{name: "checked", checkCRC: true, wantErrs: 1},
		{name: "unchecked", checkCRC: false, wantErrs: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := NewScanner(bytes.NewReader(stream), tt.checkCRC)
			frames, errs := 0, 0
			for sc.Scan() {
				if _, err := sc.Frame(); err != nil {
					assert.ErrorIs(t, err, ErrBadCRC)
					errs++
					continue
				}
				frames++
			}
			assert.Equal(t, tt.wantErrs, errs)
			assert.Equal(t, 3-tt.wantErrs, frames)
		})
	}
}

func TestScannerShortFrame(t *testing.T) {
	sc := NewScanner(bytes.NewReader([]byte{0x01, hdlcFlag}), true)
	require.True(t, sc.Scan())
	_, err := sc.Frame()
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestScannerOversizedRun(t *testing.T) {
	body := signalling(PROTO_GSM_RR, RR_SDCCH_DL, 0, seq(20))[:39]

	var stream bytes.Buffer
	stream.Write(make([]byte, 2*maxFrameSize))
	stream.WriteByte(hdlcFlag)
	stream.Write(Encode(body))

	sc := NewScanner(&stream, true)
	var (
		oversized int
		got       [][]byte
	)
	for sc.Scan() {
		frame, err := sc.Frame()
		if errors.Is(err, ErrFrameTooLong) {
			oversized++
			continue
		}
		require.NoError(t, err)
		got = append(got, frame[:len(frame)-TrailerLen])
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, 1, oversized)
	assert.Equal(t, [][]byte{body}, got)
	assert.Equal(t, "oversized", DropReason(ErrFrameTooLong))
}
