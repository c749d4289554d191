package diag

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Message classes carried in the first header field
const (
	CLASS_SIGNALLING uint16 = 0x0010
	CLASS_TIME_SYNC  uint16 = 0x001d
)

// Header geometry. Offsets are relative to the start of the frame.
const (
	HeaderLen  = 19
	TrailerLen = 2

	offClass     = 0
	offLen       = 2
	offInnerLen  = 4
	offProtocol  = 6
	offTimestamp = 8
	offType      = 16
	offSubtype   = 17
	offDataLen   = 18

	// Signalling frames carry their capture time at this offset, time sync frames at offTimeSyncEpoch.
	offSignallingEpoch = 10
	offTimeSyncEpoch   = 3

	// Bytes not counted by the declared length: class, length field and CRC trailer.
	lenOverhead = 6

	minSignallingLen = HeaderLen + TrailerLen
	minTimeSyncLen   = offTimeSyncEpoch + 5
)

var (
	ErrShortFrame       = errors.New("frame shorter than header")
	ErrTruncated        = errors.New("declared length exceeds buffer")
	ErrLengthMismatch   = errors.New("inner length disagrees with declared length")
	ErrPayloadTooLarge  = errors.New("payload exceeds destination capacity")
	ErrUnknownClass     = errors.New("unsupported message class")
	ErrUnknownProtocol  = errors.New("unsupported protocol id")
	ErrUnmappedType     = errors.New("unmapped message type")
	ErrFilteredSubtype  = errors.New("subtype not forwarded")
	ErrBadCRC           = errors.New("frame check sequence mismatch")
	ErrFrameTooLong     = errors.New("no frame boundary within maximum frame size")
	errOutOfBounds      = errors.New("read past end of buffer")
	errPayloadUnderflow = errors.New("declared payload shorter than fixed overhead")
)

// Frame is a borrowed view over one diagnostic frame. It never copies the payload.
type Frame struct {
	Class     uint16
	Len       uint16
	InnerLen  uint16
	Protocol  uint16
	Timestamp uint64
	Type      uint8
	Subtype   uint8
	DataLen   uint8

	raw []byte
}

// Raw returns the frame bytes including header and CRC trailer.
func (f *Frame) Raw() []byte {
	return f.raw
}

// Size returns the buffer length of the frame view.
func (f *Frame) Size() int {
	return len(f.raw)
}

// Data returns the bytes following the fixed header, trailer included.
func (f *Frame) Data() []byte {
	return f.raw[HeaderLen:]
}

// Body returns the payload between the fixed header and the CRC trailer.
func (f *Frame) Body() []byte {
	if len(f.raw) < HeaderLen+TrailerLen {
		return nil
	}
	return f.raw[HeaderLen : len(f.raw)-TrailerLen]
}

// Telemetry returns the record area used by measurement reports: it starts at the type byte and stops
// before the trailer.
func (f *Frame) Telemetry() []byte {
	if len(f.raw) < offType+TrailerLen {
		return nil
	}
	return f.raw[offType : len(f.raw)-TrailerLen]
}

// FrameNumber is the GSM frame number derived from the device tick.
func (f *Frame) FrameNumber() uint32 {
	return DeriveFrameNumber(f.Timestamp)
}

func (f *Frame) String() string {
	return fmt.Sprintf("%04x/%03d/%03d", f.Protocol, f.Type, f.Subtype)
}

func readU8(b []byte, off int) (uint8, error) {
	if off < 0 || off >= len(b) {
		return 0, errOutOfBounds
	}
	return b[off], nil
}

func readU16(b []byte, off int) (uint16, error) {
	if off < 0 || off+2 > len(b) {
		return 0, errOutOfBounds
	}
	return binary.LittleEndian.Uint16(b[off:]), nil
}

func readU32(b []byte, off int) (uint32, error) {
	if off < 0 || off+4 > len(b) {
		return 0, errOutOfBounds
	}
	return binary.LittleEndian.Uint32(b[off:]), nil
}

func readU64(b []byte, off int) (uint64, error) {
	if off < 0 || off+8 > len(b) {
		return 0, errOutOfBounds
	}
	return binary.LittleEndian.Uint64(b[off:]), nil
}

func readBE16(b []byte, off int) (uint16, error) {
	if off < 0 || off+2 > len(b) {
		return 0, errOutOfBounds
	}
	return binary.BigEndian.Uint16(b[off:]), nil
}

// ReadClass returns the message class without validating the rest of the header.
func ReadClass(buf []byte) (uint16, error) {
	class, err := readU16(buf, offClass)
	if err != nil {
		return 0, ErrShortFrame
	}
	return class, nil
}

// ParseHeader decodes the fixed header. Lengths are not checked against the buffer.
func ParseHeader(buf []byte) (*Frame, error) {
	if len(buf) < HeaderLen {
		return nil, ErrShortFrame
	}

	f := &Frame{raw: buf}
	f.Class, _ = readU16(buf, offClass)
	f.Len, _ = readU16(buf, offLen)
	f.InnerLen, _ = readU16(buf, offInnerLen)
	f.Protocol, _ = readU16(buf, offProtocol)
	f.Timestamp, _ = readU64(buf, offTimestamp)
	f.Type, _ = readU8(buf, offType)
	f.Subtype, _ = readU8(buf, offSubtype)
	f.DataLen, _ = readU8(buf, offDataLen)

	return f, nil
}

// ParseFrame decodes and validates a signalling frame. The declared length must cover the buffer exactly.
func ParseFrame(buf []byte) (*Frame, error) {
	if len(buf) < minSignallingLen {
		return nil, ErrShortFrame
	}

	f, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}

	total := int(f.Len) + lenOverhead
	if total > len(buf) {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrTruncated, total, len(buf))
	}
	if total != len(buf) {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrLengthMismatch, total, len(buf))
	}
	if f.InnerLen != f.Len {
		return nil, fmt.Errorf("%w: len %d inner %d", ErrLengthMismatch, f.Len, f.InnerLen)
	}
	if total < minSignallingLen {
		return nil, fmt.Errorf("%w: declared %d", ErrShortFrame, total)
	}

	f.raw = buf[:total]
	return f, nil
}
