package diag

import (
	"bufio"
	"bytes"
	"io"
)

const (
	hdlcFlag   = 0x7e
	hdlcEscape = 0x7d
	hdlcXor    = 0x20

	maxFrameSize = 1 << 20
)

var crc16Table = func() [256]uint16 {
	var t [256]uint16
	for i := range t {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// CRC16 computes the CRC-16/X.25 frame check sequence.
func CRC16(data []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range data {
		crc = (crc >> 8) ^ crc16Table[(crc^uint16(b))&0xff]
	}
	return ^crc
}

// AppendCRC appends the little-endian frame check sequence of body.
func AppendCRC(body []byte) []byte {
	crc := CRC16(body)
	return append(body, byte(crc), byte(crc>>8))
}

// Encode appends the frame check sequence to body, escapes it and terminates it with a flag byte.
func Encode(body []byte) []byte {
	framed := AppendCRC(append([]byte(nil), body...))
	out := make([]byte, 0, len(framed)+8)
	for _, b := range framed {
		if b == hdlcFlag || b == hdlcEscape {
			out = append(out, hdlcEscape, b^hdlcXor)
			continue
		}
		out = append(out, b)
	}
	return append(out, hdlcFlag)
}

func unescape(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] == hdlcEscape && i+1 < len(raw) {
			i++
			out = append(out, raw[i]^hdlcXor)
			continue
		}
		out = append(out, raw[i])
	}
	return out
}

// Scanner splits an HDLC framed capture into unescaped frames. The CRC trailer is kept on every frame.
type Scanner struct {
	sc         *bufio.Scanner
	checkCRC   bool
	raw        []byte
	oversized  bool
	discarding bool
}

func NewScanner(r io.Reader, checkCRC bool) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxFrameSize)
	s := &Scanner{sc: sc, checkCRC: checkCRC}
	sc.Split(s.split)
	return s
}

// split cuts the stream at flag bytes. A run longer than maxFrameSize without a
// flag is reported once as an oversized frame and the rest of it is skipped up
// to the next flag, so one bad run never ends the scan.
func (s *Scanner) split(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	i := bytes.IndexByte(data, hdlcFlag)
	if s.discarding {
		if i >= 0 {
			s.discarding = false
			return i + 1, nil, nil
		}
		return len(data), nil, nil
	}
	if i >= 0 {
		return i + 1, data[:i], nil
	}
	if len(data) >= maxFrameSize {
		s.discarding = true
		return len(data), data, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Scan advances to the next non-empty frame.
func (s *Scanner) Scan() bool {
	for s.sc.Scan() {
		if len(s.sc.Bytes()) == 0 {
			continue
		}
		s.raw = s.sc.Bytes()
		s.oversized = s.discarding
		return true
	}
	return false
}

// Frame returns the current frame. A frame check failure only affects this frame.
func (s *Scanner) Frame() ([]byte, error) {
	if s.oversized {
		return nil, ErrFrameTooLong
	}
	frame := unescape(s.raw)
	if len(frame) < TrailerLen {
		return nil, ErrShortFrame
	}
	if s.checkCRC {
		body := frame[:len(frame)-TrailerLen]
		want := uint16(frame[len(frame)-2]) | uint16(frame[len(frame)-1])<<8
		if CRC16(body) != want {
			return nil, ErrBadCRC
		}
	}
	return frame, nil
}

func (s *Scanner) Err() error {
	return s.sc.Err()
}
