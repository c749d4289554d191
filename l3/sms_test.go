package l3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/diagview/types"
)

func tpduDeliver() []byte {
	return []byte{
		0x44,                                           // SMS-DELIVER, UDHI
		0x0b, 0x91, 0x94, 0x21, 0x43, 0x65, 0x87, 0xf9, // originator
		0x00, 0x04, // pid, dcs
		0, 0, 0, 0, 0, 0, 0, // service centre time stamp
		0x0a,
		0x05, 0x00, 0x03, 0x2a, 0x02, 0x01, // concatenation 1 of 2
		'h', 'e', 'l', 'l', 'o',
	}
}

func rpDeliver() []byte {
	tpdu := tpduDeliver()
	rp := []byte{0x01, 0x05, 0x05, 0x91, 0x94, 0x71, 0x06, 0xf0, 0x00, byte(len(tpdu))}
	return append(rp, tpdu...)
}

func rpSubmit() []byte {
	tpdu := []byte{
		0x51, 0x00, // SMS-SUBMIT, UDHI, relative validity
		0x04, 0x81, 0x21, 0x43, // destination
		0x7f, 0xf6, 0xff,
		0x07,
		0x06, 0x05, 0x04, 0x0b, 0x84, 0x23, 0xf0, // 16 bit ports
	}
	rp := []byte{0x00, 0x01, 0x00, 0x03, 0x91, 0x94, 0xf1, byte(len(tpdu))}
	return append(rp, tpdu...)
}

func TestParseRPData(t *testing.T) {
	tests := []struct {
		name string
		rp   []byte
		want types.SMSMeta
	}{
		{
			name: "deliver",
			rp:   rpDeliver(),
			want: types.SMSMeta{
				FromNetwork: true,
				DCS:         0x04,
				UDHI:        true,
				Concat:      true,
				ConcatFrag:  1,
				ConcatTotal: 2,
				Length:      10,
				SMSC:        "4917600",
				MSISDN:      "49123456789",
				Info:        "SMS-DELIVER",
			},
		},
		{
			name: "submit to sim",
			rp:   rpSubmit(),
			want: types.SMSMeta{
				PID:     0x7f,
				DCS:     0xf6,
				UDHI:    true,
				OTA:     true,
				SrcPort: 0x23f0,
				DstPort: 2948,
				Length:  7,
				SMSC:    "491",
				MSISDN:  "1234",
				Info:    "SMS-SUBMIT",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, err := ParseRPData(tt.rp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, meta)
		})
	}
}

func TestParseRPDataErrors(t *testing.T) {
	tests := []struct {
		name string
		rp   []byte
	}{
		{"empty", nil},
		{"rp ack", []byte{0x02, 0x05}},
		{"truncated originator", []byte{0x01, 0x05, 0x09, 0x91}},
		{"truncated tpdu", append(rpDeliver()[:10], 0x44, 0x0b)},
		{"status report", []byte{0x01, 0x05, 0x00, 0x00, 0x02, 0x02, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRPData(tt.rp)
			assert.Error(t, err)
		})
	}
}
