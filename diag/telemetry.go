package diag

import (
	"fmt"
	"strings"
)

// Telemetry protocol ids
const (
	PROTO_SURROUND_CELL_BA_LIST uint16 = 0x5071
	PROTO_BURST_METRICS         uint16 = 0x506c
	PROTO_TXLEV_TIMING_ADVANCE  uint16 = 0x5076
	PROTO_SERVING_AUX_MEAS      uint16 = 0x507a
	PROTO_NEIGHBOR_AUX_MEAS     uint16 = 0x507b
	PROTO_MONITOR_BURSTS_V2     uint16 = 0x5082
	PROTO_GRR_CELL_RESELECTION  uint16 = 0x51fc
)

// Record sizes
const (
	timingAdvanceSize = 4
	surroundCellSize  = 12
	burstMetricSize   = 23
	burstMetricsSize  = 1 + 4*burstMetricSize
	neighborCellSize  = 4
	monitorRecordSize = 12
	grrServingSize    = 26
	grrNeighborSize   = 25
	grrMaxNeighbors   = 6
	grrMeasSize       = grrServingSize + grrMaxNeighbors*grrNeighborSize
)

// ARFCNBand packs an absolute channel number in the low 12 bits and a band id in the high 4 bits.
type ARFCNBand uint16

func (v ARFCNBand) ARFCN() uint16 {
	return uint16(v) & 0x0fff
}

func (v ARFCNBand) Band() uint8 {
	return uint8(v >> 12)
}

func (v ARFCNBand) String() string {
	return fmt.Sprintf("arfcn %d band %d", v.ARFCN(), v.Band())
}

// recordReader walks a telemetry payload. The first failed read sticks.
type recordReader struct {
	b   []byte
	off int
	err error
}

func (r *recordReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := readU8(r.b, r.off)
	r.err = err
	r.off++
	return v
}

func (r *recordReader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := readU16(r.b, r.off)
	r.err = err
	r.off += 2
	return v
}

func (r *recordReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := readU32(r.b, r.off)
	r.err = err
	r.off += 4
	return v
}

func (r *recordReader) cell() ARFCNBand {
	if r.err != nil {
		return 0
	}
	v, err := readBE16(r.b, r.off)
	r.err = err
	r.off += 2
	return ARFCNBand(v)
}

func (r *recordReader) i16() int16 {
	return int16(r.u16())
}

func (r *recordReader) i32() int32 {
	return int32(r.u32())
}

func expectLen(kind string, have, want int) error {
	if have != want {
		return fmt.Errorf("%w: %s has %d bytes, expected %d", ErrLengthMismatch, kind, have, want)
	}
	return nil
}

type TimingAdvance struct {
	Cell          ARFCNBand
	TimingAdvance uint8
	TxPowerLevel  uint8
}

func DecodeTimingAdvance(b []byte) (*TimingAdvance, error) {
	if err := expectLen("txlev_timing_advance", len(b), timingAdvanceSize); err != nil {
		return nil, err
	}
	r := &recordReader{b: b}
	rec := &TimingAdvance{
		Cell:          r.cell(),
		TimingAdvance: r.u8(),
		TxPowerLevel:  r.u8(),
	}
	return rec, r.err
}

type SurroundCell struct {
	Cell              ARFCNBand
	RxPower           int16
	BSICKnown         bool
	BSIC              uint8
	FrameNumberOffset uint32
	TimeOffset        uint16
}

func DecodeSurroundCells(b []byte) ([]SurroundCell, error) {
	if len(b) < 1 {
		return nil, expectLen("surround_cell_ba_list", 0, 1)
	}
	count := int(b[0])
	if err := expectLen("surround_cell_ba_list", len(b), 1+count*surroundCellSize); err != nil {
		return nil, err
	}

	r := &recordReader{b: b, off: 1}
	cells := make([]SurroundCell, 0, count)
	for i := 0; i < count; i++ {
		cells = append(cells, SurroundCell{
			Cell:              r.cell(),
			RxPower:           r.i16(),
			BSICKnown:         r.u8() != 0,
			BSIC:              r.u8(),
			FrameNumberOffset: r.u32(),
			TimeOffset:        r.u16(),
		})
	}
	return cells, r.err
}

type BurstMetric struct {
	FrameNumber  uint32
	Cell         ARFCNBand
	RSSI         uint32
	RxPower      int16
	DCOffsetI    int16
	DCOffsetQ    int16
	FreqOffset   int16
	TimingOffset int16
	SNR          uint16
	GainState    uint8
}

type BurstMetrics struct {
	Channel uint8
	Metrics [4]BurstMetric
}

func DecodeBurstMetrics(b []byte) (*BurstMetrics, error) {
	if err := expectLen("burst_metrics", len(b), burstMetricsSize); err != nil {
		return nil, err
	}

	r := &recordReader{b: b}
	rec := &BurstMetrics{Channel: r.u8()}
	for i := range rec.Metrics {
		rec.Metrics[i] = BurstMetric{
			FrameNumber:  r.u32(),
			Cell:         r.cell(),
			RSSI:         r.u32(),
			RxPower:      r.i16(),
			DCOffsetI:    r.i16(),
			DCOffsetQ:    r.i16(),
			FreqOffset:   r.i16(),
			TimingOffset: r.i16(),
			SNR:          r.u16(),
			GainState:    r.u8(),
		}
	}
	return rec, r.err
}

type NeighborCell struct {
	Cell    ARFCNBand
	RxPower int16
}

func DecodeNeighborCells(b []byte) ([]NeighborCell, error) {
	if len(b) < 1 {
		return nil, expectLen("neighbor_cell_aux_meas", 0, 1)
	}
	count := int(b[0])
	if err := expectLen("neighbor_cell_aux_meas", len(b), 1+count*neighborCellSize); err != nil {
		return nil, err
	}

	r := &recordReader{b: b, off: 1}
	cells := make([]NeighborCell, 0, count)
	for i := 0; i < count; i++ {
		cells = append(cells, NeighborCell{Cell: r.cell(), RxPower: r.i16()})
	}
	return cells, r.err
}

type MonitorRecord struct {
	FrameNumber  uint32
	Cell         ARFCNBand
	RxPower      int16
	RxPowerIndex uint16
}

func DecodeMonitorBursts(b []byte) ([]MonitorRecord, error) {
	n, err := readU32(b, 0)
	if err != nil {
		return nil, expectLen("monitor_bursts_v2", len(b), 4)
	}
	if want := 4 + uint64(n)*monitorRecordSize; want != uint64(len(b)) {
		return nil, fmt.Errorf("%w: monitor_bursts_v2 has %d bytes, expected %d", ErrLengthMismatch, len(b), want)
	}
	count := int(n)

	r := &recordReader{b: b, off: 4}
	records := make([]MonitorRecord, 0, count)
	for i := 0; i < count; i++ {
		rec := MonitorRecord{
			FrameNumber:  r.u32(),
			Cell:         r.cell(),
			RxPower:      r.i16(),
			RxPowerIndex: r.u16(),
		}
		r.u16() // reserved
		records = append(records, rec)
	}
	return records, r.err
}

type GRRCell struct {
	BCCH            ARFCNBand
	PBCCH           ARFCNBand
	Priority        uint8
	RxLevelAvg      uint8
	C1              int32
	C2              int32
	C31             int32
	C32             int32
	FiveSecondTimer uint8
	ReselectStatus  uint8
	RecentSelection uint8
}

type GRRMeasurements struct {
	Serving   GRRCell
	Neighbors []GRRCell
}

func (r *recordReader) grrCell() GRRCell {
	return GRRCell{
		BCCH:            r.cell(),
		PBCCH:           r.cell(),
		Priority:        r.u8(),
		RxLevelAvg:      r.u8(),
		C1:              r.i32(),
		C2:              r.i32(),
		C31:             r.i32(),
		C32:             r.i32(),
		FiveSecondTimer: r.u8(),
		ReselectStatus:  r.u8(),
		RecentSelection: r.u8(),
	}
}

func DecodeGRRMeasurements(b []byte) (*GRRMeasurements, error) {
	if err := expectLen("grr_cell_reselection", len(b), grrMeasSize); err != nil {
		return nil, err
	}

	r := &recordReader{b: b}
	rec := &GRRMeasurements{Serving: r.grrCell()}
	count := int(r.u8())
	if count > grrMaxNeighbors {
		return nil, fmt.Errorf("%w: grr_cell_reselection lists %d neighbors", ErrLengthMismatch, count)
	}
	for i := 0; i < count; i++ {
		rec.Neighbors = append(rec.Neighbors, r.grrCell())
	}
	return rec, r.err
}

// describeTelemetry renders a decoded record as one log line.
func describeTelemetry(rec interface{}) string {
	var sb strings.Builder
	switch v := rec.(type) {
	case *TimingAdvance:
		fmt.Fprintf(&sb, "timing advance %s ta %d tx_power_level %d", v.Cell, v.TimingAdvance, v.TxPowerLevel)
	case []SurroundCell:
		sb.WriteString("surround cells:")
		for _, c := range v {
			fmt.Fprintf(&sb, " [%s rx_power %d fn_offset %d]", c.Cell, c.RxPower, c.FrameNumberOffset)
		}
	case *BurstMetrics:
		fmt.Fprintf(&sb, "burst metrics channel %d:", v.Channel)
		for _, m := range v.Metrics {
			fmt.Fprintf(&sb, " [%s fn %d rssi %d rx_power %d]", m.Cell, m.FrameNumber, m.RSSI, m.RxPower)
		}
	case []NeighborCell:
		sb.WriteString("neighbor cells:")
		for _, c := range v {
			fmt.Fprintf(&sb, " [%s rx_power %d]", c.Cell, c.RxPower)
		}
	case []MonitorRecord:
		sb.WriteString("monitor bursts:")
		for _, m := range v {
			fmt.Fprintf(&sb, " [%s fn %d rx_power %d]", m.Cell, m.FrameNumber, m.RxPower)
		}
	case *GRRMeasurements:
		fmt.Fprintf(&sb, "grr serving %s rx_level_avg %d:", v.Serving.BCCH, v.Serving.RxLevelAvg)
		for i, c := range v.Neighbors {
			fmt.Fprintf(&sb, " [%d bcch %s pbcch %s rx_level_avg %d]", i, c.BCCH, c.PBCCH, c.RxLevelAvg)
		}
	default:
		fmt.Fprintf(&sb, "%v", v)
	}
	return sb.String()
}
