package diag

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/jnesss/diagview/types"
)

// L3Decoder decodes signalling content into a RadioMessage. A nil result means the content was rejected.
type L3Decoder interface {
	DecodeL3(data []byte, rat types.RAT, domain types.Domain, fn uint32, uplink bool, channel uint8) *types.RadioMessage
	DecodeL2Broadcast(data []byte, rat types.RAT, domain types.Domain, fn uint32, uplink bool, channel uint8) *types.RadioMessage
}

// Logger interface for diagnostic output
type Logger interface {
	Debug(component, format string, args ...interface{})
	Trace(component, format string, args ...interface{})
}

// Recorder receives per-frame counters
type Recorder interface {
	FrameSeen(class uint16)
	FrameDropped(reason string)
	TelemetryDecoded(kind string)
	MessageDecoded(m *types.RadioMessage)
}

type nopLogger struct{}

func (nopLogger) Debug(string, string, ...interface{}) {}
func (nopLogger) Trace(string, string, ...interface{}) {}

type nopRecorder struct{}

func (nopRecorder) FrameSeen(uint16)                   {}
func (nopRecorder) FrameDropped(string)                {}
func (nopRecorder) TelemetryDecoded(string)            {}
func (nopRecorder) MessageDecoded(*types.RadioMessage) {}

// Config for the dispatcher
type Config struct {
	Decoder  L3Decoder
	Logger   Logger
	Recorder Recorder
	Clock    func() time.Time

	// OnTimeSync receives the epoch carried by time sync frames.
	OnTimeSync func(epoch int64)

	// Maintain runs once per signalling frame, before protocol dispatch.
	Maintain func(now int64)
}

// Dispatcher turns raw frames into decoded messages. It is not safe for concurrent use.
type Dispatcher struct {
	decoder    L3Decoder
	logger     Logger
	recorder   Recorder
	clock      func() time.Time
	onTimeSync func(int64)
	maintain   func(int64)

	now int64
}

func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		decoder:    cfg.Decoder,
		logger:     cfg.Logger,
		recorder:   cfg.Recorder,
		clock:      cfg.Clock,
		onTimeSync: cfg.OnTimeSync,
		maintain:   cfg.Maintain,
	}
	if d.logger == nil {
		d.logger = nopLogger{}
	}
	if d.recorder == nil {
		d.recorder = nopRecorder{}
	}
	if d.clock == nil {
		d.clock = time.Now
	}
	return d
}

// Now returns the capture time of the last signalling frame, in UNIX seconds.
func (d *Dispatcher) Now() int64 {
	return d.now
}

// Handle processes one frame (header, payload and CRC trailer). Malformed or unsupported
// frames are dropped and yield nil.
func (d *Dispatcher) Handle(buf []byte) *types.RadioMessage {
	class, err := ReadClass(buf)
	if err != nil {
		d.drop(err, nil)
		return nil
	}
	d.recorder.FrameSeen(class)

	if class != CLASS_SIGNALLING {
		if class == CLASS_TIME_SYNC {
			if len(buf) < minTimeSyncLen {
				d.drop(ErrShortFrame, nil)
				return nil
			}
			epoch := DeriveEpochSeconds(buf[offTimeSyncEpoch:], d.clock)
			if d.onTimeSync != nil {
				d.onTimeSync(epoch)
			}
		} else {
			d.recorder.FrameDropped(DropReason(ErrUnknownClass))
		}
		d.logger.Debug("diag", "Class %04x is not supported", class)
		return nil
	}

	f, err := ParseFrame(buf)
	if err != nil {
		d.drop(err, nil)
		return nil
	}

	d.now = DeriveEpochSeconds(buf[offSignallingEpoch:], d.clock)
	if d.maintain != nil {
		d.maintain(d.now)
	}

	m, err := d.dispatch(f)
	if err != nil {
		d.drop(err, f)
		return nil
	}
	if m == nil {
		return nil
	}

	m.Timestamp = time.Unix(d.now, 0)
	d.recorder.MessageDecoded(m)
	return m
}

func (d *Dispatcher) dispatch(f *Frame) (*types.RadioMessage, error) {
	switch protocolKinds[f.Protocol] {
	case kindTelemetry:
		d.telemetry(f)
		return nil, nil
	case kindNotParsed:
		d.logger.Trace("diag", "%s not parsed", telemetryNames[f.Protocol])
		return nil, nil
	case kindDuplicate:
		d.logger.Trace("diag", "Not handling GPRS GMM")
		return nil, nil
	case kindUMTS:
		d.logger.Trace("diag", "Handling 3G")
		return d.handleUMTS(f)
	case kindGSMRR:
		d.logger.Trace("diag", "Handling GSM RR")
		return d.handleRR(f)
	case kindDTAP:
		d.logger.Trace("diag", "Handling NAS")
		return d.handleDTAP(f)
	case kindLTERRC:
		uplink := len(f.Data()) > 0 && f.Data()[0] != 0
		d.logger.Trace("diag", "Discarding LTE RRC uplink=%v", uplink)
		d.recorder.FrameDropped("lte_rrc_dropped")
		return nil, nil
	case kindLTENAS:
		d.logger.Trace("diag", "Handling 4G")
		return d.handleLTE(f)
	default:
		d.printCommon(f)
		return nil, ErrUnknownProtocol
	}
}

// rawPayload validates and copies a UMTS/LTE payload into a new message.
func (d *Dispatcher) rawPayload(f *Frame, ch Channel) (*types.RadioMessage, error) {
	if f.Size() < 16 || f.Len < 16 {
		return nil, ErrShortFrame
	}

	payloadLen := int(f.Len) - 16
	if payloadLen > f.Size()-16 {
		return nil, ErrTruncated
	}
	if payloadLen > types.BURST_DATA {
		return nil, ErrPayloadTooLarge
	}

	start := HeaderLen + 1
	if start+payloadLen > f.Size() {
		return nil, ErrTruncated
	}

	m := &types.RadioMessage{
		RAT:    ch.RAT,
		Domain: ch.Domain,
		Flags:  ch.Flags,
	}
	m.Burst.FN[0] = f.FrameNumber()
	if ch.Uplink {
		m.Burst.ARFCN[0] = types.ARFCN_UPLINK
	}
	m.Burst.Data = append([]byte(nil), f.Raw()[start:start+payloadLen]...)

	return m, nil
}

func (d *Dispatcher) handleUMTS(f *Frame) (*types.RadioMessage, error) {
	ch, err := Classify(f)
	if err != nil {
		d.logger.Trace("diag", "Discarding 3G message type=%d data=%s", f.Type, hex.EncodeToString(f.Body()))
		return nil, err
	}
	return d.rawPayload(f, ch)
}

func (d *Dispatcher) handleLTE(f *Frame) (*types.RadioMessage, error) {
	ch, err := Classify(f)
	if err != nil {
		return nil, err
	}
	return d.rawPayload(f, ch)
}

func (d *Dispatcher) handleDTAP(f *Frame) (*types.RadioMessage, error) {
	if int(f.Subtype)+HeaderLen+TrailerLen > f.Size() {
		return nil, ErrTruncated
	}
	if f.Subtype == 0 {
		return nil, errPayloadUnderflow
	}

	ch, _ := Classify(f)
	start := HeaderLen + 2
	data := f.Raw()[start : start+int(f.Subtype)]
	if len(data) > types.MAX_MSG_LEN {
		return nil, ErrPayloadTooLarge
	}

	return d.decode(data, ch, f.FrameNumber())
}

func (d *Dispatcher) handleRR(f *Frame) (*types.RadioMessage, error) {
	ch, err := Classify(f)
	if err != nil {
		d.printCommon(f)
		return nil, err
	}

	var data []byte
	if ch.Broadcast {
		end := HeaderLen + int(f.DataLen)
		if end > f.Size()-TrailerLen {
			return nil, ErrTruncated
		}
		data = f.Raw()[HeaderLen:end]
	} else {
		data = f.Body()
	}
	if len(data) > types.MAX_MSG_LEN {
		return nil, ErrPayloadTooLarge
	}

	return d.decode(data, ch, f.FrameNumber())
}

func (d *Dispatcher) decode(data []byte, ch Channel, fn uint32) (*types.RadioMessage, error) {
	if d.decoder == nil {
		return nil, nil
	}
	if ch.Broadcast {
		return d.decoder.DecodeL2Broadcast(data, ch.RAT, ch.Domain, fn, ch.Uplink, ch.Flags), nil
	}
	return d.decoder.DecodeL3(data, ch.RAT, ch.Domain, fn, ch.Uplink, ch.Flags), nil
}

func (d *Dispatcher) telemetry(f *Frame) {
	kind := telemetryNames[f.Protocol]
	b := f.Telemetry()

	var rec interface{}
	var err error
	switch f.Protocol {
	case PROTO_SURROUND_CELL_BA_LIST:
		rec, err = DecodeSurroundCells(b)
	case PROTO_BURST_METRICS:
		rec, err = DecodeBurstMetrics(b)
	case PROTO_TXLEV_TIMING_ADVANCE:
		rec, err = DecodeTimingAdvance(b)
	case PROTO_NEIGHBOR_AUX_MEAS:
		rec, err = DecodeNeighborCells(b)
	case PROTO_MONITOR_BURSTS_V2:
		rec, err = DecodeMonitorBursts(b)
	case PROTO_GRR_CELL_RESELECTION:
		rec, err = DecodeGRRMeasurements(b)
	}
	if err != nil {
		d.logger.Debug("diag", "%s length incorrect: %v", kind, err)
		d.recorder.FrameDropped("telemetry_length")
		return
	}

	d.recorder.TelemetryDecoded(kind)
	d.logger.Debug("diag", "%s", describeTelemetry(rec))
}

func (d *Dispatcher) printCommon(f *Frame) {
	d.logger.Debug("diag", "%d [%02d] %04x/%03d/%03d [%03d] %s",
		f.FrameNumber(), f.Len, f.Protocol, f.Type, f.Subtype, f.DataLen, hex.EncodeToString(f.Body()))
}

func (d *Dispatcher) drop(err error, f *Frame) {
	d.recorder.FrameDropped(DropReason(err))
	if f != nil {
		d.logger.Debug("diag", "Dropping frame %s: %v", f, err)
		return
	}
	d.logger.Debug("diag", "Dropping frame: %v", err)
}

// DropReason maps a frame error to a short metric label.
func DropReason(err error) string {
	switch {
	case errors.Is(err, ErrShortFrame), errors.Is(err, errPayloadUnderflow):
		return "short"
	case errors.Is(err, ErrTruncated):
		return "truncated"
	case errors.Is(err, ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, ErrUnknownClass):
		return "unknown_class"
	case errors.Is(err, ErrUnknownProtocol):
		return "unknown_protocol"
	case errors.Is(err, ErrUnmappedType):
		return "unmapped_type"
	case errors.Is(err, ErrFilteredSubtype):
		return "filtered_subtype"
	case errors.Is(err, ErrBadCRC):
		return "bad_crc"
	case errors.Is(err, ErrFrameTooLong):
		return "oversized"
	default:
		return "other"
	}
}
