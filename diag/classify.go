package diag

import (
	"github.com/jnesss/diagview/types"
)

// Signalling protocol ids. These are fixed by the baseband vendor.
const (
	PROTO_UMTS_RRC uint16 = 0x412f
	PROTO_GSM_RR   uint16 = 0x512f
	PROTO_GPRS_GMM uint16 = 0x5230
	PROTO_DTAP     uint16 = 0x713a
	PROTO_LTE_RRC  uint16 = 0xb0c0

	PROTO_LTE_NAS_ESM_DL_PROT uint16 = 0xb0e0
	PROTO_LTE_NAS_ESM_UL_PROT uint16 = 0xb0e1
	PROTO_LTE_NAS_ESM_DL      uint16 = 0xb0e2
	PROTO_LTE_NAS_ESM_UL      uint16 = 0xb0e3
	PROTO_LTE_NAS_EMM_DL_PROT uint16 = 0xb0ea
	PROTO_LTE_NAS_EMM_UL_PROT uint16 = 0xb0eb
	PROTO_LTE_NAS_EMM_DL      uint16 = 0xb0ec
	PROTO_LTE_NAS_EMM_UL      uint16 = 0xb0ed
)

// GSM RR message types (first level dispatch)
const (
	RR_SDCCH_UL uint8 = 0
	RR_SACCH_UL uint8 = 4
	RR_SDCCH_DL uint8 = 128
	RR_BCCH     uint8 = 129
	RR_CCCH     uint8 = 131
	RR_SACCH_DL uint8 = 132
)

type protocolKind int

const (
	kindUnknown protocolKind = iota
	kindTelemetry
	kindNotParsed
	kindDuplicate
	kindUMTS
	kindGSMRR
	kindDTAP
	kindLTERRC
	kindLTENAS
)

var protocolKinds = map[uint16]protocolKind{
	PROTO_SURROUND_CELL_BA_LIST: kindTelemetry,
	PROTO_BURST_METRICS:         kindTelemetry,
	PROTO_TXLEV_TIMING_ADVANCE:  kindTelemetry,
	PROTO_SERVING_AUX_MEAS:      kindNotParsed,
	PROTO_NEIGHBOR_AUX_MEAS:     kindTelemetry,
	PROTO_MONITOR_BURSTS_V2:     kindTelemetry,
	PROTO_GRR_CELL_RESELECTION:  kindTelemetry,
	PROTO_UMTS_RRC:              kindUMTS,
	PROTO_GSM_RR:                kindGSMRR,
	PROTO_GPRS_GMM:              kindDuplicate,
	PROTO_DTAP:                  kindDTAP,
	PROTO_LTE_RRC:               kindLTERRC,
	PROTO_LTE_NAS_ESM_DL_PROT:   kindLTENAS,
	PROTO_LTE_NAS_ESM_UL_PROT:   kindLTENAS,
	PROTO_LTE_NAS_ESM_DL:        kindLTENAS,
	PROTO_LTE_NAS_ESM_UL:        kindLTENAS,
	PROTO_LTE_NAS_EMM_DL_PROT:   kindLTENAS,
	PROTO_LTE_NAS_EMM_UL_PROT:   kindLTENAS,
	PROTO_LTE_NAS_EMM_DL:        kindLTENAS,
	PROTO_LTE_NAS_EMM_UL:        kindLTENAS,
}

var telemetryNames = map[uint16]string{
	PROTO_SURROUND_CELL_BA_LIST: "surround_cell_ba_list",
	PROTO_BURST_METRICS:         "burst_metrics",
	PROTO_TXLEV_TIMING_ADVANCE:  "txlev_timing_advance",
	PROTO_SERVING_AUX_MEAS:      "serving_aux_meas",
	PROTO_NEIGHBOR_AUX_MEAS:     "neighbor_aux_meas",
	PROTO_MONITOR_BURSTS_V2:     "monitor_bursts_v2",
	PROTO_GRR_CELL_RESELECTION:  "grr_cell_reselection",
}

// Channel is the semantic classification of a signalling frame.
type Channel struct {
	RAT       types.RAT
	Domain    types.Domain
	Flags     uint8
	Uplink    bool
	Broadcast bool
}

// UMTS RRC: message type selects logical channel and direction.
var umtsChannels = map[uint8]Channel{
	0: {RAT: types.RAT_UMTS, Flags: types.MSG_FACCH, Uplink: true},  // UL-CCCH
	1: {RAT: types.RAT_UMTS, Flags: types.MSG_SDCCH, Uplink: true},  // UL-DCCH
	2: {RAT: types.RAT_UMTS, Flags: types.MSG_FACCH, Uplink: false}, // DL-CCCH
	3: {RAT: types.RAT_UMTS, Flags: types.MSG_SDCCH, Uplink: false}, // DL-DCCH
}

// LTE NAS: the protocol id itself carries direction and protection.
var lteNASChannels = map[uint16]Channel{
	PROTO_LTE_NAS_ESM_DL_PROT: {RAT: types.RAT_LTE, Flags: types.MSG_SDCCH | types.MSG_CIPHERED},
	PROTO_LTE_NAS_EMM_DL_PROT: {RAT: types.RAT_LTE, Flags: types.MSG_SDCCH | types.MSG_CIPHERED},
	PROTO_LTE_NAS_ESM_UL_PROT: {RAT: types.RAT_LTE, Flags: types.MSG_SDCCH | types.MSG_CIPHERED, Uplink: true},
	PROTO_LTE_NAS_EMM_UL_PROT: {RAT: types.RAT_LTE, Flags: types.MSG_SDCCH | types.MSG_CIPHERED, Uplink: true},
	PROTO_LTE_NAS_ESM_DL:      {RAT: types.RAT_LTE, Flags: types.MSG_SDCCH},
	PROTO_LTE_NAS_EMM_DL:      {RAT: types.RAT_LTE, Flags: types.MSG_SDCCH},
	PROTO_LTE_NAS_ESM_UL:      {RAT: types.RAT_LTE, Flags: types.MSG_SDCCH, Uplink: true},
	PROTO_LTE_NAS_EMM_UL:      {RAT: types.RAT_LTE, Flags: types.MSG_SDCCH, Uplink: true},
}

// rrRoute describes one GSM RR message type. A non-nil subtype list restricts what is forwarded.
type rrRoute struct {
	Channel
	subtypes map[uint8]string
}

var rrRoutes = map[uint8]rrRoute{
	RR_SDCCH_UL: {
		Channel: Channel{RAT: types.RAT_GSM, Flags: types.MSG_SDCCH, Uplink: true},
		subtypes: map[uint8]string{
			22: "classmark change",
			23: "channel mode modification",
			39: "paging response",
			41: "assignment complete",
			44: "handover complete",
			50: "ciphering mode complete",
			52: "gprs suspension request",
			96: "utran classmark change",
		},
	},
	RR_SACCH_UL: {
		Channel: Channel{RAT: types.RAT_GSM, Flags: types.MSG_SACCH, Uplink: true},
		subtypes: map[uint8]string{
			21: "measurement report",
		},
	},
	RR_SDCCH_DL: {Channel: Channel{RAT: types.RAT_GSM, Flags: types.MSG_SDCCH}},
	RR_BCCH:     {Channel: Channel{RAT: types.RAT_GSM, Flags: types.MSG_BCCH, Broadcast: true}},
	RR_CCCH:     {Channel: Channel{RAT: types.RAT_GSM, Flags: types.MSG_BCCH, Broadcast: true}},
	RR_SACCH_DL: {Channel: Channel{RAT: types.RAT_GSM, Flags: types.MSG_SACCH}},
}

// Classify maps the protocol/type/subtype of a signalling frame to its channel. Telemetry and
// intentionally dropped protocols report ErrUnknownProtocol.
func Classify(f *Frame) (Channel, error) {
	switch protocolKinds[f.Protocol] {
	case kindUMTS:
		ch, ok := umtsChannels[f.Type]
		if !ok {
			return Channel{}, ErrUnmappedType
		}
		return ch, nil
	case kindLTENAS:
		return lteNASChannels[f.Protocol], nil
	case kindDTAP:
		return Channel{RAT: types.RAT_GSM, Flags: types.MSG_SDCCH, Uplink: f.Type != 0}, nil
	case kindGSMRR:
		route, ok := rrRoutes[f.Type]
		if !ok {
			return Channel{}, ErrUnmappedType
		}
		if route.subtypes != nil {
			if _, ok := route.subtypes[f.Subtype]; !ok {
				return Channel{}, ErrFilteredSubtype
			}
		}
		return route.Channel, nil
	default:
		return Channel{}, ErrUnknownProtocol
	}
}

// SubtypeName returns the name of a forwarded uplink RR subtype.
func SubtypeName(msgType, subtype uint8) string {
	if route, ok := rrRoutes[msgType]; ok && route.subtypes != nil {
		return route.subtypes[subtype]
	}
	return ""
}
