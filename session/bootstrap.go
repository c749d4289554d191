package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jnesss/diagview/types"
)

const (
	unknownCell    = 65535
	futureTolerate = 12 * time.Hour
)

func splitOn(s string, sep rune) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == sep })
}

// ParseAppID extracts the application id from names like "..2__<tag>_<8 hex digits>_...".
// It returns 0 when no id is present.
func ParseAppID(name string) uint32 {
	idx := strings.Index(name, "2__")
	if idx < 0 {
		return 0
	}

	tokens := splitOn(name[idx+3:], '_')
	if len(tokens) < 2 || len(tokens[1]) != 8 {
		return 0
	}

	v, err := strconv.ParseUint(tokens[1], 16, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

var ratNames = map[string]types.RAT{
	"UMTS":    types.RAT_UMTS,
	"3G":      types.RAT_UMTS,
	"WCDMA":   types.RAT_UMTS,
	"GSM":     types.RAT_GSM,
	"UNKNOWN": types.RAT_GSM,
	"UNKNWON": types.RAT_GSM,
	"null":    types.RAT_GSM,
	"LTE":     types.RAT_LTE,
}

// FromFilename seeds a session from a capture file name of the form
// <prefix>_qdmon.<model>[.<ver>][.<mccmnc>].<YYYYMMDD-hhmmss>.<RAT>.<MCCMNC>-<LAC>-<CID>
// (or _xgs.). On failure the fields parsed so far are kept.
func FromFilename(name string, s *Session, now time.Time, autoTimestamp bool) error {
	err := parseFilename(name, s, now)
	if err != nil && autoTimestamp {
		s.Timestamp = now
	}
	return err
}

func parseFilename(name string, s *Session, now time.Time) error {
	s.AppID = ParseAppID(name)

	xgs := strings.Index(name, "_xgs.")
	qdmon := strings.Index(name, "_qdmon.")

	var start int
	switch {
	case xgs >= 0 && qdmon >= 0:
		return errors.Errorf("ambiguous baseband type in %q", name)
	case xgs >= 0:
		start = xgs
	case qdmon >= 0:
		start = qdmon
	default:
		return errors.Errorf("unknown baseband type in %q", name)
	}

	tokens := splitOn(name[start:], '.')
	next := 1
	token := func() (string, bool) {
		if next >= len(tokens) {
			return "", false
		}
		t := tokens[next]
		next++
		return t, true
	}

	// phone model
	if _, ok := token(); !ok {
		return errors.Errorf("missing model in %q", name)
	}

	tok, ok := token()
	if !ok {
		return errors.Errorf("missing timestamp in %q", name)
	}

	// Some models carry a version after a dot
	if len(tok) == 1 || len(tok) == 2 {
		if tok, ok = token(); !ok {
			return errors.Errorf("missing timestamp in %q", name)
		}
	}

	// Optional MCC/MNC prefix of the IMSI
	if len(tok) == 5 || len(tok) == 6 {
		if _, err := strconv.Atoi(tok); err == nil {
			s.IMSI = tok
		}
		if tok, ok = token(); !ok {
			return errors.Errorf("missing timestamp in %q", name)
		}
	}

	var year, month, day, hour, min, sec int
	n, _ := fmt.Sscanf(tok, "%4d%2d%2d-%2d%2d%2d", &year, &month, &day, &hour, &min, &sec)
	if n != 6 {
		return errors.Errorf("unknown timestamp format %s", tok)
	}
	s.Timestamp = time.Date(year, time.Month(month), day, hour, min, sec, 0, time.Local)
	if s.Timestamp.After(now.Add(futureTolerate)) {
		s.Timestamp = now
	}

	tok, ok = token()
	if !ok {
		return errors.Errorf("missing network type in %q", name)
	}
	rat, known := ratNames[tok]
	if !known {
		return errors.Errorf("unknown network type %s", tok)
	}
	s.RAT = rat

	tok, ok = token()
	if !ok {
		return errors.Errorf("missing cell id in %q", name)
	}

	var mcc, mnc int
	var lac, cid uint32
	n, _ = fmt.Sscanf(tok, "%3d%3d-%x-%x", &mcc, &mnc, &lac, &cid)
	if n >= 1 {
		s.MCC = mcc
	}
	if n >= 2 {
		s.MNC = mnc
	}
	if n < 4 {
		// LAC/CID are sometimes "null"
		s.LAC = unknownCell
		s.CID = unknownCell
		if n < 2 {
			s.MCC = unknownCell
			s.MNC = unknownCell
			return errors.Errorf("unknown cellid format %s", tok)
		}
		return nil
	}
	s.LAC = int(lac)
	s.CID = int(cid)

	return nil
}
