package session

import (
	"fmt"

	"github.com/jnesss/diagview/types"
)

func frameMillis(frames uint32) int {
	return int(float64(frames) * types.FRAME_DURATION_MS)
}

// Percent returns 100*rand/bytes. It is only meaningful when ok is true.
func (c RandCounter) Percent() (pct int, ok bool) {
	if c.ByteCount == 0 {
		return 0, false
	}
	return 100 * c.RandCount / c.ByteCount, true
}

// PaddingStat is the randomization percentage of one padding class.
type PaddingStat struct {
	Class   string
	Percent int
}

// Randomization returns the padding classes with a nonzero byte count, in reporting order.
func (s *Session) Randomization() []PaddingStat {
	classes := []struct {
		name string
		c    RandCounter
	}{
		{"si5", s.SI5},
		{"si5bis", s.SI5bis},
		{"si5ter", s.SI5ter},
		{"si6", s.SI6},
		{"null", s.Null},
		{"sdcch_pad", s.SDCCHPad},
		{"sacch_pad", s.SACCHPad},
	}

	var stats []PaddingStat
	for _, cl := range classes {
		if pct, ok := cl.c.Percent(); ok {
			stats = append(stats, PaddingStat{Class: cl.name, Percent: pct})
		}
	}
	return stats
}

// CipherName renders the cipher algorithm for the session's RAT.
func CipherName(rat types.RAT, cipher int) string {
	switch rat {
	case types.RAT_GSM:
		return fmt.Sprintf("A5/%d", cipher)
	case types.RAT_UMTS:
		return fmt.Sprintf("UEA/%d", cipher)
	case types.RAT_LTE:
		return fmt.Sprintf("EEA/%d", cipher)
	default:
		return fmt.Sprintf("%d", cipher)
	}
}

// IntegrityName renders the integrity algorithm. GSM has none.
func IntegrityName(rat types.RAT, integrity int) string {
	switch rat {
	case types.RAT_UMTS:
		return fmt.Sprintf("UIA/%d", integrity)
	case types.RAT_LTE:
		return fmt.Sprintf("EIA/%d", integrity)
	default:
		return ""
	}
}

func notZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return true
		}
	}
	return false
}

// HasTMSI, HasNewTMSI and HasTLLI report whether the identifier was observed.
func (s *Session) HasTMSI() bool {
	return notZero(s.OldTMSI[:])
}

func (s *Session) HasNewTMSI() bool {
	return notZero(s.NewTMSI[:])
}

func (s *Session) HasTLLI() bool {
	return notZero(s.TLLI[:])
}
