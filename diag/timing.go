package diag

import (
	"time"

	"github.com/jnesss/diagview/types"
)

const (
	// GPS epoch (1980-01-06) expressed in UNIX seconds
	gpsEpochOffset = 315964800

	// Below this the device clock has not locked to GPS yet
	gpsSanityThreshold = 1000000000

	gpsTickScale = 1.25 * 256.0 / 1000.0
)

// DeriveFrameNumber converts a device tick into a GSM frame number.
func DeriveFrameNumber(ticks uint64) uint32 {
	return uint32((ticks / types.TICKS_PER_FRAME) % types.GSM_MAX_FN)
}

// DeriveEpochSeconds decodes the fixed point timestamp stored in b[1:5]; b[0] is ignored.
// Values that do not look like GPS time are replaced by the wall clock.
func DeriveEpochSeconds(b []byte, now func() time.Time) int64 {
	raw, err := readU32(b, 1)
	if err != nil {
		return now().Unix()
	}

	ts := float64(raw) * gpsTickScale
	if ts > gpsSanityThreshold {
		return int64(ts + gpsEpochOffset)
	}

	return now().Unix()
}
