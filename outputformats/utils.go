// utils.go
package outputformats

import (
	"fmt"
	"strings"
	"time"

	"github.com/jnesss/diagview/session"
)

// Field cleaning utilities
func cleanField(value string, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func formatTimeField(t time.Time) string {
	if !t.IsZero() && t.Year() >= 2000 {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return "-"
}

// identities renders the observed identifiers as KEY=value pairs
func identities(s *session.Session, privacy bool) string {
	var ids []string
	if s.HasTMSI() {
		ids = append(ids, fmt.Sprintf("TMSI=%x", s.OldTMSI))
	}
	if s.HasNewTMSI() {
		ids = append(ids, fmt.Sprintf("NEW_TMSI=%x", s.NewTMSI))
	}
	if s.HasTLLI() {
		ids = append(ids, fmt.Sprintf("TLLI=%x", s.TLLI))
	}
	if !privacy {
		if s.IMSI != "" {
			ids = append(ids, "IMSI="+s.IMSI)
		}
		if s.IMEI != "" {
			ids = append(ids, "IMEI="+s.IMEI)
		}
		if s.MSISDN != "" {
			ids = append(ids, "MSISDN="+s.MSISDN)
		}
	}
	return strings.Join(ids, " ")
}
