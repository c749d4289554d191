package outputformats

import (
	"fmt"
	"strings"

	"github.com/jnesss/diagview/session"
	"github.com/jnesss/diagview/types"
)

// SessionSummary renders the console report of a session. Sessions that never started produce nothing.
// With privacy set, subscriber identities (IMSI, IMEI, MSISDN) are left out.
func SessionSummary(s *session.Session, privacy bool) string {
	if s == nil || !s.Started {
		return ""
	}

	var b strings.Builder

	fmt.Fprintf(&b, "\nmcc %d mnc %d lac %d cid %d\n", s.MCC, s.MNC, s.LAC, s.CID)

	switch s.RAT {
	case types.RAT_GSM:
		fmt.Fprintf(&b, "cipher: %s\n", session.CipherName(s.RAT, s.Cipher))
	case types.RAT_UMTS, types.RAT_LTE:
		fmt.Fprintf(&b, "cipher: %s\nintegrity: %s\n",
			session.CipherName(s.RAT, s.Cipher), session.IntegrityName(s.RAT, s.Integrity))
	}

	b.WriteString("key: " + keyField(s) + "\n")

	b.WriteString("randomization:")
	for _, st := range s.Randomization() {
		fmt.Fprintf(&b, " %s %d%%", st.Class, st.Percent)
	}
	b.WriteString("\n")

	b.WriteString("report:")
	for _, tag := range reportTags(s) {
		b.WriteString(" " + tag)
	}

	if s.ForcedHO {
		b.WriteString("\nFORCED HANDOVER!")
	}
	if s.Assignment || s.Handover {
		fmt.Fprintf(&b, "\nchan mode: %02x rate conf: %02x", s.GA.ChanMode, s.GA.RateConf)
	}
	if s.MSCipherMask != 0 {
		b.WriteString("\nMS ciphers:")
		writeAlgorithms(&b, "A5", s.MSCipherMask, s.Cipher)
	}
	if s.UECipherCap != 0 {
		b.WriteString("\nUE ciphers:")
		writeAlgorithms(&b, "UEA", s.UECipherCap, s.Cipher)
	}

	b.WriteString("\navailable IDs:")
	if ids := identities(s, privacy); ids != "" {
		b.WriteString(" " + ids)
	}

	b.WriteString("\n\n")
	return b.String()
}

// reportTags lists the transaction events seen in a session in reporting order.
func reportTags(s *session.Session) []string {
	flags := []struct {
		set bool
		tag string
	}{
		{s.MO, "mo"},
		{s.MT, "mt"},
		{s.LocUpd, "locupd"},
		{s.Call, "call"},
		{s.SMS, "sms"},
		{s.SSA, "ssa"},
		{s.Detach, "detach"},
		{s.Auth != 0, "auth"},
		{s.IdenIMSIAC || s.IdenIMSIBC, "iden_imsi"},
		{s.IdenIMEIAC || s.IdenIMEIBC, "iden_imei"},
		{s.TMSIRealloc, "tmsi_realloc"},
		{s.Assignment, "assignment"},
		{s.Handover, "handover"},
		{s.HaveGPRS, "gprs"},
		{s.Release, "release"},
		{s.Cipher != 0 && !s.CMCIMEISV, "no_imeisv"},
	}

	var tags []string
	for _, f := range flags {
		if f.set {
			tags = append(tags, f.tag)
		}
	}
	return tags
}

// writeAlgorithms lists algorithms 1..3 announced in mask. The algorithm in use is always listed.
func writeAlgorithms(b *strings.Builder, family string, mask, inUse int) {
	for alg := 1; alg <= 3; alg++ {
		if mask&(1<<(alg-1)) != 0 || inUse == alg {
			fmt.Fprintf(b, " %s/%d", family, alg)
		}
	}
}
