package outputformats

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/jnesss/diagview/session"
	"github.com/jnesss/diagview/types"
)

// JSONFormatter writes one JSON document per closed session or alert
type JSONFormatter struct {
	output  io.Writer
	encoder *json.Encoder
	runID   string
	privacy bool
	mu      sync.Mutex
}

// CellJSON is the cell locator of a session
type CellJSON struct {
	MCC   int `json:"mcc"`
	MNC   int `json:"mnc"`
	LAC   int `json:"lac"`
	CID   int `json:"cid"`
	ARFCN int `json:"arfcn,omitempty"`
	PSC   int `json:"psc,omitempty"`
}

type SecurityJSON struct {
	Cipher      string `json:"cipher"`
	Integrity   string `json:"integrity,omitempty"`
	Key         string `json:"key"`
	CMCIMEISV   bool   `json:"cmc_imeisv"`
	AuthDelta   int    `json:"auth_delta_ms,omitempty"`
	CipherDelta int    `json:"cipher_delta_ms,omitempty"`
}

type IdentityJSON struct {
	IMSI    string `json:"imsi,omitempty"`
	IMEI    string `json:"imei,omitempty"`
	MSISDN  string `json:"msisdn,omitempty"`
	TMSI    string `json:"tmsi,omitempty"`
	NewTMSI string `json:"new_tmsi,omitempty"`
	TLLI    string `json:"tlli,omitempty"`
}

type SessionJSON struct {
	Timestamp     string              `json:"timestamp"`
	RunID         string              `json:"run_id"`
	EventType     string              `json:"event_type"`
	SessionID     int                 `json:"sid"`
	AppID         string              `json:"app_id,omitempty"`
	RAT           string              `json:"rat"`
	Domain        string              `json:"domain"`
	Cell          CellJSON            `json:"cell"`
	Security      SecurityJSON        `json:"security"`
	Cracked       bool                `json:"cracked"`
	Duration      int                 `json:"duration_ms"`
	FirstFN       uint32              `json:"first_fn"`
	LastFN        uint32              `json:"last_fn"`
	Report        []string            `json:"report"`
	Randomization map[string]int      `json:"randomization,omitempty"`
	Frames        session.FrameCounts `json:"frames"`
	Identities    *IdentityJSON       `json:"identities,omitempty"`
	SMS           []types.SMSMeta     `json:"sms,omitempty"`
	Message       string              `json:"message"`
}

type AlertJSON struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id"`
	EventType string `json:"event_type"`
	AlertID   string `json:"alert_id"`
	SessionID int    `json:"sid"`

	Rule struct {
		ID           string   `json:"id"`
		Name         string   `json:"name"`
		Level        string   `json:"level"`
		Description  string   `json:"description,omitempty"`
		MatchDetails string   `json:"match_details,omitempty"`
		Tags         []string `json:"tags,omitempty"`
	} `json:"rule"`

	EventData map[string]interface{} `json:"event_data,omitempty"`
	Message   string                 `json:"message"`
}

func NewJSONFormatter(output io.Writer, runID string, privacy bool) *JSONFormatter {
	f := &JSONFormatter{
		output:  output,
		runID:   runID,
		privacy: privacy,
		encoder: json.NewEncoder(output),
	}
	f.encoder.SetEscapeHTML(false)
	return f
}

func (f *JSONFormatter) Initialize() error {
	return nil
}

func (f *JSONFormatter) Close() error {
	return nil
}

func (f *JSONFormatter) FormatSession(s *session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	jsonEvent := SessionJSON{
		Timestamp: formatTimeField(s.Timestamp),
		RunID:     f.runID,
		EventType: "session_close",
		SessionID: s.ID,
		RAT:       s.RAT.String(),
		Domain:    s.Domain.String(),
		Cell: CellJSON{
			MCC:   s.MCC,
			MNC:   s.MNC,
			LAC:   s.LAC,
			CID:   s.CID,
			ARFCN: s.ARFCN,
			PSC:   s.PSC,
		},
		Cracked:  s.Cracked,
		Duration: s.Duration,
		FirstFN:  s.FirstFN,
		LastFN:   s.LastFN,
		Report:   reportTags(s),
		Frames:   s.Frames,
		SMS:      s.SMSList(),
	}
	if s.AppID != 0 {
		jsonEvent.AppID = fmt.Sprintf("%08x", s.AppID)
	}

	jsonEvent.Security = SecurityJSON{
		Cipher:      session.CipherName(s.RAT, s.Cipher),
		Integrity:   session.IntegrityName(s.RAT, s.Integrity),
		Key:         keyField(s),
		CMCIMEISV:   s.CMCIMEISV,
		AuthDelta:   s.AuthDelta,
		CipherDelta: s.CipherDelta,
	}

	if stats := s.Randomization(); len(stats) > 0 {
		jsonEvent.Randomization = make(map[string]int, len(stats))
		for _, st := range stats {
			jsonEvent.Randomization[st.Class] = st.Percent
		}
	}

	ids := &IdentityJSON{}
	if s.HasTMSI() {
		ids.TMSI = fmt.Sprintf("%x", s.OldTMSI)
	}
	if s.HasNewTMSI() {
		ids.NewTMSI = fmt.Sprintf("%x", s.NewTMSI)
	}
	if s.HasTLLI() {
		ids.TLLI = fmt.Sprintf("%x", s.TLLI)
	}
	if !f.privacy {
		ids.IMSI = s.IMSI
		ids.IMEI = s.IMEI
		ids.MSISDN = s.MSISDN
	}
	if *ids != (IdentityJSON{}) {
		jsonEvent.Identities = ids
	}

	jsonEvent.Message = fmt.Sprintf("%s %s session %d closed (%s)",
		s.RAT, s.Domain, s.ID, jsonEvent.Security.Cipher)
	if s.Cracked {
		jsonEvent.Message += " [cracked]"
	}

	return f.encoder.Encode(jsonEvent)
}

func (f *JSONFormatter) FormatAlert(alert *types.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	jsonEvent := AlertJSON{
		Timestamp: formatTimeField(alert.Timestamp),
		RunID:     f.runID,
		EventType: "sigma_match",
		AlertID:   alert.ID,
		SessionID: alert.SessionID,
		EventData: alert.EventData,
	}
	jsonEvent.Rule.ID = alert.RuleID
	jsonEvent.Rule.Name = alert.RuleName
	jsonEvent.Rule.Level = alert.RuleLevel
	jsonEvent.Rule.Description = alert.RuleDescription
	jsonEvent.Rule.MatchDetails = alert.MatchDetails
	jsonEvent.Rule.Tags = alert.RuleTags

	jsonEvent.Message = fmt.Sprintf("Sigma rule match: %s (Level: %s) - session %d",
		alert.RuleName, alert.RuleLevel, alert.SessionID)

	return f.encoder.Encode(jsonEvent)
}

// keyField renders the key state the way the console summary does
func keyField(s *session.Session) string {
	if s.Cipher == 0 {
		return "-"
	}
	switch s.KeyState() {
	case session.KeyRecovered:
		return fmt.Sprintf("%x", s.Key)
	case session.KeyNotFound:
		return "not found"
	default:
		return "not available"
	}
}
