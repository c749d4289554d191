// text.go
package outputformats

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jnesss/diagview/session"
	"github.com/jnesss/diagview/types"
)

// TextFormatter writes pipe-delimited session and alert logs
type TextFormatter struct {
	sessionLog *os.File
	alertLog   *os.File
	logDir     string
	runID      string
	privacy    bool
	mu         sync.Mutex
}

func NewTextFormatter(logDir, runID string, privacy bool) (*TextFormatter, error) {
	if logDir == "" {
		return nil, fmt.Errorf("log directory cannot be empty")
	}
	return &TextFormatter{
		logDir:  logDir,
		runID:   runID,
		privacy: privacy,
	}, nil
}

func (f *TextFormatter) Initialize() error {
	if err := os.MkdirAll(f.logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %v", err)
	}

	if err := f.rotateExistingLogs(); err != nil {
		return fmt.Errorf("failed to rotate logs: %v", err)
	}

	var err error
	f.sessionLog, err = os.OpenFile(
		filepath.Join(f.logDir, "sessions.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY,
		0644,
	)
	if err != nil {
		return fmt.Errorf("failed to open session log: %v", err)
	}

	f.alertLog, err = os.OpenFile(
		filepath.Join(f.logDir, "alerts.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY,
		0644,
	)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to open alert log: %v", err)
	}

	f.writeSessionHeader()
	f.writeAlertHeader()

	return nil
}

func (f *TextFormatter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sessionLog != nil {
		f.sessionLog.Close()
		f.sessionLog = nil
	}
	if f.alertLog != nil {
		f.alertLog.Close()
		f.alertLog = nil
	}
	return nil
}

func (f *TextFormatter) writeSessionHeader() {
	fmt.Fprintln(f.sessionLog, "timestamp|run_id|sid|rat|domain|mcc|mnc|lac|cid|arfcn|cipher|integrity|cracked|duration_ms|"+
		"auth|auth_delta_ms|cipher_delta_ms|report|randomization|identities")
}

func (f *TextFormatter) writeAlertHeader() {
	fmt.Fprintln(f.alertLog, "timestamp|run_id|alert_id|sid|rule_id|rule_name|rule_level|details|tags")
}

func escapeField(s string) string {
	return strings.ReplaceAll(s, "|", " pipe ")
}

func (f *TextFormatter) FormatSession(s *session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sessionLog == nil {
		return fmt.Errorf("session log not initialized")
	}

	var rand []string
	for _, st := range s.Randomization() {
		rand = append(rand, fmt.Sprintf("%s=%d", st.Class, st.Percent))
	}

	values := []string{
		formatTimeField(s.Timestamp),
		f.runID,
		strconv.Itoa(s.ID),
		s.RAT.String(),
		s.Domain.String(),
		strconv.Itoa(s.MCC),
		strconv.Itoa(s.MNC),
		strconv.Itoa(s.LAC),
		strconv.Itoa(s.CID),
		strconv.Itoa(s.ARFCN),
		session.CipherName(s.RAT, s.Cipher),
		cleanField(session.IntegrityName(s.RAT, s.Integrity), "-"),
		strconv.FormatBool(s.Cracked),
		strconv.Itoa(s.Duration),
		strconv.Itoa(s.Auth),
		strconv.Itoa(s.AuthDelta),
		strconv.Itoa(s.CipherDelta),
		cleanField(strings.Join(reportTags(s), ","), "-"),
		cleanField(strings.Join(rand, ","), "-"),
		cleanField(escapeField(identities(s, f.privacy)), "-"),
	}

	_, err := fmt.Fprintln(f.sessionLog, strings.Join(values, "|"))
	return err
}

func (f *TextFormatter) FormatAlert(alert *types.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.alertLog == nil {
		return fmt.Errorf("alert log not initialized")
	}

	values := []string{
		formatTimeField(alert.Timestamp),
		f.runID,
		alert.ID,
		strconv.Itoa(alert.SessionID),
		escapeField(alert.RuleID),
		escapeField(alert.RuleName),
		cleanField(alert.RuleLevel, "-"),
		cleanField(escapeField(alert.MatchDetails), "-"),
		cleanField(strings.Join(alert.RuleTags, ","), "-"),
	}

	_, err := fmt.Fprintln(f.alertLog, strings.Join(values, "|"))
	return err
}

func (f *TextFormatter) rotateExistingLogs() error {
	sessionLogPath := filepath.Join(f.logDir, "sessions.log")
	if _, err := os.Stat(sessionLogPath); os.IsNotExist(err) {
		return nil
	}

	timestamp, runID := extractTimestampAndRunID(sessionLogPath)
	if timestamp == "" {
		timestamp = time.Now().Format("2006-01-02-15-04-05")
	}
	if runID == "" {
		runID = "unknown"
	}

	for _, logType := range []string{"sessions", "alerts"} {
		currentLogPath := filepath.Join(f.logDir, logType+".log")
		if _, err := os.Stat(currentLogPath); os.IsNotExist(err) {
			continue
		}

		archivedPath := filepath.Join(f.logDir, fmt.Sprintf("%s.%s.%s.log", logType, timestamp, runID))
		if err := os.Rename(currentLogPath, archivedPath); err != nil {
			return err
		}
	}
	return nil
}

// extractTimestampAndRunID reads the first record of a session log
func extractTimestampAndRunID(logPath string) (timestamp, runID string) {
	file, err := os.Open(logPath)
	if err != nil {
		return "", ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)

	// Skip header
	if !scanner.Scan() {
		return "", ""
	}
	if !scanner.Scan() {
		return "", ""
	}

	parts := strings.Split(scanner.Text(), "|")
	if len(parts) < 2 {
		return "", ""
	}

	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return "", ""
	}

	return t.Format("2006-01-02-15-04-05"), parts[1]
}
