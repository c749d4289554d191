package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/diagview/session"
	"github.com/jnesss/diagview/types"
)

const plaintextRule = `title: Plaintext GSM Session
id: test-plaintext
description: GSM session without ciphering
logsource:
  product: diagview
  category: cellular_session
detection:
  selection:
    rat: 'GSM'
    cipher: '0'
  condition: selection
level: high
`

const imsiRule = `title: IMSI Requested Before Ciphering
id: test-imsi
logsource:
  category: cellular_session
detection:
  selection:
    iden_imsi_bc: 'true'
  condition: selection
level: medium
`

const processRule = `title: Suspicious Process
id: test-process
logsource:
  product: linux
  category: process_creation
detection:
  selection:
    ExePath|endswith: '/nc'
  condition: selection
level: low
`

func newTestEngine(t *testing.T, rules map[string]string) *SigmaEngine {
	t.Helper()
	dir := t.TempDir()
	for name, content := range rules {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	engine, err := NewSigmaEngine(dir, 16)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func plaintextSession() *session.Session {
	return &session.Session{
		ID:        12,
		RAT:       types.RAT_GSM,
		Domain:    types.DOMAIN_CS,
		Cipher:    0,
		MCC:       262,
		MNC:       1,
		Timestamp: time.Unix(1700000000, 0),
		SDCCHPad:  session.RandCounter{ByteCount: 4, RandCount: 1},
	}
}

func TestNewDetectionEvent(t *testing.T) {
	s := plaintextSession()
	s.IdenIMSIBC = true

	evt := NewDetectionEvent(s)
	assert.Equal(t, 12, evt.SessionID)
	assert.Equal(t, s.Timestamp, evt.Timestamp)
	assert.Equal(t, "GSM", evt.Data["rat"])
	assert.Equal(t, "CS", evt.Data["domain"])
	assert.Equal(t, "0", evt.Data["cipher"])
	assert.Equal(t, "true", evt.Data["iden_imsi_bc"])
	assert.Equal(t, "262", evt.Data["mcc"])
	assert.Equal(t, "25", evt.Data["rand_sdcch_pad"])
	assert.NotContains(t, evt.Data, "rand_si5")

	for key := range evt.Data {
		assert.Contains(t, sessionFields, key)
	}
}

func TestSigmaEngineLoadsSessionRulesOnly(t *testing.T) {
	engine := newTestEngine(t, map[string]string{
		"plaintext.yml": plaintextRule,
		"imsi.yaml":     imsiRule,
		"process.yml":   processRule,
		"README.md":     "# rules\n",
	})

	assert.Equal(t, int64(2), engine.GetMetrics()["rules_loaded"])
}

func TestSigmaEngineEvaluate(t *testing.T) {
	engine := newTestEngine(t, map[string]string{
		"plaintext.yml": plaintextRule,
		"imsi.yml":      imsiRule,
	})

	tests := []struct {
		name    string
		modify  func(s *session.Session)
		wantIDs []string
	}{
		{"plaintext", func(s *session.Session) {}, []string{"test-plaintext"}},
		{"plaintext with imsi request", func(s *session.Session) { s.IdenIMSIBC = true }, []string{"test-imsi", "test-plaintext"}},
		{"ciphered", func(s *session.Session) { s.Cipher = 3 }, nil},
		{"lte", func(s *session.Session) { s.RAT = types.RAT_LTE }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := plaintextSession()
			tt.modify(s)

			alerts := engine.Evaluate(NewDetectionEvent(s))
			var ids []string
			for _, a := range alerts {
				ids = append(ids, a.RuleID)
				assert.Equal(t, 12, a.SessionID)
				assert.NotEmpty(t, a.ID)
				assert.NotEmpty(t, a.MatchDetails)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestSigmaEngineWorker(t *testing.T) {
	engine := newTestEngine(t, map[string]string{"plaintext.yml": plaintextRule})

	var alerts []*types.Alert
	engine.OnMatch = func(a *types.Alert) { alerts = append(alerts, a) }

	// not running yet
	engine.SubmitEvent(NewDetectionEvent(plaintextSession()))

	require.NoError(t, engine.Start())
	assert.Error(t, engine.Start())

	engine.SubmitEvent(NewDetectionEvent(plaintextSession()))
	ciphered := plaintextSession()
	ciphered.Cipher = 1
	engine.SubmitEvent(NewDetectionEvent(ciphered))

	require.NoError(t, engine.Close())
	require.Len(t, alerts, 1)
	assert.Equal(t, "Plaintext GSM Session", alerts[0].RuleName)
	assert.Equal(t, "high", alerts[0].RuleLevel)

	// closed engines drop records
	engine.SubmitEvent(NewDetectionEvent(plaintextSession()))
	assert.NoError(t, engine.Close())
}

func TestNewSigmaEngineMissingDirectory(t *testing.T) {
	_, err := NewSigmaEngine(filepath.Join(t.TempDir(), "missing"), 0)
	assert.Error(t, err)
}
