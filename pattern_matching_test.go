package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatternMatcher(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{"qdmon capture", defaultCapturePatterns, "/captures/2__xyz_0000abcd_qdmon.SM-G900F.26201.qmdl", true},
		{"xgs capture", defaultCapturePatterns, "1_xgs.bin", true},
		{"dlf", defaultCapturePatterns, "trace.dlf", true},
		{"log file", defaultCapturePatterns, "/captures/sessions.log", false},
		{"directory part ignored", defaultCapturePatterns, "/data/x.qmdl/notes.txt", false},
		{"exact", []string{"capture.bin"}, "/tmp/capture.bin", true},
		{"exact mismatch", []string{"capture.bin"}, "/tmp/capture.bin.1", false},
		{"prefix", []string{"diag_*"}, "diag_0001", true},
		{"prefix mismatch", []string{"diag_*"}, "xdiag_0001", false},
		{"glob", []string{"run-??.raw"}, "run-07.raw", true},
		{"empty pattern", []string{""}, "anything", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewPatternMatcher(tt.patterns).Matches(tt.path))
		})
	}
}

func TestPatternMatcherAdd(t *testing.T) {
	pm := NewPatternMatcher(nil)
	assert.True(t, pm.Empty())
	assert.False(t, pm.Matches("a.qmdl"))

	pm.Add("*.qmdl")
	assert.False(t, pm.Empty())
	assert.True(t, pm.Matches("a.qmdl"))
}
