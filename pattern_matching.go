// pattern_matching.go
package main

import (
	"path/filepath"
	"strings"
	"sync"
)

// defaultCapturePatterns match the file names written by the capture tools
var defaultCapturePatterns = []string{"*_qdmon.*", "*_xgs.*", "*.qmdl", "*.dlf"}

// PatternMatcher decides which file names in a watched directory are captures.
// Patterns are matched against the base name.
type PatternMatcher struct {
	mu sync.RWMutex

	exactMatches  map[string]struct{}
	prefixMatches []string
	globPatterns  []string
}

func NewPatternMatcher(patterns []string) *PatternMatcher {
	pm := &PatternMatcher{
		exactMatches: make(map[string]struct{}),
	}
	for _, pattern := range patterns {
		pm.add(pattern)
	}
	return pm
}

func (pm *PatternMatcher) add(pattern string) {
	switch {
	case pattern == "":
	case strings.HasSuffix(pattern, "*") && !strings.ContainsAny(strings.TrimSuffix(pattern, "*"), "*?["):
		// "name*" is a plain prefix
		pm.prefixMatches = append(pm.prefixMatches, strings.TrimSuffix(pattern, "*"))
	case strings.ContainsAny(pattern, "*?["):
		pm.globPatterns = append(pm.globPatterns, pattern)
	default:
		pm.exactMatches[pattern] = struct{}{}
	}
}

func (pm *PatternMatcher) Add(pattern string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.add(pattern)
}

func (pm *PatternMatcher) Matches(path string) bool {
	name := filepath.Base(path)

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if _, ok := pm.exactMatches[name]; ok {
		return true
	}
	for _, prefix := range pm.prefixMatches {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	for _, pattern := range pm.globPatterns {
		if matched, err := filepath.Match(pattern, name); err == nil && matched {
			return true
		}
	}
	return false
}

// Empty reports whether no pattern was configured
func (pm *PatternMatcher) Empty() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.exactMatches) == 0 && len(pm.prefixMatches) == 0 && len(pm.globPatterns) == 0
}
