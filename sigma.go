// sigma.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/jnesss/diagview/session"
	"github.com/jnesss/diagview/types"
)

// Logsource values a rule must carry to be evaluated against closed sessions
const (
	sigmaCategory = "cellular_session"
	sigmaProduct  = "diagview"
)

// DetectionEvent is the flattened record of one closed session
type DetectionEvent struct {
	SessionID int
	Timestamp time.Time
	Data      map[string]interface{}
}

// sessionFields lists every key of a session record
var sessionFields = []string{
	"rat", "domain", "cipher", "integrity", "cracked", "forced_ho", "auth",
	"iden_imsi_bc", "iden_imei_bc", "cmc_imeisv", "duration", "auth_delta", "cipher_delta",
	"mcc", "mnc", "lac", "cid", "arfcn",
	"rand_si5", "rand_si5bis", "rand_si5ter", "rand_si6", "rand_null", "rand_sdcch_pad", "rand_sacch_pad",
}

// NewDetectionEvent flattens a closed session. Values are rendered as strings since rule
// values are compared in their textual form. Padding classes without bytes are left out.
func NewDetectionEvent(s *session.Session) DetectionEvent {
	data := map[string]interface{}{
		"rat":          s.RAT.String(),
		"domain":       s.Domain.String(),
		"cipher":       strconv.Itoa(s.Cipher),
		"integrity":    strconv.Itoa(s.Integrity),
		"cracked":      strconv.FormatBool(s.Cracked),
		"forced_ho":    strconv.FormatBool(s.ForcedHO),
		"auth":         strconv.Itoa(s.Auth),
		"iden_imsi_bc": strconv.FormatBool(s.IdenIMSIBC),
		"iden_imei_bc": strconv.FormatBool(s.IdenIMEIBC),
		"cmc_imeisv":   strconv.FormatBool(s.CMCIMEISV),
		"duration":     strconv.Itoa(s.Duration),
		"auth_delta":   strconv.Itoa(s.AuthDelta),
		"cipher_delta": strconv.Itoa(s.CipherDelta),
		"mcc":          strconv.Itoa(s.MCC),
		"mnc":          strconv.Itoa(s.MNC),
		"lac":          strconv.Itoa(s.LAC),
		"cid":          strconv.Itoa(s.CID),
		"arfcn":        strconv.Itoa(s.ARFCN),
	}
	for _, p := range s.Randomization() {
		data["rand_"+p.Class] = strconv.Itoa(p.Percent)
	}

	return DetectionEvent{
		SessionID: s.ID,
		Timestamp: s.Timestamp,
		Data:      data,
	}
}

type SigmaEngine struct {
	rulesDir   string
	evaluators map[string]*evaluator.RuleEvaluator // keyed by rule file path
	watcher    *fsnotify.Watcher
	mu         sync.RWMutex

	// OnMatch receives every alert raised by the worker
	OnMatch func(alert *types.Alert)

	eventChan chan DetectionEvent
	queueSize int
	dropCount atomic.Int64
	running   atomic.Bool
	submitMu  sync.RWMutex
	workers   sync.WaitGroup
	closeOnce sync.Once
}

func NewSigmaEngine(rulesDir string, queueSize int) (*SigmaEngine, error) {
	if queueSize <= 0 {
		queueSize = 1000
	}

	if _, err := os.Stat(rulesDir); os.IsNotExist(err) {
		return nil, fmt.Errorf(`sigma rules directory "%s" does not exist.
Either:
1. Create a 'rules' subdirectory in your current directory and add .yml rules files
2. Use --sigma to specify your rules directory location`, rulesDir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %v", err)
	}

	engine := &SigmaEngine{
		rulesDir:   rulesDir,
		evaluators: make(map[string]*evaluator.RuleEvaluator),
		watcher:    watcher,
		eventChan:  make(chan DetectionEvent, queueSize),
		queueSize:  queueSize,
	}

	if err := engine.loadAllRules(); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to load rules: %v", err)
	}

	if err := engine.setupWatcher(); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to setup watcher: %v", err)
	}

	return engine, nil
}

// Start runs the evaluation worker. Set OnMatch before calling it.
func (se *SigmaEngine) Start() error {
	if !se.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sigma engine already running")
	}

	se.workers.Add(1)
	go se.processEvents()

	log.Printf("Started Sigma rule processing")
	return nil
}

func (se *SigmaEngine) processEvents() {
	defer se.workers.Done()

	for evt := range se.eventChan {
		for _, alert := range se.Evaluate(evt) {
			if se.OnMatch != nil {
				se.OnMatch(alert)
			}
		}
	}
}

// Evaluate runs every loaded rule against one record and returns the alerts raised.
func (se *SigmaEngine) Evaluate(evt DetectionEvent) []*types.Alert {
	se.mu.RLock()
	defer se.mu.RUnlock()

	paths := make([]string, 0, len(se.evaluators))
	for path := range se.evaluators {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var alerts []*types.Alert
	for _, path := range paths {
		ev := se.evaluators[path]

		result, err := ev.Matches(context.Background(), evt.Data)
		if err != nil {
			log.Printf("Error evaluating rule %s: %v", ev.Rule.ID, err)
			continue
		}
		if !result.Match {
			continue
		}

		alerts = append(alerts, &types.Alert{
			ID:              uuid.New().String(),
			Timestamp:       evt.Timestamp,
			SessionID:       evt.SessionID,
			RuleID:          ev.Rule.ID,
			RuleName:        ev.Rule.Title,
			RuleLevel:       ev.Rule.Level,
			RuleDescription: ev.Rule.Description,
			MatchDetails:    getMatchDetails(ev.Rule, result.SearchResults),
			RuleTags:        ev.Rule.Tags,
			EventData:       evt.Data,
		})
	}

	return alerts
}

// SubmitEvent queues a record without blocking. Records are dropped when the queue is full.
func (se *SigmaEngine) SubmitEvent(evt DetectionEvent) {
	se.submitMu.RLock()
	defer se.submitMu.RUnlock()

	if !se.running.Load() {
		return
	}

	select {
	case se.eventChan <- evt:
	default:
		sigmaDropped.Inc()
		if se.dropCount.Add(1)%1000 == 1 {
			log.Printf("WARNING: Dropped %d Sigma detection events due to full queue", se.dropCount.Load())
		}
	}
}

// Close stops accepting records, evaluates what is already queued and stops watching the rules.
func (se *SigmaEngine) Close() error {
	var err error
	se.closeOnce.Do(func() {
		se.submitMu.Lock()
		se.running.Store(false)
		close(se.eventChan)
		se.submitMu.Unlock()

		se.workers.Wait()

		if se.watcher != nil {
			err = se.watcher.Close()
		}
	})
	return err
}

func (se *SigmaEngine) GetMetrics() map[string]int64 {
	se.mu.RLock()
	loaded := len(se.evaluators)
	se.mu.RUnlock()

	return map[string]int64{
		"dropped_events": se.dropCount.Load(),
		"queue_size":     int64(se.queueSize),
		"rules_loaded":   int64(loaded),
	}
}

func (se *SigmaEngine) loadAllRules() error {
	return filepath.Walk(se.rulesDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !isRulePath(path) {
			return nil
		}
		return se.loadRuleFile(path)
	})
}

func isRulePath(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yml" || ext == ".yaml"
}

func (se *SigmaEngine) loadRuleFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rule file %s: %v", path, err)
	}

	if sigma.InferFileType(content) != sigma.RuleFile {
		log.Printf("Ignoring non-rule file: %s", path)
		return nil
	}

	rule, err := sigma.ParseRule(content)
	if err != nil {
		return fmt.Errorf("failed to parse rule %s: %v", path, err)
	}

	if !isSessionRule(rule) {
		log.Printf("Ignoring rule: %s from %s", rule.Title, path)
		se.removeRule(path)
		return nil
	}
	log.Printf("Loading session rule: %s (%s)", rule.Title, path)

	ruleEvaluator := evaluator.ForRule(rule,
		evaluator.WithConfig(createFieldMappings()),
		evaluator.WithPlaceholderExpander(func(ctx context.Context, name string) ([]string, error) {
			return nil, nil
		}),
	)

	se.mu.Lock()
	se.evaluators[path] = ruleEvaluator
	se.mu.Unlock()

	return nil
}

func (se *SigmaEngine) removeRule(path string) {
	se.mu.Lock()
	delete(se.evaluators, path)
	se.mu.Unlock()
}

func isSessionRule(rule sigma.Rule) bool {
	if rule.Logsource.Category == sigmaCategory || rule.Logsource.Service == sigmaCategory {
		return true
	}
	return rule.Logsource.Product == sigmaProduct
}

func getMatchDetails(rule sigma.Rule, searchResults map[string]bool) string {
	names := make([]string, 0, len(searchResults))
	for name, matched := range searchResults {
		if matched {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var details strings.Builder
	for _, name := range names {
		search, ok := rule.Detection.Searches[name]
		if !ok {
			continue
		}
		for _, matcher := range search.EventMatchers {
			for _, fieldMatch := range matcher {
				if details.Len() > 0 {
					details.WriteString(" AND ")
				}
				var value interface{} = ""
				if len(fieldMatch.Values) > 0 {
					value = fieldMatch.Values[0]
				}
				op := strings.Join(fieldMatch.Modifiers, " ")
				if op == "" {
					op = "="
				}
				fmt.Fprintf(&details, "'%s' %s '%v'", fieldMatch.Field, op, value)
			}
		}
	}

	if details.Len() == 0 {
		if len(rule.Detection.Conditions) > 0 {
			if marshalledValue, err := rule.Detection.Conditions[0].MarshalYAML(); err == nil {
				return fmt.Sprintf("matched condition: %v", marshalledValue)
			}
		}
		return "matched"
	}

	return details.String()
}

func createFieldMappings() sigma.Config {
	mappings := make(map[string]sigma.FieldMapping, len(sessionFields))
	for _, field := range sessionFields {
		mappings[field] = sigma.FieldMapping{TargetNames: []string{field}}
	}
	return sigma.Config{
		Title:         "diagview session record mappings",
		FieldMappings: mappings,
	}
}

func (se *SigmaEngine) setupWatcher() error {
	err := filepath.Walk(se.rulesDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return se.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to setup recursive watching: %v", err)
	}

	go se.watchRules()

	return nil
}

func (se *SigmaEngine) watchRules() {
	for {
		select {
		case event, ok := <-se.watcher.Events:
			if !ok {
				return
			}
			if !isRulePath(event.Name) {
				continue
			}

			log.Printf("Rule file change detected: %s", event.Name)

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := se.loadRuleFile(event.Name); err != nil {
					log.Printf("Error loading modified rule %s: %v", event.Name, err)
				}
			} else if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				se.removeRule(event.Name)
			}

		case err, ok := <-se.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Error watching rules directory: %v", err)
		}
	}
}
