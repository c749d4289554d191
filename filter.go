package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jnesss/diagview/session"
	"github.com/jnesss/diagview/types"
)

// FilterConfig restricts which closed sessions reach the session logs and Sigma detection.
// Empty lists match everything.
type FilterConfig struct {
	RATs    []string `yaml:"rats"`
	Domains []string `yaml:"domains"`
	MCCs    []string `yaml:"mccs"`
	MNCs    []string `yaml:"mncs"`
	LACs    []string `yaml:"lacs"`
	CIDs    []string `yaml:"cids"`
	Ciphers []string `yaml:"ciphers"`
}

func (c FilterConfig) empty() bool {
	return len(c.RATs) == 0 && len(c.Domains) == 0 && len(c.MCCs) == 0 && len(c.MNCs) == 0 &&
		len(c.LACs) == 0 && len(c.CIDs) == 0 && len(c.Ciphers) == 0
}

type FilterEngine struct {
	config FilterConfig

	hasCellFilters     bool
	hasSecurityFilters bool

	// Parsed once so matching stays off the string path
	rats    []types.RAT
	domains []types.Domain
	mccs    []int
	mncs    []int
	lacs    []int
	cids    []int
	ciphers []int
}

func NewFilterEngine(config FilterConfig) (*FilterEngine, error) {
	e := &FilterEngine{config: config}

	for _, r := range config.RATs {
		switch strings.ToUpper(strings.TrimSpace(r)) {
		case "GSM", "2G":
			e.rats = append(e.rats, types.RAT_GSM)
		case "UMTS", "3G":
			e.rats = append(e.rats, types.RAT_UMTS)
		case "LTE", "4G":
			e.rats = append(e.rats, types.RAT_LTE)
		default:
			return nil, fmt.Errorf("unknown RAT filter: %s", r)
		}
	}

	for _, d := range config.Domains {
		switch strings.ToUpper(strings.TrimSpace(d)) {
		case "CS":
			e.domains = append(e.domains, types.DOMAIN_CS)
		case "PS":
			e.domains = append(e.domains, types.DOMAIN_PS)
		default:
			return nil, fmt.Errorf("unknown domain filter: %s", d)
		}
	}

	var err error
	if e.mccs, err = parseIntSlice("mcc", config.MCCs); err != nil {
		return nil, err
	}
	if e.mncs, err = parseIntSlice("mnc", config.MNCs); err != nil {
		return nil, err
	}
	// LAC and CID are often written in hex
	if e.lacs, err = parseIntSlice("lac", config.LACs); err != nil {
		return nil, err
	}
	if e.cids, err = parseIntSlice("cid", config.CIDs); err != nil {
		return nil, err
	}
	if e.ciphers, err = parseIntSlice("cipher", config.Ciphers); err != nil {
		return nil, err
	}

	e.hasCellFilters = len(e.rats) > 0 || len(e.domains) > 0 || len(e.mccs) > 0 ||
		len(e.mncs) > 0 || len(e.lacs) > 0 || len(e.cids) > 0
	e.hasSecurityFilters = len(e.ciphers) > 0

	return e, nil
}

// ShouldLog reports whether a closed session passes every configured filter.
func (e *FilterEngine) ShouldLog(s *session.Session) bool {
	if !e.matchCell(s) {
		excludedSessionsTotal.With(prometheus.Labels{"filter_type": "cell"}).Inc()
		return false
	}
	if !e.matchSecurity(s) {
		excludedSessionsTotal.With(prometheus.Labels{"filter_type": "security"}).Inc()
		return false
	}
	return true
}

func parseIntSlice(name string, values []string) ([]int, error) {
	var result []int
	for _, s := range values {
		v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid %s filter %q: %v", name, s, err)
		}
		result = append(result, int(v))
	}
	return result, nil
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Matching options: RAT, domain, MCC, MNC, LAC, CID
func (e *FilterEngine) matchCell(s *session.Session) bool {
	if !e.hasCellFilters {
		return true
	}

	if len(e.rats) > 0 {
		ratMatch := false
		for _, r := range e.rats {
			if s.RAT == r {
				ratMatch = true
				break
			}
		}
		if !ratMatch {
			return false
		}
	}

	if len(e.domains) > 0 {
		domainMatch := false
		for _, d := range e.domains {
			if s.Domain == d {
				domainMatch = true
				break
			}
		}
		if !domainMatch {
			return false
		}
	}

	if len(e.mccs) > 0 && !containsInt(e.mccs, s.MCC) {
		return false
	}
	if len(e.mncs) > 0 && !containsInt(e.mncs, s.MNC) {
		return false
	}
	if len(e.lacs) > 0 && !containsInt(e.lacs, s.LAC) {
		return false
	}
	if len(e.cids) > 0 && !containsInt(e.cids, s.CID) {
		return false
	}

	return true
}

func (e *FilterEngine) matchSecurity(s *session.Session) bool {
	if !e.hasSecurityFilters {
		return true
	}
	return containsInt(e.ciphers, s.Cipher)
}
