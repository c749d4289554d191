// config.go
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jnesss/diagview/outputformats"
)

// Config holds every runtime option. Flags and the YAML config file share the same fields.
type Config struct {
	LogLevel     string `yaml:"log_level"`
	LogTimestamp bool   `yaml:"log_timestamp"`

	StartSID      int    `yaml:"start_sid"`
	StartCID      int    `yaml:"start_cid"`
	NoAutoReset   bool   `yaml:"no_auto_reset"`
	AutoTimestamp bool   `yaml:"auto_timestamp"`
	AppID         string `yaml:"appid"`
	NoFilename    bool   `yaml:"no_filename"`
	NoCRC         bool   `yaml:"no_crc"`

	GSMTAP string `yaml:"gsmtap"`
	Pcap   string `yaml:"pcap"`

	DB         string `yaml:"db"`
	SQLDialect string `yaml:"sql_dialect"`
	ConsoleSQL bool   `yaml:"console_sql"`
	Summary    bool   `yaml:"summary"`
	Privacy    bool   `yaml:"privacy"`
	Format     string `yaml:"format"`
	LogDir     string `yaml:"log_dir"`

	Sigma          string `yaml:"sigma"`
	SigmaQueueSize int    `yaml:"sigma_queue_size"`

	Filter FilterConfig `yaml:"filter"`

	MetricsAddr   string `yaml:"metrics_addr"`
	CellCacheSize int64  `yaml:"cell_cache_size"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:       "info",
		StartSID:       1,
		StartCID:       1,
		SQLDialect:     string(outputformats.DialectSQLite),
		Summary:        true,
		Format:         "text",
		LogDir:         "./logs",
		SigmaQueueSize: 1000,
		CellCacheSize:  4096,
	}
}

// LoadConfigFile reads a YAML config file. Unknown keys are rejected.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %v", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config file %s: %v", path, err)
	}

	return cfg, nil
}

func bindFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.PersistentFlags()

	// Console
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (error, warning, info, debug, trace)")
	flags.BoolVar(&cfg.LogTimestamp, "log-timestamp", cfg.LogTimestamp, "Show timestamps in console logs")
	flags.BoolVar(&cfg.Summary, "summary", cfg.Summary, "Print a summary of every closed session")
	flags.BoolVar(&cfg.Privacy, "privacy", cfg.Privacy, "Omit IMSI, IMEI and MSISDN from summaries and session logs")

	// Sessions
	flags.IntVar(&cfg.StartSID, "start-sid", cfg.StartSID, "First session id")
	flags.IntVar(&cfg.StartCID, "start-cid", cfg.StartCID, "First cell id")
	flags.BoolVar(&cfg.NoAutoReset, "no-auto-reset", cfg.NoAutoReset, "Do not reset sessions on release or new transactions")
	flags.BoolVar(&cfg.AutoTimestamp, "auto-timestamp", cfg.AutoTimestamp, "Stamp sessions with the wall clock instead of capture time")
	flags.StringVar(&cfg.AppID, "appid", cfg.AppID, "Application tag (8 hex digits) attached to every session")
	flags.BoolVar(&cfg.NoFilename, "no-filename", cfg.NoFilename, "Do not derive session metadata from capture file names")
	flags.BoolVar(&cfg.NoCRC, "no-crc", cfg.NoCRC, "Do not verify HDLC frame checksums")

	// Streaming
	flags.StringVar(&cfg.GSMTAP, "gsmtap", cfg.GSMTAP, "Stream decoded messages as GSMTAP to host[:port]")
	flags.StringVar(&cfg.Pcap, "pcap", cfg.Pcap, "Write streamed GSMTAP messages to a pcap file")

	// Persistence
	flags.StringVar(&cfg.DB, "db", cfg.DB, "SQLite database receiving session statements")
	flags.StringVar(&cfg.SQLDialect, "sql-dialect", cfg.SQLDialect, "SQL dialect of generated statements (sqlite, mysql)")
	flags.BoolVar(&cfg.ConsoleSQL, "console-sql", cfg.ConsoleSQL, "Print generated statements to the console")
	flags.StringVar(&cfg.Format, "format", cfg.Format, "Session log format: text, json, none")
	flags.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory of the session and alert logs")

	// Detection
	flags.StringVar(&cfg.Sigma, "sigma", cfg.Sigma, "Directory containing Sigma rules for closed sessions (disabled when empty)")
	flags.IntVar(&cfg.SigmaQueueSize, "sigma-queue-size", cfg.SigmaQueueSize, "Maximum number of session records queued for Sigma detection")

	// Filters
	flags.StringSliceVar(&cfg.Filter.RATs, "filter-rat", nil, "Only log sessions of these RATs (GSM, UMTS, LTE)")
	flags.StringSliceVar(&cfg.Filter.Domains, "filter-domain", nil, "Only log sessions of these domains (CS, PS)")
	flags.StringSliceVar(&cfg.Filter.MCCs, "filter-mcc", nil, "Only log sessions on these MCCs")
	flags.StringSliceVar(&cfg.Filter.MNCs, "filter-mnc", nil, "Only log sessions on these MNCs")
	flags.StringSliceVar(&cfg.Filter.LACs, "filter-lac", nil, "Only log sessions in these location areas")
	flags.StringSliceVar(&cfg.Filter.CIDs, "filter-cid", nil, "Only log sessions on these cell ids")
	flags.StringSliceVar(&cfg.Filter.Ciphers, "filter-cipher", nil, "Only log sessions using these cipher algorithms")

	// Runtime
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve /metrics and /sessions on this address")
	flags.Int64Var(&cfg.CellCacheSize, "cell-cache-size", cfg.CellCacheSize, "Number of cells remembered for deduplication")
}

// configOverlay copies one option from the config file unless its flag was set explicitly
var configOverlay = map[string]func(dst, src *Config){
	"log-level":        func(dst, src *Config) { dst.LogLevel = src.LogLevel },
	"log-timestamp":    func(dst, src *Config) { dst.LogTimestamp = src.LogTimestamp },
	"summary":          func(dst, src *Config) { dst.Summary = src.Summary },
	"privacy":          func(dst, src *Config) { dst.Privacy = src.Privacy },
	"start-sid":        func(dst, src *Config) { dst.StartSID = src.StartSID },
	"start-cid":        func(dst, src *Config) { dst.StartCID = src.StartCID },
	"no-auto-reset":    func(dst, src *Config) { dst.NoAutoReset = src.NoAutoReset },
	"auto-timestamp":   func(dst, src *Config) { dst.AutoTimestamp = src.AutoTimestamp },
	"appid":            func(dst, src *Config) { dst.AppID = src.AppID },
	"no-filename":      func(dst, src *Config) { dst.NoFilename = src.NoFilename },
	"no-crc":           func(dst, src *Config) { dst.NoCRC = src.NoCRC },
	"gsmtap":           func(dst, src *Config) { dst.GSMTAP = src.GSMTAP },
	"pcap":             func(dst, src *Config) { dst.Pcap = src.Pcap },
	"db":               func(dst, src *Config) { dst.DB = src.DB },
	"sql-dialect":      func(dst, src *Config) { dst.SQLDialect = src.SQLDialect },
	"console-sql":      func(dst, src *Config) { dst.ConsoleSQL = src.ConsoleSQL },
	"format":           func(dst, src *Config) { dst.Format = src.Format },
	"log-dir":          func(dst, src *Config) { dst.LogDir = src.LogDir },
	"sigma":            func(dst, src *Config) { dst.Sigma = src.Sigma },
	"sigma-queue-size": func(dst, src *Config) { dst.SigmaQueueSize = src.SigmaQueueSize },
	"filter-rat":       func(dst, src *Config) { dst.Filter.RATs = src.Filter.RATs },
	"filter-domain":    func(dst, src *Config) { dst.Filter.Domains = src.Filter.Domains },
	"filter-mcc":       func(dst, src *Config) { dst.Filter.MCCs = src.Filter.MCCs },
	"filter-mnc":       func(dst, src *Config) { dst.Filter.MNCs = src.Filter.MNCs },
	"filter-lac":       func(dst, src *Config) { dst.Filter.LACs = src.Filter.LACs },
	"filter-cid":       func(dst, src *Config) { dst.Filter.CIDs = src.Filter.CIDs },
	"filter-cipher":    func(dst, src *Config) { dst.Filter.Ciphers = src.Filter.Ciphers },
	"metrics-addr":     func(dst, src *Config) { dst.MetricsAddr = src.MetricsAddr },
	"cell-cache-size":  func(dst, src *Config) { dst.CellCacheSize = src.CellCacheSize },
}

// mergeConfigFile applies file values to cfg for every flag the user did not set.
func mergeConfigFile(cmd *cobra.Command, cfg *Config, file Config) {
	for name, apply := range configOverlay {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			continue
		}
		apply(cfg, &file)
	}
}

// Validate checks option values before anything is opened
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	dialect, err := outputformats.ParseDialect(c.SQLDialect)
	if err != nil {
		return err
	}
	if c.DB != "" && dialect != outputformats.DialectSQLite {
		return fmt.Errorf("--db executes statements on SQLite; %s statements can only be printed with --console-sql", dialect)
	}
	if _, err := c.ParsedAppID(); err != nil {
		return err
	}

	switch strings.ToLower(c.Format) {
	case "text", "json", "none", "":
	default:
		return fmt.Errorf("unknown format: %s (supported formats: text, json, none)", c.Format)
	}

	if c.StartSID < 0 || c.StartCID < 0 {
		return fmt.Errorf("start ids must not be negative")
	}
	if c.CellCacheSize <= 0 {
		return fmt.Errorf("cell cache size must be positive")
	}
	if c.Sigma != "" && c.SigmaQueueSize <= 0 {
		return fmt.Errorf("sigma queue size must be positive")
	}
	if _, err := NewFilterEngine(c.Filter); err != nil {
		return err
	}
	return nil
}

// ParsedAppID returns the --appid value, zero when unset
func (c *Config) ParsedAppID() (uint32, error) {
	if c.AppID == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(c.AppID), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid appid %q: %v", c.AppID, err)
	}
	return uint32(v), nil
}

// Streaming reports whether decoded messages are forwarded to a GSMTAP sink
func (c *Config) Streaming() bool {
	return c.GSMTAP != "" || c.Pcap != ""
}
