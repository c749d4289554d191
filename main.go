package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jnesss/diagview/outputformats"
)

func main() {
	cfg := DefaultConfig()
	var configPath string

	var watchConfig struct {
		patterns []string
		settle   time.Duration
		existing bool
	}

	rootCmd := &cobra.Command{
		Use:   "diagview [flags] <capture>...",
		Short: "Cellular baseband capture analyzer",
		Long: `diagview rebuilds 2G/3G/4G signalling sessions from DIAG baseband captures and reports
the security relevant ones: missing ciphering, identity requests, forced handovers and padding
that looks like an unencrypted channel.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				file, err := LoadConfigFile(configPath)
				if err != nil {
					return err
				}
				mergeConfigFile(cmd, &cfg, file)
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg, func(ctx context.Context, p *Pipeline) error {
				for _, path := range args {
					if ctx.Err() != nil {
						return nil
					}
					if err := p.ProcessFile(ctx, path); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	watchCmd := &cobra.Command{
		Use:   "watch [flags] <dir>",
		Short: "Process capture files as they appear in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg, func(ctx context.Context, p *Pipeline) error {
				logger := p.logger
				cw, err := NewCaptureWatcher(args[0], NewPatternMatcher(watchConfig.patterns), watchConfig.settle, logger, p.ProcessFile)
				if err != nil {
					return err
				}
				cw.Existing = watchConfig.existing

				log.Printf("Watching %s for captures", args[0])
				fmt.Println("Press Ctrl+C to stop")
				return cw.Run(ctx)
			})
		},
	}
	watchCmd.Flags().StringSliceVar(&watchConfig.patterns, "pattern", nil, "Capture file name patterns (default \""+strings.Join(defaultCapturePatterns, ",")+"\")")
	watchCmd.Flags().DurationVar(&watchConfig.settle, "settle", 2*time.Second, "Time without writes before a capture is processed")
	watchCmd.Flags().BoolVar(&watchConfig.existing, "existing", false, "Also process captures already in the directory")
	rootCmd.AddCommand(watchCmd)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file; flags given on the command line take precedence")
	bindFlags(rootCmd, &cfg)

	rootCmd.SetUsageTemplate(`Usage:
  {{.UseLine}}
{{if .HasAvailableSubCommands}}
Commands:{{range .Commands}}{{if .IsAvailableCommand}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}
{{end}}
Console:
  --log-level string     Control console output verbosity (default "info"):
                           error, warning, info, debug (dropped frames, telemetry),
                           trace (per frame dispatch and session linking)
  --log-timestamp        Add timestamps to console messages
  --summary              Print a summary of every closed session (default true)
  --privacy              Leave IMSI, IMEI and MSISDN out of summaries and session logs

Sessions:
  --start-sid int        First session id (default 1)
  --start-cid int        First cell id (default 1)
  --no-auto-reset        Keep one session per domain for the whole capture
  --auto-timestamp       Stamp sessions with the wall clock instead of capture time
  --appid string         Application tag (8 hex digits) attached to every session
  --no-filename          Do not derive operator, cell and time from the capture file name
  --no-crc               Do not verify HDLC frame checksums

Streaming (only when --no-auto-reset is set):
  --gsmtap host[:port]   Send decoded messages as GSMTAP over UDP (port 4729)
  --pcap file            Write the GSMTAP stream to a pcap file

Persistence:
  --db file              Execute session, cell and alert statements on a SQLite database
  --sql-dialect string   Dialect of generated statements: sqlite, mysql (default "sqlite")
  --console-sql          Print generated statements as "SQL: ..."
  --format string        Session log format (default "text"):
                           text - sessions.log and alerts.log, pipe-delimited
                           json - sessions.json, one JSON object per line
                           none - no session log
  --log-dir string       Directory of the session logs (default "./logs")

Detection:
  --sigma <dir>          Directory containing Sigma rules evaluated on closed sessions
  --sigma-queue-size     Maximum number of session records queued for Sigma detection

Filters (session logs and detection only; statements are always written):
  --filter-rat list      GSM, UMTS, LTE
  --filter-domain list   CS, PS
  --filter-mcc list      Mobile country codes
  --filter-mnc list      Mobile network codes
  --filter-lac list      Location area codes (decimal or 0x hex)
  --filter-cid list      Cell ids (decimal or 0x hex)
  --filter-cipher list   Cipher algorithm numbers, 0 for none

Runtime:
  --config file          YAML config file with the same options
  --metrics-addr string  Serve /metrics and /sessions on this address
  --cell-cache-size int  Number of cells remembered for deduplication (default 4096)
{{if .HasAvailableLocalFlags}}{{if not .HasAvailableSubCommands}}
Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}
{{end}}{{end}}
Examples:
  # Summaries of every session in a capture
  diagview 2__xyz_0000abcd_qdmon.SM-G900F.26201.20240301-120000.GSM.26201-1a2b-04d2.qmdl

  # Store sessions and cells, evaluate rules
  diagview --db ./diag.db --sigma ./rules capture.qmdl

  # Stream a capture to Wireshark
  diagview --no-auto-reset --gsmtap 127.0.0.1 capture.qmdl

  # Process captures as the recorder drops them
  diagview watch --db ./diag.db ./captures

Global Flags:
  -h, --help             Show this help message
`)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("diagview: %v", err)
	}
}

func newRunID() string {
	h := fnv.New32a()
	h.Write([]byte(fmt.Sprintf("%s-%d", time.Now().Format(time.RFC3339Nano), os.Getpid())))
	return fmt.Sprintf("%x", h.Sum32())
}

// openResources creates the outputs selected by cfg. The returned cleanup closes them in
// dependency order and is safe to call when opening failed halfway.
func openResources(cfg Config, runID string) (Resources, func(), error) {
	var res Resources
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	cells, err := NewCellCache(cfg.CellCacheSize)
	if err != nil {
		return res, cleanup, fmt.Errorf("failed to create cell cache: %v", err)
	}
	res.Cells = cells
	closers = append(closers, cells.Close)

	switch strings.ToLower(cfg.Format) {
	case "text", "":
		textFormatter, err := outputformats.NewTextFormatter(cfg.LogDir, runID, cfg.Privacy)
		if err != nil {
			return res, cleanup, fmt.Errorf("failed to create text formatter: %v", err)
		}
		res.Formatter = textFormatter
	case "json":
		if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
			return res, cleanup, fmt.Errorf("failed to create log directory: %v", err)
		}
		outputFile, err := os.OpenFile(filepath.Join(cfg.LogDir, "sessions.json"),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return res, cleanup, fmt.Errorf("failed to open output file: %v", err)
		}
		closers = append(closers, func() { outputFile.Close() })
		res.Formatter = outputformats.NewJSONFormatter(outputFile, runID, cfg.Privacy)
	}
	if res.Formatter != nil {
		if err := res.Formatter.Initialize(); err != nil {
			return res, cleanup, fmt.Errorf("failed to initialize formatter: %v", err)
		}
		formatter := res.Formatter
		closers = append(closers, func() { formatter.Close() })
	}

	if cfg.DB != "" {
		db, err := outputformats.NewSQLitePersister(cfg.DB)
		if err != nil {
			return res, cleanup, fmt.Errorf("failed to open database: %v", err)
		}
		res.SQLite = db
		closers = append(closers, func() { db.Close() })
	}

	if cfg.Streaming() {
		sink, err := outputformats.NewGSMTAPSink(cfg.GSMTAP, cfg.Pcap)
		if err != nil {
			return res, cleanup, fmt.Errorf("failed to create GSMTAP sink: %v", err)
		}
		res.Sink = sink
		closers = append(closers, func() { sink.Close() })
		if !cfg.NoAutoReset {
			log.Printf("GSMTAP streaming only runs with --no-auto-reset; nothing will be sent")
		}
	}

	if cfg.Sigma != "" {
		engine, err := NewSigmaEngine(cfg.Sigma, cfg.SigmaQueueSize)
		if err != nil {
			return res, cleanup, fmt.Errorf("failed to initialize sigma detection: %v", err)
		}
		res.Sigma = engine
		// closed first so queued records still reach the formatter and database
		closers = append(closers, func() { engine.Close() })

		log.Printf("Sigma detection enabled:")
		log.Printf("  - Rules directory: %s", cfg.Sigma)
		log.Printf("  - Event queue size: %d", cfg.SigmaQueueSize)
	}

	return res, cleanup, nil
}

func run(cfg Config, body func(ctx context.Context, p *Pipeline) error) error {
	level, err := ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := NewLogger(level, cfg.LogTimestamp)

	res, cleanup, err := openResources(cfg, newRunID())
	defer cleanup()
	if err != nil {
		return err
	}

	p, err := NewPipeline(cfg, logger, res)
	if err != nil {
		return err
	}
	if res.Sigma != nil {
		if err := res.Sigma.Start(); err != nil {
			return err
		}
	}

	collector := NewMetricsCollector(res.Cells)
	collector.Start()
	defer collector.Stop()

	if cfg.MetricsAddr != "" {
		ms := StartMetricsServer(cfg.MetricsAddr, p.Registry(), logger)
		log.Printf("Serving metrics on %s", cfg.MetricsAddr)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			ms.Shutdown(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bodyErr := body(ctx, p)

	lastSID, lastCID, err := p.Close()
	if bodyErr != nil {
		return bodyErr
	}
	if err != nil {
		return err
	}

	if logger.Enabled(LogLevelDebug) {
		fmt.Print(PrintHandlerBreakdown("frame"))
	}
	log.Printf("Last session id: %d, last cell id: %d", lastSID, lastCID)
	return nil
}
