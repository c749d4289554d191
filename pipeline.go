// pipeline.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jnesss/diagview/diag"
	"github.com/jnesss/diagview/l3"
	"github.com/jnesss/diagview/outputformats"
	"github.com/jnesss/diagview/session"
	"github.com/jnesss/diagview/types"
)

// Resources are the long lived outputs a pipeline writes to. Every field is optional.
type Resources struct {
	Formatter outputformats.SessionFormatter
	SQLite    *outputformats.SQLitePersister
	Sigma     *SigmaEngine
	Sink      *outputformats.GSMTAPSink
	Cells     *CellCache
	Registry  *session.Registry
	IDs       *session.IDAllocator

	// Stdout receives session summaries and printed statements
	Stdout io.Writer
	Clock  func() time.Time
}

// statementPersister hands each statement to every target and counts it by table
type statementPersister struct {
	targets []session.Persister
}

func (sp *statementPersister) Persist(statement string) error {
	for _, t := range sp.targets {
		if err := t.Persist(statement); err != nil {
			return err
		}
	}
	recordStatement(outputformats.StatementTable(statement))
	return nil
}

// Pipeline runs capture files through the frame scanner, the dispatcher, the inspector and the
// session table. Capture files are processed one at a time.
type Pipeline struct {
	cfg     Config
	logger  *Logger
	dialect outputformats.Dialect
	appID   uint32

	ids       *session.IDAllocator
	registry  *session.Registry
	tracker   *CellTracker
	persister session.Persister
	console   *outputformats.ConsolePersister
	renderer  *outputformats.Renderer
	res       Resources
	timer     *PhaseTimer
	filter    *FilterEngine

	outMu  sync.Mutex
	closed []session.Session

	lastSID int
}

func NewPipeline(cfg Config, logger *Logger, res Resources) (*Pipeline, error) {
	dialect, err := outputformats.ParseDialect(cfg.SQLDialect)
	if err != nil {
		return nil, err
	}
	appID, err := cfg.ParsedAppID()
	if err != nil {
		return nil, err
	}
	var filter *FilterEngine
	if !cfg.Filter.empty() {
		if filter, err = NewFilterEngine(cfg.Filter); err != nil {
			return nil, err
		}
	}

	if res.Stdout == nil {
		res.Stdout = os.Stdout
	}
	if res.Clock == nil {
		res.Clock = time.Now
	}
	if res.IDs == nil {
		res.IDs = session.NewIDAllocator(cfg.StartSID)
	}
	if res.Registry == nil {
		res.Registry = session.NewRegistry(res.IDs, !cfg.NoAutoReset, cfg.AutoTimestamp, res.Clock)
	}
	if res.Cells == nil {
		if res.Cells, err = NewCellCache(cfg.CellCacheSize); err != nil {
			return nil, fmt.Errorf("failed to create cell cache: %v", err)
		}
	}

	p := &Pipeline{
		cfg:      cfg,
		logger:   logger,
		dialect:  dialect,
		appID:    appID,
		ids:      res.IDs,
		registry: res.Registry,
		renderer: outputformats.NewRenderer(dialect, cfg.Privacy),
		res:      res,
		timer:    GetPhaseTimer("frame"),
		filter:   filter,
		lastSID:  cfg.StartSID,
	}

	sp := &statementPersister{}
	if res.SQLite != nil {
		sp.targets = append(sp.targets, res.SQLite)
	}
	if cfg.ConsoleSQL {
		p.console = outputformats.NewConsolePersister(res.Stdout)
		sp.targets = append(sp.targets, p.console)
	}
	if len(sp.targets) > 0 {
		p.persister = sp
	}

	p.tracker = NewCellTracker(res.Cells, p.persister, dialect, cfg.StartCID, logger)

	if res.Sigma != nil {
		res.Sigma.OnMatch = p.handleAlert
	}
	if res.Sink != nil {
		res.Sink.OnDeliver = recordDelivery
	}

	return p, nil
}

// Registry returns the sessions of the capture files being processed
func (p *Pipeline) Registry() *session.Registry {
	return p.registry
}

func (p *Pipeline) Tracker() *CellTracker {
	return p.tracker
}

// ProcessFile reads one capture file, "-" being standard input.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) error {
	if path == "-" {
		return p.Process(ctx, "-", os.Stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open capture: %v", err)
	}
	defer f.Close()

	return p.Process(ctx, path, f)
}

// Process runs a capture stream to its end and closes the sessions left open.
func (p *Pipeline) Process(ctx context.Context, name string, r io.Reader) error {
	var sink session.Sink
	if p.res.Sink != nil {
		sink = p.res.Sink
	}
	var console io.Writer
	if p.cfg.Summary {
		console = p.res.Stdout
	}

	table := session.NewTable(session.Options{
		StartSID:      p.cfg.StartSID,
		NoAutoReset:   p.cfg.NoAutoReset,
		AutoTimestamp: p.cfg.AutoTimestamp,
		Stream:        sink != nil,
		Sink:          sink,
		Console:       console,
		Output:        p.renderer,
		Persister:     p.persister,
		OnClose:       p.sessionClosed,
		IDs:           p.ids,
		Clock:         p.res.Clock,
		Logger:        p.logger,
	})
	p.bootstrap(table, name)

	entry := p.registry.Create(session.CreateParams{
		ID:   table.Slot(types.DOMAIN_CS).ID,
		Name: name,
		MCC:  table.Slot(types.DOMAIN_CS).MCC,
		MNC:  table.Slot(types.DOMAIN_CS).MNC,
		LAC:  table.Slot(types.DOMAIN_CS).LAC,
		CID:  table.Slot(types.DOMAIN_CS).CID,
		Now:  table.Slot(types.DOMAIN_CS).Timestamp.Unix(),
	})
	p.registry.Begin(entry, table.Slot(types.DOMAIN_CS).RAT)
	defer func() {
		p.registry.Finish(entry)
		// auto reset registries keep their sessions for reuse
		if !p.cfg.NoAutoReset {
			return
		}
		if err := p.registry.Free(entry); err != nil {
			p.logger.Warning("pipeline", "Failed to release registry entry of %s: %v", name, err)
		}
	}()

	inspector := l3.NewInspector(l3.Config{
		Table:  table,
		Cells:  p.tracker,
		Logger: p.logger,
	})
	dispatcher := diag.NewDispatcher(diag.Config{
		Decoder:    l3.NewDecoder(),
		Logger:     p.logger,
		Recorder:   metricsRecorder{},
		Clock:      p.res.Clock,
		OnTimeSync: table.SyncTimestamp,
		Maintain: func(now int64) {
			table.SetNow(now)
			p.tracker.Maintain(now)
		},
	})

	p.logger.Info("pipeline", "Processing %s", name)

	scanner := diag.NewScanner(r, !p.cfg.NoCRC)
	frames := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			p.logger.Info("pipeline", "Stopping %s after %d frames", name, frames)
			break
		}
		frames++

		if err := p.handleFrame(scanner, dispatcher, inspector); err != nil {
			return errors.Wrapf(err, "%s frame %d", name, frames)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %v", name, err)
	}

	last, err := table.Destroy()
	if err != nil {
		return errors.Wrapf(err, "closing sessions of %s", name)
	}
	p.lastSID = last
	p.flushClosed()

	p.logger.Info("pipeline", "Finished %s: %d frames", name, frames)
	return p.tracker.Err()
}

func (p *Pipeline) handleFrame(scanner *diag.Scanner, dispatcher *diag.Dispatcher, inspector *l3.Inspector) error {
	p.timer.StartTiming()
	defer p.timer.EndTiming()

	p.timer.StartPhase("parse")
	frame, err := scanner.Frame()
	if err != nil {
		framesDropped.WithLabelValues(diag.DropReason(err)).Inc()
		p.logger.Debug("pipeline", "Dropping frame: %v", err)
		return nil
	}

	p.timer.StartPhase("classify")
	m := dispatcher.Handle(frame)

	p.timer.StartPhase("session")
	if err := inspector.Handle(m); err != nil {
		return err
	}
	if err := p.tracker.Err(); err != nil {
		return err
	}

	p.timer.StartPhase("output")
	p.flushClosed()
	return nil
}

// bootstrap seeds both slots from the capture file name and the configured application id
func (p *Pipeline) bootstrap(table *session.Table, name string) {
	for _, s := range table.Sessions() {
		if !p.cfg.NoFilename && name != "-" {
			if err := session.FromFilename(filepath.Base(name), s, p.res.Clock(), p.cfg.AutoTimestamp); err != nil {
				p.logger.Debug("pipeline", "No session metadata in file name %s: %v", name, err)
			}
		}
		if p.appID != 0 {
			s.AppID = p.appID
		}
	}
}

// sessionClosed runs inside the table. The session is rebuilt in place right after, so it
// is copied for the outputs handled once the frame is done.
func (p *Pipeline) sessionClosed(s *session.Session) {
	recordSessionClosed(s)
	p.closed = append(p.closed, *s)
}

func (p *Pipeline) flushClosed() {
	closed := p.closed
	p.closed = nil

	for i := range closed {
		s := &closed[i]
		if p.filter != nil && !p.filter.ShouldLog(s) {
			p.logger.Trace("pipeline", "Session %d filtered", s.ID)
			continue
		}

		if p.res.Formatter != nil {
			p.outMu.Lock()
			err := p.res.Formatter.FormatSession(s)
			p.outMu.Unlock()
			if err != nil {
				p.logger.Error("output", "Failed to log session %d: %v", s.ID, err)
			}
		}

		if p.res.Sigma != nil {
			p.res.Sigma.SubmitEvent(NewDetectionEvent(s))
		}
	}
}

// handleAlert is called by the sigma worker for every rule match
func (p *Pipeline) handleAlert(alert *types.Alert) {
	sigmaMatches.WithLabelValues(alert.RuleID, alert.RuleLevel).Inc()
	p.logger.Warning("sigma", "Rule match: %s [%s] on session %d: %s",
		alert.RuleName, alert.RuleLevel, alert.SessionID, alert.MatchDetails)

	p.outMu.Lock()
	defer p.outMu.Unlock()

	if p.res.Formatter != nil {
		if err := p.res.Formatter.FormatAlert(alert); err != nil {
			p.logger.Error("output", "Failed to log alert %s: %v", alert.ID, err)
		}
	}
	if p.res.SQLite != nil {
		if err := p.res.SQLite.StoreAlert(alert); err != nil {
			p.logger.Error("output", "Failed to store alert %s: %v", alert.ID, err)
		} else {
			recordStatement("alerts")
		}
	}
	if p.console != nil {
		if err := p.console.Persist(outputformats.AlertSQL(alert, p.dialect)); err != nil {
			p.logger.Error("output", "Failed to print alert %s: %v", alert.ID, err)
		}
	}
}

// Close flushes the cell tracker and returns the last session and cell ids.
func (p *Pipeline) Close() (lastSID, lastCID int, err error) {
	lastCID, err = p.tracker.Destroy()
	if err != nil {
		err = errors.Wrap(err, "flushing cells")
	}
	return p.lastSID, lastCID, err
}
