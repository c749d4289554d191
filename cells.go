// cells.go
package main

import (
	"sync"
	"time"

	"github.com/jnesss/diagview/l3"
	"github.com/jnesss/diagview/outputformats"
	"github.com/jnesss/diagview/session"
)

// cellFlushInterval is the capture time between two cell/paging flushes, in seconds
const cellFlushInterval = 10

type pendingCell struct {
	cell  l3.Cell
	entry *cellEntry
}

type pagingCounters struct {
	imsi  int
	tmsi  int
	other int
}

func (p pagingCounters) empty() bool {
	return p.imsi == 0 && p.tmsi == 0 && p.other == 0
}

// CellTracker collects the cells and paging activity learned from broadcast channels and
// periodically emits them as statements through the persister. It implements l3.CellObserver.
type CellTracker struct {
	cache     *CellCache
	persister session.Persister
	dialect   outputformats.Dialect
	logger    *Logger
	ids       *session.IDAllocator

	mu        sync.Mutex
	pending   []pendingCell
	known     map[string]*cellEntry
	current   l3.Cell
	paging    pagingCounters
	now       int64
	lastFlush int64
	err       error
}

func NewCellTracker(cache *CellCache, persister session.Persister, dialect outputformats.Dialect, startCID int, logger *Logger) *CellTracker {
	return &CellTracker{
		cache:     cache,
		persister: persister,
		dialect:   dialect,
		logger:    logger,
		ids:       session.NewIDAllocator(startCID),
		known:     make(map[string]*cellEntry),
		current:   l3.Cell{CID: -1},
	}
}

// Current returns the serving cell as last announced on the broadcast channel
func (ct *CellTracker) Current() l3.Cell {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.current
}

func (ct *CellTracker) CellSeen(c l3.Cell) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	// SI4 style messages carry no cell identity; keep the last one for the same area
	if c.CID < 0 {
		if ct.current.MCC == c.MCC && ct.current.MNC == c.MNC && ct.current.LAC == c.LAC {
			c.CID = ct.current.CID
		}
		ct.current = c
		return
	}
	ct.current = c

	key := cellKey(c.RAT, c.MCC, c.MNC, c.LAC, c.CID)
	if entry, ok := ct.cache.Get(key); ok {
		entry.Seen++
		return
	}
	// the cache may drop or refuse entries; known decides whether a cell was reported
	if entry, ok := ct.known[key]; ok {
		entry.Seen++
		ct.cache.Set(key, entry)
		return
	}

	entry := &cellEntry{
		ID:        ct.ids.Take(),
		FirstSeen: time.Unix(ct.now, 0),
		Seen:      1,
	}
	ct.cache.Set(key, entry)
	ct.cache.Wait()

	ct.known[key] = entry
	ct.pending = append(ct.pending, pendingCell{cell: c, entry: entry})

	if ct.logger != nil {
		ct.logger.Debug("cells", "New cell %d: %s %d/%d lac %d cid %d arfcn %d",
			entry.ID, c.RAT, c.MCC, c.MNC, c.LAC, c.CID, c.ARFCN)
	}
}

func (ct *CellTracker) PagingSeen(miType uint8) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	switch miType {
	case l3.MI_IMSI:
		ct.paging.imsi++
	case l3.MI_TMSI:
		ct.paging.tmsi++
	default:
		ct.paging.other++
	}
}

// Maintain is the per-frame hook of the dispatcher. It flushes once every cellFlushInterval
// seconds of capture time. The first persistence error is kept and reported by Err.
func (ct *CellTracker) Maintain(now int64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.now = now
	if ct.lastFlush == 0 {
		ct.lastFlush = now
		return
	}
	if now-ct.lastFlush < cellFlushInterval {
		return
	}
	ct.lastFlush = now

	if err := ct.flush(); err != nil && ct.err == nil {
		ct.err = err
	}
}

// Err returns the first error met while flushing
func (ct *CellTracker) Err() error {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.err
}

// Destroy flushes what is pending and returns the last cell id.
func (ct *CellTracker) Destroy() (int, error) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if err := ct.flush(); err != nil {
		return ct.ids.Current(), err
	}
	return ct.ids.Current(), ct.err
}

func (ct *CellTracker) flush() error {
	pending := ct.pending
	ct.pending = nil

	for _, p := range pending {
		stmt := outputformats.CellSQL(outputformats.CellRecord{
			ID:        p.entry.ID,
			Timestamp: p.entry.FirstSeen,
			RAT:       p.cell.RAT,
			MCC:       p.cell.MCC,
			MNC:       p.cell.MNC,
			LAC:       p.cell.LAC,
			CID:       p.cell.CID,
			ARFCN:     p.cell.ARFCN,
			Seen:      p.entry.Seen,
		}, ct.dialect)
		if err := ct.persist(stmt); err != nil {
			return err
		}
	}

	if ct.paging.empty() {
		return nil
	}

	cid := ct.current.CID
	if cid < 0 {
		cid = 0
	}
	stmt := outputformats.PagingSQL(outputformats.PagingRecord{
		Timestamp: time.Unix(ct.now, 0),
		MCC:       ct.current.MCC,
		MNC:       ct.current.MNC,
		LAC:       ct.current.LAC,
		CID:       cid,
		IMSI:      ct.paging.imsi,
		TMSI:      ct.paging.tmsi,
		Other:     ct.paging.other,
	}, ct.dialect)
	ct.paging = pagingCounters{}

	return ct.persist(stmt)
}

func (ct *CellTracker) persist(stmt string) error {
	if ct.persister == nil {
		return nil
	}
	return ct.persister.Persist(stmt)
}

var _ l3.CellObserver = (*CellTracker)(nil)
