package session

import (
	"time"

	"github.com/jnesss/diagview/types"
)

// carrySet is everything a session generation hands to its successor on reset.
// Any field not listed here starts from zero.
type carrySet struct {
	id        int
	appID     uint32
	name      string
	domain    types.Domain
	timestamp time.Time
	mcc       int
	mnc       int
	lac       int
	cid       int
	imsi      string
	persister Persister
	pending   Handle

	lastDTAP    []byte
	lastDTAPRAT types.RAT

	chanSDCCH [types.CHAN_BUF_SIZE]byte
	chanSACCH [types.CHAN_BUF_SIZE]byte
	chanFACCH [types.CHAN_BUF_SIZE]byte
}

// carryFrom collects the carry set of old. A generation that closed normally gets a fresh id;
// an interrupted one keeps its id.
func carryFrom(old *Session, pending Handle, ids *IDAllocator, autoTimestamp bool) carrySet {
	c := carrySet{
		id:        old.ID,
		appID:     old.AppID,
		name:      old.Name,
		domain:    old.Domain,
		mcc:       old.MCC,
		mnc:       old.MNC,
		lac:       old.LAC,
		imsi:      old.IMSI,
		persister: old.Persister,
		pending:   pending,
		chanSDCCH: old.ChanSDCCH,
		chanSACCH: old.ChanSACCH,
		chanFACCH: old.ChanFACCH,
	}

	if old.Started && old.Closed {
		c.id = ids.Next()
	}
	if !autoTimestamp {
		c.timestamp = old.Timestamp
	}
	// GSM cell ids belong to the physical cell and must be rediscovered
	if old.RAT != types.RAT_GSM {
		c.cid = old.CID
	}
	if len(old.LastDTAP) > 0 {
		c.lastDTAP = append([]byte(nil), old.LastDTAP...)
		c.lastDTAPRAT = old.LastDTAPRAT
	}

	return c
}

// build constructs the successor generation.
func (c carrySet) build(arena *Arena) *Session {
	s := newSession(arena)
	s.ID = c.id
	s.AppID = c.appID
	s.Name = c.name
	s.Domain = c.domain
	s.Timestamp = c.timestamp
	s.MCC = c.mcc
	s.MNC = c.mnc
	s.LAC = c.lac
	s.CID = c.cid
	s.IMSI = c.imsi
	s.Persister = c.persister
	s.pending = c.pending
	s.LastDTAP = c.lastDTAP
	s.LastDTAPRAT = c.lastDTAPRAT
	s.ChanSDCCH = c.chanSDCCH
	s.ChanSACCH = c.chanSACCH
	s.ChanFACCH = c.chanFACCH

	if m := s.Pending(); m != nil {
		s.ObserveFN(m.FrameNumber())
	}

	return s
}
