package outputformats

import (
	"fmt"
	"strings"
	"time"

	"github.com/jnesss/diagview/session"
	"github.com/jnesss/diagview/types"
)

// Dialect selects the SQL flavour of generated statements.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "mysql":
		return DialectMySQL, nil
	}
	return "", fmt.Errorf("unknown sql dialect %q", s)
}

func (d Dialect) timestamp(t time.Time) string {
	if d == DialectMySQL {
		return fmt.Sprintf("FROM_UNIXTIME(%d)", t.Unix())
	}
	return fmt.Sprintf("datetime(%d, 'unixepoch')", t.Unix())
}

// quote renders a string literal, or NULL for an empty string.
func (d Dialect) quote(s string) string {
	if s == "" {
		return "NULL"
	}
	if d == DialectMySQL {
		s = strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
	} else {
		s = strings.ReplaceAll(s, "'", "''")
	}
	return "'" + s + "'"
}

func (d Dialect) hexOrNull(b [4]byte, present bool) string {
	if !present {
		return "NULL"
	}
	return d.quote(fmt.Sprintf("%x", b))
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

const sessionColumns = "timestamp,rat,domain,mcc,mnc,lac,cid,arfcn,psc,cracked,neigh_count," +
	"unenc,unenc_rand,enc,enc_rand,enc_null,enc_null_rand,enc_si,enc_si_rand,predict," +
	"avg_power,uplink_avail,initial_seq,cipher_seq,auth,auth_req_fn,auth_resp_fn,auth_delta," +
	"cipher_missing,cipher_comp_first,cipher_comp_last,cipher_comp_count,cipher_delta,cipher," +
	"integrity,cmc_imeisv,first_fn,last_fn,duration,mobile_orig,mobile_term,paging_mi," +
	"t_unknown,t_detach,t_locupd,lu_type,lu_acc,lu_reject,lu_rej_cause,lu_mcc,lu_mnc,lu_lac," +
	"t_abort,t_raupd,t_attach,att_acc,t_pdp,pdp_ip,t_call,t_sms,t_ss," +
	"t_tmsi_realloc,t_release,rr_cause,t_gprs,iden_imsi_ac,iden_imsi_bc,iden_imei_ac,iden_imei_bc," +
	"assign,assign_cmpl,handover,forced_ho,a_timeslot,a_chan_type,a_tsc," +
	"a_hopping,a_arfcn,a_hsn,a_maio,a_ma_len,a_chan_mode,a_multirate," +
	"call_presence,sms_presence,service_req," +
	"imsi,imei,tmsi,new_tmsi,tlli,msisdn," +
	"ms_cipher_mask,ue_cipher_cap,ue_integrity_cap"

// SessionSQL builds the session_info insert. It returns "" for sessions that are not started or
// already closed.
func SessionSQL(s *session.Session, d Dialect) string {
	if s == nil || !s.Started || s.Closed {
		return ""
	}

	idField, idValue := "", ""
	if s.ID >= 0 {
		idField = "id,"
		idValue = fmt.Sprintf("%d,", s.ID)
	}

	f := s.Frames
	ga := s.GA
	values := []interface{}{
		d.timestamp(s.Timestamp), s.RAT, s.Domain, s.MCC, s.MNC, s.LAC, s.CID, s.ARFCN, s.PSC, b2i(s.Cracked), s.NeighCount,
		f.Unenc, f.UnencRand, f.Enc, f.EncRand, f.EncNull, f.EncNullRand, f.EncSI, f.EncSIRand, f.Predict,
		s.AvgPower, b2i(s.UplinkAvail), s.InitialSeq, s.CipherSeq, s.Auth, s.AuthReqFN, s.AuthRespFN, s.AuthDelta,
		s.CipherMissing, s.CipherCompFirstFN, s.CipherCompLastFN, s.CipherCompCount, s.CipherDelta, s.Cipher,
		s.Integrity, b2i(s.CMCIMEISV), s.FirstFN, s.LastFN, s.Duration, b2i(s.MO), b2i(s.MT), s.PagingMI,
		b2i(s.Unknown), b2i(s.Detach), b2i(s.LocUpd), s.LUType, b2i(s.LUAccept), b2i(s.LUReject), s.LURejCause, s.LUMCC, s.LUMNC, s.LULAC,
		b2i(s.Abort), b2i(s.RAUpd), b2i(s.Attach), b2i(s.AttachAccept), b2i(s.PDPActivate), d.quote(s.PDPIP), b2i(s.Call), b2i(s.SMS), b2i(s.SSA),
		b2i(s.TMSIRealloc), b2i(s.Release), s.RRCause, b2i(s.HaveGPRS), b2i(s.IdenIMSIAC), b2i(s.IdenIMSIBC), b2i(s.IdenIMEIAC), b2i(s.IdenIMEIBC),
		b2i(s.Assignment), b2i(s.AssignComplete), b2i(s.Handover), b2i(s.ForcedHO), ga.ChanNr & 7, ga.ChanNr >> 3, ga.TSC,
		b2i(ga.Hopping), ga.ARFCN, ga.HSN, ga.MAIO, ga.MALen, ga.ChanMode, ga.RateConf,
		b2i(s.CallPresence), b2i(s.SMSPresence), s.ServiceReq,
		d.quote(s.IMSI), d.quote(s.IMEI), d.hexOrNull(s.OldTMSI, s.HasTMSI()), d.hexOrNull(s.NewTMSI, s.HasNewTMSI()),
		d.hexOrNull(s.TLLI, s.HasTLLI()), d.quote(s.MSISDN),
		s.MSCipherMask, s.UECipherCap, s.UEIntegrityCap,
	}

	return fmt.Sprintf("INSERT INTO session_info (%s%s) VALUES (%s%s);\n",
		idField, sessionColumns, idValue, joinValues(values))
}

func joinValues(values []interface{}) string {
	parts := make([]string, len(values))
	for i, v := range values {
		switch v := v.(type) {
		case types.RAT:
			parts[i] = fmt.Sprintf("%d", uint8(v))
		case types.Domain:
			parts[i] = fmt.Sprintf("%d", uint8(v))
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(parts, ",")
}

// SMSSQL builds the sms_meta insert of one short message of session sid.
func SMSSQL(sid int, m types.SMSMeta, d Dialect) string {
	return fmt.Sprintf("INSERT INTO sms_meta (id,sequence,from_network,pid,dcs,udhi,ota,concat,concat_frag,"+
		"concat_total,src_port,dst_port,length,smsc,msisdn,info) VALUES (%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%s,%s,%s);\n",
		sid, m.Sequence, b2i(m.FromNetwork), m.PID, m.DCS, b2i(m.UDHI), b2i(m.OTA), b2i(m.Concat), m.ConcatFrag,
		m.ConcatTotal, m.SrcPort, m.DstPort, m.Length, d.quote(m.SMSC), d.quote(m.MSISDN), d.quote(m.Info))
}

// AppIDSQL links a session to the application id of its capture.
func AppIDSQL(sid int, appID uint32) string {
	return fmt.Sprintf("INSERT INTO sid_appid VALUES (%d,'%08x');\n", sid, appID)
}

// SessionStatements returns every statement persisted for a closing session: the session row, one
// row per short message and the application id link.
func SessionStatements(s *session.Session, d Dialect) []string {
	stmt := SessionSQL(s, d)
	if stmt == "" {
		return nil
	}

	stmts := []string{stmt}
	for _, m := range s.SMSList() {
		stmts = append(stmts, SMSSQL(s.ID, m, d))
	}
	if s.AppID != 0 {
		stmts = append(stmts, AppIDSQL(s.ID, s.AppID))
	}
	return stmts
}

// CellRecord is one observed cell as stored in cell_info.
type CellRecord struct {
	ID        int
	Timestamp time.Time
	RAT       types.RAT
	MCC       int
	MNC       int
	LAC       int
	CID       int
	ARFCN     int
	Seen      int
}

func CellSQL(c CellRecord, d Dialect) string {
	return fmt.Sprintf("INSERT INTO cell_info (id,first_seen,rat,mcc,mnc,lac,cid,arfcn,seen) "+
		"VALUES (%d,%s,%d,%d,%d,%d,%d,%d,%d);\n",
		c.ID, d.timestamp(c.Timestamp), c.RAT, c.MCC, c.MNC, c.LAC, c.CID, c.ARFCN, c.Seen)
}

// PagingRecord holds the paging counters of one maintenance interval.
type PagingRecord struct {
	Timestamp time.Time
	MCC       int
	MNC       int
	LAC       int
	CID       int
	IMSI      int
	TMSI      int
	Other     int
}

func PagingSQL(p PagingRecord, d Dialect) string {
	return fmt.Sprintf("INSERT INTO paging_info (timestamp,mcc,mnc,lac,cid,pag_imsi,pag_tmsi,pag_other) "+
		"VALUES (%s,%d,%d,%d,%d,%d,%d,%d);\n",
		d.timestamp(p.Timestamp), p.MCC, p.MNC, p.LAC, p.CID, p.IMSI, p.TMSI, p.Other)
}

// AlertSQL records a rule match against a session.
func AlertSQL(a *types.Alert, d Dialect) string {
	return fmt.Sprintf("INSERT INTO alerts (alert_id,timestamp,sid,rule_id,rule_name,rule_level,details) "+
		"VALUES (%s,%s,%d,%s,%s,%s,%s);\n",
		d.quote(a.ID), d.timestamp(a.Timestamp), a.SessionID, d.quote(a.RuleID), d.quote(a.RuleName),
		d.quote(a.RuleLevel), d.quote(a.MatchDetails))
}
