package outputformats

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/jnesss/diagview/types"
)

// ConsolePersister prints every statement instead of executing it
type ConsolePersister struct {
	out io.Writer
	mu  sync.Mutex
}

func NewConsolePersister(out io.Writer) *ConsolePersister {
	if out == nil {
		out = os.Stdout
	}
	return &ConsolePersister{out: out}
}

func (p *ConsolePersister) Persist(statement string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := fmt.Fprintf(p.out, "SQL: %s", statement)
	return err
}

// SQLitePersister executes generated statements against a local SQLite database
type SQLitePersister struct {
	db *sql.DB
	mu sync.Mutex

	// Executed counts successful statements by table
	Executed func(table string)
}

// NewSQLitePersister opens the database and creates the schema when missing
func NewSQLitePersister(dbPath string) (*SQLitePersister, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %v", err)
	}

	return &SQLitePersister{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_info (
		id INTEGER PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		rat INTEGER, domain INTEGER,
		mcc INTEGER, mnc INTEGER, lac INTEGER, cid INTEGER, arfcn INTEGER, psc INTEGER,
		cracked INTEGER, neigh_count INTEGER,
		unenc INTEGER, unenc_rand INTEGER, enc INTEGER, enc_rand INTEGER,
		enc_null INTEGER, enc_null_rand INTEGER, enc_si INTEGER, enc_si_rand INTEGER, predict INTEGER,
		avg_power INTEGER, uplink_avail INTEGER, initial_seq INTEGER, cipher_seq INTEGER,
		auth INTEGER, auth_req_fn INTEGER, auth_resp_fn INTEGER, auth_delta INTEGER,
		cipher_missing INTEGER, cipher_comp_first INTEGER, cipher_comp_last INTEGER,
		cipher_comp_count INTEGER, cipher_delta INTEGER, cipher INTEGER, integrity INTEGER,
		cmc_imeisv INTEGER, first_fn INTEGER, last_fn INTEGER, duration INTEGER,
		mobile_orig INTEGER, mobile_term INTEGER, paging_mi INTEGER,
		t_unknown INTEGER, t_detach INTEGER, t_locupd INTEGER, lu_type INTEGER, lu_acc INTEGER,
		lu_reject INTEGER, lu_rej_cause INTEGER, lu_mcc INTEGER, lu_mnc INTEGER, lu_lac INTEGER,
		t_abort INTEGER, t_raupd INTEGER, t_attach INTEGER, att_acc INTEGER, t_pdp INTEGER, pdp_ip TEXT,
		t_call INTEGER, t_sms INTEGER, t_ss INTEGER, t_tmsi_realloc INTEGER, t_release INTEGER,
		rr_cause INTEGER, t_gprs INTEGER,
		iden_imsi_ac INTEGER, iden_imsi_bc INTEGER, iden_imei_ac INTEGER, iden_imei_bc INTEGER,
		assign INTEGER, assign_cmpl INTEGER, handover INTEGER, forced_ho INTEGER,
		a_timeslot INTEGER, a_chan_type INTEGER, a_tsc INTEGER, a_hopping INTEGER, a_arfcn INTEGER,
		a_hsn INTEGER, a_maio INTEGER, a_ma_len INTEGER, a_chan_mode INTEGER, a_multirate INTEGER,
		call_presence INTEGER, sms_presence INTEGER, service_req INTEGER,
		imsi TEXT, imei TEXT, tmsi TEXT, new_tmsi TEXT, tlli TEXT, msisdn TEXT,
		ms_cipher_mask INTEGER, ue_cipher_cap INTEGER, ue_integrity_cap INTEGER
	);

	CREATE TABLE IF NOT EXISTS sms_meta (
		id INTEGER NOT NULL,
		sequence INTEGER NOT NULL,
		from_network INTEGER,
		pid INTEGER, dcs INTEGER, udhi INTEGER, ota INTEGER,
		concat INTEGER, concat_frag INTEGER, concat_total INTEGER,
		src_port INTEGER, dst_port INTEGER, length INTEGER,
		smsc TEXT, msisdn TEXT, info TEXT,
		PRIMARY KEY (id, sequence)
	);

	CREATE TABLE IF NOT EXISTS sid_appid (
		sid INTEGER PRIMARY KEY,
		appid TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cell_info (
		id INTEGER PRIMARY KEY,
		first_seen DATETIME NOT NULL,
		rat INTEGER, mcc INTEGER, mnc INTEGER, lac INTEGER, cid INTEGER, arfcn INTEGER,
		seen INTEGER
	);

	CREATE TABLE IF NOT EXISTS paging_info (
		timestamp DATETIME NOT NULL,
		mcc INTEGER, mnc INTEGER, lac INTEGER, cid INTEGER,
		pag_imsi INTEGER, pag_tmsi INTEGER, pag_other INTEGER
	);

	CREATE TABLE IF NOT EXISTS alerts (
		alert_id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		sid INTEGER NOT NULL,
		rule_id TEXT NOT NULL,
		rule_name TEXT NOT NULL,
		rule_level TEXT,
		details TEXT,
		rule_tags TEXT,
		event_data TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_session_cell ON session_info(mcc, mnc, lac, cid);
	CREATE INDEX IF NOT EXISTS idx_alerts_sid ON alerts(sid);
	`

	_, err := db.Exec(schema)
	return err
}

// Persist executes each line of statement. Any failure is returned with the failing line.
func (p *SQLitePersister) Persist(statement string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	scanner := bufio.NewScanner(strings.NewReader(statement))
	scanner.Buffer(make([]byte, 0, 8192), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := p.db.Exec(line); err != nil {
			return errors.Wrapf(err, "executing %q", line)
		}
		if p.Executed != nil {
			p.Executed(StatementTable(line))
		}
	}
	return scanner.Err()
}

// StoreAlert writes an alert with its tags and event data
func (p *SQLitePersister) StoreAlert(alert *types.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tagsJSON, err := json.Marshal(alert.RuleTags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %v", err)
	}

	eventDataJSON, err := json.Marshal(alert.EventData)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %v", err)
	}

	_, err = p.db.Exec(`
		INSERT INTO alerts (
			alert_id, timestamp, sid, rule_id, rule_name, rule_level,
			details, rule_tags, event_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.Timestamp, alert.SessionID,
		alert.RuleID, alert.RuleName, alert.RuleLevel,
		alert.MatchDetails,
		string(tagsJSON),
		string(eventDataJSON))
	if err == nil && p.Executed != nil {
		p.Executed("alerts")
	}

	return err
}

// DB exposes the underlying handle for queries
func (p *SQLitePersister) DB() *sql.DB {
	return p.db
}

func (p *SQLitePersister) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.Close()
}

// StatementTable extracts the table of an INSERT statement
func StatementTable(stmt string) string {
	fields := strings.Fields(stmt)
	if len(fields) >= 3 && strings.EqualFold(fields[0], "INSERT") && strings.EqualFold(fields[1], "INTO") {
		name := fields[2]
		if i := strings.IndexByte(name, '('); i >= 0 {
			name = name[:i]
		}
		return name
	}
	return "other"
}
