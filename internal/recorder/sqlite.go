package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder appends bank events to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so that query commands can read while the server writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bank_events (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id     TEXT NOT NULL UNIQUE,
			timestamp    INTEGER NOT NULL,
			event_type   TEXT NOT NULL,
			participant  TEXT,
			tranche      INTEGER,
			amount       TEXT,
			reward       TEXT,
			total_active TEXT,
			note         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON bank_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_participant ON bank_events(participant)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) insert(at time.Time, typ, participant string, tranche int, amount, reward, totalActive sdkmath.Int, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if at.IsZero() {
		at = time.Now()
	}
	_, err := r.db.Exec(`INSERT INTO bank_events
		(event_id, timestamp, event_type, participant, tranche, amount, reward, total_active, note)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		uuid.NewString(), at.Unix(), typ, participant, tranche,
		text(amount), text(reward), text(totalActive), note,
	)
	return err
}

func (r *SQLiteRecorder) RecordDeposit(evt *DepositEvent) error {
	return r.insert(evt.At, EventDeposit, evt.Participant, 0,
		evt.Amount, sdkmath.Int{}, evt.TotalActive, "")
}

func (r *SQLiteRecorder) RecordWithdrawal(evt *WithdrawalEvent) error {
	note := fmt.Sprintf("principal=%s", text(evt.Principal))
	return r.insert(evt.At, EventWithdrawal, evt.Participant, evt.SettledTranche,
		evt.Payout, evt.Reward, evt.TotalActive, note)
}

func (r *SQLiteRecorder) RecordSweep(evt *SweepEvent) error {
	note := fmt.Sprintf("active_remaining=%d", evt.ActiveRemaining)
	return r.insert(evt.At, EventSweep, evt.Operator, 0,
		evt.Amount, sdkmath.Int{}, sdkmath.Int{}, note)
}

func (r *SQLiteRecorder) RecordTrancheOpened(evt *TrancheOpenedEvent) error {
	return r.insert(evt.At, EventTrancheOpened, "", evt.Tranche,
		evt.Amount, sdkmath.Int{}, evt.Denominator, "")
}

func (r *SQLiteRecorder) RecordPhaseChange(evt *PhaseChangeEvent) error {
	note := fmt.Sprintf("%s -> %s", evt.From, evt.To)
	return r.insert(evt.At, EventPhaseChange, "", evt.To.Tranche,
		sdkmath.Int{}, sdkmath.Int{}, sdkmath.Int{}, note)
}

func (r *SQLiteRecorder) History(limit int) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(`SELECT event_id, timestamp, event_type,
		COALESCE(participant, ''), COALESCE(tranche, 0), COALESCE(amount, ''),
		COALESCE(reward, ''), COALESCE(total_active, ''), COALESCE(note, '')
		FROM bank_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e  Event
			ts int64
		)
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.Participant, &e.Tranche,
			&e.Amount, &e.Reward, &e.TotalActive, &e.Note); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}

// text renders an amount column; unset amounts are stored as empty strings.
func text(i sdkmath.Int) string {
	if i.IsNil() {
		return ""
	}
	return i.String()
}

var _ Recorder = (*SQLiteRecorder)(nil)
var _ Recorder = (*NoopRecorder)(nil)
