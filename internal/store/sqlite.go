package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	_ "modernc.org/sqlite"

	"TrancheBank/internal/model"
)

// SQLiteStore keeps the bank state in relational tables, one row per
// participant and per opened tranche. Each Save is a single transaction.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite store opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pool (
			id                 INTEGER PRIMARY KEY CHECK (id = 1),
			reward_total       TEXT NOT NULL,
			window_ns          INTEGER NOT NULL,
			deploy_time        INTEGER NOT NULL,
			operator           TEXT NOT NULL,
			pool_account       TEXT NOT NULL,
			tranches           TEXT NOT NULL,
			total_active_stake TEXT NOT NULL,
			swept              TEXT NOT NULL,
			updated_at         INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS participants (
			id              TEXT PRIMARY KEY,
			principal       TEXT NOT NULL,
			active          INTEGER NOT NULL,
			settled_tranche INTEGER NOT NULL,
			credited_reward TEXT NOT NULL,
			paid_out        TEXT NOT NULL,
			deposited_at    INTEGER NOT NULL,
			withdrawn_at    INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tranches (
			tranche          INTEGER PRIMARY KEY,
			amount           TEXT NOT NULL,
			denominator      TEXT NOT NULL,
			remaining_reward TEXT NOT NULL,
			remaining_stake  TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) Load() (*model.BankState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		st                                 model.BankState
		rewardTotal, tranches, active, swp string
		windowNs, deployNs, updatedNs      int64
	)
	err := s.db.QueryRow(`SELECT reward_total, window_ns, deploy_time, operator, pool_account,
		tranches, total_active_stake, swept, updated_at FROM pool WHERE id = 1`).
		Scan(&rewardTotal, &windowNs, &deployNs, &st.Config.Operator, &st.Config.PoolAccount,
			&tranches, &active, &swp, &updatedNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	st.Config.Window = time.Duration(windowNs)
	st.Config.DeployTime = fromNanos(deployNs)
	st.UpdatedAt = fromNanos(updatedNs)
	if err := json.Unmarshal([]byte(tranches), &st.Config.Tranches); err != nil {
		return nil, fmt.Errorf("decode tranche table: %w", err)
	}
	if st.Config.RewardTotal, err = parseInt(rewardTotal); err != nil {
		return nil, err
	}
	if st.Ledger.TotalActiveStake, err = parseInt(active); err != nil {
		return nil, err
	}
	if st.Swept, err = parseInt(swp); err != nil {
		return nil, err
	}

	if st.Ledger.Participants, err = s.loadParticipants(); err != nil {
		return nil, err
	}
	if st.Ledger.Tranches, err = s.loadTranches(); err != nil {
		return nil, err
	}
	st.Normalize()
	return &st, nil
}

func (s *SQLiteStore) loadParticipants() (map[string]model.Participant, error) {
	rows, err := s.db.Query(`SELECT id, principal, active, settled_tranche, credited_reward,
		paid_out, deposited_at, withdrawn_at FROM participants`)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Participant)
	for rows.Next() {
		var (
			p                         model.Participant
			principal, credited, paid string
			active                    int
			depositedNs, withdrawnNs  int64
		)
		if err := rows.Scan(&p.ID, &principal, &active, &p.SettledTranche, &credited,
			&paid, &depositedNs, &withdrawnNs); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.Active = active != 0
		p.DepositedAt = fromNanos(depositedNs)
		p.WithdrawnAt = fromNanos(withdrawnNs)
		if p.Principal, err = parseInt(principal); err != nil {
			return nil, err
		}
		if p.CreditedReward, err = parseInt(credited); err != nil {
			return nil, err
		}
		if p.PaidOut, err = parseInt(paid); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *SQLiteStore) loadTranches() ([]model.TrancheState, error) {
	rows, err := s.db.Query(`SELECT tranche, amount, denominator, remaining_reward, remaining_stake
		FROM tranches ORDER BY tranche`)
	if err != nil {
		return nil, fmt.Errorf("load tranches: %w", err)
	}
	defer rows.Close()

	var out []model.TrancheState
	for rows.Next() {
		var (
			tr                        model.TrancheState
			amount, den, rrew, rstake string
		)
		if err := rows.Scan(&tr.Tranche, &amount, &den, &rrew, &rstake); err != nil {
			return nil, fmt.Errorf("scan tranche: %w", err)
		}
		for _, f := range []struct {
			dst *sdkmath.Int
			src string
		}{{&tr.Amount, amount}, {&tr.Denominator, den}, {&tr.RemainingReward, rrew}, {&tr.RemainingStake, rstake}} {
			if *f.dst, err = parseInt(f.src); err != nil {
				return nil, err
			}
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Save(state *model.BankState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now()
	tranches, err := json.Marshal(state.Config.Tranches)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO pool
		(id, reward_total, window_ns, deploy_time, operator, pool_account, tranches, total_active_stake, swept, updated_at)
		VALUES (1,?,?,?,?,?,?,?,?,?)`,
		model.OrZero(state.Config.RewardTotal).String(), int64(state.Config.Window),
		toNanos(state.Config.DeployTime), state.Config.Operator, state.Config.PoolAccount,
		string(tranches), model.OrZero(state.Ledger.TotalActiveStake).String(),
		model.OrZero(state.Swept).String(), toNanos(state.UpdatedAt),
	); err != nil {
		return fmt.Errorf("save pool: %w", err)
	}

	for _, p := range state.Ledger.Participants {
		active := 0
		if p.Active {
			active = 1
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO participants
			(id, principal, active, settled_tranche, credited_reward, paid_out, deposited_at, withdrawn_at)
			VALUES (?,?,?,?,?,?,?,?)`,
			p.ID, model.OrZero(p.Principal).String(), active, p.SettledTranche,
			model.OrZero(p.CreditedReward).String(), model.OrZero(p.PaidOut).String(),
			toNanos(p.DepositedAt), toNanos(p.WithdrawnAt),
		); err != nil {
			return fmt.Errorf("save participant %s: %w", p.ID, err)
		}
	}

	for _, tr := range state.Ledger.Tranches {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO tranches
			(tranche, amount, denominator, remaining_reward, remaining_stake)
			VALUES (?,?,?,?,?)`,
			tr.Tranche, model.OrZero(tr.Amount).String(), model.OrZero(tr.Denominator).String(),
			model.OrZero(tr.RemainingReward).String(), model.OrZero(tr.RemainingStake).String(),
		); err != nil {
			return fmt.Errorf("save tranche %d: %w", tr.Tranche, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	log.Println("[INFO] closing sqlite store")
	return s.db.Close()
}

func parseInt(s string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
