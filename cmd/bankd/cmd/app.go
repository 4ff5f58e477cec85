package cmd

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"TrancheBank/internal/bank"
	"TrancheBank/internal/clock"
	"TrancheBank/internal/config"
	"TrancheBank/internal/recorder"
	"TrancheBank/internal/store"
	"TrancheBank/internal/token"
)

// app is everything one command invocation needs, opened from the config.
// It holds the state lock from openApp until Close or release.
type app struct {
	cfg   *config.Config
	clock clock.Clock
	lock  *store.FileLock
	tok   *token.Memory
	store store.Store
	rec   recorder.Recorder
	bank  *bank.Bank
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func clockFromFlags(cmd *cobra.Command) (clock.Clock, error) {
	at, _ := cmd.Flags().GetString("at")
	if at == "" {
		return clock.System{}, nil
	}
	t, err := parseTime(at)
	if err != nil {
		return nil, err
	}
	return clock.NewManual(t), nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339 or unix seconds", s)
}

// lockState takes the exclusive lock that serializes every process sharing
// the state store and the asset ledger file.
func lockState(cfg *config.Config) (*store.FileLock, error) {
	lk, err := store.Lock(store.LockPath(cfg.Store.StateFile))
	if err != nil {
		return nil, fmt.Errorf("lock state: %w", err)
	}
	return lk, nil
}

// openAsset opens only the local reference asset ledger, under the state lock.
// The caller releases the returned lock when done.
func openAsset(cmd *cobra.Command) (*config.Config, *token.Memory, *store.FileLock, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	lk, err := lockState(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	tok, err := token.OpenFile(cfg.Asset.LedgerFile)
	if err != nil {
		lk.Unlock()
		return nil, nil, nil, err
	}
	return cfg, tok, lk, nil
}

// persistedPoolAccount is the pool account the bank was created with, or
// fallback if nothing has been saved yet.
func persistedPoolAccount(st store.Store, fallback string) (string, error) {
	state, err := st.Load()
	if err != nil {
		return "", fmt.Errorf("load bank state: %w", err)
	}
	if state != nil && state.Config.PoolAccount != "" {
		return state.Config.PoolAccount, nil
	}
	return fallback, nil
}

// resolvePoolAccount opens the state store only to read the pool account.
func resolvePoolAccount(cfg *config.Config) (string, error) {
	st, err := store.Open(cfg.Store.Driver, cfg.Store.StateFile)
	if err != nil {
		return "", fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return persistedPoolAccount(st, cfg.Bank.PoolAccount)
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, tok, lk, err := openAsset(cmd)
	if err != nil {
		return nil, err
	}
	a, err := openBank(cmd, cfg, tok)
	if err != nil {
		lk.Unlock()
		return nil, err
	}
	a.lock = lk
	return a, nil
}

func openBank(cmd *cobra.Command, cfg *config.Config, tok *token.Memory) (*app, error) {
	clk, err := clockFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	pc, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Driver, cfg.Store.StateFile)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	pool, err := persistedPoolAccount(st, pc.PoolAccount)
	if err != nil {
		st.Close()
		return nil, err
	}

	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Printf("[WARN] init sqlite recorder failed, using noop: %v", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	b, err := bank.Open(bank.Options{
		Config:   pc,
		Asset:    tok.Port(pool),
		Clock:    clk,
		Store:    st,
		Recorder: rec,
	})
	if err != nil {
		st.Close()
		rec.Close()
		return nil, fmt.Errorf("open bank: %w", err)
	}
	return &app{cfg: cfg, clock: clk, tok: tok, store: st, rec: rec, bank: b}, nil
}

// release drops the state lock early. Long-running commands take it again
// around each refresh.
func (a *app) release() {
	if err := a.lock.Unlock(); err != nil {
		log.Printf("[ERROR] release state lock: %v", err)
	}
}

// refresh re-reads the asset ledger and the bank state under the state lock,
// picking up whatever other processes committed since the last read.
func (a *app) refresh() error {
	lk, err := lockState(a.cfg)
	if err != nil {
		return err
	}
	defer lk.Unlock()
	if err := a.tok.Reload(); err != nil {
		return err
	}
	return a.bank.Reload()
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Printf("[ERROR] close store: %v", err)
	}
	if err := a.rec.Close(); err != nil {
		log.Printf("[ERROR] close recorder: %v", err)
	}
	a.release()
}
