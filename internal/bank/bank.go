// Package bank is the pool controller: it gates every operation on the current
// phase, moves assets through the Asset port and keeps the ledger, the state
// store and the event history in step.
package bank

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"TrancheBank/internal/clock"
	"TrancheBank/internal/ledger"
	"TrancheBank/internal/model"
	"TrancheBank/internal/phase"
	"TrancheBank/internal/recorder"
	"TrancheBank/internal/safemath"
	"TrancheBank/internal/schedule"
	"TrancheBank/internal/store"
)

// Asset is the external balance ledger. Each call either fully happens or fails.
type Asset interface {
	// Debit pulls amount from an account into the pool.
	Debit(ctx context.Context, from string, amount sdkmath.Int) error
	// Credit pays amount out of the pool to an account.
	Credit(ctx context.Context, to string, amount sdkmath.Int) error
	BalanceOf(ctx context.Context, account string) (sdkmath.Int, error)
}

// Options wires a Bank. Clock, Store and Recorder are optional.
type Options struct {
	Config   model.PoolConfig
	Asset    Asset
	Clock    clock.Clock
	Store    store.Store
	Recorder recorder.Recorder
}

// Bank handles pool operations with concurrency safety. One mutex covers each
// operation end to end, including the asset call and the state save. An
// operation whose state cannot be saved is undone and fails with ErrPersist.
type Bank struct {
	mu sync.Mutex

	cfg    model.PoolConfig
	sched  *schedule.Schedule
	ledger *ledger.Ledger
	swept  sdkmath.Int

	asset Asset
	clock clock.Clock
	store store.Store
	rec   recorder.Recorder
}

// Open restores the bank from the store, or creates it from opts.Config if the
// store is empty. A persisted config always wins over the one passed in.
func Open(opts Options) (*Bank, error) {
	if opts.Asset == nil {
		return nil, fmt.Errorf("%w: no asset ledger", model.ErrInvalidConfig)
	}
	b := &Bank{
		asset: opts.Asset,
		clock: opts.Clock,
		store: opts.Store,
		rec:   opts.Recorder,
		swept: sdkmath.ZeroInt(),
	}
	if b.clock == nil {
		b.clock = clock.System{}
	}
	if b.store == nil {
		b.store = store.NewMemoryStore()
	}
	if b.rec == nil {
		b.rec = recorder.NewNoopRecorder()
	}

	state, err := b.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load bank state: %w", err)
	}

	if state != nil {
		if err := ValidateConfig(state.Config); err != nil {
			return nil, fmt.Errorf("persisted config: %w", err)
		}
		warnConfigDrift(state.Config, opts.Config)
		b.cfg = state.Config
		b.swept = state.Swept
		if b.ledger, err = ledger.FromState(state.Ledger); err != nil {
			return nil, fmt.Errorf("restore ledger: %w", err)
		}
	} else {
		cfg := opts.Config
		if len(cfg.Tranches) == 0 {
			cfg.Tranches = append([]uint32(nil), schedule.DefaultTranches...)
		}
		if cfg.DeployTime.IsZero() {
			cfg.DeployTime = b.clock.Now()
		}
		if err := ValidateConfig(cfg); err != nil {
			return nil, err
		}
		b.cfg = cfg
		b.ledger = ledger.New()
	}

	if b.sched, err = schedule.New(b.cfg.Tranches); err != nil {
		return nil, err
	}
	if b.ledger.LastSettledTranche() > b.sched.Tranches() {
		return nil, fmt.Errorf("%w: %d tranches opened but schedule has %d",
			model.ErrInvalidConfig, b.ledger.LastSettledTranche(), b.sched.Tranches())
	}

	if state == nil {
		if err := b.save(); err != nil {
			return nil, fmt.Errorf("save initial state: %w", err)
		}
		log.Printf("[INFO] bank created: reward=%s window=%s deploy=%s tranches=%v",
			b.cfg.RewardTotal, b.cfg.Window, b.cfg.DeployTime.Format(time.RFC3339), b.cfg.Tranches)
	} else {
		active, withdrawn := b.ledger.Counts()
		log.Printf("[INFO] bank restored: %d active, %d withdrawn, total active stake %s",
			active, withdrawn, b.ledger.TotalActiveStake())
	}
	return b, nil
}

// ValidateConfig checks the immutable pool parameters.
func ValidateConfig(cfg model.PoolConfig) error {
	if cfg.RewardTotal.IsNil() || !cfg.RewardTotal.IsPositive() {
		return fmt.Errorf("%w: reward total must be positive", model.ErrInvalidConfig)
	}
	if cfg.Window <= 0 {
		return fmt.Errorf("%w: window must be positive", model.ErrInvalidConfig)
	}
	if cfg.DeployTime.IsZero() {
		return fmt.Errorf("%w: deploy time not set", model.ErrInvalidConfig)
	}
	if cfg.Operator == "" {
		return fmt.Errorf("%w: operator not set", model.ErrInvalidConfig)
	}
	if cfg.PoolAccount == "" {
		return fmt.Errorf("%w: pool account not set", model.ErrInvalidConfig)
	}
	if cfg.PoolAccount == cfg.Operator {
		return fmt.Errorf("%w: pool account and operator must differ", model.ErrInvalidConfig)
	}
	if _, err := schedule.New(cfg.Tranches); err != nil {
		return err
	}
	return nil
}

func warnConfigDrift(persisted, given model.PoolConfig) {
	if !given.RewardTotal.IsNil() && !given.RewardTotal.Equal(persisted.RewardTotal) {
		log.Printf("[WARN] configured reward total %s ignored, pool was created with %s", given.RewardTotal, persisted.RewardTotal)
	}
	if given.Window != 0 && given.Window != persisted.Window {
		log.Printf("[WARN] configured window %s ignored, pool was created with %s", given.Window, persisted.Window)
	}
	if given.Operator != "" && given.Operator != persisted.Operator {
		log.Printf("[WARN] configured operator %q ignored, pool was created with %q", given.Operator, persisted.Operator)
	}
	if given.PoolAccount != "" && given.PoolAccount != persisted.PoolAccount {
		log.Printf("[WARN] configured pool account %q ignored, pool was created with %q", given.PoolAccount, persisted.PoolAccount)
	}
	if !given.DeployTime.IsZero() && !given.DeployTime.Equal(persisted.DeployTime) {
		log.Printf("[WARN] configured deploy time %s ignored, pool was created at %s",
			given.DeployTime.Format(time.RFC3339), persisted.DeployTime.Format(time.RFC3339))
	}
	if len(given.Tranches) > 0 && fmt.Sprint(given.Tranches) != fmt.Sprint(persisted.Tranches) {
		log.Printf("[WARN] configured tranches %v ignored, pool was created with %v", given.Tranches, persisted.Tranches)
	}
}

// Deposit records id's single deposit and pulls amount into the pool. Funding phase only.
func (b *Bank) Deposit(ctx context.Context, id string, amount sdkmath.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if ph := b.phaseAt(now); ph.Kind != model.PhaseFunding {
		return fmt.Errorf("%w: deposit during %s", model.ErrPhase, ph)
	}
	if err := b.ledger.CheckDeposit(id, amount); err != nil {
		return err
	}
	if err := b.asset.Debit(ctx, id, amount); err != nil {
		return fmt.Errorf("%w: debit %s from %s: %w", model.ErrTransfer, amount, id, err)
	}
	prev := b.ledger.State()
	if err := b.ledger.Deposit(id, amount, now); err != nil {
		// CheckDeposit passed under the same lock
		log.Printf("[ERROR] deposit of %s for %s transferred but not recorded: %v", amount, id, err)
		return err
	}
	if err := b.save(); err != nil {
		b.restore(prev)
		if rerr := b.asset.Credit(ctx, id, amount); rerr != nil {
			log.Printf("[ERROR] deposit of %s for %s not saved and refund failed: %v", amount, id, rerr)
		}
		return fmt.Errorf("%w: deposit for %s: %w", model.ErrPersist, id, err)
	}

	total := b.ledger.TotalActiveStake()
	log.Printf("[INFO] deposit: %s deposited %s, total active stake %s", id, amount, total)
	if err := b.rec.RecordDeposit(&recorder.DepositEvent{
		Participant: id, Amount: amount, TotalActive: total, At: now,
	}); err != nil {
		log.Printf("[ERROR] failed to record deposit: %v", err)
	}
	return nil
}

// Withdraw settles every tranche unlocked so far for id and pays out
// principal plus credited reward. Distribution phase only, at most once.
func (b *Bank) Withdraw(ctx context.Context, id string) (sdkmath.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	ph := b.phaseAt(now)
	if ph.Kind != model.PhaseDistribution {
		return sdkmath.Int{}, fmt.Errorf("%w: withdraw during %s", model.ErrPhase, ph)
	}
	st, err := b.ledger.PrepareWithdrawal(id, ph.Tranche, b.sched, b.cfg.RewardTotal)
	if err != nil {
		return sdkmath.Int{}, err
	}
	prev := b.ledger.State()
	if err := b.ledger.Commit(st, now); err != nil {
		return sdkmath.Int{}, err
	}
	// the withdrawal is on disk before any asset moves
	if err := b.save(); err != nil {
		b.restore(prev)
		return sdkmath.Int{}, fmt.Errorf("%w: withdrawal for %s: %w", model.ErrPersist, id, err)
	}
	if err := b.asset.Credit(ctx, id, st.Payout); err != nil {
		b.restore(prev)
		if serr := b.save(); serr != nil {
			log.Printf("[ERROR] withdrawal for %s saved but %s not paid, reconcile manually: %v", id, st.Payout, serr)
		}
		return sdkmath.Int{}, fmt.Errorf("%w: pay %s to %s: %w", model.ErrTransfer, st.Payout, id, err)
	}

	total := b.ledger.TotalActiveStake()
	log.Printf("[INFO] withdraw: %s paid %s (principal %s + reward %s) at %s, total active stake %s",
		id, st.Payout, st.Principal, st.Credited, ph, total)
	for _, tr := range st.Opened {
		log.Printf("[INFO] tranche %d opened: amount %s over active stake %s", tr.Tranche, tr.Amount, tr.Denominator)
	}

	for _, tr := range st.Opened {
		if err := b.rec.RecordTrancheOpened(&recorder.TrancheOpenedEvent{
			Tranche: tr.Tranche, Amount: tr.Amount, Denominator: tr.Denominator, At: now,
		}); err != nil {
			log.Printf("[ERROR] failed to record tranche %d: %v", tr.Tranche, err)
		}
	}
	if err := b.rec.RecordWithdrawal(&recorder.WithdrawalEvent{
		Participant: id, Principal: st.Principal, Reward: st.Credited, Payout: st.Payout,
		SettledTranche: st.To, TotalActive: total, At: now,
	}); err != nil {
		log.Printf("[ERROR] failed to record withdrawal: %v", err)
	}
	return st.Payout, nil
}

// WithdrawalByOwner transfers the pool account's entire balance to the
// operator, in any phase. Active participants' principal and unsettled reward
// go with it; their later withdrawals fail at the asset ledger.
func (b *Bank) WithdrawalByOwner(ctx context.Context, caller string) (sdkmath.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if caller != b.cfg.Operator {
		return sdkmath.Int{}, fmt.Errorf("%w: %q", model.ErrUnauthorized, caller)
	}
	now := b.clock.Now()
	balance, err := b.asset.BalanceOf(ctx, b.cfg.PoolAccount)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: read pool balance: %w", model.ErrTransfer, err)
	}

	active, _ := b.ledger.Counts()
	if active > 0 {
		log.Printf("[WARN] sweep of %s while %d participants are still active (stake %s)",
			balance, active, b.ledger.TotalActiveStake())
	}
	swept, err := safemath.Add(b.swept, balance)
	if err != nil {
		return sdkmath.Int{}, err
	}
	prevSwept := b.swept
	b.swept = swept
	if err := b.save(); err != nil {
		b.swept = prevSwept
		return sdkmath.Int{}, fmt.Errorf("%w: sweep: %w", model.ErrPersist, err)
	}
	if balance.IsPositive() {
		if err := b.asset.Credit(ctx, caller, balance); err != nil {
			b.swept = prevSwept
			if serr := b.save(); serr != nil {
				log.Printf("[ERROR] sweep of %s saved but not paid, reconcile manually: %v", balance, serr)
			}
			return sdkmath.Int{}, fmt.Errorf("%w: sweep %s to %s: %w", model.ErrTransfer, balance, caller, err)
		}
	}

	log.Printf("[INFO] sweep: %s took %s at %s, swept total %s", caller, balance, b.phaseAt(now), b.swept)
	if err := b.rec.RecordSweep(&recorder.SweepEvent{
		Operator: caller, Amount: balance, ActiveRemaining: active, At: now,
	}); err != nil {
		log.Printf("[ERROR] failed to record sweep: %v", err)
	}
	return balance, nil
}

// Phase resolves the current phase. It never changes state.
func (b *Bank) Phase() model.Phase {
	return b.phaseAt(b.clock.Now())
}

// Tranche is the index of the latest unlocked tranche, 0 before Distribution.
func (b *Bank) Tranche() int {
	return b.Phase().Tranche
}

// Participant returns id's record with its credited reward brought up to date,
// without settling anything.
func (b *Bank) Participant(id string) (model.Participant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Preview(id, b.Phase().Tranche, b.sched, b.cfg.RewardTotal)
}

// Participants previews every participant, sorted by id.
func (b *Bank) Participants() []model.Participant {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := b.Phase().Tranche
	ids := b.ledger.IDs()
	out := make([]model.Participant, 0, len(ids))
	for _, id := range ids {
		p, err := b.ledger.Preview(id, k, b.sched, b.cfg.RewardTotal)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

// TotalActiveStake is the sum of principal over participants who have not withdrawn.
func (b *Bank) TotalActiveStake() sdkmath.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.TotalActiveStake()
}

// OpenedTranche returns the snapshot of tranche i once a settlement has reached it.
func (b *Bank) OpenedTranche(i int) (model.TrancheState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Tranche(i)
}

// Config returns the pool parameters the bank runs with.
func (b *Bank) Config() model.PoolConfig {
	cfg := b.cfg
	cfg.Tranches = append([]uint32(nil), b.cfg.Tranches...)
	return cfg
}

// Schedule returns the tranche schedule.
func (b *Bank) Schedule() *schedule.Schedule { return b.sched }

// UnlockTime is when tranche i becomes claimable.
func (b *Bank) UnlockTime(i int) time.Time {
	return phase.UnlockTime(b.cfg.DeployTime, b.cfg.Window, i)
}

// Status builds a read-only snapshot of the pool.
func (b *Bank) Status(ctx context.Context) (model.PoolStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	balance, err := b.asset.BalanceOf(ctx, b.cfg.PoolAccount)
	if err != nil {
		return model.PoolStatus{}, fmt.Errorf("%w: read pool balance: %w", model.ErrTransfer, err)
	}
	active, withdrawn := b.ledger.Counts()
	return model.PoolStatus{
		Phase:              b.phaseAt(now),
		TotalActiveStake:   b.ledger.TotalActiveStake(),
		RewardTotal:        b.cfg.RewardTotal,
		ActiveCount:        active,
		WithdrawnCount:     withdrawn,
		LastSettledTranche: b.ledger.LastSettledTranche(),
		TotalTranches:      b.sched.Tranches(),
		PoolBalance:        balance,
		Swept:              b.swept,
		NextBoundary:       phase.NextBoundary(b.cfg.DeployTime, b.cfg.Window, now, b.sched.Tranches()),
		Now:                now,
	}, nil
}

// Now is the bank clock's current time.
func (b *Bank) Now() time.Time { return b.clock.Now() }

func (b *Bank) phaseAt(now time.Time) model.Phase {
	return phase.Resolve(b.cfg.DeployTime, b.cfg.Window, now, b.sched.Tranches())
}

// Reload replaces the ledger with what the store holds now, picking up
// operations saved by another process since Open. The config is immutable
// once persisted and is not re-read.
func (b *Bank) Reload() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.store.Load()
	if err != nil {
		return fmt.Errorf("load bank state: %w", err)
	}
	if state == nil {
		return nil
	}
	l, err := ledger.FromState(state.Ledger)
	if err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	if l.LastSettledTranche() > b.sched.Tranches() {
		return fmt.Errorf("%w: %d tranches opened but schedule has %d",
			model.ErrInvalidConfig, l.LastSettledTranche(), b.sched.Tranches())
	}
	b.ledger = l
	b.swept = state.Swept
	return nil
}

// restore puts back a ledger captured with State before a failed operation.
func (b *Bank) restore(st model.LedgerState) {
	l, err := ledger.FromState(st)
	if err != nil {
		log.Printf("[ERROR] failed to restore ledger: %v", err)
		return
	}
	b.ledger = l
}

func (b *Bank) save() error {
	return b.store.Save(&model.BankState{
		Config: b.Config(),
		Ledger: b.ledger.State(),
		Swept:  b.swept,
	})
}
