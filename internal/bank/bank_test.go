package bank

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"TrancheBank/internal/clock"
	"TrancheBank/internal/model"
	"TrancheBank/internal/recorder"
	"TrancheBank/internal/store"
	"TrancheBank/internal/token"
)

const window = time.Hour

var deploy = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func n(v int64) sdkmath.Int { return sdkmath.NewInt(v) }

type fixture struct {
	ctx   context.Context
	tok   *token.Memory
	clock *clock.Manual
	bank  *Bank
}

func referenceConfig() model.PoolConfig {
	return model.PoolConfig{
		RewardTotal: n(1000),
		Window:      window,
		DeployTime:  deploy,
		Operator:    "owner",
		PoolAccount: "bank",
		Tranches:    []uint32{2000, 5000, 10000},
	}
}

// fundedToken funds the pool with the full reward and gives alice, bob and
// carol 1000 each with a matching allowance.
func fundedToken(t *testing.T) *token.Memory {
	t.Helper()
	tok := token.NewMemory()
	require.NoError(t, tok.Mint("owner", n(10000)))
	require.NoError(t, tok.Transfer("owner", "bank", n(1000)))
	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, tok.Mint(id, n(1000)))
		require.NoError(t, tok.Approve(id, "bank", n(1000)))
	}
	return tok
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	return openFixture(t, fundedToken(t), opts)
}

func openFixture(t *testing.T, tok *token.Memory, opts Options) *fixture {
	t.Helper()
	clk := clock.NewManual(deploy)
	if opts.Config.Operator == "" {
		opts.Config = referenceConfig()
	}
	if opts.Asset == nil {
		opts.Asset = tok.Port("bank")
	}
	opts.Clock = clk
	b, err := Open(opts)
	require.NoError(t, err)
	return &fixture{ctx: context.Background(), tok: tok, clock: clk, bank: b}
}

func (f *fixture) at(d time.Duration) { f.clock.Set(deploy.Add(d)) }

func (f *fixture) depositAll(t *testing.T) {
	t.Helper()
	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, f.bank.Deposit(f.ctx, id, n(1000)))
	}
}

func TestReferenceScenario(t *testing.T) {
	f := newFixture(t, Options{})
	f.depositAll(t)
	require.Equal(t, "3000", f.bank.TotalActiveStake().String())
	require.Equal(t, "4000", f.tok.BalanceOf("bank").String())

	f.at(2 * window)
	require.Equal(t, model.Phase{Kind: model.PhaseDistribution, Tranche: 1}, f.bank.Phase())
	payout, err := f.bank.Withdraw(f.ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "1066", payout.String())

	f.at(3 * window)
	payout, err = f.bank.Withdraw(f.ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, "1217", payout.String())

	f.at(4 * window)
	swept, err := f.bank.WithdrawalByOwner(f.ctx, "owner")
	require.NoError(t, err)
	require.Equal(t, "1717", swept.String())
	require.Equal(t, "10717", f.tok.BalanceOf("owner").String())
	require.True(t, f.tok.BalanceOf("bank").IsZero())
	require.Equal(t, "1066", f.tok.BalanceOf("alice").String())
	require.Equal(t, "1217", f.tok.BalanceOf("bob").String())

	// carol's funds left with the sweep
	_, err = f.bank.Withdraw(f.ctx, "carol")
	require.ErrorIs(t, err, model.ErrTransfer)
	require.ErrorIs(t, err, token.ErrInsufficientBalance)
	p, err := f.bank.Participant("carol")
	require.NoError(t, err)
	require.True(t, p.Active)
	require.Equal(t, "1717", p.CreditedReward.Add(p.Principal).String())

	st, err := f.bank.Status(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "1717", st.Swept.String())
	require.Equal(t, 1, st.ActiveCount)
	require.Equal(t, 2, st.WithdrawnCount)
	require.Equal(t, 2, st.LastSettledTranche)
}

func TestAllWithdraw_ConservesFunds(t *testing.T) {
	f := newFixture(t, Options{})
	f.depositAll(t)

	want := map[string]string{"alice": "1066", "bob": "1217", "carol": "1717"}
	for i, id := range []string{"alice", "bob", "carol"} {
		f.at(time.Duration(2+i) * window)
		payout, err := f.bank.Withdraw(f.ctx, id)
		require.NoError(t, err)
		require.Equal(t, want[id], payout.String(), id)
	}
	require.True(t, f.tok.BalanceOf("bank").IsZero())
	require.True(t, f.bank.TotalActiveStake().IsZero())

	for i, den := range []int64{3000, 2000, 1000} {
		tr, ok := f.bank.OpenedTranche(i + 1)
		require.True(t, ok)
		require.Equal(t, n(den).String(), tr.Denominator.String())
		require.True(t, tr.RemainingReward.IsZero())
	}

	swept, err := f.bank.WithdrawalByOwner(f.ctx, "owner")
	require.NoError(t, err)
	require.True(t, swept.IsZero())
	require.Equal(t, "9000", f.tok.BalanceOf("owner").String())
}

func TestPhaseGating(t *testing.T) {
	f := newFixture(t, Options{})

	f.at(window - time.Nanosecond)
	require.NoError(t, f.bank.Deposit(f.ctx, "alice", n(1000)))
	_, err := f.bank.Withdraw(f.ctx, "alice")
	require.ErrorIs(t, err, model.ErrPhase)

	f.at(window)
	require.Equal(t, model.PhaseLocked, f.bank.Phase().Kind)
	require.ErrorIs(t, f.bank.Deposit(f.ctx, "bob", n(1000)), model.ErrPhase)
	require.Equal(t, "1000", f.tok.BalanceOf("bob").String())

	f.at(2*window - time.Nanosecond)
	_, err = f.bank.Withdraw(f.ctx, "alice")
	require.ErrorIs(t, err, model.ErrPhase)

	f.at(2 * window)
	require.ErrorIs(t, f.bank.Deposit(f.ctx, "bob", n(1000)), model.ErrPhase)
	payout, err := f.bank.Withdraw(f.ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "1200", payout.String(), "sole participant takes the whole tranche")
}

func TestDeposit_Errors(t *testing.T) {
	f := newFixture(t, Options{})

	require.ErrorIs(t, f.bank.Deposit(f.ctx, "alice", n(0)), model.ErrInvalidAmount)
	require.ErrorIs(t, f.bank.Deposit(f.ctx, "alice", n(-5)), model.ErrInvalidAmount)

	err := f.bank.Deposit(f.ctx, "dave", n(10))
	require.ErrorIs(t, err, model.ErrTransfer)
	require.ErrorIs(t, err, token.ErrInsufficientAllowance)
	_, err = f.bank.Participant("dave")
	require.ErrorIs(t, err, model.ErrNotFound)
	require.True(t, f.bank.TotalActiveStake().IsZero())

	require.NoError(t, f.bank.Deposit(f.ctx, "alice", n(400)))
	require.ErrorIs(t, f.bank.Deposit(f.ctx, "alice", n(400)), model.ErrDuplicateDeposit)
	require.Equal(t, "600", f.tok.BalanceOf("alice").String())
	require.Equal(t, "400", f.bank.TotalActiveStake().String())
}

func TestWithdraw_Errors(t *testing.T) {
	f := newFixture(t, Options{})
	f.depositAll(t)
	f.at(2 * window)

	_, err := f.bank.Withdraw(f.ctx, "mallory")
	require.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.bank.Withdraw(f.ctx, "alice")
	require.NoError(t, err)
	_, err = f.bank.Withdraw(f.ctx, "alice")
	require.ErrorIs(t, err, model.ErrAlreadyWithdrawn)
	require.Equal(t, "1066", f.tok.BalanceOf("alice").String())
}

type flakyAsset struct {
	Asset
	failCredit bool
}

var errLedgerDown = errors.New("asset ledger unavailable")

func (a *flakyAsset) Credit(ctx context.Context, to string, amount sdkmath.Int) error {
	if a.failCredit {
		return errLedgerDown
	}
	return a.Asset.Credit(ctx, to, amount)
}

func TestWithdraw_TransferFailureLeavesLedgerUntouched(t *testing.T) {
	tok := fundedToken(t)
	asset := &flakyAsset{Asset: tok.Port("bank")}
	f := openFixture(t, tok, Options{Asset: asset})
	f.depositAll(t)
	f.at(2 * window)

	asset.failCredit = true
	_, err := f.bank.Withdraw(f.ctx, "alice")
	require.ErrorIs(t, err, model.ErrTransfer)
	require.ErrorIs(t, err, errLedgerDown)

	p, err := f.bank.Participant("alice")
	require.NoError(t, err)
	require.True(t, p.Active)
	require.Equal(t, "3000", f.bank.TotalActiveStake().String())
	_, opened := f.bank.OpenedTranche(1)
	require.False(t, opened, "failed withdrawal must not open a tranche")

	asset.failCredit = false
	payout, err := f.bank.Withdraw(f.ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "1066", payout.String())
}

func TestWithdrawalByOwner_Unauthorized(t *testing.T) {
	f := newFixture(t, Options{})
	f.depositAll(t)

	_, err := f.bank.WithdrawalByOwner(f.ctx, "alice")
	require.ErrorIs(t, err, model.ErrUnauthorized)
	require.Equal(t, "4000", f.tok.BalanceOf("bank").String())

	// any phase, including Funding
	swept, err := f.bank.WithdrawalByOwner(f.ctx, "owner")
	require.NoError(t, err)
	require.Equal(t, "4000", swept.String())
}

func TestParticipant_PreviewDoesNotSettle(t *testing.T) {
	f := newFixture(t, Options{})
	f.depositAll(t)

	p, err := f.bank.Participant("alice")
	require.NoError(t, err)
	require.True(t, p.CreditedReward.IsZero())

	f.at(2 * window)
	for i := 0; i < 2; i++ {
		p, err = f.bank.Participant("alice")
		require.NoError(t, err)
		require.Equal(t, "66", p.CreditedReward.String())
		require.Equal(t, 1, p.SettledTranche)
	}
	_, opened := f.bank.OpenedTranche(1)
	require.False(t, opened)

	all := f.bank.Participants()
	require.Len(t, all, 3)
	require.Equal(t, "alice", all[0].ID)
	require.Equal(t, "carol", all[2].ID)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Options{})
	f.depositAll(t)

	st, err := f.bank.Status(f.ctx)
	require.NoError(t, err)
	require.Equal(t, model.PhaseFunding, st.Phase.Kind)
	require.Equal(t, 3, st.ActiveCount)
	require.Equal(t, "4000", st.PoolBalance.String())
	require.Equal(t, 3, st.TotalTranches)
	require.True(t, deploy.Add(window).Equal(st.NextBoundary))

	f.at(10 * window)
	st, err = f.bank.Status(f.ctx)
	require.NoError(t, err)
	require.Equal(t, model.Phase{Kind: model.PhaseDistribution, Tranche: 3}, st.Phase)
	require.True(t, st.NextBoundary.IsZero())
	require.True(t, deploy.Add(4*window).Equal(f.bank.UnlockTime(3)))
}

func TestOpen_InvalidConfig(t *testing.T) {
	tok := token.NewMemory()
	cases := []struct {
		name   string
		mutate func(*model.PoolConfig)
		target error
	}{
		{"zero reward", func(c *model.PoolConfig) { c.RewardTotal = n(0) }, model.ErrInvalidConfig},
		{"no window", func(c *model.PoolConfig) { c.Window = 0 }, model.ErrInvalidConfig},
		{"no operator", func(c *model.PoolConfig) { c.Operator = "" }, model.ErrInvalidConfig},
		{"operator is pool", func(c *model.PoolConfig) { c.Operator = "bank" }, model.ErrInvalidConfig},
		{"bad schedule", func(c *model.PoolConfig) { c.Tranches = []uint32{5000, 4000, 10000} }, model.ErrInvalidSchedule},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := referenceConfig()
			tc.mutate(&cfg)
			_, err := Open(Options{Config: cfg, Asset: tok.Port("bank")})
			require.ErrorIs(t, err, tc.target)
		})
	}

	_, err := Open(Options{Config: referenceConfig()})
	require.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestOpen_DefaultsScheduleAndDeployTime(t *testing.T) {
	tok := token.NewMemory()
	cfg := referenceConfig()
	cfg.Tranches = nil
	cfg.DeployTime = time.Time{}
	b, err := Open(Options{Config: cfg, Asset: tok.Port("bank"), Clock: clock.NewManual(deploy)})
	require.NoError(t, err)
	require.Equal(t, []uint32{2000, 5000, 10000}, b.Config().Tranches)
	require.True(t, deploy.Equal(b.Config().DeployTime))
}

func TestReopen_ContinuesFromStore(t *testing.T) {
	dir := t.TempDir()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			s, err := store.Open(driver, filepath.Join(dir, "bank-"+driver))
			require.NoError(t, err)
			f := newFixture(t, Options{Store: s})
			f.depositAll(t)
			f.at(2 * window)
			_, err = f.bank.Withdraw(f.ctx, "alice")
			require.NoError(t, err)
			require.NoError(t, s.Close())

			s, err = store.Open(driver, filepath.Join(dir, "bank-"+driver))
			require.NoError(t, err)
			defer s.Close()
			cfg := referenceConfig()
			cfg.RewardTotal = n(999999)
			f.clock.Set(deploy.Add(3 * window))
			again, err := Open(Options{Config: cfg, Asset: f.tok.Port("bank"), Clock: f.clock, Store: s})
			require.NoError(t, err)
			require.Equal(t, "1000", again.Config().RewardTotal.String(), "persisted config wins")

			tr, ok := again.OpenedTranche(1)
			require.True(t, ok)
			require.Equal(t, "3000", tr.Denominator.String())

			payout, err := again.Withdraw(f.ctx, "bob")
			require.NoError(t, err)
			require.Equal(t, "1217", payout.String())
			_, err = again.Withdraw(f.ctx, "alice")
			require.ErrorIs(t, err, model.ErrAlreadyWithdrawn)
		})
	}
}

func TestRecordsEvents(t *testing.T) {
	rec, err := recorder.NewSQLiteRecorder(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer rec.Close()

	f := newFixture(t, Options{Recorder: rec})
	f.depositAll(t)
	f.at(3 * window)
	_, err = f.bank.Withdraw(f.ctx, "alice")
	require.NoError(t, err)
	_, err = f.bank.WithdrawalByOwner(f.ctx, "owner")
	require.NoError(t, err)

	events, err := rec.History(0)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	require.Equal(t, []string{
		recorder.EventSweep,
		recorder.EventWithdrawal,
		recorder.EventTrancheOpened,
		recorder.EventTrancheOpened,
		recorder.EventDeposit,
		recorder.EventDeposit,
		recorder.EventDeposit,
	}, types)
	require.Equal(t, 2, events[2].Tranche)
}

func TestWithdraw_ClockSetBack(t *testing.T) {
	f := newFixture(t, Options{})
	f.depositAll(t)

	f.at(4 * window)
	_, err := f.bank.Withdraw(f.ctx, "alice")
	require.NoError(t, err)
	_, opened := f.bank.OpenedTranche(3)
	require.True(t, opened)

	f.at(2 * window)
	require.Equal(t, model.Phase{Kind: model.PhaseDistribution, Tranche: 1}, f.bank.Phase())
	payout, err := f.bank.Withdraw(f.ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, "1067", payout.String())
	p, err := f.bank.Participant("bob")
	require.NoError(t, err)
	require.Equal(t, 1, p.SettledTranche)
}

func TestWithdraw_LargeAmounts(t *testing.T) {
	amt := sdkmath.NewIntFromBigInt(new(big.Int).Lsh(big.NewInt(1), 246))
	tok := token.NewMemory()
	require.NoError(t, tok.Mint("owner", amt))
	require.NoError(t, tok.Transfer("owner", "bank", amt))
	require.NoError(t, tok.Mint("alice", amt))
	require.NoError(t, tok.Approve("alice", "bank", amt))

	cfg := referenceConfig()
	cfg.RewardTotal = amt
	f := openFixture(t, tok, Options{Config: cfg})
	require.NoError(t, f.bank.Deposit(f.ctx, "alice", amt))

	f.at(4 * window)
	var payout sdkmath.Int
	require.NotPanics(t, func() {
		var err error
		payout, err = f.bank.Withdraw(f.ctx, "alice")
		require.NoError(t, err)
	})
	want := amt
	for k := 1; k <= 3; k++ {
		want = want.Add(f.bank.Schedule().TrancheAmount(amt, k))
	}
	require.Equal(t, want.String(), payout.String())
	require.Equal(t, want.String(), f.tok.BalanceOf("alice").String())
}

type failingStore struct {
	store.Store
	fail bool
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) Save(st *model.BankState) error {
	if s.fail {
		return errDiskFull
	}
	return s.Store.Save(st)
}

func TestWithdraw_SaveFailurePaysNothing(t *testing.T) {
	fs := &failingStore{Store: store.NewMemoryStore()}
	f := newFixture(t, Options{Store: fs})
	f.depositAll(t)
	f.at(2 * window)

	fs.fail = true
	_, err := f.bank.Withdraw(f.ctx, "alice")
	require.ErrorIs(t, err, model.ErrPersist)
	require.ErrorIs(t, err, errDiskFull)
	require.True(t, f.tok.BalanceOf("alice").IsZero(), "nothing paid")
	require.Equal(t, "4000", f.tok.BalanceOf("bank").String())
	p, err := f.bank.Participant("alice")
	require.NoError(t, err)
	require.True(t, p.Active)
	_, opened := f.bank.OpenedTranche(1)
	require.False(t, opened)

	fs.fail = false
	payout, err := f.bank.Withdraw(f.ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "1066", payout.String())
	state, err := fs.Load()
	require.NoError(t, err)
	require.False(t, state.Ledger.Participants["alice"].Active)
}

func TestWithdraw_TransferFailureRestoresSavedState(t *testing.T) {
	tok := fundedToken(t)
	asset := &flakyAsset{Asset: tok.Port("bank")}
	s := store.NewMemoryStore()
	f := openFixture(t, tok, Options{Asset: asset, Store: s})
	f.depositAll(t)
	f.at(2 * window)

	asset.failCredit = true
	_, err := f.bank.Withdraw(f.ctx, "alice")
	require.ErrorIs(t, err, model.ErrTransfer)

	state, err := s.Load()
	require.NoError(t, err)
	require.True(t, state.Ledger.Participants["alice"].Active, "saved withdrawal rolled back")
	require.Empty(t, state.Ledger.Tranches)
}

func TestDeposit_SaveFailureRefunds(t *testing.T) {
	fs := &failingStore{Store: store.NewMemoryStore()}
	f := newFixture(t, Options{Store: fs})

	fs.fail = true
	err := f.bank.Deposit(f.ctx, "alice", n(1000))
	require.ErrorIs(t, err, model.ErrPersist)
	require.Equal(t, "1000", f.tok.BalanceOf("alice").String())
	require.Equal(t, "1000", f.tok.BalanceOf("bank").String())
	_, err = f.bank.Participant("alice")
	require.ErrorIs(t, err, model.ErrNotFound)
	require.True(t, f.bank.TotalActiveStake().IsZero())
}

func TestSweep_SaveFailureMovesNothing(t *testing.T) {
	fs := &failingStore{Store: store.NewMemoryStore()}
	f := newFixture(t, Options{Store: fs})
	f.depositAll(t)

	fs.fail = true
	_, err := f.bank.WithdrawalByOwner(f.ctx, "owner")
	require.ErrorIs(t, err, model.ErrPersist)
	require.Equal(t, "4000", f.tok.BalanceOf("bank").String())
	st, err := f.bank.Status(f.ctx)
	require.NoError(t, err)
	require.True(t, st.Swept.IsZero())
}

func TestReload_SeesOtherInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank_state.json")
	f := newFixture(t, Options{Store: store.NewFileStore(path)})
	f.depositAll(t)

	other, err := Open(Options{
		Config: referenceConfig(), Asset: f.tok.Port("bank"), Clock: f.clock, Store: store.NewFileStore(path),
	})
	require.NoError(t, err)

	f.at(2 * window)
	_, err = f.bank.Withdraw(f.ctx, "alice")
	require.NoError(t, err)

	p, err := other.Participant("alice")
	require.NoError(t, err)
	require.True(t, p.Active, "not reloaded yet")

	require.NoError(t, other.Reload())
	_, err = other.Withdraw(f.ctx, "alice")
	require.ErrorIs(t, err, model.ErrAlreadyWithdrawn)
	require.Equal(t, "1066", f.tok.BalanceOf("alice").String())

	payout, err := other.Withdraw(f.ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, "1067", payout.String())
	require.Equal(t, "1000", other.TotalActiveStake().String())
}
