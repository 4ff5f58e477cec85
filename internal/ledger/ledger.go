// Package ledger keeps participant records and performs lazy tranche settlement.
//
// Tranche rewards are never pushed to participants. The first settlement that
// reaches tranche i opens it: the tranche amount and the pool's active stake at
// that instant are frozen into a TrancheState. Every participant who settles
// tranche i afterwards takes floor(remaining reward * principal / remaining stake)
// and removes both from the tranche, so the last settler collects the rounding
// remainder and a tranche never pays out more than its amount.
//
// The ledger is not safe for concurrent use; its owner serializes access.
package ledger

import (
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"

	"TrancheBank/internal/model"
	"TrancheBank/internal/safemath"
)

// Ledger owns all participant records and the pool-wide accounting totals.
type Ledger struct {
	participants map[string]*model.Participant
	tranches     []model.TrancheState
	totalActive  sdkmath.Int

	// bumped on every mutation; a Settlement is only valid against the version it saw
	version uint64
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		participants: make(map[string]*model.Participant),
		totalActive:  sdkmath.ZeroInt(),
	}
}

// FromState rebuilds a ledger from a persisted snapshot and checks its totals.
func FromState(st model.LedgerState) (*Ledger, error) {
	st.Normalize()
	l := New()
	active := sdkmath.ZeroInt()
	for id, p := range st.Participants {
		if p.ID == "" {
			p.ID = id
		}
		if p.ID != id {
			return nil, fmt.Errorf("participant key %q holds record for %q", id, p.ID)
		}
		if p.SettledTranche > len(st.Tranches) {
			return nil, fmt.Errorf("participant %q settled to tranche %d but only %d opened",
				id, p.SettledTranche, len(st.Tranches))
		}
		rec := p
		l.participants[id] = &rec
		if p.Active {
			var err error
			if active, err = safemath.Add(active, p.Principal); err != nil {
				return nil, fmt.Errorf("total active stake: %w", err)
			}
		}
	}
	if !active.Equal(st.TotalActiveStake) {
		return nil, fmt.Errorf("total active stake %s does not match active principals %s", st.TotalActiveStake, active)
	}
	for i, tr := range st.Tranches {
		if tr.Tranche != i+1 {
			return nil, fmt.Errorf("tranche slot %d holds tranche %d", i+1, tr.Tranche)
		}
		if tr.RemainingReward.GT(tr.Amount) || tr.RemainingStake.GT(tr.Denominator) {
			return nil, fmt.Errorf("tranche %d remaining exceeds its frozen snapshot", tr.Tranche)
		}
	}
	l.totalActive = active
	l.tranches = append(l.tranches, st.Tranches...)
	return l, nil
}

// State returns a copy suitable for persisting.
func (l *Ledger) State() model.LedgerState {
	st := model.LedgerState{
		Participants:     make(map[string]model.Participant, len(l.participants)),
		Tranches:         make([]model.TrancheState, len(l.tranches)),
		TotalActiveStake: l.totalActive,
	}
	for id, p := range l.participants {
		st.Participants[id] = *p
	}
	copy(st.Tranches, l.tranches)
	return st
}

// Get returns a copy of a participant record.
func (l *Ledger) Get(id string) (model.Participant, bool) {
	p, ok := l.participants[id]
	if !ok {
		return model.Participant{}, false
	}
	return *p, true
}

// IDs returns all participant ids in sorted order.
func (l *Ledger) IDs() []string {
	ids := make([]string, 0, len(l.participants))
	for id := range l.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TotalActiveStake is the sum of principal over active participants.
func (l *Ledger) TotalActiveStake() sdkmath.Int { return l.totalActive }

// LastSettledTranche is the highest tranche opened by any settlement.
func (l *Ledger) LastSettledTranche() int { return len(l.tranches) }

// Tranche returns the frozen snapshot of tranche i, if it has been opened.
func (l *Ledger) Tranche(i int) (model.TrancheState, bool) {
	if i <= 0 || i > len(l.tranches) {
		return model.TrancheState{}, false
	}
	return l.tranches[i-1], true
}

// Counts reports how many participants are active and how many have withdrawn.
func (l *Ledger) Counts() (active, withdrawn int) {
	for _, p := range l.participants {
		if p.Active {
			active++
		} else {
			withdrawn++
		}
	}
	return active, withdrawn
}

// CheckDeposit validates a deposit without changing anything.
func (l *Ledger) CheckDeposit(id string, amount sdkmath.Int) error {
	_, err := l.stakeAfter(id, amount)
	return err
}

// stakeAfter is the total active stake once id's deposit is accepted.
func (l *Ledger) stakeAfter(id string, amount sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.Int{}, model.ErrInvalidAmount
	}
	if _, ok := l.participants[id]; ok {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", model.ErrDuplicateDeposit, id)
	}
	total, err := safemath.Add(l.totalActive, amount)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("deposit %s for %s: %w", amount, id, err)
	}
	return total, nil
}

// Deposit creates the participant record. One deposit per participant, ever.
func (l *Ledger) Deposit(id string, amount sdkmath.Int, at time.Time) error {
	total, err := l.stakeAfter(id, amount)
	if err != nil {
		return err
	}
	l.participants[id] = &model.Participant{
		ID:             id,
		Principal:      amount,
		Active:         true,
		CreditedReward: sdkmath.ZeroInt(),
		PaidOut:        sdkmath.ZeroInt(),
		DepositedAt:    at,
	}
	l.totalActive = total
	l.version++
	return nil
}
