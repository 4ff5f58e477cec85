package model

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// PoolConfig is fixed when the bank is created and never mutated.
type PoolConfig struct {
	RewardTotal sdkmath.Int   `json:"reward_total"`
	Window      time.Duration `json:"window"`
	DeployTime  time.Time     `json:"deploy_time"`
	Operator    string        `json:"operator"`
	PoolAccount string        `json:"pool_account"`
	Tranches    []uint32      `json:"tranches"` // cumulative basis points
}

// Participant is one depositor's record. It survives withdrawal as a settlement record.
type Participant struct {
	ID             string      `json:"id"`
	Principal      sdkmath.Int `json:"principal"`
	Active         bool        `json:"active"`
	SettledTranche int         `json:"settled_tranche"`
	CreditedReward sdkmath.Int `json:"credited_reward"`
	PaidOut        sdkmath.Int `json:"paid_out"`
	DepositedAt    time.Time   `json:"deposited_at"`
	WithdrawnAt    time.Time   `json:"withdrawn_at,omitempty"`
}

// TrancheState is opened the first time any settlement reaches the tranche.
// Amount and Denominator are frozen at that moment; the Remaining fields drain
// as participants settle the tranche, and the last settler takes what is left.
type TrancheState struct {
	Tranche         int         `json:"tranche"`
	Amount          sdkmath.Int `json:"amount"`
	Denominator     sdkmath.Int `json:"denominator"`
	RemainingReward sdkmath.Int `json:"remaining_reward"`
	RemainingStake  sdkmath.Int `json:"remaining_stake"`
}

// LedgerState is the serializable form of the participant ledger.
// Tranches[i-1] belongs to tranche i; len(Tranches) is the last settled tranche.
type LedgerState struct {
	Participants     map[string]Participant `json:"participants"`
	Tranches         []TrancheState         `json:"tranches"`
	TotalActiveStake sdkmath.Int            `json:"total_active_stake"`
}

// BankState is everything that has to survive a restart.
type BankState struct {
	Config    PoolConfig  `json:"config"`
	Ledger    LedgerState `json:"ledger"`
	Swept     sdkmath.Int `json:"swept"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// PoolStatus is a read-only view used by queries and reports.
type PoolStatus struct {
	Phase              Phase
	TotalActiveStake   sdkmath.Int
	RewardTotal        sdkmath.Int
	ActiveCount        int
	WithdrawnCount     int
	LastSettledTranche int
	TotalTranches      int
	PoolBalance        sdkmath.Int
	Swept              sdkmath.Int
	NextBoundary       time.Time // zero once the last tranche is unlocked
	Now                time.Time
}

// OrZero maps the nil Int left by a missing JSON field or a zero struct to 0.
func OrZero(i sdkmath.Int) sdkmath.Int {
	if i.IsNil() {
		return sdkmath.ZeroInt()
	}
	return i
}

// Normalize replaces nil amounts so that arithmetic on a freshly decoded state never panics.
func (s *LedgerState) Normalize() {
	if s.Participants == nil {
		s.Participants = make(map[string]Participant)
	}
	for id, p := range s.Participants {
		p.Principal = OrZero(p.Principal)
		p.CreditedReward = OrZero(p.CreditedReward)
		p.PaidOut = OrZero(p.PaidOut)
		s.Participants[id] = p
	}
	for i := range s.Tranches {
		tr := &s.Tranches[i]
		tr.Amount = OrZero(tr.Amount)
		tr.Denominator = OrZero(tr.Denominator)
		tr.RemainingReward = OrZero(tr.RemainingReward)
		tr.RemainingStake = OrZero(tr.RemainingStake)
	}
	s.TotalActiveStake = OrZero(s.TotalActiveStake)
}

// Normalize applies LedgerState.Normalize and fills the remaining nil amounts.
func (s *BankState) Normalize() {
	s.Config.RewardTotal = OrZero(s.Config.RewardTotal)
	s.Swept = OrZero(s.Swept)
	s.Ledger.Normalize()
}
