package ledger

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"TrancheBank/internal/model"
	"TrancheBank/internal/safemath"
	"TrancheBank/internal/schedule"
)

var errStale = errors.New("settlement prepared against a different ledger state")

// TrancheShare is one participant's credit for one tranche.
type TrancheShare struct {
	Tranche int
	Reward  sdkmath.Int // tranche reward still undistributed before this share
	Stake   sdkmath.Int // stake still unsettled on the tranche, this participant included
	Share   sdkmath.Int // floor(Reward * principal / Stake)
}

// Settlement is the plan computed by Prepare*. Nothing in the ledger changes
// until it is passed to Commit, so the caller can run a fallible transfer in between.
type Settlement struct {
	Participant string
	Principal   sdkmath.Int
	From        int // exclusive
	To          int // inclusive
	Shares      []TrancheShare
	Reward      sdkmath.Int // sum of Shares
	Credited    sdkmath.Int // credited reward after this settlement
	Opened      []model.TrancheState
	Withdraw    bool
	Payout      sdkmath.Int // Principal + Credited, set only when Withdraw

	version uint64
}

// PrepareSettlement credits an active participant with every tranche in
// (SettledTranche, kNow]. kNow is the resolver's tranche index, 0 before Distribution.
// Tranches opened by earlier settlements beyond kNow are left alone, so a clock
// set back in time never credits a tranche that is not unlocked at kNow.
func (l *Ledger) PrepareSettlement(id string, kNow int, s *schedule.Schedule, rewardTotal sdkmath.Int) (*Settlement, error) {
	p, ok := l.participants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if !p.Active {
		return nil, fmt.Errorf("%w: %s", model.ErrAlreadyWithdrawn, id)
	}

	st := &Settlement{
		Participant: id,
		Principal:   p.Principal,
		From:        p.SettledTranche,
		To:          p.SettledTranche,
		Reward:      sdkmath.ZeroInt(),
		Opened:      l.opening(kNow, s, rewardTotal),
		version:     l.version,
	}
	view := append(append([]model.TrancheState(nil), l.tranches...), st.Opened...)
	for i := p.SettledTranche + 1; i <= min(kNow, len(view)); i++ {
		sh, err := shareOf(view[i-1], p.Principal)
		if err != nil {
			return nil, fmt.Errorf("settle tranche %d for %s: %w", i, id, err)
		}
		st.Shares = append(st.Shares, sh)
		if st.Reward, err = safemath.Add(st.Reward, sh.Share); err != nil {
			return nil, err
		}
		st.To = i
	}
	credited, err := safemath.Add(p.CreditedReward, st.Reward)
	if err != nil {
		return nil, fmt.Errorf("credit %s: %w", id, err)
	}
	st.Credited = credited
	return st, nil
}

// PrepareWithdrawal settles the participant and computes the final payout.
func (l *Ledger) PrepareWithdrawal(id string, kNow int, s *schedule.Schedule, rewardTotal sdkmath.Int) (*Settlement, error) {
	st, err := l.PrepareSettlement(id, kNow, s, rewardTotal)
	if err != nil {
		return nil, err
	}
	st.Withdraw = true
	if st.Payout, err = safemath.Add(st.Principal, st.Credited); err != nil {
		return nil, fmt.Errorf("payout for %s: %w", id, err)
	}
	return st, nil
}

// Commit applies a prepared settlement. It fails if the ledger changed since Prepare.
func (l *Ledger) Commit(st *Settlement, at time.Time) error {
	if st.version != l.version {
		return errStale
	}
	p, ok := l.participants[st.Participant]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrNotFound, st.Participant)
	}

	l.tranches = append(l.tranches, st.Opened...)
	for _, sh := range st.Shares {
		tr := &l.tranches[sh.Tranche-1]
		tr.RemainingReward = tr.RemainingReward.Sub(sh.Share)
		tr.RemainingStake = tr.RemainingStake.Sub(p.Principal)
	}
	p.CreditedReward = st.Credited
	p.SettledTranche = st.To
	if st.Withdraw {
		p.Active = false
		p.PaidOut = st.Payout
		p.WithdrawnAt = at
		l.totalActive = l.totalActive.Sub(p.Principal)
	}
	l.version++
	return nil
}

// Preview returns the participant record as it would look after settling to
// kNow right now, without opening any tranche.
func (l *Ledger) Preview(id string, kNow int, s *schedule.Schedule, rewardTotal sdkmath.Int) (model.Participant, error) {
	p, ok := l.participants[id]
	if !ok {
		return model.Participant{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	rec := *p
	if !rec.Active {
		return rec, nil
	}
	view := append(append([]model.TrancheState(nil), l.tranches...), l.opening(kNow, s, rewardTotal)...)
	for i := rec.SettledTranche + 1; i <= min(kNow, len(view)); i++ {
		sh, err := shareOf(view[i-1], rec.Principal)
		if err != nil {
			return model.Participant{}, err
		}
		if rec.CreditedReward, err = safemath.Add(rec.CreditedReward, sh.Share); err != nil {
			return model.Participant{}, err
		}
		rec.SettledTranche = i
	}
	return rec, nil
}

// opening lists the tranches a settlement at kNow would open, frozen at the current active stake.
func (l *Ledger) opening(kNow int, s *schedule.Schedule, rewardTotal sdkmath.Int) []model.TrancheState {
	if kNow > s.Tranches() {
		kNow = s.Tranches()
	}
	var opened []model.TrancheState
	for i := len(l.tranches) + 1; i <= kNow; i++ {
		amount := s.TrancheAmount(rewardTotal, i)
		opened = append(opened, model.TrancheState{
			Tranche:         i,
			Amount:          amount,
			Denominator:     l.totalActive,
			RemainingReward: amount,
			RemainingStake:  l.totalActive,
		})
	}
	return opened
}

func shareOf(tr model.TrancheState, principal sdkmath.Int) (TrancheShare, error) {
	sh := TrancheShare{
		Tranche: tr.Tranche,
		Reward:  tr.RemainingReward,
		Stake:   tr.RemainingStake,
		Share:   sdkmath.ZeroInt(),
	}
	if !tr.RemainingStake.IsPositive() {
		return sh, nil
	}
	share, err := safemath.MulDiv(tr.RemainingReward, principal, tr.RemainingStake)
	if err != nil {
		return sh, err
	}
	sh.Share = share
	return sh, nil
}
