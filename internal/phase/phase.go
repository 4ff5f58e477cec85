package phase

import (
	"time"

	"TrancheBank/internal/model"
)

// Resolve maps the current time onto the pool's state machine.
//
//	now < deploy+T          -> Funding
//	deploy+T <= now < +2T   -> Locked
//	now >= deploy+2T        -> Distribution(k), k = (now-deploy-2T)/T + 1, capped at tranches
//
// It has no side effects; the phase is never stored.
func Resolve(deploy time.Time, window time.Duration, now time.Time, tranches int) model.Phase {
	elapsed := now.Sub(deploy)
	switch {
	case elapsed < window:
		return model.Phase{Kind: model.PhaseFunding}
	case elapsed < 2*window:
		return model.Phase{Kind: model.PhaseLocked}
	}
	k := int((elapsed-2*window)/window) + 1
	if k > tranches {
		k = tranches
	}
	return model.Phase{Kind: model.PhaseDistribution, Tranche: k}
}

// UnlockTime returns when tranche i (1-based) becomes observable.
func UnlockTime(deploy time.Time, window time.Duration, i int) time.Time {
	return deploy.Add(time.Duration(1+i) * window)
}

// NextBoundary returns the next instant at which Resolve changes its answer,
// or the zero time once every tranche has unlocked.
func NextBoundary(deploy time.Time, window time.Duration, now time.Time, tranches int) time.Time {
	p := Resolve(deploy, window, now, tranches)
	switch p.Kind {
	case model.PhaseFunding:
		return deploy.Add(window)
	case model.PhaseLocked:
		return UnlockTime(deploy, window, 1)
	}
	if p.Tranche >= tranches {
		return time.Time{}
	}
	return UnlockTime(deploy, window, p.Tranche+1)
}
