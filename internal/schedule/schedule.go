package schedule

import (
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"

	"TrancheBank/internal/model"
)

// BasisPoints is the denominator of every schedule fraction.
const BasisPoints = 10_000

// DefaultTranches unlocks 20%, then 50%, then 100% of the reward pool (cumulative).
var DefaultTranches = []uint32{2000, 5000, 10000}

// Schedule is the fixed table of cumulative unlock fractions, one entry per tranche.
type Schedule struct {
	cumulative []uint32
}

// New validates a cumulative table: non-empty, positive, strictly increasing, ending at 100%.
func New(cumulativeBps []uint32) (*Schedule, error) {
	if len(cumulativeBps) == 0 {
		return nil, fmt.Errorf("%w: no tranches", model.ErrInvalidSchedule)
	}
	var prev uint32
	for i, c := range cumulativeBps {
		if c <= prev {
			return nil, fmt.Errorf("%w: tranche %d (%d bps) does not exceed tranche %d (%d bps)",
				model.ErrInvalidSchedule, i+1, c, i, prev)
		}
		prev = c
	}
	if prev != BasisPoints {
		return nil, fmt.Errorf("%w: last tranche is %d bps, want %d", model.ErrInvalidSchedule, prev, BasisPoints)
	}
	cp := make([]uint32, len(cumulativeBps))
	copy(cp, cumulativeBps)
	return &Schedule{cumulative: cp}, nil
}

// Default returns the 20/50/100 schedule.
func Default() *Schedule {
	s, _ := New(DefaultTranches)
	return s
}

// Tranches is N, the number of tranches.
func (s *Schedule) Tranches() int { return len(s.cumulative) }

// Table returns a copy of the cumulative table.
func (s *Schedule) Table() []uint32 {
	cp := make([]uint32, len(s.cumulative))
	copy(cp, s.cumulative)
	return cp
}

// Cumulative returns the fraction unlocked after tranche k, in bps. Cumulative(0) is 0.
func (s *Schedule) Cumulative(k int) uint32 {
	if k <= 0 {
		return 0
	}
	if k > len(s.cumulative) {
		k = len(s.cumulative)
	}
	return s.cumulative[k-1]
}

// TrancheBps is the fraction released by tranche k alone.
func (s *Schedule) TrancheBps(k int) uint32 {
	if k <= 0 || k > len(s.cumulative) {
		return 0
	}
	return s.Cumulative(k) - s.Cumulative(k-1)
}

// TrancheAmount is floor(total * TrancheBps(k) / 10000). Each tranche is floored
// on its own; no remainder is carried to the next one.
func (s *Schedule) TrancheAmount(total sdkmath.Int, k int) sdkmath.Int {
	bps := s.TrancheBps(k)
	if bps == 0 {
		return sdkmath.ZeroInt()
	}
	// the product can pass 256 bits; the quotient never exceeds total
	q := new(big.Int).Mul(total.BigInt(), big.NewInt(int64(bps)))
	return sdkmath.NewIntFromBigInt(q.Quo(q, big.NewInt(BasisPoints)))
}
