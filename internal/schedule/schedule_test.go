package schedule

import (
	"errors"
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"

	"TrancheBank/internal/model"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name  string
		table []uint32
		ok    bool
	}{
		{"default", []uint32{2000, 5000, 10000}, true},
		{"single tranche", []uint32{10000}, true},
		{"empty", nil, false},
		{"zero first", []uint32{0, 10000}, false},
		{"flat", []uint32{5000, 5000, 10000}, false},
		{"decreasing", []uint32{6000, 5000, 10000}, false},
		{"short of 100%", []uint32{2000, 9000}, false},
		{"above 100%", []uint32{2000, 12000}, false},
	}
	for _, tt := range tests {
		_, err := New(tt.table)
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
		}
		if !tt.ok {
			if err == nil {
				t.Errorf("%s: expected error", tt.name)
			} else if !errors.Is(err, model.ErrInvalidSchedule) {
				t.Errorf("%s: expected ErrInvalidSchedule, got %v", tt.name, err)
			}
		}
	}
}

func TestTrancheBps(t *testing.T) {
	s := Default()
	want := map[int]uint32{0: 0, 1: 2000, 2: 3000, 3: 5000, 4: 0}
	for k, bps := range want {
		if got := s.TrancheBps(k); got != bps {
			t.Errorf("tranche %d: expected %d bps, got %d", k, bps, got)
		}
	}
	if s.Cumulative(s.Tranches()) != BasisPoints {
		t.Errorf("expected last cumulative to be %d", BasisPoints)
	}
}

func TestTrancheAmount_FloorsEachTrancheIndependently(t *testing.T) {
	s, err := New([]uint32{3333, 6666, 10000})
	if err != nil {
		t.Fatal(err)
	}
	total := sdkmath.NewInt(100)
	// 33.33 -> 33, 33.33 -> 33, 33.34 -> 33; one unit of dust stays behind.
	var sum int64
	for k := 1; k <= s.Tranches(); k++ {
		amt := s.TrancheAmount(total, k)
		if amt.Int64() != 33 {
			t.Errorf("tranche %d: expected 33, got %s", k, amt)
		}
		sum += amt.Int64()
	}
	if sum != 99 {
		t.Errorf("expected 99 distributed, got %d", sum)
	}
}

func TestTrancheAmount_NearMaxTotal(t *testing.T) {
	// 2^255 * 10000 is far beyond 256 bits; each tranche amount is not
	total := sdkmath.NewIntFromBigInt(new(big.Int).Lsh(big.NewInt(1), 255))
	s := Default()
	sum := sdkmath.ZeroInt()
	for k := 1; k <= s.Tranches(); k++ {
		amt := s.TrancheAmount(total, k)
		if amt.GT(total) {
			t.Fatalf("tranche %d amount %s exceeds total", k, amt)
		}
		sum = sum.Add(amt)
	}
	if sum.GT(total) || total.Sub(sum).GT(sdkmath.NewInt(int64(s.Tranches()))) {
		t.Errorf("tranches sum to %s, want within %d of %s", sum, s.Tranches(), total)
	}
}

func TestTable_IsCopy(t *testing.T) {
	s := Default()
	tbl := s.Table()
	tbl[0] = 1
	if s.Cumulative(1) != 2000 {
		t.Fatal("schedule mutated through Table()")
	}
}
