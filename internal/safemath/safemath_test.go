package safemath

import (
	"errors"
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"

	"TrancheBank/internal/model"
)

func pow2(n uint) sdkmath.Int {
	return sdkmath.NewIntFromBigInt(new(big.Int).Lsh(big.NewInt(1), n))
}

func maxInt() sdkmath.Int {
	return pow2(255).Sub(sdkmath.OneInt()).Add(pow2(255))
}

func TestAdd(t *testing.T) {
	tests := []struct {
		name    string
		a, b    sdkmath.Int
		want    string
		wantErr bool
	}{
		{"small", sdkmath.NewInt(2), sdkmath.NewInt(3), "5", false},
		{"fits at the top", pow2(255), pow2(255).Sub(sdkmath.OneInt()), maxInt().String(), false},
		{"overflows", pow2(255), pow2(255), "", true},
		{"max plus one", maxInt(), sdkmath.OneInt(), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Add(tt.a, tt.b)
			if tt.wantErr {
				if !errors.Is(err, model.ErrOverflow) {
					t.Fatalf("expected ErrOverflow, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("Add = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMulDiv(t *testing.T) {
	// the product is 2^492, far past 256 bits; the quotient is not
	got, err := MulDiv(pow2(246), pow2(246), pow2(247))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(pow2(245)) {
		t.Errorf("MulDiv = %s, want 2^245", got)
	}

	got, err = MulDiv(sdkmath.NewInt(134), sdkmath.NewInt(1000), sdkmath.NewInt(2000))
	if err != nil || got.String() != "67" {
		t.Errorf("MulDiv = %s, %v; want 67", got, err)
	}

	if _, err := MulDiv(maxInt(), sdkmath.NewInt(2), sdkmath.OneInt()); !errors.Is(err, model.ErrOverflow) {
		t.Errorf("expected ErrOverflow for an oversized quotient, got %v", err)
	}
	if _, err := MulDiv(sdkmath.OneInt(), sdkmath.OneInt(), sdkmath.ZeroInt()); !errors.Is(err, model.ErrOverflow) {
		t.Errorf("expected error for zero divisor, got %v", err)
	}
}
