// Package safemath holds overflow-checked arithmetic for 256-bit amounts.
// sdkmath.Int panics when a result leaves its range; these helpers return
// model.ErrOverflow instead so callers can reject the operation cleanly.
package safemath

import (
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"

	"TrancheBank/internal/model"
)

// Add returns a + b.
func Add(a, b sdkmath.Int) (sdkmath.Int, error) {
	sum := new(big.Int).Add(a.BigInt(), b.BigInt())
	if sum.BitLen() > sdkmath.MaxBitLen {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s + %s", model.ErrOverflow, a, b)
	}
	return sdkmath.NewIntFromBigInt(sum), nil
}

// MulDiv returns floor(a * b / c). The product is held in an unbounded
// big.Int, so only the quotient has to fit.
func MulDiv(a, b, c sdkmath.Int) (sdkmath.Int, error) {
	if c.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: division by zero", model.ErrOverflow)
	}
	q := new(big.Int).Mul(a.BigInt(), b.BigInt())
	q.Quo(q, c.BigInt())
	if q.BitLen() > sdkmath.MaxBitLen {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s * %s / %s", model.ErrOverflow, a, b, c)
	}
	return sdkmath.NewIntFromBigInt(q), nil
}
