package token

import (
	"context"

	sdkmath "cosmossdk.io/math"
)

// Port binds a Memory ledger to the pool's account. Debit pulls funds into the
// pool through the pool's allowance; Credit pays out of the pool's balance.
type Port struct {
	ledger *Memory
	pool   string
}

// Port returns the bank-facing adapter for the given pool account.
func (m *Memory) Port(pool string) *Port {
	return &Port{ledger: m, pool: pool}
}

func (p *Port) Debit(ctx context.Context, from string, amount sdkmath.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.ledger.TransferFrom(p.pool, from, p.pool, amount)
}

func (p *Port) Credit(ctx context.Context, to string, amount sdkmath.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.ledger.Transfer(p.pool, to, amount)
}

func (p *Port) BalanceOf(ctx context.Context, account string) (sdkmath.Int, error) {
	if err := ctx.Err(); err != nil {
		return sdkmath.Int{}, err
	}
	return p.ledger.BalanceOf(account), nil
}
