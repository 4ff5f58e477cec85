package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/spf13/cobra"

	"TrancheBank/internal/bank"
	"TrancheBank/internal/clock"
	"TrancheBank/internal/model"
	"TrancheBank/internal/schedule"
	"TrancheBank/internal/token"
)

// scenario describes a simulated pool: participant i (1-based) withdraws as
// soon as tranche i unlocks. With sweep set, the last participant never
// withdraws and the operator sweeps at the final tranche instead.
type scenario struct {
	Reward       sdkmath.Int
	Window       time.Duration
	Deposit      sdkmath.Int
	Participants int
	Tranches     []uint32
	Sweep        bool
}

type simResult struct {
	Payouts         map[string]sdkmath.Int
	Swept           sdkmath.Int
	OperatorBalance sdkmath.Int
	PoolBalance     sdkmath.Int
}

func SimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a pool end to end on a manual clock and an in-memory asset ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			reward, _ := cmd.Flags().GetString("reward")
			deposit, _ := cmd.Flags().GetString("deposit")
			window, _ := cmd.Flags().GetDuration("window")
			count, _ := cmd.Flags().GetInt("participants")
			tranches, _ := cmd.Flags().GetUintSlice("tranches")
			sweep, _ := cmd.Flags().GetBool("sweep")
			verbose, _ := cmd.Flags().GetBool("verbose")

			sc := scenario{Window: window, Participants: count, Sweep: sweep}
			var err error
			if sc.Reward, err = parseAmount(reward); err != nil {
				return err
			}
			if sc.Deposit, err = parseAmount(deposit); err != nil {
				return err
			}
			for _, t := range tranches {
				sc.Tranches = append(sc.Tranches, uint32(t))
			}

			if !verbose {
				prev := log.Writer()
				log.SetOutput(io.Discard)
				defer log.SetOutput(prev)
			}
			_, err = runSimulation(os.Stdout, sc)
			return err
		},
	}

	cmd.Flags().String("reward", "1000", "Reward pool")
	cmd.Flags().String("deposit", "1000", "Deposit per participant")
	cmd.Flags().Duration("window", time.Hour, "Phase window T")
	cmd.Flags().Int("participants", 3, "Number of participants")
	cmd.Flags().UintSlice("tranches", []uint{2000, 5000, 10000}, "Cumulative tranche table in basis points")
	cmd.Flags().Bool("sweep", true, "Last participant stays in and the operator sweeps the pool")
	cmd.Flags().Bool("verbose", false, "Show bank logs")

	return cmd
}

func runSimulation(w io.Writer, sc scenario) (*simResult, error) {
	const operator, pool = "operator", "pool"
	ctx := context.Background()
	if sc.Participants < 1 {
		return nil, fmt.Errorf("need at least one participant")
	}
	if len(sc.Tranches) == 0 {
		sc.Tranches = schedule.DefaultTranches
	}

	deploy := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewManual(deploy)
	tok := token.NewMemory()
	if err := tok.Mint(operator, sc.Reward.MulRaw(10)); err != nil {
		return nil, err
	}
	if err := tok.Transfer(operator, pool, sc.Reward); err != nil {
		return nil, err
	}

	b, err := bank.Open(bank.Options{
		Config: model.PoolConfig{
			RewardTotal: sc.Reward,
			Window:      sc.Window,
			DeployTime:  deploy,
			Operator:    operator,
			PoolAccount: pool,
			Tranches:    sc.Tranches,
		},
		Asset: tok.Port(pool),
		Clock: clk,
	})
	if err != nil {
		return nil, err
	}
	n := b.Schedule().Tranches()

	ids := make([]string, sc.Participants)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d", i+1)
		if err := tok.Mint(ids[i], sc.Deposit); err != nil {
			return nil, err
		}
		if err := tok.Approve(ids[i], pool, sc.Deposit); err != nil {
			return nil, err
		}
		if err := b.Deposit(ctx, ids[i], sc.Deposit); err != nil {
			return nil, err
		}
		fmt.Fprintf(w, "[%s] %s deposited %s\n", b.Phase(), ids[i], sc.Deposit)
	}

	res := &simResult{Payouts: make(map[string]sdkmath.Int), Swept: sdkmath.ZeroInt()}
	withdrawers := ids
	if sc.Sweep {
		withdrawers = ids[:len(ids)-1]
	}
	for i, id := range withdrawers {
		k := i + 1
		if k > n {
			k = n
		}
		clk.Set(b.UnlockTime(k))
		payout, err := b.Withdraw(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("withdraw %s: %w", id, err)
		}
		res.Payouts[id] = payout
		fmt.Fprintf(w, "[%s] %s withdrew %s\n", b.Phase(), id, payout)
	}

	if sc.Sweep {
		clk.Set(b.UnlockTime(n))
		if res.Swept, err = b.WithdrawalByOwner(ctx, operator); err != nil {
			return nil, err
		}
		fmt.Fprintf(w, "[%s] %s swept %s\n", b.Phase(), operator, res.Swept)
	}

	res.OperatorBalance = tok.BalanceOf(operator)
	res.PoolBalance = tok.BalanceOf(pool)
	fmt.Fprintf(w, "operator balance: %s\n", res.OperatorBalance)
	fmt.Fprintf(w, "pool balance:     %s\n", res.PoolBalance)
	return res, nil
}
