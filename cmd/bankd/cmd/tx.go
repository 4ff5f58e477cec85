package cmd

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/spf13/cobra"
)

func TxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Run bank operations and local asset ledger transfers",
	}

	cmd.AddCommand(
		txDepositCmd(),
		txWithdrawCmd(),
		txSweepCmd(),
		txMintCmd(),
		txApproveCmd(),
		txFundCmd(),
	)

	return cmd
}

func parseAmount(s string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func txDepositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit [participant] [amount]",
		Short: "Deposit once during Funding (needs an allowance for the pool account)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.bank.Deposit(context.Background(), args[0], amount); err != nil {
				return err
			}
			fmt.Println("Deposit Accepted")
			fmt.Println("================")
			fmt.Printf("Participant:  %s\n", args[0])
			fmt.Printf("Amount:       %s\n", amount)
			fmt.Printf("Active stake: %s\n", a.bank.TotalActiveStake())
			return nil
		},
	}
}

func txWithdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw [participant]",
		Short: "Withdraw principal plus every reward unlocked so far",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			payout, err := a.bank.Withdraw(context.Background(), args[0])
			if err != nil {
				return err
			}
			p, err := a.bank.Participant(args[0])
			if err != nil {
				return err
			}
			fmt.Println("Withdrawal Paid")
			fmt.Println("===============")
			fmt.Printf("Participant: %s\n", p.ID)
			fmt.Printf("Principal:   %s\n", p.Principal)
			fmt.Printf("Reward:      %s (tranches 1-%d)\n", p.CreditedReward, p.SettledTranche)
			fmt.Printf("Payout:      %s\n", payout)
			return nil
		},
	}
}

func txSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep [caller]",
		Short: "Operator only: move the pool's entire balance to the operator",
		Long: `Moves the pool account's entire balance to the operator, in any phase.
Principal and reward of participants who have not withdrawn go with it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			swept, err := a.bank.WithdrawalByOwner(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Swept %s to %s\n", swept, args[0])
			if stake := a.bank.TotalActiveStake(); stake.IsPositive() {
				fmt.Printf("WARNING: %s of active stake is no longer backed by the pool\n", stake)
			}
			return nil
		},
	}
}

func txMintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mint [account] [amount]",
		Short: "Local asset ledger: create units for an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			_, tok, lk, err := openAsset(cmd)
			if err != nil {
				return err
			}
			defer lk.Unlock()
			if err := tok.Mint(args[0], amount); err != nil {
				return err
			}
			fmt.Printf("Minted %s to %s (balance %s)\n", amount, args[0], tok.BalanceOf(args[0]))
			return nil
		},
	}
}

func txApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve [owner] [amount]",
		Short: "Local asset ledger: let the pool account pull funds from owner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			cfg, tok, lk, err := openAsset(cmd)
			if err != nil {
				return err
			}
			defer lk.Unlock()
			spender, _ := cmd.Flags().GetString("spender")
			if spender == "" {
				if spender, err = resolvePoolAccount(cfg); err != nil {
					return err
				}
			}
			if err := tok.Approve(args[0], spender, amount); err != nil {
				return err
			}
			fmt.Printf("%s allows %s to spend %s\n", args[0], spender, amount)
			return nil
		},
	}

	cmd.Flags().String("spender", "", "Spender account (default: the bank's pool account)")

	return cmd
}

func txFundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fund [from] [amount]",
		Short: "Local asset ledger: transfer the reward into the pool account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			cfg, tok, lk, err := openAsset(cmd)
			if err != nil {
				return err
			}
			defer lk.Unlock()
			pool, err := resolvePoolAccount(cfg)
			if err != nil {
				return err
			}
			if err := tok.Transfer(args[0], pool, amount); err != nil {
				return err
			}
			fmt.Printf("Funded %s with %s from %s (pool balance %s)\n",
				pool, amount, args[0], tok.BalanceOf(pool))
			return nil
		},
	}
}
