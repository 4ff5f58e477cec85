package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"TrancheBank/internal/model"
)

const timeLayout = "2006-01-02 15:04:05 MST"

func QueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query bank state (never settles anything)",
	}

	cmd.AddCommand(
		queryPhaseCmd(),
		queryPoolCmd(),
		queryParticipantCmd(),
		queryScheduleCmd(),
		queryEventsCmd(),
		queryBalanceCmd(),
	)

	return cmd
}

func queryPhaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phase",
		Short: "Show the current phase and tranche",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ph := a.bank.Phase()
			fmt.Printf("Phase:   %s\n", ph.Kind)
			fmt.Printf("Tranche: %d/%d\n", ph.Tranche, a.bank.Schedule().Tranches())
			fmt.Printf("Now:     %s\n", a.bank.Now().Format(timeLayout))
			return nil
		},
	}
}

func queryPoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Show pool totals and balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.bank.Status(context.Background())
			if err != nil {
				return err
			}
			cfg := a.bank.Config()
			fmt.Println("Pool Status")
			fmt.Println("===========")
			fmt.Printf("Phase:            %s\n", st.Phase)
			fmt.Printf("Reward total:     %s\n", st.RewardTotal)
			fmt.Printf("Active stake:     %s\n", st.TotalActiveStake)
			fmt.Printf("Participants:     %d active, %d withdrawn\n", st.ActiveCount, st.WithdrawnCount)
			fmt.Printf("Tranches settled: %d/%d\n", st.LastSettledTranche, st.TotalTranches)
			fmt.Printf("Pool account:     %s (balance %s)\n", cfg.PoolAccount, st.PoolBalance)
			fmt.Printf("Operator:         %s (swept %s)\n", cfg.Operator, st.Swept)
			if st.NextBoundary.IsZero() {
				fmt.Println("Next unlock:      none")
			} else {
				fmt.Printf("Next unlock:      %s\n", st.NextBoundary.Format(timeLayout))
			}
			return nil
		},
	}
}

func queryParticipantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "participant [id]",
		Short: "Show one participant, or all of them, with reward previewed to now",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var list []model.Participant
			if len(args) == 1 {
				p, err := a.bank.Participant(args[0])
				if err != nil {
					return err
				}
				list = append(list, p)
			} else {
				list = a.bank.Participants()
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPRINCIPAL\tREWARD\tTRANCHE\tSTATUS\tPAID")
			for _, p := range list {
				status := "active"
				if !p.Active {
					status = "withdrawn " + p.WithdrawnAt.Format(time.DateOnly)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					p.ID, p.Principal, p.CreditedReward, p.SettledTranche, status, p.PaidOut)
			}
			return w.Flush()
		},
	}
}

func queryScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Show every tranche with its amount and unlock time",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.bank.Config()
			s := a.bank.Schedule()
			fmt.Printf("Funding ends: %s\n", cfg.DeployTime.Add(cfg.Window).Format(timeLayout))
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TRANCHE\tBPS\tCUMULATIVE\tAMOUNT\tUNLOCKS\tDENOMINATOR")
			for k := 1; k <= s.Tranches(); k++ {
				den := "-"
				if tr, ok := a.bank.OpenedTranche(k); ok {
					den = tr.Denominator.String()
				}
				fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\n", k, s.TrancheBps(k), s.Cumulative(k),
					s.TrancheAmount(cfg.RewardTotal, k), a.bank.UnlockTime(k).Format(timeLayout), den)
			}
			return w.Flush()
		},
	}
}

func queryEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the most recent recorded events",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			events, err := a.rec.History(limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTYPE\tWHO\tTRANCHE\tAMOUNT\tNOTE")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", e.Timestamp.Format(timeLayout),
					e.Type, e.Participant, e.Tranche, e.Amount, e.Note)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Int("limit", 20, "Number of events (0 for all)")

	return cmd
}

func queryBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [account]",
		Short: "Local asset ledger: show an account's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tok, lk, err := openAsset(cmd)
			if err != nil {
				return err
			}
			defer lk.Unlock()
			pool, err := resolvePoolAccount(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s (allowance to %s: %s)\n", args[0], tok.BalanceOf(args[0]),
				pool, tok.Allowance(args[0], pool))
			return nil
		},
	}
}
