package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bankd",
		Short: "TrancheBank - time-phased pooled deposit bank",
		Long: `TrancheBank holds a fixed reward pool and pays it out to depositors in
cumulative tranches.

Phases:
  Funding       deploy .. deploy+T       deposits accepted
  Locked        deploy+T .. deploy+2T    nothing moves
  Distribution  from deploy+2T           tranche k unlocks at deploy+(1+k)T,
                                         withdrawals pay principal + reward`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		ServeCmd(),
		TxCmd(),
		QueryCmd(),
		SimulateCmd(),
	)

	cfgPath := defaultConfigPath
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	rootCmd.PersistentFlags().String("config", cfgPath, "config file")
	rootCmd.PersistentFlags().String("at", "", "evaluate at a fixed time (RFC3339 or unix seconds) instead of the wall clock")

	return rootCmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
