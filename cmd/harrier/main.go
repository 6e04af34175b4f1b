// Harrier - Rule-based fraud decisions for payment transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "harrier",
		Short: "Harrier fraud decision engine",
		Long: `harrier scores payment transactions against prioritized fraud rules,
collects reported fraud as ground truth, and measures detection quality.

Running harrier without a subcommand starts the server.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./harrier.yaml or /etc/harrier/harrier.yaml)")

	root.AddCommand(newServeCmd(), newRulesCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
