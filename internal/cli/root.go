// Package cli implements botgatectl, the operator tool for the gate.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "botgatectl",
		Short:         "Operator tool for the bot gate",
		Long:          "Solves and inspects challenge tokens, issues test tokens and manages the Postgres blocklist.",
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       version,
	}
	root.AddCommand(newPowCmd(), newTokenCmd(), newBlocklistCmd())
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
