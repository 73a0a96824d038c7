package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"botgate/internal/pow"
)

func newPowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pow",
		Short: "Proof-of-work helpers",
	}
	cmd.AddCommand(newPowSolveCmd(), newPowVerifyCmd())
	return cmd
}

func newPowSolveCmd() *cobra.Command {
	var maxAttempts int
	cmd := &cobra.Command{
		Use:   "solve <token>",
		Short: "Find a proof-of-work solution for a nonce token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			n, ok := pow.Solve(cmd.Context(), args[0], maxAttempts)
			if !ok {
				return fmt.Errorf("no solution within %d attempts", maxAttempts)
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			fmt.Fprintf(cmd.ErrOrStderr(), "solved in %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", pow.DefaultMaxAttempts, "give up after this many hashes")
	return cmd
}

func newPowVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token> <solution>",
		Short: "Check a proof-of-work solution without redeeming it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !pow.Verify(args[0], args[1]) {
				return errors.New("solution is not valid for this token")
			}
			// Verify only accepts canonical decimals.
			n, _ := strconv.ParseUint(args[1], 10, 64)
			fmt.Fprintf(cmd.OutOrStdout(), "valid: %s\n", pow.Digest(args[0], n))
			return nil
		},
	}
}
