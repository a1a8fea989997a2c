package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/voltchain/internal/audit"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check ledger invariants",
		Long: `Check the records and the notification log of the configured namespace.

Verifies that the pool total equals the sum of lifetimes, sale ids are
0..period-1, claims are unique and well-formed, every record sits at its
derived address, the log is ordered with valid content hashes, and that
replaying the log reproduces the stored records.

Exit codes:
  0 - No violations
  1 - One or more violations
  2 - Command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(rootOpts, cmd)
		},
	}
}

func runAudit(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := audit.Run(cmd.Context(), st, opts.Config.Namespace)
	if err != nil {
		return WrapExitError(ExitCommandError, "audit", err).WithCode(ErrCodeStore)
	}

	if err := f.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "namespace %s: %d positions, %d sales, %d claims, %d notifications\n",
			res.Namespace, res.Positions, res.Sales, res.Claims, res.Notifications)
		if res.OK() {
			fmt.Fprintln(w, "✓ no violations")
			return
		}
		for _, v := range res.Violations {
			fmt.Fprintf(w, "✗ %s", v.Check)
			if v.Address != "" {
				fmt.Fprintf(w, " [%s]", v.Address)
			}
			fmt.Fprintf(w, ": %s\n", v.Message)
		}
	}); err != nil {
		return err
	}

	if !res.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d invariant violations", len(res.Violations)))
	}
	return nil
}
