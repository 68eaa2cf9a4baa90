package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworld/canonry/internal/gate"
)

// CanonizeOptions holds flags for the canonize command.
type CanonizeOptions struct {
	*RootOptions
}

// NewCanonizeCommand creates the canonize command.
func NewCanonizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CanonizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "canonize <scope>",
		Short: "Run the canonization gate over a scope's pending proposals",
		Long: `Run the canonization gate over a scope's pending proposals.

The whole pending batch is evaluated together: proposals are checked
against each other and against live canon, winners append to the ledger,
and losers are rejected with a rationale.

Example:
  canonry canonize ravenholm --db world.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCanonize(opts, args[0], cmd)
		},
	}

	return cmd
}

func runCanonize(opts *CanonizeOptions, scope string, cmd *cobra.Command) error {
	e, closeEnv, err := openEnv(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeEnv()

	res, err := e.gate.RunCanonization(cmd.Context(), scope)
	if err != nil {
		return WrapExitError(ExitCommandError, "canonization run", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return f.SuccessJSON(res)
	}

	out := cmd.OutOrStdout()
	printDecisions := func(label string, decisions []gate.Decision) {
		for _, d := range decisions {
			fmt.Fprintf(out, "%s  %s", label, d.ProposalID)
			if d.TxnID != "" {
				fmt.Fprintf(out, "  txn=%s", d.TxnID)
			}
			if d.Rationale != "" {
				fmt.Fprintf(out, "  (%s)", d.Rationale)
			}
			fmt.Fprintln(out)
		}
	}
	printDecisions("ACCEPTED", res.Accepted)
	printDecisions("REJECTED", res.Rejected)
	printDecisions("PENDING ", res.Pending)
	fmt.Fprintf(out, "%d accepted, %d rejected, %d pending\n",
		len(res.Accepted), len(res.Rejected), len(res.Pending))
	return nil
}
