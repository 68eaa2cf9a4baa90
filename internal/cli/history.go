package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworld/canonry/internal/canon"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	From int64
	To   int64
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <node-id>",
		Short: "List a subject's change records in ledger order",
		Long: `List a subject's change records in ledger order.

Timestamps are unix millis. --to 0 means open-ended.

Example:
  canonry history n-aldric --db world.db --from 10000 --to 20000`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.From, "from", 0, "window start, exclusive (unix millis)")
	cmd.Flags().Int64Var(&opts.To, "to", 0, "window end, inclusive (unix millis, 0 = open)")

	return cmd
}

func runHistory(opts *HistoryOptions, nodeID string, cmd *cobra.Command) error {
	e, closeEnv, err := openEnv(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeEnv()

	ref := canon.SubjectRef{Type: canon.SubjectNode, ID: nodeID}
	recs, err := e.store.SubjectHistory(cmd.Context(), ref, opts.From, opts.To)
	if err != nil {
		return WrapExitError(ExitCommandError, "read history", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return f.SuccessJSON(recs)
	}

	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintf(out, "No records for %s\n", nodeID)
		return nil
	}
	for _, rec := range recs {
		fmt.Fprintf(out, "%d  seq=%d  %s", rec.Timestamp, rec.Seq, rec.ChangeType)
		if rec.FieldPath != "" {
			fmt.Fprintf(out, "  %s", rec.FieldPath)
		}
		newJSON, err := canon.MarshalCanonical(rec.NewValue)
		if err == nil {
			fmt.Fprintf(out, "  -> %s", newJSON)
		}
		fmt.Fprintf(out, "  txn=%s\n", rec.TransactionID)
	}
	fmt.Fprintf(out, "%d records\n", len(recs))
	return nil
}
