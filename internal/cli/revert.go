package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RevertOptions holds flags for the revert command.
type RevertOptions struct {
	*RootOptions
	To     int64
	Reason string
}

// NewRevertCommand creates the revert command.
func NewRevertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RevertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "revert <node-id>",
		Short: "Restore a subject to its state at a past instant",
		Long: `Restore a subject to its state at a past instant.

Nothing is deleted: the revert appends compensating records to the
ledger, so every instant before and after the revert stays
reconstructible.

Example:
  canonry revert n-aldric --db world.db --to 15000 --reason "session retcon"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevert(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.To, "to", 0, "instant to restore (unix millis)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "why this revert happened")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("reason")

	return cmd
}

func runRevert(opts *RevertOptions, nodeID string, cmd *cobra.Command) error {
	e, closeEnv, err := openEnv(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeEnv()

	txn, err := e.rec.Revert(cmd.Context(), nodeID, opts.To, opts.Reason)
	if err != nil {
		return WrapExitError(ExitCommandError, "revert", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return f.SuccessJSON(map[string]any{
			"subject_id":  nodeID,
			"reverted_to": opts.To,
			"txn":         txn,
			"noop":        txn == "",
		})
	}

	out := cmd.OutOrStdout()
	if txn == "" {
		fmt.Fprintf(out, "%s already matches its state at %d; nothing to do\n", nodeID, opts.To)
		return nil
	}
	fmt.Fprintf(out, "Reverted %s to %d (txn %s)\n", nodeID, opts.To, txn)
	return nil
}
