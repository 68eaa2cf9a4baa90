package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworld/canonry/internal/canon"
	"github.com/loomworld/canonry/internal/reconstruct"
)

// CompareOptions holds flags for the compare command.
type CompareOptions struct {
	*RootOptions
	From int64
	To   int64
}

// NewCompareCommand creates the compare command.
func NewCompareCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompareOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compare <node-id>",
		Short: "Diff a subject's state between two instants",
		Long: `Diff a subject's state between two instants.

--to 0 compares against the live state.

Example:
  canonry compare n-aldric --db world.db --from 10000 --to 20000`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.From, "from", 0, "earlier instant (unix millis)")
	cmd.Flags().Int64Var(&opts.To, "to", 0, "later instant (unix millis, 0 = live)")
	cmd.MarkFlagRequired("from")

	return cmd
}

func runCompare(opts *CompareOptions, nodeID string, cmd *cobra.Command) error {
	e, closeEnv, err := openEnv(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeEnv()

	diff, err := e.rec.CompareAt(cmd.Context(), nodeID, opts.From, opts.To)
	if err != nil {
		return WrapExitError(ExitCommandError, "compare states", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return f.SuccessJSON(diff)
	}

	printSubjectDiff(cmd, diff)
	return nil
}

// printSubjectDiff renders one subject diff as text. Shared with the
// snapshot diff command.
func printSubjectDiff(cmd *cobra.Command, diff *reconstruct.Diff) {
	out := cmd.OutOrStdout()
	if diff.Empty() {
		fmt.Fprintf(out, "%s: no differences\n", diff.SubjectID)
		return
	}

	fmt.Fprintf(out, "%s:\n", diff.SubjectID)
	if diff.ExistsChanged {
		fmt.Fprintf(out, "  exists: %v -> %v\n", diff.ExistsFrom, diff.ExistsTo)
	}
	if diff.StatusFrom != diff.StatusTo {
		fmt.Fprintf(out, "  status: %s -> %s\n", diff.StatusFrom, diff.StatusTo)
	}
	for _, a := range diff.Attrs {
		fromJSON, _ := canon.MarshalCanonical(a.From)
		toJSON, _ := canon.MarshalCanonical(a.To)
		fmt.Fprintf(out, "  attr %s: %s -> %s\n", a.Path, fromJSON, toJSON)
	}
	if len(diff.TagsAdded) > 0 {
		fmt.Fprintf(out, "  tags added:   %v\n", diff.TagsAdded)
	}
	if len(diff.TagsRemoved) > 0 {
		fmt.Fprintf(out, "  tags removed: %v\n", diff.TagsRemoved)
	}
	for _, rc := range diff.Relations {
		switch {
		case rc.From == nil && rc.To != nil:
			fmt.Fprintf(out, "  relation opened: %s -> %s\n", rc.To.Type, rc.To.ObjectID)
		case rc.From != nil && rc.To == nil:
			fmt.Fprintf(out, "  relation removed: %s -> %s\n", rc.From.Type, rc.From.ObjectID)
		default:
			fmt.Fprintf(out, "  relation changed: %s -> %s\n", rc.To.Type, rc.To.ObjectID)
		}
	}
}
