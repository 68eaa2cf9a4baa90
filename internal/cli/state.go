package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/loomworld/canonry/internal/canon"
	"github.com/loomworld/canonry/internal/reconstruct"
)

// StateAtOptions holds flags for the state-at command.
type StateAtOptions struct {
	*RootOptions
	At int64
}

// NewStateAtCommand creates the state-at command.
func NewStateAtCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateAtOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "state-at <node-id>",
		Short: "Reconstruct a subject's state at a past instant",
		Long: `Reconstruct a subject's state at a past instant.

The live state is replayed backwards through the ledger to the given
instant. Records stamped exactly at --at are included.

Example:
  canonry state-at n-aldric --db world.db --at 15000`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStateAt(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.At, "at", 0, "instant to reconstruct (unix millis)")
	cmd.MarkFlagRequired("at")

	return cmd
}

func runStateAt(opts *StateAtOptions, nodeID string, cmd *cobra.Command) error {
	e, closeEnv, err := openEnv(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeEnv()

	p, err := e.rec.StateAt(cmd.Context(), nodeID, opts.At)
	if err != nil {
		return WrapExitError(ExitCommandError, "reconstruct state", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return f.SuccessJSON(projectionView(p))
	}

	out := cmd.OutOrStdout()
	if !p.Exists {
		fmt.Fprintf(out, "%s did not exist at %d\n", nodeID, opts.At)
		return nil
	}
	fmt.Fprintf(out, "%s at %d:\n", nodeID, opts.At)
	fmt.Fprintf(out, "  kind:   %s\n", p.Kind)
	fmt.Fprintf(out, "  status: %s\n", p.Status)
	fmt.Fprintf(out, "  tags:   %v\n", p.SortedTags())
	if attrs, err := canon.MarshalCanonical(p.Attrs); err == nil {
		fmt.Fprintf(out, "  attrs:  %s\n", attrs)
	}
	if len(p.Relations) > 0 {
		keys := make([]string, 0, len(p.Relations))
		for k := range p.Relations {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(out, "  relations:")
		for _, k := range keys {
			rel := p.Relations[k]
			window := "open"
			if rel.ValidTo != 0 {
				window = fmt.Sprintf("closed at %d", rel.ValidTo)
			}
			fmt.Fprintf(out, "    %s -> %s (%s since %d, %s)\n",
				rel.Type, rel.ObjectID, rel.ID, rel.ValidFrom, window)
		}
	}
	return nil
}

// projectionView flattens a projection for JSON output; the Tags map
// serializes as a sorted list.
func projectionView(p *reconstruct.Projection) map[string]any {
	return map[string]any{
		"subject_id":   p.SubjectID,
		"exists":       p.Exists,
		"kind":         p.Kind,
		"scope":        p.Scope,
		"canon_status": p.Status,
		"attrs":        p.Attrs,
		"tags":         p.SortedTags(),
		"relations":    p.Relations,
	}
}
