package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SnapshotOptions holds flags shared by the snapshot subcommands.
type SnapshotOptions struct {
	*RootOptions
}

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture, diff, restore, and trace scope snapshots",
	}

	cmd.AddCommand(newSnapshotCaptureCommand(opts))
	cmd.AddCommand(newSnapshotDiffCommand(opts))
	cmd.AddCommand(newSnapshotRestoreCommand(opts))
	cmd.AddCommand(newSnapshotLineageCommand(opts))

	return cmd
}

func newSnapshotCaptureCommand(opts *SnapshotOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "capture <scope> <scope-id>",
		Short: "Capture the current state of a scope",
		Long: `Capture the current state of a scope.

The snapshot id is a content hash: capturing an unchanged scope at the
same instant yields the same id. Each snapshot links to the previous one
for the same scope id, forming a lineage.

Example:
  canonry snapshot capture ravenholm act-one --db world.db`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeEnv, err := openEnv(cmd.Context(), opts.RootOptions)
			if err != nil {
				return err
			}
			defer closeEnv()

			id, err := e.snaps.Capture(cmd.Context(), args[0], args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "capture snapshot", err)
			}

			f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			if opts.Format == "json" {
				return f.SuccessJSON(map[string]any{"snapshot_id": id})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %s\n", id)
			return nil
		},
	}
}

func newSnapshotDiffCommand(opts *SnapshotOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <snapshot-a> [snapshot-b]",
		Short: "Diff two snapshots, or a snapshot against live state",
		Long: `Diff two snapshots, or a snapshot against live state.

With one argument the snapshot is compared against the scope's current
canonical state.

Example:
  canonry snapshot diff 4f1c... --db world.db`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeEnv, err := openEnv(cmd.Context(), opts.RootOptions)
			if err != nil {
				return err
			}
			defer closeEnv()

			bID := ""
			if len(args) == 2 {
				bID = args[1]
			}
			diff, err := e.snaps.Diff(cmd.Context(), args[0], bID)
			if err != nil {
				return WrapExitError(ExitCommandError, "diff snapshots", err)
			}

			f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			if opts.Format == "json" {
				return f.SuccessJSON(diff)
			}

			out := cmd.OutOrStdout()
			if diff.Empty() {
				fmt.Fprintln(out, "No differences")
				return nil
			}
			for _, id := range diff.Added {
				fmt.Fprintf(out, "added:   %s\n", id)
			}
			for _, id := range diff.Removed {
				fmt.Fprintf(out, "removed: %s\n", id)
			}
			for _, nd := range diff.Modified {
				printSubjectDiff(cmd, nd.Change)
			}
			return nil
		},
	}
}

func newSnapshotRestoreCommand(opts *SnapshotOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Restore a snapshot through the canonization gate",
		Long: `Restore a snapshot through the canonization gate.

The difference between the snapshot and the current state is resubmitted
as GM-authority proposals, so restoration obeys the same contradiction
rules as any other change and leaves a full audit trail.

Example:
  canonry snapshot restore 4f1c... --db world.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeEnv, err := openEnv(cmd.Context(), opts.RootOptions)
			if err != nil {
				return err
			}
			defer closeEnv()

			res, err := e.snaps.Restore(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "restore snapshot", err)
			}

			f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			if opts.Format == "json" {
				return f.SuccessJSON(res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restore: %d accepted, %d rejected, %d pending\n",
				len(res.Accepted), len(res.Rejected), len(res.Pending))
			if len(res.Rejected) > 0 {
				return NewExitError(ExitFailure, "some restore proposals were rejected")
			}
			return nil
		},
	}
}

func newSnapshotLineageCommand(opts *SnapshotOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lineage <snapshot-id>",
		Short: "List a snapshot's ancestry, newest first",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeEnv, err := openEnv(cmd.Context(), opts.RootOptions)
			if err != nil {
				return err
			}
			defer closeEnv()

			chain, err := e.store.SnapshotLineage(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "read lineage", err)
			}
			if len(chain) == 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("snapshot not found: %s", args[0]))
			}

			f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			if opts.Format == "json" {
				return f.SuccessJSON(chain)
			}
			out := cmd.OutOrStdout()
			for _, snap := range chain {
				fmt.Fprintf(out, "%s  %s/%s  captured_at=%d\n",
					snap.ID, snap.Scope, snap.ScopeID, snap.CapturedAt)
			}
			return nil
		},
	}
}
