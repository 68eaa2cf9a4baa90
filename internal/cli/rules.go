package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworld/canonry/internal/canon"
	"github.com/loomworld/canonry/internal/rules"
)

// RulesOptions holds flags for the rules command group.
type RulesOptions struct {
	*RootOptions
}

// NewRulesCommand creates the rules command group.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RulesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Compile and inspect consistency rulesets",
	}

	cmd.AddCommand(newRulesCheckCommand(opts))

	return cmd
}

func newRulesCheckCommand(opts *RulesOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [ruleset.cue]",
		Short: "Compile a CUE ruleset and print its effective tables",
		Long: `Compile a CUE ruleset and print its effective tables.

Without an argument, the built-in default ruleset is shown. Compilation
errors carry CUE positions.

Example:
  canonry rules check world-rules.cue`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rs := rules.Default()
			source := "built-in defaults"
			if len(args) == 1 {
				var err error
				rs, err = rules.LoadFile(args[0])
				if err != nil {
					return WrapExitError(ExitFailure, "compile ruleset", err)
				}
				source = args[0]
			}

			f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			if opts.Format == "json" {
				return f.SuccessJSON(rs)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Ruleset (%s):\n", source)
			fmt.Fprintln(out, "  authority weights:")
			for _, a := range []canon.Authority{
				canon.AuthorityPlayer,
				canon.AuthorityNarrator,
				canon.AuthorityLorekeeper,
				canon.AuthorityGM,
			} {
				fmt.Fprintf(out, "    %-11s %d\n", a, rs.AuthorityWeights[a])
			}
			fmt.Fprintf(out, "  min effective weight: %d\n", rs.MinEffectiveWeight)
			fmt.Fprintf(out, "  exclusive states:     %v\n", rs.StateExclusivity)
			fmt.Fprintf(out, "  exclusive relations:  %v\n", rs.RelationExclusivity)
			fmt.Fprintf(out, "  disjoint places:      %v\n", rs.DisjointPlaces)
			fmt.Fprintf(out, "  location path:        %s\n", rs.LocationPath)
			return nil
		},
	}
}
