package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomworld/canonry/internal/canon"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <proposal.json>",
		Short: "Submit a proposal for canonization",
		Long: `Submit a proposal for canonization.

The proposal file is JSON with an id, payload, evidence, confidence_ppm,
authority, and scope. Use "-" to read from stdin. The proposal is stored
as pending; run "canonry canonize <scope>" to decide it.

Example:
  canonry submit proposal.json --db world.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, args[0], cmd)
		},
	}

	return cmd
}

func runSubmit(opts *SubmitOptions, path string, cmd *cobra.Command) error {
	data, err := readInput(path, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "read proposal", err)
	}

	var p canon.Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return WrapExitError(ExitCommandError, "parse proposal JSON", err)
	}

	e, closeEnv, err := openEnvCreating(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeEnv()

	if err := e.gate.Submit(cmd.Context(), p); err != nil {
		return WrapExitError(ExitFailure, "submit rejected", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return f.SuccessJSON(map[string]any{
			"proposal_id": p.ID,
			"status":      "pending",
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Proposal %s submitted (pending)\n", p.ID)
	return nil
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}
