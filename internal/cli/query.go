package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomworld/canonry/internal/canon"
	"github.com/loomworld/canonry/internal/query"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Scope   string
	Kind    string
	Status  string
	Tags    []string
	Attrs   []string
	Related []string
	Limit   int
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Search canonical nodes by scope, kind, tags, attributes, and relations",
		Long: `Search canonical nodes by scope, kind, tags, attributes, and relations.

All conditions must hold. Attribute values are parsed as JSON scalars
(10, true, null) and fall back to plain strings; null matches nodes
where the path is absent. Results are ordered by node id.

Example:
  canonry query --db world.db --scope ravenholm --kind character \
    --tag alive --attr location=tavern --related allies:n-mira`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scope, "scope", "", "restrict to one scope")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "restrict to one node kind")
	cmd.Flags().StringVar(&opts.Status, "status", "", "restrict to one canon status")
	cmd.Flags().StringArrayVar(&opts.Tags, "tag", nil, "require a state tag (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Attrs, "attr", nil, "require path=value on attributes (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Related, "related", nil, "require an open relation type[:object-id] (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum results (0 = all)")

	return cmd
}

func buildQuery(opts *QueryOptions) (query.Query, error) {
	var q query.Query
	q.Limit = opts.Limit
	if opts.Scope != "" {
		q.Filters = append(q.Filters, query.ScopeIs{Scope: opts.Scope})
	}
	if opts.Kind != "" {
		q.Filters = append(q.Filters, query.KindIs{Kind: opts.Kind})
	}
	if opts.Status != "" {
		q.Filters = append(q.Filters, query.StatusIs{Status: canon.CanonStatus(opts.Status)})
	}
	for _, tag := range opts.Tags {
		q.Filters = append(q.Filters, query.HasTag{Tag: tag})
	}
	for _, spec := range opts.Attrs {
		path, raw, ok := strings.Cut(spec, "=")
		if !ok {
			return q, NewExitError(ExitCommandError, fmt.Sprintf("--attr %q: want path=value", spec))
		}
		q.Filters = append(q.Filters, query.AttrEquals{Path: path, Value: parseAttrValue(raw)})
	}
	for _, spec := range opts.Related {
		relType, objectID, _ := strings.Cut(spec, ":")
		q.Filters = append(q.Filters, query.RelatedTo{Type: relType, ObjectID: objectID})
	}
	return q, nil
}

// parseAttrValue reads a flag value as a JSON scalar, falling back to a
// plain string when it is not valid JSON.
func parseAttrValue(raw string) canon.Value {
	if v, err := canon.ParseValue([]byte(raw)); err == nil {
		return v
	}
	return canon.String(raw)
}

func runQuery(opts *QueryOptions, cmd *cobra.Command) error {
	q, err := buildQuery(opts)
	if err != nil {
		return err
	}

	e, closeEnv, err := openEnv(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeEnv()

	nodes, err := e.store.FindNodes(cmd.Context(), q)
	if err != nil {
		return WrapExitError(ExitCommandError, "run query", err)
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return f.SuccessJSON(nodes)
	}

	out := cmd.OutOrStdout()
	if len(nodes) == 0 {
		fmt.Fprintln(out, "No matching nodes")
		return nil
	}
	for _, n := range nodes {
		fmt.Fprintf(out, "%s  %s  %s  %s", n.ID, n.Kind, n.Scope, n.Status)
		if len(n.Tags) > 0 {
			fmt.Fprintf(out, "  [%s]", strings.Join(n.Tags, " "))
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "%d nodes\n", len(nodes))
	return nil
}
