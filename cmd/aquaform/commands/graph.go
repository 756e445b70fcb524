package commands

import (
	"fmt"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/spf13/cobra"
)

func newGraphCommand(opts *globalOptions, kind schema.Kind) *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the dependency graph in DOT format",
		Long: `Print the foreign key dependency graph of the desired tables in
Graphviz DOT format. Edges point from the referencing table to the
referenced one; self references are drawn dashed.`,
		Example: fmt.Sprintf(`  # Render the graph as SVG
  aquaform %s graph | dot -Tsvg > schema.svg`, family(kind)),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, opts, kind)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			graph, _, err := a.loadDocuments(files)
			if err != nil {
				return err
			}
			caps, err := a.capabilities()
			if err != nil {
				return err
			}

			_, err = fmt.Fprint(a.out, engine.NewDependencyGraph(graph, caps.DeferredForeignKeys).ToDOT())
			return err
		},
	}

	cmd.Flags().StringArrayVarP(&files, "config", "c", nil, "desired-state document (repeatable)")
	return cmd
}
