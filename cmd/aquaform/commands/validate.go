package commands

import (
	"fmt"

	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/spf13/cobra"
)

func newValidateCommand(opts *globalOptions, kind schema.Kind) *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate desired-state documents",
		Long: `Load and validate desired-state documents without touching state.

This command checks:
  - Document syntax and structure (YAML or CUE)
  - Table definitions (primary key columns, modifiers)
  - Foreign key references and column type compatibility
  - Dependency cycles the backend cannot defer`,
		Example: fmt.Sprintf(`  # Validate the documents in the working directory
  aquaform %[1]s validate

  # Validate specific files
  aquaform %[1]s validate -c aqua.blog.yaml -c aqua.shop.cue`, family(kind)),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, opts, kind)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			graph, loaded, err := a.loadDocuments(files)
			if err != nil {
				return err
			}
			planner, err := a.planner()
			if err != nil {
				return err
			}
			if err := planner.Validate(graph); err != nil {
				return err
			}

			if a.opts.jsonOutput {
				return writeJSON(a.out, map[string]interface{}{
					"valid":  true,
					"files":  loaded,
					"tables": graph.Names(),
				})
			}
			green.Fprintf(a.out, "Valid: %d table(s) in %d file(s).\n", graph.Len(), len(loaded))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "config", "c", nil, "desired-state document (repeatable)")
	return cmd
}
