package commands

import (
	"fmt"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/aquaform/aquaform/pkg/state"
	"github.com/spf13/cobra"
)

func newInitCommand(opts *globalOptions, kind schema.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty state file",
		Long: `Create an empty state file for this backend family.

Running init again is safe: an existing state file is left untouched.`,
		Example: fmt.Sprintf(`  # Initialize state in the working directory
  aquaform %[1]s init

  # Use a custom state file
  aquaform %[1]s init --state envs/prod.state.json`, family(kind)),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, opts, kind)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			path := a.statePath()
			rec, created, err := state.Init(path, kind)
			if err != nil {
				return engine.WrapStateError(err)
			}
			a.logger.Info().Str("path", path).Bool("created", created).Int64("serial", rec.Serial).Msg("State initialized")

			if a.opts.jsonOutput {
				return writeJSON(a.out, map[string]interface{}{
					"path":    path,
					"created": created,
					"lineage": rec.Lineage,
					"serial":  rec.Serial,
				})
			}
			if created {
				green.Fprintf(a.out, "Initialized empty state in %s\n", path)
				return nil
			}
			yellow.Fprintf(a.out, "State already exists in %s (serial %d), nothing to do.\n", path, rec.Serial)
			return nil
		},
	}
}
