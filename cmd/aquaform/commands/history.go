package commands

import (
	"errors"
	"fmt"

	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/aquaform/aquaform/pkg/stores"
	"github.com/spf13/cobra"
)

func newHistoryCommand(opts *globalOptions, kind schema.Kind) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded apply and destroy runs",
		Long: `List the runs recorded in the history database, newest first, or show
the actions of one run.

History is recorded when history.enabled is set in the settings.`,
		Example: fmt.Sprintf(`  # Last 10 runs
  aquaform %[1]s history --limit 10

  # Actions of one run
  aquaform %[1]s history 6f0c1d9e-...`, family(kind)),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, opts, kind)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			history, err := a.openHistory(ctx)
			if err != nil {
				return err
			}
			if history == nil {
				return errors.New("run history is disabled; set history.enabled in the settings")
			}
			defer history.Close()

			if len(args) == 1 {
				run, err := history.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				results, err := history.ListActionResults(ctx, run.ID)
				if err != nil {
					return err
				}
				if a.opts.jsonOutput {
					return writeJSON(a.out, map[string]interface{}{"run": run, "actions": results})
				}
				printRuns(a.out, []*stores.Run{run})
				fmt.Fprintln(a.out)
				printActionResults(a.out, results)
				return nil
			}

			runs, err := history.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			filtered := runs[:0]
			for _, r := range runs {
				if r.Backend == string(kind) {
					filtered = append(filtered, r)
				}
			}

			if a.opts.jsonOutput {
				return writeJSON(a.out, filtered)
			}
			printRuns(a.out, filtered)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	return cmd
}
