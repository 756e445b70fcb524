package commands

import (
	"fmt"

	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/aquaform/aquaform/pkg/state"
	"github.com/spf13/cobra"
)

func newDestroyCommand(opts *globalOptions, kind schema.Kind) *cobra.Command {
	var (
		target      string
		autoApprove bool
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Drop managed tables",
		Long: `Drop every table recorded in state, dependents first, or only the
table named with -r.

A targeted destroy is refused while another managed table references the
target with a foreign key that does not cascade on delete.`,
		Example: fmt.Sprintf(`  # Drop everything this state manages
  aquaform %[1]s destroy

  # Drop one table without prompting
  aquaform %[1]s destroy -r comments --auto-approve`, family(kind)),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, opts, kind)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			store, err := a.openState(state.ReadWrite)
			if err != nil {
				return err
			}
			defer store.Close()

			planner, err := a.planner()
			if err != nil {
				return err
			}
			plan, err := planner.BuildDestroyPlan(store.Snapshot(), target)
			if err != nil {
				return err
			}
			a.tel.Metrics.RecordPlan(string(kind), len(plan.Actions), plan.Summary.Destructive)

			return a.execute(ctx, plan, store, autoApprove)
		},
	}

	cmd.Flags().StringVarP(&target, "resource", "r", "", "destroy only this table")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip the approval prompt")
	return cmd
}
