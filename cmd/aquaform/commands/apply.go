package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/aquaform/aquaform/pkg/state"
	"github.com/spf13/cobra"
)

func newApplyCommand(opts *globalOptions, kind schema.Kind) *cobra.Command {
	var (
		files       []string
		planFile    string
		autoApprove bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the desired state",
		Long: `Reconcile the backend with the desired documents.

This command:
  - Locks the state file for writing
  - Computes a plan, or loads one saved by plan -o
  - Refuses a saved plan when state or documents changed since
  - Evaluates policies and refuses error-severity violations
  - Prompts for approval (unless --auto-approve)
  - Executes actions in order, persisting state after each one

A failed action halts the run. State then reflects the completed actions
only, and running apply again plans the remaining work.`,
		Example: fmt.Sprintf(`  # Plan and apply with an approval prompt
  aquaform %[1]s apply -c aqua.blog.yaml

  # Apply a saved plan without prompting
  aquaform %[1]s apply --plan plan.json --auto-approve`, family(kind)),
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

			var plan *engine.Plan
			if planFile != "" {
				plan, err = a.loadSavedPlan(planFile, files)
			} else {
				var graph *schema.Graph
				if graph, _, err = a.loadDocuments(files); err == nil {
					plan, err = a.planAgainst(ctx, graph, store.Snapshot())
				}
			}
			if err != nil {
				return err
			}

			return a.execute(ctx, plan, store, autoApprove)
		},
	}

	cmd.Flags().StringArrayVarP(&files, "config", "c", nil, "desired-state document (repeatable)")
	cmd.Flags().StringVarP(&planFile, "plan", "p", "", "apply a plan saved by plan -o")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip the approval prompt")
	return cmd
}

// loadSavedPlan reads a saved plan. When documents are named, they must
// still match the model the plan was computed from.
func (a *app) loadSavedPlan(path string, files []string) (*engine.Plan, error) {
	plan, err := readPlanFile(path)
	if err != nil {
		return nil, err
	}
	if plan.Backend != a.kind {
		return nil, fmt.Errorf("plan %s targets %s, not %s", path, plan.Backend, a.kind)
	}
	if len(files) == 0 {
		return plan, nil
	}

	graph, _, err := a.loadDocuments(files)
	if err != nil {
		return nil, err
	}
	if err := plan.CheckDesired(graph); err != nil {
		return nil, err
	}
	return plan, nil
}

// execute checks policies, asks for approval and runs plan against store.
func (a *app) execute(ctx context.Context, plan *engine.Plan, store *state.Store, autoApprove bool) error {
	eng, err := a.policyEngine(ctx)
	if err != nil {
		return err
	}
	verdict, err := eng.EvaluatePlan(ctx, plan)
	if err != nil {
		return err
	}

	if !a.opts.jsonOutput {
		printPlan(a.out, plan, a.previewer())
		if !plan.Empty() {
			fmt.Fprintln(a.out)
		}
		printPolicy(a.out, verdict)
	}
	if !verdict.Allowed {
		return engine.NewPolicyViolationError(verdict.Violations)
	}
	if plan.Empty() {
		if a.opts.jsonOutput {
			return writeJSON(a.out, map[string]interface{}{"plan": plan, "policy": verdict})
		}
		return nil
	}

	if !autoApprove {
		if a.opts.jsonOutput {
			return errors.New("--json requires --auto-approve")
		}
		prompt := "Do you want to perform these actions?"
		if plan.Destroy {
			prompt = "Do you really want to destroy these tables? Their data will be lost."
		}
		if !confirm(a.out, a.in, prompt) {
			yellow.Fprintln(a.out, "\nCancelled. Nothing was changed.")
			return nil
		}
		fmt.Fprintln(a.out)
	}

	be, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer be.Close()

	execOpts := []engine.ExecutorOption{
		engine.WithMetrics(a.tel.Metrics),
		engine.WithTracer(a.tel.Tracer),
		engine.WithLogger(a.logger),
	}
	history, err := a.openHistory(ctx)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
		execOpts = append(execOpts, engine.WithEventPublisher(history))
	}

	report, runErr := engine.NewExecutor(be, execOpts...).Execute(ctx, plan, store)

	if a.opts.jsonOutput {
		if report != nil {
			if err := writeJSON(a.out, report); err != nil {
				return err
			}
		}
		return runErr
	}
	printReport(a.out, report)
	return runErr
}
