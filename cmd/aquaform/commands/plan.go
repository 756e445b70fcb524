package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aquaform/aquaform/pkg/config"
	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/aquaform/aquaform/pkg/state"
	"github.com/aquaform/aquaform/pkg/telemetry"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// replanDelay debounces editor saves in plan --watch.
const replanDelay = 300 * time.Millisecond

func newPlanCommand(opts *globalOptions, kind schema.Kind) *cobra.Command {
	var (
		files  []string
		output string
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the changes apply would make",
		Long: `Compute the ordered actions that reconcile state with the desired
documents and print them with the statements the backend would run.

Nothing is changed. The state file is locked for reading while the plan is
computed. Policy findings are shown but only enforced by apply.`,
		Example: fmt.Sprintf(`  # Plan the documents in the working directory
  aquaform %[1]s plan

  # Save the plan for a later apply
  aquaform %[1]s plan -c aqua.blog.yaml -o plan.json

  # Re-plan whenever a document changes
  aquaform %[1]s plan -c aqua.blog.yaml --watch`, family(kind)),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, opts, kind)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.runPlan(ctx, files, output); err != nil {
				if !watch {
					return err
				}
				red.Fprintf(a.out, "Error: %v\n", err)
			}
			if !watch {
				return nil
			}
			return a.watchPlan(ctx, files, output)
		},
	}

	cmd.Flags().StringArrayVarP(&files, "config", "c", nil, "desired-state document (repeatable)")
	cmd.Flags().StringVarP(&output, "out", "o", "", "write the plan to this file for apply --plan")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-plan when a document changes")
	return cmd
}

// buildPlan loads the documents and diffs them against a read-only
// snapshot of state.
func (a *app) buildPlan(ctx context.Context, files []string) (*engine.Plan, error) {
	graph, _, err := a.loadDocuments(files)
	if err != nil {
		return nil, err
	}

	store, err := a.openState(state.ReadOnly)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return a.planAgainst(ctx, graph, store.Snapshot())
}

// planAgainst computes the plan from rec to graph, recording a span and
// plan metrics.
func (a *app) planAgainst(ctx context.Context, graph *schema.Graph, rec *state.Record) (*engine.Plan, error) {
	planner, err := a.planner()
	if err != nil {
		return nil, err
	}

	_, span := a.tel.Tracer.StartPlanSpan(ctx, string(a.kind))
	defer span.End()

	plan, err := planner.BuildPlan(graph, rec)
	if err != nil {
		telemetry.RecordError(span, err)
		a.tel.Metrics.RecordError(engine.CodeOf(err))
		return nil, err
	}
	telemetry.RecordSuccess(span)
	a.tel.Metrics.RecordPlan(string(a.kind), len(plan.Actions), plan.Summary.Destructive)
	return plan, nil
}

// runPlan computes, prints and optionally saves one plan.
func (a *app) runPlan(ctx context.Context, files []string, output string) error {
	plan, err := a.buildPlan(ctx, files)
	if err != nil {
		return err
	}

	var verdict *engine.PolicyResult
	if !plan.Empty() {
		eng, err := a.policyEngine(ctx)
		if err != nil {
			return err
		}
		if verdict, err = eng.EvaluatePlan(ctx, plan); err != nil {
			return err
		}
	}

	if output != "" {
		if err := writePlanFile(output, plan); err != nil {
			return err
		}
		a.logger.Info().Str("plan_id", plan.ID).Str("path", output).Msg("Plan saved")
	}

	if a.opts.jsonOutput {
		return writeJSON(a.out, struct {
			Plan   *engine.Plan         `json:"plan"`
			Policy *engine.PolicyResult `json:"policy,omitempty"`
		}{plan, verdict})
	}

	printPlan(a.out, plan, a.previewer())
	if verdict != nil {
		fmt.Fprintln(a.out)
		printPolicy(a.out, verdict)
	}
	if output != "" {
		fmt.Fprintf(a.out, "Saved the plan to %s. Apply it with:\n  aquaform %s apply --plan %s\n",
			output, family(a.kind), output)
	}
	return nil
}

// watchPlan re-plans on every document change until ctx is cancelled.
// Errors are printed and watching continues.
func (a *app) watchPlan(ctx context.Context, files []string, output string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so directories are watched and events
	// are filtered by name.
	dirs := map[string]bool{}
	names := map[string]bool{}
	if len(files) == 0 {
		dirs["."] = true
	}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		dirs[filepath.Dir(abs)] = true
		names[abs] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	relevant := func(name string) bool {
		if len(names) == 0 {
			return isDocumentFile(name)
		}
		abs, err := filepath.Abs(name)
		return err == nil && names[abs]
	}

	faint.Fprintln(a.out, "\nWatching for changes. Press Ctrl+C to stop.")
	timer := time.NewTimer(replanDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !relevant(event.Name) {
				continue
			}
			a.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Document changed")
			timer.Reset(replanDelay)

		case <-timer.C:
			fmt.Fprintf(a.out, "\n--- %s ---\n", time.Now().Format(time.TimeOnly))
			if err := a.runPlan(ctx, files, output); err != nil {
				red.Fprintf(a.out, "Error: %v\n", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// isDocumentFile reports whether name matches a default document pattern.
func isDocumentFile(name string) bool {
	base := filepath.Base(name)
	for _, pattern := range config.DefaultPatterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}
