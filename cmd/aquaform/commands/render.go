package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/policy"
	"github.com/aquaform/aquaform/pkg/stores"
	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen, color.Bold)
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow, color.Bold)
	blue   = color.New(color.FgBlue, color.Bold)
	faint  = color.New(color.Faint)
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func symbolColor(t engine.ActionType) *color.Color {
	switch t.Symbol() {
	case "+":
		return green
	case "-":
		return red
	default:
		return yellow
	}
}

// printPlan renders plan with the statements preview would issue. A nil
// preview prints actions only.
func printPlan(w io.Writer, plan *engine.Plan, preview func(*engine.Action) ([]string, error)) {
	if plan.Empty() {
		green.Fprintln(w, "No changes. Tables match the desired state.")
		return
	}

	verb := "perform the following actions"
	if plan.Destroy {
		verb = "destroy the following tables"
	}
	fmt.Fprintf(w, "Aquaform will %s (%s, state serial %d):\n\n", verb, plan.Backend, plan.StateSerial)

	var add, change, destroy int
	for _, a := range plan.Actions {
		switch a.Type.Symbol() {
		case "+":
			add++
		case "-":
			destroy++
		default:
			change++
		}

		symbolColor(a.Type).Fprintf(w, "  %s %s", a.Type.Symbol(), a)
		if a.Destructive {
			red.Fprint(w, "  (destructive)")
		}
		fmt.Fprintln(w)
		if a.Reason != "" {
			faint.Fprintf(w, "      # %s\n", a.Reason)
		}

		if preview == nil {
			continue
		}
		stmts, err := preview(a)
		if err != nil {
			yellow.Fprintf(w, "      ! %v\n", err)
			continue
		}
		for _, s := range stmts {
			for _, line := range strings.Split(s, "\n") {
				faint.Fprintf(w, "      %s\n", line)
			}
		}
	}

	fmt.Fprintf(w, "\nPlan: %d to add, %d to change, %d to destroy.\n", add, change, destroy)
}

// printPolicy renders policy findings. It prints nothing for a clean result.
func printPolicy(w io.Writer, result *engine.PolicyResult) {
	if result == nil {
		return
	}
	for _, v := range result.Violations {
		c := yellow
		if policy.Severity(v.Severity).Blocking() {
			c = red
		}
		c.Fprintf(w, "%s [%s] ", strings.ToUpper(v.Severity), v.Policy)
		fmt.Fprintln(w, v.Message)
	}
	for _, warning := range result.Warnings {
		yellow.Fprintf(w, "WARNING ")
		fmt.Fprintln(w, warning)
	}
	if len(result.Violations) > 0 || len(result.Warnings) > 0 {
		fmt.Fprintln(w)
	}
}

// printReport renders the outcome of a run.
func printReport(w io.Writer, report *engine.RunReport) {
	if report == nil {
		return
	}
	for _, o := range report.Outcomes {
		if o.Status == engine.ActionStatusSucceeded {
			green.Fprint(w, "  ✓ ")
			fmt.Fprintf(w, "%d. %s ", o.Action.Index, o.Action)
			faint.Fprintf(w, "(%s)\n", o.Duration.Round(time.Millisecond))
			continue
		}
		red.Fprint(w, "  ✗ ")
		fmt.Fprintf(w, "%d. %s\n", o.Action.Index, o.Action)
		red.Fprintf(w, "      %s\n", o.Error)
	}
	for _, a := range report.NotAttempted {
		faint.Fprintf(w, "  - %d. %s (not attempted)\n", a.Index, a)
	}

	fmt.Fprintln(w)
	s := report.Summary
	if report.Status == engine.RunStatusSucceeded {
		green.Fprintf(w, "Apply complete! %d action(s) succeeded.\n", s.Succeeded)
		return
	}
	red.Fprintf(w, "Apply failed: %d succeeded, %d failed, %d not attempted.\n", s.Succeeded, s.Failed, s.NotAttempted)
	fmt.Fprintln(w, "State reflects the succeeded actions. Fix the error and run apply again.")
}

// printRuns renders the run history as a table.
func printRuns(w io.Writer, runs []*stores.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	blue.Fprintf(w, "%-36s  %-20s  %-9s  %-8s  %s\n", "RUN", "STARTED", "STATUS", "ACTIONS", "DURATION")
	for _, r := range runs {
		status := green
		switch r.Status {
		case stores.RunStatusFailed:
			status = red
		case stores.RunStatusRunning:
			status = yellow
		}

		kind := ""
		if r.Destroy {
			kind = " destroy"
		}
		fmt.Fprintf(w, "%-36s  %-20s  ", r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"))
		status.Fprintf(w, "%-9s", r.Status)
		fmt.Fprintf(w, "  %-8s  %s%s\n",
			fmt.Sprintf("%d/%d", r.Succeeded, r.TotalActions),
			r.Duration().Round(time.Millisecond), kind)
		if r.Error != nil {
			faint.Fprintf(w, "%38s%s\n", "", *r.Error)
		}
	}
}

// printActionResults renders the recorded actions of one run.
func printActionResults(w io.Writer, results []*stores.ActionResult) {
	for _, r := range results {
		if r.Status == stores.ActionStatusSucceeded {
			green.Fprint(w, "  ✓ ")
		} else {
			red.Fprint(w, "  ✗ ")
		}
		fmt.Fprintf(w, "%d. %s %s ", r.Index, r.Type, r.Resource)
		faint.Fprintf(w, "(%s)\n", r.Duration.Round(time.Millisecond))
		for _, s := range r.Statements {
			faint.Fprintf(w, "      %s\n", s)
		}
		if r.Error != nil {
			red.Fprintf(w, "      %s\n", *r.Error)
		}
	}
}
