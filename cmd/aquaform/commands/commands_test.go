package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/state"
	"github.com/fatih/color"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

const blogDocument = `
resources:
  users:
    type: sql_table
    columns:
      - {name: id, type: INTEGER, nullable: false}
      - {name: email, type: TEXT}
    primary_key: [id]
  posts:
    type: sql_table
    columns:
      - {name: id, type: INTEGER, nullable: false}
      - {name: user_id, type: INTEGER}
    primary_key: id
    foreign_keys:
      - {columns: [user_id], reference_table: users, reference_columns: [id]}
`

// testEnv is a working directory with settings pointing the sql family at
// a SQLite database.
type testEnv struct {
	dir      string
	settings string
	state    string
	document string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	e := &testEnv{
		dir:      dir,
		settings: filepath.Join(dir, "aquaform.yaml"),
		state:    filepath.Join(dir, "aqua.sql.state.json"),
		document: filepath.Join(dir, "aqua.blog.yaml"),
	}
	settings := "sql:\n" +
		"  dialect: sqlite\n" +
		"  database: " + filepath.Join(dir, "app.db") + "\n" +
		"history:\n" +
		"  enabled: true\n" +
		"  path: " + filepath.Join(dir, "history.db") + "\n" +
		"log:\n" +
		"  level: error\n"
	e.write(t, e.settings, settings)
	e.write(t, e.document, blogDocument)
	return e
}

func (e *testEnv) write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// run executes the root command with stdin and returns everything written
// to stdout and stderr.
func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(BuildInfo{Version: "test", Commit: "abc123", BuildDate: "today"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--settings", e.settings, "--state", e.state}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, "", args...)
	if err != nil {
		t.Fatalf("%v failed: %v\n%s", args, err, out)
	}
	return out
}

func (e *testEnv) serial(t *testing.T) int64 {
	t.Helper()
	store, err := state.Open(e.state, state.ReadOnly)
	if err != nil {
		t.Fatalf("failed to open state: %v", err)
	}
	defer store.Close()
	return store.Snapshot().Serial
}

func assertContains(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("output does not contain %q:\n%s", w, out)
		}
	}
}

func TestSQLLifecycle(t *testing.T) {
	e := newTestEnv(t)

	out := e.mustRun(t, "sql", "init")
	assertContains(t, out, "Initialized empty state in "+e.state)
	out = e.mustRun(t, "sql", "init")
	assertContains(t, out, "State already exists")

	out = e.mustRun(t, "sql", "plan", "-c", e.document)
	assertContains(t, out,
		"+ create_table users",
		"+ create_table posts",
		`CREATE TABLE "users"`,
		"Plan: 2 to add, 0 to change, 0 to destroy.",
	)
	if strings.Index(out, "create_table users") > strings.Index(out, "create_table posts") {
		t.Errorf("users must be created before posts:\n%s", out)
	}
	if e.serial(t) != 0 {
		t.Error("plan must not change state")
	}

	out = e.mustRun(t, "sql", "apply", "-c", e.document, "--auto-approve")
	assertContains(t, out, "Apply complete! 2 action(s) succeeded.")
	if got := e.serial(t); got != 2 {
		t.Errorf("serial = %d, want 2", got)
	}

	out = e.mustRun(t, "sql", "plan", "-c", e.document)
	assertContains(t, out, "No changes.")

	out = e.mustRun(t, "sql", "history")
	assertContains(t, out, "succeeded", "2/2")

	// posts references users without ON DELETE CASCADE.
	_, err := e.run(t, "", "sql", "destroy", "-r", "users", "--auto-approve")
	if got := ExitCode(err); got != ExitDependentExists {
		t.Fatalf("ExitCode = %d, want %d (err %v)", got, ExitDependentExists, err)
	}

	_, err = e.run(t, "", "sql", "destroy", "-r", "ghosts", "--auto-approve")
	if got := ExitCode(err); got != ExitValidation {
		t.Fatalf("ExitCode = %d, want %d (err %v)", got, ExitValidation, err)
	}

	out = e.mustRun(t, "sql", "destroy", "--auto-approve")
	assertContains(t, out, "- drop_table posts", "- drop_table users", "Apply complete! 2 action(s) succeeded.")

	out = e.mustRun(t, "--json", "sql", "history")
	var runs []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("history is not JSON: %v\n%s", err, out)
	}
	if len(runs) != 2 || runs[0]["destroy"] != true {
		t.Errorf("runs = %v", runs)
	}
}

func TestApply_Declined(t *testing.T) {
	e := newTestEnv(t)
	e.mustRun(t, "sql", "init")

	out, err := e.run(t, "no\n", "sql", "apply", "-c", e.document)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	assertContains(t, out, "Only 'yes' will be accepted", "Cancelled. Nothing was changed.")
	if e.serial(t) != 0 {
		t.Error("declined apply must not change state")
	}

	out, err = e.run(t, "yes\n", "sql", "apply", "-c", e.document)
	if err != nil {
		t.Fatalf("apply failed: %v\n%s", err, out)
	}
	assertContains(t, out, "Apply complete!")
}

func TestApply_SavedPlan(t *testing.T) {
	e := newTestEnv(t)
	e.mustRun(t, "sql", "init")

	planFile := filepath.Join(e.dir, "plan.json")
	out := e.mustRun(t, "sql", "plan", "-c", e.document, "-o", planFile)
	assertContains(t, out, "Saved the plan to "+planFile)

	e.mustRun(t, "sql", "apply", "--plan", planFile, "--auto-approve")
	if got := e.serial(t); got != 2 {
		t.Errorf("serial = %d, want 2", got)
	}

	// The saved plan was computed against serial 0.
	_, err := e.run(t, "", "sql", "apply", "--plan", planFile, "--auto-approve")
	if got := ExitCode(err); got != ExitStalePlan {
		t.Errorf("ExitCode = %d, want %d (err %v)", got, ExitStalePlan, err)
	}
}

func TestApply_SavedPlanDocumentChanged(t *testing.T) {
	e := newTestEnv(t)
	e.mustRun(t, "sql", "init")

	planFile := filepath.Join(e.dir, "plan.json")
	e.mustRun(t, "sql", "plan", "-c", e.document, "-o", planFile)
	e.write(t, e.document, strings.Replace(blogDocument, "{name: email, type: TEXT}", "{name: email, type: VARCHAR(255)}", 1))

	_, err := e.run(t, "", "sql", "apply", "--plan", planFile, "-c", e.document, "--auto-approve")
	if got := ExitCode(err); got != ExitStalePlan {
		t.Errorf("ExitCode = %d, want %d (err %v)", got, ExitStalePlan, err)
	}
}

func TestPlan_Errors(t *testing.T) {
	tests := []struct {
		name     string
		document string
		init     bool
		want     int
	}{
		{
			name:     "state not initialized",
			document: blogDocument,
			want:     ExitError,
		},
		{
			name: "missing primary key column",
			document: `
resources:
  users:
    type: sql_table
    columns:
      - {name: id, type: INTEGER}
    primary_key: [uid]
`,
			init: true,
			want: ExitValidation,
		},
		{
			name: "cycle without deferred keys",
			document: `
resources:
  a:
    type: sql_table
    columns:
      - {name: id, type: INTEGER, nullable: false}
      - {name: b_id, type: INTEGER}
    primary_key: [id]
    foreign_keys:
      - {columns: [b_id], reference_table: b, reference_columns: [id]}
  b:
    type: sql_table
    columns:
      - {name: id, type: INTEGER, nullable: false}
      - {name: a_id, type: INTEGER}
    primary_key: [id]
    foreign_keys:
      - {columns: [a_id], reference_table: a, reference_columns: [id]}
`,
			init: true,
			want: ExitCycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			e.write(t, e.document, tt.document)
			if tt.init {
				e.mustRun(t, "sql", "init")
			}
			_, err := e.run(t, "", "sql", "plan", "-c", e.document)
			if got := ExitCode(err); got != tt.want {
				t.Errorf("ExitCode = %d, want %d (err %v)", got, tt.want, err)
			}
		})
	}
}

const denyCreates = `# Freezes the schema.
# severity: error
package team.freeze

import rego.v1

deny contains msg if {
	some action in input.plan.actions
	action.type == "create_table"
	msg := sprintf("%s cannot be created during the freeze", [action.resource])
}
`

func TestApply_PolicyViolation(t *testing.T) {
	e := newTestEnv(t)
	e.mustRun(t, "sql", "init")
	policyFile := filepath.Join(e.dir, "freeze.rego")
	e.write(t, policyFile, denyCreates)

	out, err := e.run(t, "", "--policy", policyFile, "sql", "apply", "-c", e.document, "--auto-approve")
	if got := ExitCode(err); got != ExitPolicy {
		t.Fatalf("ExitCode = %d, want %d (err %v)", got, ExitPolicy, err)
	}
	assertContains(t, out, "ERROR [freeze] users cannot be created during the freeze")
	if e.serial(t) != 0 {
		t.Error("rejected plan must not change state")
	}

	// plan reports the finding without failing.
	out = e.mustRun(t, "--policy", policyFile, "sql", "plan", "-c", e.document)
	assertContains(t, out, "ERROR [freeze] posts cannot be created during the freeze")
}

func TestPlan_JSON(t *testing.T) {
	e := newTestEnv(t)
	e.mustRun(t, "sql", "init")

	out := e.mustRun(t, "--json", "sql", "plan", "-c", e.document)
	var got struct {
		Plan *engine.Plan `json:"plan"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("plan is not JSON: %v\n%s", err, out)
	}
	if got.Plan == nil || len(got.Plan.Actions) != 2 || got.Plan.Actions[0].Resource != "users" {
		t.Errorf("plan = %+v", got.Plan)
	}
}

func TestValidateAndGraph(t *testing.T) {
	e := newTestEnv(t)

	out := e.mustRun(t, "sql", "validate", "-c", e.document)
	assertContains(t, out, "Valid: 2 table(s) in 1 file(s).")

	out = e.mustRun(t, "sql", "graph", "-c", e.document)
	assertContains(t, out, "digraph Resources {", `"posts" -> "users";`)
}

func TestModel(t *testing.T) {
	e := newTestEnv(t)

	out := e.mustRun(t, "rest", "model", "-o", "-")
	assertContains(t, out, "resources:", "comments:", "gen_random_uuid()")

	path := filepath.Join(e.dir, "aqua.model.yaml")
	out = e.mustRun(t, "sql", "model", "-o", path)
	assertContains(t, out, "Wrote example model to "+path, "aquaform sql init")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("model not written: %v", err)
	}

	if _, err := e.run(t, "", "sql", "model", "-o", path); err == nil {
		t.Error("expected error when the file exists")
	}
	e.mustRun(t, "sql", "model", "-o", path, "--force")
}

func TestVersion(t *testing.T) {
	e := newTestEnv(t)

	out := e.mustRun(t, "--json", "version")
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("version is not JSON: %v\n%s", err, out)
	}
	if got["version"] != "test" || got["commit"] != "abc123" {
		t.Errorf("version = %v", got)
	}
}
