package stores

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/aquaform/aquaform/pkg/state"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "history", "test.db")
	store, err := Open(context.Background(), Config{Path: path}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fakeBackend applies every action and fails the ones listed in failOn.
type fakeBackend struct {
	mu     sync.Mutex
	failOn map[string]error
}

func (f *fakeBackend) Kind() schema.Kind { return schema.KindSQLTable }
func (f *fakeBackend) Capabilities() engine.Capabilities {
	return engine.Capabilities{DeferredForeignKeys: true, Modifiers: schema.AllModifiers}
}
func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) Execute(_ context.Context, action *engine.Action) (*engine.ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn[action.String()]; ok {
		return nil, err
	}
	return &engine.ActionResult{Statements: []string{"-- " + action.String()}}, nil
}

func (f *fakeBackend) Describe(_ context.Context, name string) (*engine.Description, error) {
	return &engine.Description{Name: name, LiveName: "main." + name}, nil
}

func blogGraph() *schema.Graph {
	g := schema.NewGraph()
	_ = g.Add(&schema.Table{
		Name:       "users",
		Kind:       schema.KindSQLTable,
		Columns:    []schema.Column{{Name: "id", Type: "integer"}},
		PrimaryKey: []string{"id"},
	})
	_ = g.Add(&schema.Table{
		Name: "posts",
		Kind: schema.KindSQLTable,
		Columns: []schema.Column{
			{Name: "id", Type: "integer"},
			{Name: "user_id", Type: "integer"},
		},
		PrimaryKey: []string{"id"},
		ForeignKeys: []schema.ForeignKey{{
			Columns:          []string{"user_id"},
			ReferenceTable:   "users",
			ReferenceColumns: []string{"id"},
		}},
	})
	return g
}

// runPlan plans blogGraph against a fresh state file and executes it with
// the history store attached.
func runPlan(t *testing.T, store *SQLiteStore, backend *fakeBackend) (*engine.RunReport, error) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "aqua.sql.state.json")
	if _, _, err := state.Init(path, schema.KindSQLTable); err != nil {
		t.Fatalf("state.Init failed: %v", err)
	}
	st, err := state.Open(path, state.ReadWrite)
	if err != nil {
		t.Fatalf("state.Open failed: %v", err)
	}
	defer st.Close()

	planner := engine.NewPlanner(schema.KindSQLTable, backend.Capabilities(), zerolog.Nop())
	plan, err := planner.BuildPlan(blogGraph(), st.Snapshot())
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	return engine.NewExecutor(backend, engine.WithEventPublisher(store)).
		Execute(context.Background(), plan, st)
}

func TestSQLiteStore_InitAndMigrate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second Migrate failed: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}, zerolog.Nop()); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestSQLiteStore_RecordsSuccessfulRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	report, err := runPlan(t, store, &fakeBackend{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	run, err := store.GetRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunStatusSucceeded {
		t.Errorf("Status = %s", run.Status)
	}
	if run.Backend != string(schema.KindSQLTable) || run.PlanID != report.PlanID {
		t.Errorf("run = %+v", run)
	}
	if run.TotalActions != 2 || run.Succeeded != 2 || run.Failed != 0 || run.NotAttempted != 0 {
		t.Errorf("counts = %d/%d/%d/%d", run.TotalActions, run.Succeeded, run.Failed, run.NotAttempted)
	}
	if run.CompletedAt == nil || run.Error != nil {
		t.Errorf("CompletedAt = %v, Error = %v", run.CompletedAt, run.Error)
	}

	results, err := store.ListActionResults(ctx, report.RunID)
	if err != nil {
		t.Fatalf("ListActionResults failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 action results, got %d", len(results))
	}
	first := results[0]
	if first.Index != 1 || first.Type != "create_table" || first.Resource != "users" {
		t.Errorf("first result = %+v", first)
	}
	if diff := cmp.Diff([]string{"-- create_table users"}, first.Statements); diff != "" {
		t.Errorf("statements mismatch (-want +got):\n%s", diff)
	}

	events, err := store.ListEvents(ctx, report.RunID)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []string{
		"run_started",
		"action_started", "action_completed", "state_persisted",
		"action_started", "action_completed", "state_persisted",
		"run_completed",
	}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
	if events[0].ActionIndex != nil {
		t.Errorf("run_started must not carry an action index")
	}
	if events[1].ActionIndex == nil || *events[1].ActionIndex != 1 {
		t.Errorf("action_started index = %v", events[1].ActionIndex)
	}
	if got := events[0].Details["actions"]; got != float64(2) {
		t.Errorf("run_started actions detail = %v", got)
	}
}

func TestSQLiteStore_RecordsFailedRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	backend := &fakeBackend{failOn: map[string]error{
		"create_table users": engine.NewBackendError(engine.ErrCodePermissionDenied, "permission denied for schema public", nil),
	}}
	report, err := runPlan(t, store, backend)
	if err == nil {
		t.Fatal("expected execution error")
	}

	run, err := store.GetRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunStatusFailed || run.Error == nil {
		t.Errorf("run = %+v", run)
	}
	if run.Succeeded != 0 || run.Failed != 1 || run.NotAttempted != 1 {
		t.Errorf("counts = %d/%d/%d", run.Succeeded, run.Failed, run.NotAttempted)
	}

	results, err := store.ListActionResults(ctx, report.RunID)
	if err != nil {
		t.Fatalf("ListActionResults failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 action result, got %d", len(results))
	}
	res := results[0]
	if res.Status != ActionStatusFailed || res.ErrorCode == nil || *res.ErrorCode != engine.ErrCodePermissionDenied {
		t.Errorf("result = %+v", res)
	}
	if res.Error == nil || *res.Error == "" {
		t.Error("failed result must carry the error message")
	}
}

func TestSQLiteStore_ListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		err := store.Publish(ctx, &engine.Event{
			ID:        id + "-start",
			Type:      engine.EventTypeRunStarted,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			RunID:     id,
			PlanID:    "plan-" + id,
			Details:   map[string]interface{}{"backend": "sql_table", "actions": 0},
			Level:     "info",
		})
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"run-c", "run-b"}, ids); diff != "" {
		t.Errorf("run order mismatch (-want +got):\n%s", diff)
	}
	if runs[0].Status != RunStatusRunning || runs[0].Duration() != 0 {
		t.Errorf("open run = %+v", runs[0])
	}

	pruned, err := store.PruneRuns(ctx, 1)
	if err != nil {
		t.Fatalf("PruneRuns failed: %v", err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}
	if _, err := store.GetRun(ctx, "run-a"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestSQLiteStore_CompletingUnknownRun(t *testing.T) {
	store := setupTestStore(t)

	err := store.Publish(context.Background(), &engine.Event{
		ID:        "ev-1",
		Type:      engine.EventTypeRunCompleted,
		Timestamp: time.Now(),
		RunID:     "missing",
		Level:     "info",
	})
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRun_Duration(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)
	r := Run{StartedAt: start, CompletedAt: &end}
	if r.Duration() != 1500*time.Millisecond {
		t.Errorf("Duration = %v", r.Duration())
	}
}
