package engine

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/aquaform/aquaform/pkg/state"
	"github.com/google/go-cmp/cmp"
)

// recordOf builds a state record holding copies of tables.
func recordOf(tables ...*schema.Table) *state.Record {
	rec := state.NewRecord(schema.KindSQLTable)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, t := range tables {
		rec.Resources[t.Name] = &state.ResourceState{Table: t.Clone(), CreatedAt: now, UpdatedAt: now}
	}
	return rec
}

func TestDiff_NoChanges(t *testing.T) {
	users := tableWithRefs("users")
	posts := tableWithRefs("posts", "users")

	changes, err := Diff(graphOf(users, posts), recordOf(users, posts))
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("expected no changes, got %+v", changes)
	}
}

func TestDiff_CreateAndDrop(t *testing.T) {
	changes, err := Diff(graphOf(tableWithRefs("users")), recordOf(tableWithRefs("legacy")))
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if changes[0].Resource != "legacy" || changes[0].Type != ChangeDrop {
		t.Errorf("changes[0] = %s %s, want drop legacy", changes[0].Type, changes[0].Resource)
	}
	if changes[1].Resource != "users" || changes[1].Type != ChangeCreate {
		t.Errorf("changes[1] = %s %s, want create users", changes[1].Type, changes[1].Resource)
	}
}

func TestDiff_Columns(t *testing.T) {
	have := &schema.Table{
		Name: "users",
		Kind: schema.KindSQLTable,
		Columns: []schema.Column{
			{Name: "id", Type: "integer"},
			{Name: "nickname", Type: "text", Nullable: true},
			{Name: "email", Type: "varchar(100)"},
		},
		PrimaryKey: []string{"id"},
	}
	def := "now()"
	want := &schema.Table{
		Name: "users",
		Kind: schema.KindSQLTable,
		Columns: []schema.Column{
			{Name: "id", Type: "integer"},
			{Name: "email", Type: "varchar(255)"},
			{Name: "created_at", Type: "timestamp", Default: &def},
		},
		PrimaryKey: []string{"id"},
	}

	changes, err := Diff(graphOf(want), recordOf(have))
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	c := changes[0]
	if c.Type != ChangeAlter {
		t.Fatalf("Type = %s, want alter", c.Type)
	}
	if len(c.AddColumns) != 1 || c.AddColumns[0].Name != "created_at" {
		t.Errorf("AddColumns = %+v", c.AddColumns)
	}
	if len(c.AlterColumns) != 1 || c.AlterColumns[0].Type != "varchar(255)" {
		t.Errorf("AlterColumns = %+v", c.AlterColumns)
	}
	if diff := cmp.Diff([]string{"nickname"}, c.DropColumns); diff != "" {
		t.Errorf("DropColumns mismatch (-want +got):\n%s", diff)
	}
}

func TestDiff_PrimaryKeyChangeRecreates(t *testing.T) {
	have := tableWithRefs("users")
	want := have.Clone()
	want.Columns = append(want.Columns, schema.Column{Name: "tenant", Type: "integer"})
	want.PrimaryKey = []string{"id", "tenant"}

	changes, err := Diff(graphOf(want), recordOf(have))
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if len(changes) != 1 || changes[0].Type != ChangeRecreate {
		t.Fatalf("expected a single recreate, got %+v", changes)
	}
	if !strings.Contains(changes[0].Reason, "primary key changed") {
		t.Errorf("Reason = %q", changes[0].Reason)
	}
	if len(changes[0].AddColumns) != 0 {
		t.Error("recreate should not carry column-level changes")
	}
}

func TestDiff_ForeignKeys(t *testing.T) {
	users := tableWithRefs("users")
	teams := tableWithRefs("teams")
	have := tableWithRefs("posts", "users")

	t.Run("referential action change is drop then add", func(t *testing.T) {
		want := have.Clone()
		want.ForeignKeys[0].OnDelete = schema.ActionCascade

		changes, err := Diff(graphOf(users, want), recordOf(users, have))
		if err != nil {
			t.Fatalf("Diff failed: %v", err)
		}
		if len(changes) != 1 {
			t.Fatalf("expected 1 change, got %d", len(changes))
		}
		c := changes[0]
		if len(c.DropForeignKeys) != 1 || len(c.AddForeignKeys) != 1 {
			t.Fatalf("expected one drop and one add, got %d/%d", len(c.DropForeignKeys), len(c.AddForeignKeys))
		}
		if c.AddForeignKeys[0].OnDelete != schema.ActionCascade {
			t.Errorf("added key OnDelete = %s", c.AddForeignKeys[0].OnDelete)
		}
	})

	t.Run("added and removed keys", func(t *testing.T) {
		want := tableWithRefs("posts", "teams")

		changes, err := Diff(graphOf(users, teams, want), recordOf(users, teams, have))
		if err != nil {
			t.Fatalf("Diff failed: %v", err)
		}
		if len(changes) != 1 {
			t.Fatalf("expected 1 change, got %d", len(changes))
		}
		c := changes[0]
		if len(c.AddForeignKeys) != 1 || c.AddForeignKeys[0].ReferenceTable != "teams" {
			t.Errorf("AddForeignKeys = %+v", c.AddForeignKeys)
		}
		if len(c.DropForeignKeys) != 1 || c.DropForeignKeys[0].ReferenceTable != "users" {
			t.Errorf("DropForeignKeys = %+v", c.DropForeignKeys)
		}
	})
}

func TestDiff_AlteredReferencedColumnIsRevalidated(t *testing.T) {
	users := tableWithRefs("users")
	posts := tableWithRefs("posts", "users")

	altered := users.Clone()
	altered.Columns[0].Type = "uuid"

	_, err := Diff(graphOf(altered, posts), recordOf(users, posts))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "users.id changes to uuid") {
		t.Errorf("unexpected message: %v", err)
	}

	// A compatible alias is accepted.
	altered.Columns[0].Type = "INT4"
	if _, err := Diff(graphOf(altered, posts), recordOf(users, posts)); err != nil {
		t.Errorf("compatible type change rejected: %v", err)
	}
}
