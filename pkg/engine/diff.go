package engine

import (
	"fmt"
	"strings"

	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/aquaform/aquaform/pkg/state"
)

// Diff compares the desired graph against the recorded state and returns one
// change per resource that differs, sorted by resource name. Structurally
// equal resources produce nothing.
//
// Column type changes on referenced columns are checked against every
// dependent foreign key in the desired graph; an incompatible pairing is a
// validation error rather than something left for the backend to reject.
func Diff(desired *schema.Graph, rec *state.Record) ([]ResourceChange, error) {
	recorded := rec.Graph()
	names := unionNames(desired, recorded)

	changes := make([]ResourceChange, 0)
	for _, name := range names {
		want, inDesired := desired.Get(name)
		have, inState := recorded.Get(name)

		switch {
		case inDesired && !inState:
			changes = append(changes, ResourceChange{
				Resource: name,
				Type:     ChangeCreate,
				Desired:  want,
			})
		case !inDesired && inState:
			changes = append(changes, ResourceChange{
				Resource: name,
				Type:     ChangeDrop,
				Recorded: have,
				Reason:   "no longer declared",
			})
		default:
			if change, ok := diffTable(want, have); ok {
				changes = append(changes, change)
			}
		}
	}

	if problems := checkAlteredReferences(desired, changes); len(problems) > 0 {
		return nil, NewValidationError(&schema.ValidationError{Problems: problems})
	}
	return changes, nil
}

// diffTable compares one resource present on both sides.
func diffTable(want, have *schema.Table) (ResourceChange, bool) {
	change := ResourceChange{
		Resource: want.Name,
		Type:     ChangeAlter,
		Desired:  want,
		Recorded: have,
	}

	if !want.SamePrimaryKey(have) {
		change.Type = ChangeRecreate
		change.Reason = fmt.Sprintf("primary key changed from (%s) to (%s)",
			strings.Join(have.PrimaryKey, ", "), strings.Join(want.PrimaryKey, ", "))
		return change, true
	}

	for i := range want.Columns {
		col := &want.Columns[i]
		old, ok := have.Column(col.Name)
		switch {
		case !ok:
			change.AddColumns = append(change.AddColumns, *col)
		case !col.Equal(old):
			change.AlterColumns = append(change.AlterColumns, *col)
		}
	}
	for i := range have.Columns {
		if _, ok := want.Column(have.Columns[i].Name); !ok {
			change.DropColumns = append(change.DropColumns, have.Columns[i].Name)
		}
	}

	for i := range want.ForeignKeys {
		fk := &want.ForeignKeys[i]
		old, ok := have.ForeignKeyByIdentity(fk.Identity())
		switch {
		case !ok:
			change.AddForeignKeys = append(change.AddForeignKeys, *fk)
		case !fk.Equal(old):
			// Referential actions changed: never altered in place.
			change.DropForeignKeys = append(change.DropForeignKeys, *old)
			change.AddForeignKeys = append(change.AddForeignKeys, *fk)
		}
	}
	for i := range have.ForeignKeys {
		fk := &have.ForeignKeys[i]
		if _, ok := want.ForeignKeyByIdentity(fk.Identity()); !ok {
			change.DropForeignKeys = append(change.DropForeignKeys, *fk)
		}
	}

	empty := len(change.AddColumns) == 0 && len(change.AlterColumns) == 0 &&
		len(change.DropColumns) == 0 && len(change.AddForeignKeys) == 0 &&
		len(change.DropForeignKeys) == 0
	return change, !empty
}

// checkAlteredReferences re-validates the foreign keys that point at a
// column whose definition changes.
func checkAlteredReferences(desired *schema.Graph, changes []ResourceChange) []schema.Problem {
	var problems []schema.Problem
	for _, change := range changes {
		if change.Type != ChangeAlter || len(change.AlterColumns) == 0 {
			continue
		}
		for _, depName := range desired.Dependents(change.Resource) {
			dep, _ := desired.Get(depName)
			for i := range dep.ForeignKeys {
				fk := &dep.ForeignKeys[i]
				if fk.ReferenceTable != change.Resource {
					continue
				}
				problems = append(problems, incompatibleColumns(dep, fk, change.AlterColumns)...)
			}
		}
	}
	return problems
}

func incompatibleColumns(dep *schema.Table, fk *schema.ForeignKey, altered []schema.Column) []schema.Problem {
	var problems []schema.Problem
	for j, refName := range fk.ReferenceColumns {
		for k := range altered {
			parent := &altered[k]
			if parent.Name != refName || j >= len(fk.Columns) {
				continue
			}
			local, ok := dep.Column(fk.Columns[j])
			if !ok || schema.CompatibleTypes(local.Type, parent.Type) {
				continue
			}
			problems = append(problems, schema.Problem{
				Resource: dep.Name,
				Field:    "foreign_keys",
				Message: fmt.Sprintf("%s.%s changes to %s, incompatible with %s (%s)",
					fk.ReferenceTable, parent.Name, parent.Type, local.Name, local.Type),
			})
		}
	}
	return problems
}

func unionNames(a, b *schema.Graph) []string {
	merged := schema.NewGraph()
	for name, t := range a.Tables {
		merged.Tables[name] = t
	}
	for name, t := range b.Tables {
		merged.Tables[name] = t
	}
	return merged.Names()
}
