package engine

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/aquaform/aquaform/pkg/state"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Planner turns a diff into an ordered plan for one backend.
type Planner struct {
	kind   schema.Kind
	caps   Capabilities
	logger zerolog.Logger
	now    func() time.Time
}

// NewPlanner creates a planner for a backend kind and its capabilities.
func NewPlanner(kind schema.Kind, caps Capabilities, logger zerolog.Logger) *Planner {
	return &Planner{
		kind:   kind,
		caps:   caps,
		logger: logger.With().Str("component", "planner").Logger(),
		now:    time.Now,
	}
}

// Validate checks the desired graph against the model invariants and this
// backend's capabilities.
func (p *Planner) Validate(desired *schema.Graph) error {
	if desired == nil {
		return NewPermanentError("desired graph is nil", nil).WithCode(ErrCodeValidation)
	}

	var problems []schema.Problem
	for _, name := range desired.Names() {
		if t := desired.Tables[name]; t.Kind != p.kind {
			problems = append(problems, schema.Problem{Resource: name, Field: "kind",
				Message: fmt.Sprintf("kind %s cannot be managed by the %s backend", t.Kind, p.kind)})
		}
	}
	if len(problems) > 0 {
		return NewValidationError(&schema.ValidationError{Problems: problems})
	}

	if err := schema.Validate(desired, schema.WithAllowedModifiers(p.caps.Modifiers...)); err != nil {
		return NewValidationError(err)
	}
	return nil
}

// BuildPlan computes the plan that reconciles rec with desired.
func (p *Planner) BuildPlan(desired *schema.Graph, rec *state.Record) (*Plan, error) {
	if err := p.Validate(desired); err != nil {
		return nil, err
	}

	changes, err := Diff(desired, rec)
	if err != nil {
		return nil, err
	}

	creation, err := NewDependencyGraph(desired, p.caps.DeferredForeignKeys).TopologicalOrder()
	if err != nil {
		return nil, err
	}
	recorded := rec.Graph()
	destruction, err := NewDependencyGraph(recorded, p.caps.DeferredForeignKeys).ReverseTopologicalOrder()
	if err != nil {
		return nil, err
	}

	plan := p.newPlan(rec)
	plan.DesiredFingerprint = desired.Fingerprint()
	plan.Changes = changes
	plan.Actions = assemble(changes, desired, recorded, creation, destruction, p.caps.DeferredForeignKeys)
	p.finalize(plan)

	p.logger.Debug().
		Str("plan_id", plan.ID).
		Int("changes", len(changes)).
		Int("actions", len(plan.Actions)).
		Int("destructive", plan.Summary.Destructive).
		Msg("Plan built")
	return plan, nil
}

// BuildDestroyPlan drops every recorded resource, or only target when it is
// non-empty. A targeted destroy is refused while another resource holds a
// foreign key into target that does not cascade on delete; cascading keys
// are dropped before the table.
func (p *Planner) BuildDestroyPlan(rec *state.Record, target string) (*Plan, error) {
	recorded := rec.Graph()
	destruction, err := NewDependencyGraph(recorded, p.caps.DeferredForeignKeys).ReverseTopologicalOrder()
	if err != nil {
		return nil, err
	}

	var changes []ResourceChange
	if target == "" {
		for _, name := range recorded.Names() {
			changes = append(changes, ResourceChange{
				Resource: name, Type: ChangeDrop, Recorded: recorded.Tables[name], Reason: "destroy",
			})
		}
	} else {
		t, ok := recorded.Get(target)
		if !ok {
			return nil, NewPermanentError("resource is not in state", nil).
				WithCode(ErrCodeValidation).WithResource(target)
		}
		if blocking := blockingDependents(recorded, target); len(blocking) > 0 {
			return nil, NewDependentResourceExistsError(target, blocking)
		}
		changes = append(changes, ResourceChange{
			Resource: target, Type: ChangeDrop, Recorded: t, Reason: "targeted destroy",
		})
	}

	plan := p.newPlan(rec)
	plan.Destroy = true
	plan.Target = target
	plan.Changes = changes
	plan.Actions = assemble(changes, nil, recorded, nil, destruction, p.caps.DeferredForeignKeys)
	p.finalize(plan)

	p.logger.Debug().
		Str("plan_id", plan.ID).
		Str("target", target).
		Int("actions", len(plan.Actions)).
		Msg("Destroy plan built")
	return plan, nil
}

// blockingDependents lists resources with a non-cascading key into target.
func blockingDependents(recorded *schema.Graph, target string) []string {
	var out []string
	for _, name := range recorded.Dependents(target) {
		t := recorded.Tables[name]
		for i := range t.ForeignKeys {
			fk := &t.ForeignKeys[i]
			if fk.ReferenceTable == target && fk.DeleteAction() != schema.ActionCascade {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

func (p *Planner) newPlan(rec *state.Record) *Plan {
	return &Plan{
		ID:               uuid.New().String(),
		CreatedAt:        p.now().UTC(),
		Backend:          p.kind,
		StateFingerprint: rec.Fingerprint(),
		StateSerial:      rec.Serial,
	}
}

// finalize numbers the actions and fills in the summary.
func (p *Planner) finalize(plan *Plan) {
	plan.Summary = PlanSummary{ByType: make(map[ActionType]int)}
	resources := make(map[string]bool)
	for i, a := range plan.Actions {
		a.Index = i + 1
		a.Status = ActionStatusPending
		plan.Summary.Total++
		plan.Summary.ByType[a.Type]++
		if a.Destructive {
			plan.Summary.Destructive++
		}
		resources[a.Resource] = true
	}
	plan.Summary.Resources = len(resources)
}

// CheckDesired returns a stale plan error when desired no longer matches the
// model the plan was computed from.
func (plan *Plan) CheckDesired(desired *schema.Graph) error {
	if plan.DesiredFingerprint == "" || desired == nil {
		return nil
	}
	if fp := desired.Fingerprint(); fp != plan.DesiredFingerprint {
		return NewStalePlanError("desired state changed since the plan was computed")
	}
	return nil
}

// assemble orders the actions of changes:
//
//  1. every foreign key drop, by destruction order of the owner
//  2. table drops (removed and recreated resources), by destruction order
//  3. creates and alters, by creation order; within a resource: added
//     columns, altered columns, dropped columns, then foreign keys
//  4. deferred foreign keys, by resource name
//
// A created table carries the keys whose target is created before it. Self
// references are split off into the deferred pass when splitKeys is set and
// stay in the create otherwise, for backends that cannot add keys later.
// desired may be nil for destroy plans, in which case nothing is re-added.
func assemble(changes []ResourceChange, desired, recorded *schema.Graph, creation, destruction []string, splitKeys bool) []*Action {
	byName := make(map[string]*ResourceChange, len(changes))
	dropped := make(map[string]bool)
	for i := range changes {
		c := &changes[i]
		byName[c.Resource] = c
		if c.Type.IsDestructive() {
			dropped[c.Resource] = true
		}
	}
	dropPos := positions(destruction)
	createPos := positions(creation)

	fkDrops := make(map[string][]schema.ForeignKey)
	addFKDrop := func(owner string, fk schema.ForeignKey) {
		for _, existing := range fkDrops[owner] {
			if existing.Identity() == fk.Identity() {
				return
			}
		}
		fkDrops[owner] = append(fkDrops[owner], fk)
	}
	for _, c := range byName {
		for _, fk := range c.DropForeignKeys {
			addFKDrop(c.Resource, fk)
		}
	}

	var deferred []*Action

	// A table cannot be dropped while another table still has a key into
	// it. Keys of tables dropped earlier in the sequence go with them.
	for _, target := range destruction {
		if !dropped[target] {
			continue
		}
		for _, owner := range recorded.Dependents(target) {
			if dropped[owner] && dropPos[owner] < dropPos[target] {
				continue
			}
			t := recorded.Tables[owner]
			for i := range t.ForeignKeys {
				fk := t.ForeignKeys[i]
				if fk.ReferenceTable != target {
					continue
				}
				addFKDrop(owner, fk)
				if readd, ok := keyToRestore(desired, byName[owner], owner, &fk, dropped); ok {
					deferred = append(deferred, newAddForeignKey(owner, readd, "restore after "+target+" is recreated"))
				}
			}
		}
	}

	actions := make([]*Action, 0)

	// 1. foreign key drops
	for _, owner := range destruction {
		fks := fkDrops[owner]
		slices.SortFunc(fks, compareIdentity)
		for i := range fks {
			fk := fks[i]
			actions = append(actions, &Action{
				Type:       ActionDropForeignKey,
				Resource:   owner,
				ForeignKey: &fk,
			})
		}
	}

	// 2. table drops
	for _, name := range destruction {
		if !dropped[name] {
			continue
		}
		c := byName[name]
		actions = append(actions, &Action{
			Type:        ActionDropTable,
			Resource:    name,
			Destructive: true,
			Reason:      c.Reason,
		})
	}

	// 3. creates and alters
	for _, name := range creation {
		c, ok := byName[name]
		if !ok {
			continue
		}
		switch c.Type {
		case ChangeCreate, ChangeRecreate:
			table := c.Desired.Clone()
			inline := table.ForeignKeys[:0]
			for _, fk := range table.ForeignKeys {
				ref, known := createPos[fk.ReferenceTable]
				self := fk.ReferenceTable == name
				if (self && !splitKeys) || (!self && known && ref < createPos[name]) {
					inline = append(inline, fk)
					continue
				}
				deferred = append(deferred, newAddForeignKey(name, fk, ""))
			}
			if len(inline) == 0 {
				inline = nil
			}
			table.ForeignKeys = inline
			actions = append(actions, &Action{
				Type:        ActionCreateTable,
				Resource:    name,
				Table:       table,
				Destructive: c.Type == ChangeRecreate,
				Reason:      c.Reason,
			})

		case ChangeAlter:
			for i := range c.AddColumns {
				col := c.AddColumns[i]
				actions = append(actions, &Action{Type: ActionAddColumn, Resource: name, Column: &col})
			}
			for i := range c.AlterColumns {
				col := c.AlterColumns[i]
				alter := &Action{Type: ActionAlterColumn, Resource: name, Column: &col}
				if prev, ok := c.Recorded.Column(col.Name); ok {
					p := *prev
					alter.Previous = &p
				}
				actions = append(actions, alter)
			}
			for _, colName := range c.DropColumns {
				actions = append(actions, &Action{
					Type:        ActionDropColumn,
					Resource:    name,
					ColumnName:  colName,
					Destructive: true,
				})
			}
			for _, fk := range c.AddForeignKeys {
				ref, known := createPos[fk.ReferenceTable]
				if fk.ReferenceTable == name || (known && ref < createPos[name]) {
					actions = append(actions, newAddForeignKey(name, fk, ""))
					continue
				}
				deferred = append(deferred, newAddForeignKey(name, fk, ""))
			}
		}
	}

	// 4. deferred foreign keys
	slices.SortStableFunc(deferred, func(a, b *Action) int {
		if c := cmp.Compare(a.Resource, b.Resource); c != 0 {
			return c
		}
		return compareIdentity(*a.ForeignKey, *b.ForeignKey)
	})
	return append(actions, deferred...)
}

// keyToRestore reports whether a key dropped only to unblock a table drop
// must be added back: the owner survives and still declares it unchanged.
func keyToRestore(desired *schema.Graph, change *ResourceChange, owner string, fk *schema.ForeignKey, dropped map[string]bool) (schema.ForeignKey, bool) {
	if desired == nil || dropped[owner] {
		return schema.ForeignKey{}, false
	}
	t, ok := desired.Get(owner)
	if !ok {
		return schema.ForeignKey{}, false
	}
	want, ok := t.ForeignKeyByIdentity(fk.Identity())
	if !ok {
		return schema.ForeignKey{}, false
	}
	if change != nil {
		for _, added := range change.AddForeignKeys {
			if added.Identity() == want.Identity() {
				return schema.ForeignKey{}, false
			}
		}
	}
	return *want, true
}

func newAddForeignKey(owner string, fk schema.ForeignKey, reason string) *Action {
	return &Action{
		Type:       ActionAddForeignKey,
		Resource:   owner,
		ForeignKey: &fk,
		Reason:     reason,
	}
}

func compareIdentity(a, b schema.ForeignKey) int {
	return cmp.Compare(a.Identity(), b.Identity())
}

func positions(order []string) map[string]int {
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	return pos
}
