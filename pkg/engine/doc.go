// Package engine computes and executes schema change plans.
//
// # Overview
//
// A run moves through four phases:
//
//  1. Validate - check the desired graph (Planner.Validate)
//  2. Diff - compare desired against recorded state (Diff)
//  3. Plan - order the changes into actions (Planner.BuildPlan)
//  4. Apply - run the actions one by one, persisting after each (Executor)
//
// # Ordering
//
// Resources are ordered by their foreign keys: a referenced table is created
// before the tables that reference it and dropped after them. Ties are broken
// by name, so the same inputs always produce the same plan.
//
// When the backend can add foreign keys to existing tables, a key whose
// target does not exist yet is split off into a deferred add_foreign_key
// action at the end of the plan. This makes self references and reference
// cycles plannable. Backends without that capability reject cycles with a
// CYCLIC_DEPENDENCY error.
//
// # Execution
//
// The executor is strictly sequential and stops at the first failure. The
// state store is rewritten after every successful action, so an interrupted
// apply leaves state describing exactly what was done. A plan records the
// fingerprint of the state it was computed from and is refused if that state
// has moved on:
//
//	plan, err := planner.BuildPlan(desired, store.Snapshot())
//	if err != nil {
//	    return err
//	}
//	report, err := engine.NewExecutor(backend).Execute(ctx, plan, store)
//
// # Error Classification
//
// Every failure carries a code from a fixed taxonomy (see the ErrCode
// constants) and a class. Transient errors (lost connections, timeouts) may
// succeed unchanged on a later run; permanent ones need the operator to act.
// The engine never retries on its own.
//
//	if errors.Is(err, engine.ErrStalePlan) {
//	    // re-plan
//	}
package engine
