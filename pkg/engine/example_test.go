package engine_test

import (
	"fmt"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/aquaform/aquaform/pkg/state"
	"github.com/rs/zerolog"
)

// Example_plan shows how a desired graph turns into an ordered plan against
// an empty state.
func Example_plan() {
	desired := schema.NewGraph()
	_ = desired.Add(&schema.Table{
		Name: "posts",
		Kind: schema.KindSQLTable,
		Columns: []schema.Column{
			{Name: "id", Type: "integer"},
			{Name: "author_id", Type: "integer"},
		},
		PrimaryKey: []string{"id"},
		ForeignKeys: []schema.ForeignKey{{
			Columns:          []string{"author_id"},
			ReferenceTable:   "authors",
			ReferenceColumns: []string{"id"},
			OnDelete:         schema.ActionCascade,
		}},
	})
	_ = desired.Add(&schema.Table{
		Name:       "authors",
		Kind:       schema.KindSQLTable,
		Columns:    []schema.Column{{Name: "id", Type: "integer"}},
		PrimaryKey: []string{"id"},
	})

	planner := engine.NewPlanner(schema.KindSQLTable,
		engine.Capabilities{DeferredForeignKeys: true}, zerolog.Nop())

	plan, err := planner.BuildPlan(desired, state.NewRecord(schema.KindSQLTable))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, a := range plan.Actions {
		fmt.Printf("%d. %s\n", a.Index, a)
	}
	fmt.Println("destructive:", plan.Summary.Destructive)

	// Output:
	// 1. create_table authors
	// 2. create_table posts
	// destructive: 0
}

// Example_dependencyGraph renders creation order and a DOT graph.
func Example_dependencyGraph() {
	g := schema.NewGraph()
	_ = g.Add(&schema.Table{
		Name:       "orders",
		Kind:       schema.KindSQLTable,
		Columns:    []schema.Column{{Name: "id", Type: "integer"}, {Name: "customer_id", Type: "integer"}},
		PrimaryKey: []string{"id"},
		ForeignKeys: []schema.ForeignKey{{
			Columns: []string{"customer_id"}, ReferenceTable: "customers", ReferenceColumns: []string{"id"},
		}},
	})
	_ = g.Add(&schema.Table{
		Name:       "customers",
		Kind:       schema.KindSQLTable,
		Columns:    []schema.Column{{Name: "id", Type: "integer"}},
		PrimaryKey: []string{"id"},
	})

	dg := engine.NewDependencyGraph(g, false)
	order, _ := dg.TopologicalOrder()
	fmt.Println(order)
	fmt.Print(dg.ToDOT())

	// Output:
	// [customers orders]
	// digraph Resources {
	//   rankdir=BT;
	//   node [shape=box, style=rounded];
	//
	//   "customers";
	//   "orders";
	//
	//   "orders" -> "customers";
	// }
}
