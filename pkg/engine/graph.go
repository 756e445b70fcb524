package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aquaform/aquaform/pkg/schema"
)

// DependencyGraph orders resources by their foreign key references.
// Nodes are resource names; an edge A -> B means A references B, so B must
// exist before A and A must be dropped before B.
type DependencyGraph struct {
	// nodes holds every resource name, sorted
	nodes []string

	// dependencies maps a resource to the resources it references
	dependencies map[string][]string

	// dependents maps a resource to the resources referencing it
	dependents map[string][]string

	// selfRefs marks resources with a foreign key into themselves
	selfRefs map[string]bool

	// allowDeferred lets ordering break cycles instead of failing
	allowDeferred bool
}

// NewDependencyGraph builds the graph for g. When allowDeferred is false a
// cycle between distinct resources is an error; self references never are.
func NewDependencyGraph(g *schema.Graph, allowDeferred bool) *DependencyGraph {
	dg := &DependencyGraph{
		nodes:         g.Names(),
		dependencies:  make(map[string][]string),
		dependents:    make(map[string][]string),
		selfRefs:      make(map[string]bool),
		allowDeferred: allowDeferred,
	}

	for _, name := range dg.nodes {
		t := g.Tables[name]
		for _, ref := range t.References() {
			if ref == name {
				dg.selfRefs[name] = true
				continue
			}
			// Edges to undeclared tables are validation's business.
			if _, ok := g.Tables[ref]; !ok {
				continue
			}
			dg.dependencies[name] = append(dg.dependencies[name], ref)
			dg.dependents[ref] = append(dg.dependents[ref], name)
		}
	}
	for name := range dg.dependents {
		slices.Sort(dg.dependents[name])
	}
	return dg
}

// Nodes returns every resource name, sorted.
func (dg *DependencyGraph) Nodes() []string {
	return slices.Clone(dg.nodes)
}

// Dependencies returns the resources name references, excluding itself.
func (dg *DependencyGraph) Dependencies(name string) []string {
	return slices.Clone(dg.dependencies[name])
}

// Dependents returns the resources referencing name, excluding itself.
func (dg *DependencyGraph) Dependents(name string) []string {
	return slices.Clone(dg.dependents[name])
}

// SelfReferencing reports whether name has a foreign key into itself.
func (dg *DependencyGraph) SelfReferencing(name string) bool {
	return dg.selfRefs[name]
}

// TopologicalOrder returns creation order: referenced resources first, ties
// broken by name.
func (dg *DependencyGraph) TopologicalOrder() ([]string, error) {
	return dg.order(dg.dependencies, dg.dependents)
}

// ReverseTopologicalOrder returns destruction order: dependents first, ties
// broken by name.
func (dg *DependencyGraph) ReverseTopologicalOrder() ([]string, error) {
	return dg.order(dg.dependents, dg.dependencies)
}

// order runs Kahn's algorithm. waitsOn lists what a node needs emitted first;
// releases lists the nodes whose wait shrinks when it is emitted. When the
// ready set runs dry and deferral is allowed, the lowest-named remaining node
// is emitted anyway; its outstanding edges become deferred foreign keys.
func (dg *DependencyGraph) order(waitsOn, releases map[string][]string) ([]string, error) {
	pending := make(map[string]int, len(dg.nodes))
	ready := make([]string, 0)
	for _, name := range dg.nodes {
		pending[name] = len(waitsOn[name])
		if pending[name] == 0 {
			ready = append(ready, name)
		}
	}

	emitted := make(map[string]bool, len(dg.nodes))
	order := make([]string, 0, len(dg.nodes))

	emit := func(name string) {
		emitted[name] = true
		order = append(order, name)
		for _, next := range releases[name] {
			if emitted[next] {
				continue
			}
			pending[next]--
			if pending[next] == 0 {
				ready = insertSorted(ready, next)
			}
		}
	}

	for len(order) < len(dg.nodes) {
		if len(ready) > 0 {
			name := ready[0]
			ready = ready[1:]
			emit(name)
			continue
		}

		if !dg.allowDeferred {
			return nil, NewCyclicDependencyError(dg.findCycle())
		}
		for _, name := range dg.nodes {
			if !emitted[name] {
				pending[name] = 0
				emit(name)
				break
			}
		}
	}
	return order, nil
}

func insertSorted(list []string, name string) []string {
	i, found := slices.BinarySearch(list, name)
	if found {
		return list
	}
	return slices.Insert(list, i, name)
}

// findCycle uses depth-first search over reference edges and returns the
// first cycle found, starting and ending with the same resource.
func (dg *DependencyGraph) findCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, name := range dg.nodes {
		if visited[name] {
			continue
		}
		if cycle := dg.findCycleUtil(name, visited, recStack, nil); cycle != nil {
			return cycle
		}
	}
	return nil
}

func (dg *DependencyGraph) findCycleUtil(
	name string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, dep := range dg.dependencies[name] {
		if !visited[dep] {
			if cycle := dg.findCycleUtil(dep, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dep] {
			start := slices.Index(path, dep)
			cycle := slices.Clone(path[start:])
			return append(cycle, dep)
		}
	}

	recStack[name] = false
	return nil
}

// ToDOT renders the graph in Graphviz DOT format. Edges point from the
// referencing table to the referenced one.
func (dg *DependencyGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Resources {\n")
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, name := range dg.nodes {
		sb.WriteString(fmt.Sprintf("  %q;\n", name))
	}
	if len(dg.nodes) > 0 {
		sb.WriteString("\n")
	}
	for _, name := range dg.nodes {
		for _, dep := range dg.dependencies[name] {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", name, dep))
		}
		if dg.selfRefs[name] {
			sb.WriteString(fmt.Sprintf("  %q -> %q [style=dashed];\n", name, name))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
