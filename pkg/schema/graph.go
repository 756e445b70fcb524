package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
)

// Graph is the desired (or recorded) set of tables keyed by name.
// Edges are implied by foreign keys: A -> B when A references B.
type Graph struct {
	Tables map[string]*Table `json:"tables"`
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{Tables: make(map[string]*Table)}
}

// Add inserts a table. Names must be unique.
func (g *Graph) Add(t *Table) error {
	if t == nil {
		return fmt.Errorf("cannot add nil table")
	}
	if _, exists := g.Tables[t.Name]; exists {
		return fmt.Errorf("duplicate resource: %s", t.Name)
	}
	g.Tables[t.Name] = t
	return nil
}

// Get returns the named table.
func (g *Graph) Get(name string) (*Table, bool) {
	t, ok := g.Tables[name]
	return t, ok
}

// Len returns the number of tables.
func (g *Graph) Len() int {
	return len(g.Tables)
}

// Names returns the table names in lexical order.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.Tables))
	for name := range g.Tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Dependents returns the tables, other than name itself, holding a foreign
// key into name. The result is sorted.
func (g *Graph) Dependents(name string) []string {
	var out []string
	for other, t := range g.Tables {
		if other == name {
			continue
		}
		if slices.Contains(t.References(), name) {
			out = append(out, other)
		}
	}
	slices.Sort(out)
	return out
}

// Filter returns a graph holding only tables of the given kind.
// Tables are shared, not copied.
func (g *Graph) Filter(kind Kind) *Graph {
	out := NewGraph()
	for name, t := range g.Tables {
		if t.Kind == kind {
			out.Tables[name] = t
		}
	}
	return out
}

// Clone returns a deep copy.
func (g *Graph) Clone() *Graph {
	out := NewGraph()
	for name, t := range g.Tables {
		out.Tables[name] = t.Clone()
	}
	return out
}

// Fingerprint hashes the canonical JSON form of the graph. Map keys are
// emitted sorted by encoding/json, so equal graphs hash equally.
func (g *Graph) Fingerprint() string {
	data, err := json.Marshal(g.Tables)
	if err != nil {
		// Tables only hold strings, bools and slices thereof.
		panic(fmt.Sprintf("schema: marshal graph: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
