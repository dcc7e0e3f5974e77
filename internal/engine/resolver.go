package engine

import (
	"sort"
	"strings"

	"github.com/erp/logicengine/internal/domain/rule"
	"github.com/erp/logicengine/internal/domain/schema"
	"github.com/erp/logicengine/internal/domain/shared"
)

// attrNode identifies one (entity, attribute) pair in the dependency graph.
type attrNode struct {
	entity    string
	attribute string
}

func (n attrNode) String() string {
	return n.entity + "." + n.attribute
}

// hop says how a change at a source row locates the rows whose target
// attribute must be recomputed.
type hop int

const (
	hopSelf       hop = iota // same row
	hopToChildren            // source row is the parent; fan out to its children
	hopToParent              // source row is a child; follow its FK up
)

// depEdge is one "recompute target whenever source changes" edge.
type depEdge struct {
	source attrNode
	target attrNode
	hop    hop
	rel    schema.Relationship // set for hopToChildren and hopToParent
}

// resolver holds the static dependency graph and its topological evaluation
// order. It is built once at engine construction and reused for every
// transaction.
type resolver struct {
	nodes []attrNode
	index map[attrNode]int // first-registration order
	out   map[attrNode][]depEdge
	order []attrNode
}

// newResolver builds the dependency graph from the rule set and computes the
// evaluation order. A cycle is a fatal SchemaError: a derivation graph must
// be a DAG by construction.
func newResolver(g *schema.Graph, reg *rule.Registry) (*resolver, error) {
	r := &resolver{
		index: make(map[attrNode]int),
		out:   make(map[attrNode][]depEdge),
	}

	for _, f := range reg.Formulas() {
		target := r.node(f.Entity, f.Target)
		for _, ref := range f.Reads {
			var e depEdge
			if ref.Via == "" {
				e = depEdge{source: r.node(f.Entity, ref.Attribute), target: target, hop: hopSelf}
			} else {
				rel, _ := g.ParentRelationship(f.Entity, ref.Via)
				e = depEdge{source: r.node(rel.Parent, ref.Attribute), target: target, hop: hopToChildren, rel: rel}
			}
			r.out[e.source] = append(r.out[e.source], e)
		}
	}
	for _, a := range reg.Aggregates() {
		target := r.node(a.Entity, a.Target)
		rel, _ := g.ChildRelationship(a.Entity, a.Relationship)
		if a.Op == rule.OpSum {
			e := depEdge{source: r.node(rel.Child, a.ChildAttribute), target: target, hop: hopToParent, rel: rel}
			r.out[e.source] = append(r.out[e.source], e)
		}
		// Child-row existence (insert/delete/reparent) also feeds the
		// aggregate; the transaction seeds those directly from events.
	}

	if err := r.sort(); err != nil {
		return nil, err
	}
	return r, nil
}

// node interns an attribute node, preserving first-registration order.
func (r *resolver) node(entity, attribute string) attrNode {
	n := attrNode{entity: entity, attribute: attribute}
	if _, ok := r.index[n]; !ok {
		r.index[n] = len(r.nodes)
		r.nodes = append(r.nodes, n)
	}
	return n
}

// dependents returns the outgoing edges of a node.
func (r *resolver) dependents(n attrNode) []depEdge {
	return r.out[n]
}

// sort runs Kahn's algorithm over the dependency graph. Ties among
// independent nodes are broken by registration order so the evaluation
// order is reproducible across runs.
func (r *resolver) sort() error {
	indeg := make(map[attrNode]int, len(r.nodes))
	for _, n := range r.nodes {
		indeg[n] = 0
	}
	for _, edges := range r.out {
		for _, e := range edges {
			indeg[e.target]++
		}
	}

	var ready []attrNode
	for _, n := range r.nodes {
		if indeg[n] == 0 {
			ready = append(ready, n)
		}
	}

	r.order = make([]attrNode, 0, len(r.nodes))
	for len(ready) > 0 {
		// Lowest registration index first.
		best := 0
		for i := 1; i < len(ready); i++ {
			if r.index[ready[i]] < r.index[ready[best]] {
				best = i
			}
		}
		n := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		r.order = append(r.order, n)
		for _, e := range r.out[n] {
			indeg[e.target]--
			if indeg[e.target] == 0 {
				ready = append(ready, e.target)
			}
		}
	}

	if len(r.order) < len(r.nodes) {
		var cyclic []string
		for n, d := range indeg {
			if d > 0 {
				cyclic = append(cyclic, n.String())
			}
		}
		sort.Strings(cyclic)
		return shared.NewSchemaError(shared.SchemaDependencyCycle, "dependency cycle among attributes: %s", strings.Join(cyclic, ", "))
	}
	return nil
}
