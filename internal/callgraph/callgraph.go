// Package callgraph builds a lattice call graph from routine entries
// observed at run time.
package callgraph

import (
	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"
)

// Builder turns a stream of (routine, depth) entries into caller→callee
// edges. The caller of an entry at depth d is the routine most recently
// entered at depth d-1.
type Builder struct {
	stack []string // stack[d] is the routine entered at depth d
	nodes map[string]bool
	edges map[[2]string]bool
	g     *lattice.Graph
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes: make(map[string]bool),
		edges: make(map[[2]string]bool),
		g:     &lattice.Graph{},
	}
}

// Enter records an activation of name at depth. Negative depths are treated
// as 0; an entry deeper than any tracked frame attaches to the innermost.
func (b *Builder) Enter(name string, depth int) {
	d := max(depth, 0)
	if d > len(b.stack) {
		d = len(b.stack)
	}
	if !b.nodes[name] {
		b.nodes[name] = true
		b.g.Nodes = append(b.g.Nodes, name)
	}
	if d > 0 {
		key := [2]string{b.stack[d-1], name}
		if !b.edges[key] {
			b.edges[key] = true
			b.g.Edges = append(b.g.Edges, lattice.Edge{Caller: key[0], Callee: key[1]})
		}
	}
	b.stack = append(b.stack[:d], name)
}

// Graph returns the deduplicated graph.
func (b *Builder) Graph() *lattice.Graph {
	b.g.Dedup()
	return b.g
}

// DOT renders the graph.
func (b *Builder) DOT(title string) string {
	return render.DOT(b.Graph(), title)
}
