package trace

import (
	"github.com/zboralski/lattice"

	"wintrace/internal/callgraph"
	"wintrace/internal/engine"
)

// CallGraph collects the caller→callee edges observed inside the window
// and writes them as DOT at exit.
type CallGraph struct {
	out   *Sink
	title string
	b     *callgraph.Builder
}

// NewCallGraph returns a call-graph consumer writing DOT to out.
func NewCallGraph(out *Sink, title string) *CallGraph {
	return &CallGraph{out: out, title: title, b: callgraph.NewBuilder()}
}

func (cg *CallGraph) Enter(f Frame) { cg.b.Enter(f.Name, f.Depth) }

func (cg *CallGraph) Retire(engine.Retired, string) {}

// Graph returns the collected graph.
func (cg *CallGraph) Graph() *lattice.Graph { return cg.b.Graph() }

func (cg *CallGraph) Finish(int) error {
	cg.out.WriteString(cg.b.DOT(cg.title))
	return cg.out.Err()
}
