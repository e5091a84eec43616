package trace

import (
	"wintrace/internal/engine"
	"wintrace/internal/window"
)

// CallTracer streams one line per routine entry:
//
//	<depth spaces><name>(0x<arg0>,...)
type CallTracer struct {
	out *Sink
}

// NewCallTracer returns a call tracer writing to out.
func NewCallTracer(out *Sink) *CallTracer {
	return &CallTracer{out: out}
}

func (t *CallTracer) Enter(f Frame) {
	t.out.Printf("%s%s(0x%x,...)\n", window.Indent(f.Depth), f.Name, f.Arg0)
}

func (t *CallTracer) Retire(engine.Retired, string) {}

func (t *CallTracer) Finish(int) error { return t.out.Err() }
