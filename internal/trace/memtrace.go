package trace

import "wintrace/internal/engine"

// MemTracer streams one line per memory access:
//
//	0x<pc> 0x<addr> L|S
//
// An instruction that both reads and writes emits its loads first, then
// its stores.
type MemTracer struct {
	out    *Sink
	footer string
}

// NewMemTracer returns a memory tracer writing to out.
func NewMemTracer(out *Sink, footer string) *MemTracer {
	return &MemTracer{out: out, footer: footer}
}

func (t *MemTracer) Enter(Frame) {}

func (t *MemTracer) Retire(ins engine.Retired, _ string) {
	for _, ea := range ins.Reads {
		t.out.Printf("0x%x 0x%x L\n", ins.PC, ea)
	}
	for _, ea := range ins.Writes {
		t.out.Printf("0x%x 0x%x S\n", ins.PC, ea)
	}
}

func (t *MemTracer) Finish(int) error {
	if t.footer != "" {
		t.out.Printf("%s\n", t.footer)
	}
	return t.out.Err()
}
