package trace

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"wintrace/internal/disasm"
	"wintrace/internal/engine"
	"wintrace/internal/window"
)

// harness drives a Context the way the engine does: the entry hook fires
// before the routine's first instruction retires.
type harness struct {
	ctx *Context
	pc  uint64
}

func newHarness(cfg window.Config, consumers ...Consumer) *harness {
	return &harness{ctx: NewContext(window.New(cfg), zerolog.Nop(), consumers...), pc: 0x1000}
}

func (h *harness) retire(class disasm.Class, reads, writes []uint64) {
	h.ctx.OnInstructionRetired(engine.Retired{PC: h.pc, Class: class, Reads: reads, Writes: writes})
	h.pc += 4
}

func (h *harness) enter(name string, arg0 uint64) {
	h.ctx.OnRoutineEntry(engine.Entry{Name: name, Addr: h.pc, Arg0: arg0})
	h.retire(0, nil, nil)
}

func (h *harness) op() { h.retire(0, nil, nil) }
func (h *harness) call() { h.retire(disasm.ClassCall, nil, nil) }
func (h *harness) ret() { h.retire(disasm.ClassRet, nil, nil) }
func (h *harness) exit() { h.ctx.OnProcessExit(0) }
func (h *harness) at(pc uint64) *harness {
	h.pc = pc
	return h
}

func bufSink(buf *bytes.Buffer) *Sink { return NewSink("test", buf) }

// scenario runs _start -> main(1) -> foo(5) -> bar(7), both return, main
// returns to the C runtime, which then calls exit(0).
func scenario(h *harness) {
	h.enter("_start", 0)
	h.call()
	h.enter("main", 1)
	h.call()
	h.enter("foo", 5)
	h.call()
	h.enter("bar", 7)
	h.ret()
	h.ret()
	h.ret() // main returns
	h.call()
	h.enter("exit", 0)
	h.op()
	h.exit()
}

func TestCallTraceScenario(t *testing.T) {
	var buf bytes.Buffer
	sink := bufSink(&buf)
	scenario(newHarness(window.Config{}, NewCallTracer(sink)))
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	want := "main(0x1,...)\n" +
		" foo(0x5,...)\n" +
		"  bar(0x7,...)\n" +
		"exit(0x0,...)\n"
	if buf.String() != want {
		t.Errorf("call trace:\n%q\nwant:\n%q", buf.String(), want)
	}
}

func TestNothingBeforeStart(t *testing.T) {
	var calls, insts, mem bytes.Buffer
	sinks := []*Sink{bufSink(&calls), bufSink(&insts), bufSink(&mem)}
	counter := NewInstCounter(sinks[1], "")
	h := newHarness(window.Config{}, NewCallTracer(sinks[0]), counter, NewMemTracer(sinks[2], ""))

	h.enter("_start", 0)
	h.retire(disasm.ClassRead, []uint64{0x10}, nil)
	h.call()
	h.enter("__libc_start_main", 0)
	h.retire(disasm.ClassWrite, nil, []uint64{0x20})
	h.exit()
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
	}

	if len(counter.Order()) != 0 {
		t.Errorf("tally recorded before start: %v", counter.Order())
	}
	if h.ctx.Depth() != 0 {
		t.Errorf("depth moved before start: %d", h.ctx.Depth())
	}
	if calls.Len() != 0 || insts.Len() != 0 || mem.Len() != 0 {
		t.Errorf("output before start: calls=%q insts=%q mem=%q", calls.String(), insts.String(), mem.String())
	}
}

func TestNothingAfterEnd(t *testing.T) {
	var calls, mem bytes.Buffer
	counter := NewInstCounter(NewSink("insts", &bytes.Buffer{}), "")
	callSink, memSink := bufSink(&calls), bufSink(&mem)
	h := newHarness(window.Config{}, NewCallTracer(callSink), counter, NewMemTracer(memSink, ""))

	h.enter("main", 0)
	h.call()
	h.enter("exit", 0)
	// exit's own instructions and anything after are outside the window.
	h.retire(disasm.ClassRead, []uint64{0x99}, nil)
	h.call()
	h.enter("atexit_handler", 3)
	h.enter("main", 0)
	h.retire(disasm.ClassWrite, nil, []uint64{0x98})
	callSink.Close()
	memSink.Close()

	if calls.String() != "main(0x0,...)\n exit(0x0,...)\n" {
		t.Errorf("call trace = %q", calls.String())
	}
	if mem.Len() != 0 {
		t.Errorf("memory trace after end = %q", mem.String())
	}
	if got := counter.Count("exit"); got != 0 {
		t.Errorf("exit tally = %d, want 0", got)
	}
	if got := counter.Count("main"); got != 2 {
		t.Errorf("main tally = %d, want 2", got)
	}
	if h.ctx.Window().State() != window.Closed {
		t.Errorf("window state = %s", h.ctx.Window().State())
	}
}

func TestRearmResetsDepth(t *testing.T) {
	var buf bytes.Buffer
	sink := bufSink(&buf)
	h := newHarness(window.Config{Policy: window.Rearm}, NewCallTracer(sink))

	h.enter("main", 1)
	h.call()
	h.call() // unmatched call leaves depth at 2
	h.enter("exit", 0)
	h.enter("main", 2)
	sink.Close()

	want := "main(0x1,...)\n  exit(0x0,...)\nmain(0x2,...)\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestNegativeDepthRendersUnindented(t *testing.T) {
	var buf bytes.Buffer
	sink := bufSink(&buf)
	h := newHarness(window.Config{}, NewCallTracer(sink))

	h.enter("main", 0)
	h.ret()
	h.ret()
	h.enter("orphan", 9)
	sink.Close()

	if h.ctx.Depth() != -2 {
		t.Errorf("depth = %d, want -2", h.ctx.Depth())
	}
	if buf.String() != "main(0x0,...)\norphan(0x9,...)\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestUnknownRoutineName(t *testing.T) {
	var buf bytes.Buffer
	sink := bufSink(&buf)
	counter := NewInstCounter(NewSink("insts", &bytes.Buffer{}), "")
	h := newHarness(window.Config{}, NewCallTracer(sink), counter)

	h.enter("main", 0)
	h.call()
	h.enter("", 4)
	sink.Close()

	if buf.String() != "main(0x0,...)\n <unknown>(0x4,...)\n" {
		t.Errorf("got %q", buf.String())
	}
	if counter.Count(UnknownRoutine) != 1 {
		t.Errorf("unknown tally = %d", counter.Count(UnknownRoutine))
	}
}

// randomRun executes a deterministic pseudo-random call/return program and
// returns the call trace plus the recorded depths.
func randomRun(seed int64) (string, []int) {
	var buf bytes.Buffer
	sink := bufSink(&buf)
	var depths []int
	rec := &depthRecorder{depths: &depths}
	h := newHarness(window.Config{}, NewCallTracer(sink), rec)

	rng := rand.New(rand.NewSource(seed))
	names := []string{"a", "b", "c", "d"}
	h.enter("main", 0)
	for i := 0; i < 500; i++ {
		switch rng.Intn(3) {
		case 0:
			h.call()
			h.enter(names[rng.Intn(len(names))], uint64(i))
		case 1:
			h.ret()
		default:
			h.op()
		}
	}
	h.exit()
	sink.Close()
	return buf.String(), depths
}

type depthRecorder struct{ depths *[]int }

func (r *depthRecorder) Enter(f Frame) { *r.depths = append(*r.depths, f.Depth) }
func (r *depthRecorder) Retire(engine.Retired, string) {}
func (r *depthRecorder) Finish(int) error { return nil }

func TestDepthSingleStep(t *testing.T) {
	_, depths := randomRun(42)
	if len(depths) < 10 {
		t.Fatalf("only %d entries recorded", len(depths))
	}
	if depths[0] != 0 {
		t.Errorf("start routine depth = %d, want 0", depths[0])
	}
	// Each recorded entry follows exactly one call, so depth can rise by at
	// most one between consecutive entries.
	for i := 1; i < len(depths); i++ {
		if depths[i] > depths[i-1]+1 {
			t.Fatalf("depth jumped from %d to %d at entry %d", depths[i-1], depths[i], i)
		}
	}
}

func TestTraceIdempotent(t *testing.T) {
	a, _ := randomRun(7)
	b, _ := randomRun(7)
	if a != b {
		t.Error("two runs over the same input produced different traces")
	}
}

func TestInstCountScenario(t *testing.T) {
	var buf bytes.Buffer
	counter := NewInstCounter(bufSink(&buf), "")
	h := newHarness(window.Config{}, counter)

	h.enter("main", 0)
	h.op()
	h.call()
	h.enter("foo", 0)
	for i := 0; i < 11; i++ {
		h.op()
	}
	h.exit()
	counter.out.Close()

	if buf.String() != "main:3\nfoo:12\n" {
		t.Errorf("tally = %q", buf.String())
	}
}

func TestInstCountFirstSeenOrder(t *testing.T) {
	var buf bytes.Buffer
	counter := NewInstCounter(bufSink(&buf), "end of tally")
	h := newHarness(window.Config{}, counter)

	h.enter("helper", 0) // before the window
	h.enter("main", 0)
	h.call()
	h.enter("zeta", 0)
	h.ret()
	h.call()
	h.enter("alpha", 0)
	h.ret()
	h.call()
	h.enter("zeta", 0)
	h.exit()
	counter.out.Close()

	want := []string{"main", "zeta", "alpha"}
	if strings.Join(counter.Order(), ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", counter.Order(), want)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if lines[len(lines)-1] != "end of tally" {
		t.Errorf("footer missing: %q", buf.String())
	}
	if !strings.HasPrefix(buf.String(), "main:2\nzeta:") {
		t.Errorf("tally = %q", buf.String())
	}
}

func TestMemTrace(t *testing.T) {
	var buf bytes.Buffer
	sink := bufSink(&buf)
	h := newHarness(window.Config{}, NewMemTracer(sink, ""))

	h.enter("main", 0)
	h.at(0x400500).retire(disasm.ClassRead, []uint64{0x1000}, nil)
	h.at(0x400504).retire(disasm.ClassWrite, nil, []uint64{0x2000})
	h.at(0x400508).retire(disasm.ClassRead|disasm.ClassWrite, []uint64{0x3000}, []uint64{0x3000})
	sink.Close()

	want := "0x400500 0x1000 L\n" +
		"0x400504 0x2000 S\n" +
		"0x400508 0x3000 L\n" +
		"0x400508 0x3000 S\n"
	if buf.String() != want {
		t.Errorf("memory trace:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestCallGraph(t *testing.T) {
	var buf bytes.Buffer
	cg := NewCallGraph(bufSink(&buf), "callgraph")
	scenario(newHarness(window.Config{}, cg))
	cg.out.Close()

	edges := make(map[string]bool)
	for _, e := range cg.Graph().Edges {
		edges[e.Caller+"->"+e.Callee] = true
	}
	for _, want := range []string{"main->foo", "foo->bar"} {
		if !edges[want] {
			t.Errorf("missing edge %s in %v", want, cg.Graph().Edges)
		}
	}
	if edges["main->exit"] {
		t.Error("exit called after main returned must not be a callee of main")
	}
	if !strings.Contains(buf.String(), "bar") {
		t.Errorf("DOT output lacks nodes: %q", buf.String())
	}
}

func TestParseKinds(t *testing.T) {
	kinds, err := ParseKinds("memtrace, calltrace,memtrace")
	if err != nil {
		t.Fatal(err)
	}
	if len(kinds) != 2 || kinds[0] != KindMem || kinds[1] != KindCalls {
		t.Errorf("kinds = %v", kinds)
	}
	if kinds, _ := ParseKinds("all"); len(kinds) != len(AllKinds) {
		t.Errorf("all = %v", kinds)
	}
	for _, bad := range []string{"", "bogus", " , "} {
		if _, err := ParseKinds(bad); err == nil {
			t.Errorf("ParseKinds(%q) succeeded", bad)
		}
	}
}

func TestOpenFailsFast(t *testing.T) {
	var opened []*Sink
	create := func(k Kind) (*Sink, error) {
		if k == KindMem {
			return nil, errors.New("disk full")
		}
		s := NewSink(string(k), &bytes.Buffer{})
		opened = append(opened, s)
		return s, nil
	}
	_, err := Open(Config{Kinds: []Kind{KindCalls, KindMem}}, create)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v", err)
	}
	if len(opened) != 1 {
		t.Fatalf("opened %d sinks", len(opened))
	}
	opened[0].WriteString("late")
	if !errors.Is(opened[0].Err(), ErrSinkClosed) {
		t.Errorf("sink left open after failed Open: %v", opened[0].Err())
	}
}

func TestSessionEndToEnd(t *testing.T) {
	bufs := make(map[Kind]*bytes.Buffer)
	create := func(k Kind) (*Sink, error) {
		bufs[k] = &bytes.Buffer{}
		return NewSink(string(k), bufs[k]), nil
	}
	s, err := Open(Config{Kinds: AllKinds, Footer: "done"}, create)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{ctx: s.Context, pc: 0x1000}
	scenario(h)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if !strings.HasPrefix(bufs[KindCalls].String(), "main(0x1,...)\n foo(0x5,...)\n") {
		t.Errorf("calls = %q", bufs[KindCalls].String())
	}
	if bufs[KindInsts].String() != "main:2\nfoo:2\nbar:5\nexit:0\ndone\n" {
		t.Errorf("insts = %q", bufs[KindInsts].String())
	}
	if bufs[KindMem].String() != "done\n" {
		t.Errorf("mem = %q", bufs[KindMem].String())
	}
	if s.Counter == nil || s.Graph == nil {
		t.Error("session accessors not set")
	}
}
