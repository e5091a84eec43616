// Package trace implements the windowed tracers: call trace, instruction
// tally, memory trace and call graph. A Context owns the window and depth
// state and fans gated events out to its consumers.
package trace

import (
	"errors"

	"github.com/rs/zerolog"

	"wintrace/internal/disasm"
	"wintrace/internal/engine"
	"wintrace/internal/window"
)

// UnknownRoutine names activations whose routine could not be resolved.
const UnknownRoutine = "<unknown>"

// Frame is a routine entry that passed the window gate.
type Frame struct {
	Name  string
	Addr  uint64
	Arg0  uint64
	Depth int // raw counter, may be negative
}

// Consumer records gated events. Consumers never see events outside the
// window.
type Consumer interface {
	Enter(f Frame)
	// Retire is called for every instruction retired inside the window.
	// routine is the most recently entered routine name.
	Retire(ins engine.Retired, routine string)
	// Finish flushes the consumer's output.
	Finish(code int) error
}

// Context is the state shared by every hook of one traced process. It
// implements engine.Tool.
type Context struct {
	win       *window.Window
	depth     window.Depth
	routine   string
	consumers []Consumer
	log       zerolog.Logger
	finished  bool
}

var _ engine.Tool = (*Context)(nil)

// NewContext returns a context gating consumers with win.
func NewContext(win *window.Window, log zerolog.Logger, consumers ...Consumer) *Context {
	return &Context{win: win, consumers: consumers, log: log}
}

// Depth returns the current raw call depth.
func (c *Context) Depth() int { return c.depth.Level() }

// Window returns the gate.
func (c *Context) Window() *window.Window { return c.win }

// OnRoutineEntry runs the window tracker and, when the window is open,
// hands the frame to every consumer.
func (c *Context) OnRoutineEntry(e engine.Entry) {
	g := c.win.Enter(e.Name, e.Addr)
	if g.Opened {
		c.depth.Reset()
		c.log.Debug().Str("routine", e.Name).Int("open", c.win.Opens()).Msg("window opened")
	}
	if !g.Record {
		return
	}
	name := e.Name
	if name == "" {
		name = UnknownRoutine
	}
	c.routine = name
	f := Frame{Name: name, Addr: e.Addr, Arg0: e.Arg0, Depth: c.depth.Level()}
	for _, cons := range c.consumers {
		cons.Enter(f)
	}
	if g.Closes {
		c.win.Close()
		c.log.Debug().Str("routine", e.Name).Int("depth", c.depth.Level()).Msg("window closed")
	}
}

// OnInstructionRetired consults the window at the moment the instruction
// retires, then updates depth for calls and returns. Inferred returns only
// move the depth.
func (c *Context) OnInstructionRetired(ins engine.Retired) {
	if !c.win.Active() {
		return
	}
	if !ins.Inferred {
		for _, cons := range c.consumers {
			cons.Retire(ins, c.routine)
		}
	}
	switch {
	case ins.Class.Has(disasm.ClassCall):
		c.depth.Call()
	case ins.Class.Has(disasm.ClassRet):
		c.depth.Return()
	}
}

// OnProcessExit finishes every consumer once.
func (c *Context) OnProcessExit(code int) error {
	if c.finished {
		return nil
	}
	c.finished = true
	var errs []error
	for _, cons := range c.consumers {
		if err := cons.Finish(code); err != nil {
			errs = append(errs, err)
		}
	}
	c.log.Debug().Int("code", code).Str("window", c.win.State().String()).Msg("process exit")
	return errors.Join(errs...)
}
