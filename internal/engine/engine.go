package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"wintrace/internal/disasm"
)

// Stats summarises one replay.
type Stats struct {
	Records  int `json:"records"`          // executed instructions read from the log
	Unmapped int `json:"unmapped"`         // records outside every known routine
	Routines int `json:"routines"`         // routines discovered and instrumented
	Inferred int `json:"inferred_returns"` // returns from unmapped callees
}

// Options controls the engine.
type Options struct {
	Logger *zerolog.Logger // nil = no logging
	// CheckEvery is the number of records between context checks; 0 = 4096.
	CheckEvery int
}

type instInfo struct {
	class disasm.Class
	size  int
}

// instrumented is a routine whose instructions have been classified.
type instrumented struct {
	routine *Routine
	insts   map[uint64]instInfo
}

// Engine replays an execution log against a Program and drives a Tool.
type Engine struct {
	prog     Program
	log      zerolog.Logger
	every    int
	routines map[uint64]*instrumented // by entry address
	last     *instrumented
	stats    Stats

	// pending holds the return address of every call still open. A callee
	// outside every known routine returns without a delivered RET, so the
	// engine infers the return when execution resumes at the top address.
	pending []uint64
	outside bool // the previous record was unmapped
}

// New returns an engine for prog.
func New(prog Program, opts Options) *Engine {
	every := opts.CheckEvery
	if every <= 0 {
		every = 4096
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Engine{
		prog:     prog,
		log:      log,
		every:    every,
		routines: make(map[uint64]*instrumented),
	}
}

// Stats returns counters accumulated by Run.
func (e *Engine) Stats() Stats { return e.stats }

// Run replays the log read from r. It returns the exit code recorded in the
// log, or -1 when the log ends without one. OnProcessExit is called exactly
// once, also when parsing fails or ctx is cancelled, so buffered tool output
// covers everything replayed so far.
func (e *Engine) Run(ctx context.Context, r io.Reader, tool Tool) (int, error) {
	code, err := e.replay(ctx, NewLogReader(r), tool)
	if err != nil {
		e.log.Warn().Err(err).Int("records", e.stats.Records).Msg("replay stopped early")
	}

	e.log.Debug().
		Int("records", e.stats.Records).
		Int("unmapped", e.stats.Unmapped).
		Int("routines", e.stats.Routines).
		Int("inferred", e.stats.Inferred).
		Int("exit", code).
		Msg("replay finished")

	if xerr := tool.OnProcessExit(code); xerr != nil {
		err = errors.Join(err, fmt.Errorf("engine: process exit: %w", xerr))
	}
	return code, err
}

func (e *Engine) replay(ctx context.Context, lr *LogReader, tool Tool) (int, error) {
	for {
		if e.stats.Records%e.every == 0 {
			if err := ctx.Err(); err != nil {
				return -1, err
			}
		}
		rec, err := lr.Next()
		if errors.Is(err, io.EOF) {
			e.log.Warn().Int("records", e.stats.Records).Msg("log ended without exit status")
			return -1, nil
		}
		if err != nil {
			return -1, err
		}
		if rec.Exit {
			return rec.Code, nil
		}
		e.step(rec, tool)
	}
}

func (e *Engine) step(rec Record, tool Tool) {
	e.stats.Records++
	ir := e.lookup(rec.PC)
	if ir == nil {
		e.stats.Unmapped++
		e.outside = true
		return
	}
	if e.outside {
		e.outside = false
		e.resume(rec.PC, tool)
	}
	info, ok := ir.insts[rec.PC]
	if !ok {
		// Mid-instruction address: the decoder disagrees with the log.
		e.stats.Unmapped++
		return
	}

	if rec.PC == ir.routine.Addr {
		tool.OnRoutineEntry(Entry{Name: ir.routine.Name, Addr: ir.routine.Addr, Arg0: rec.Arg0})
	}

	class := info.class
	ret := Retired{PC: rec.PC, Class: class}
	if class.Has(disasm.ClassRead) {
		ret.Reads = rec.Reads
	}
	if class.Has(disasm.ClassWrite) {
		ret.Writes = rec.Writes
	}
	tool.OnInstructionRetired(ret)

	switch {
	case class.Has(disasm.ClassCall):
		e.pending = append(e.pending, rec.PC+uint64(info.size))
	case class.Has(disasm.ClassRet):
		if n := len(e.pending); n > 0 {
			e.pending = e.pending[:n-1]
		}
	}
}

// resume delivers an inferred return when execution comes back from
// unmapped code to the return address of the innermost open call.
func (e *Engine) resume(pc uint64, tool Tool) {
	n := len(e.pending)
	if n == 0 || e.pending[n-1] != pc {
		return
	}
	e.pending = e.pending[:n-1]
	e.stats.Inferred++
	tool.OnInstructionRetired(Retired{PC: pc, Class: disasm.ClassRet, Inferred: true})
}

// lookup returns the instrumented routine containing pc, discovering it on
// first use.
func (e *Engine) lookup(pc uint64) *instrumented {
	if ir := e.last; ir != nil && pc >= ir.routine.Addr && pc < ir.routine.Addr+ir.routine.Size {
		return ir
	}
	rtn, ok := e.prog.RoutineAt(pc)
	if !ok {
		return nil
	}
	ir, ok := e.routines[rtn.Addr]
	if !ok {
		ir = e.instrument(rtn)
		e.routines[rtn.Addr] = ir
	}
	e.last = ir
	return ir
}

func (e *Engine) instrument(rtn *Routine) *instrumented {
	insts := disasm.Disassemble(rtn.Code, disasm.Options{Arch: e.prog.Arch(), BaseAddr: rtn.Addr})
	ir := &instrumented{routine: rtn, insts: make(map[uint64]instInfo, len(insts))}
	for _, in := range insts {
		ir.insts[in.Addr] = instInfo{class: in.Class, size: in.Size}
	}
	e.stats.Routines++
	e.log.Debug().
		Str("routine", rtn.Name).
		Str("addr", fmt.Sprintf("0x%x", rtn.Addr)).
		Int("insts", len(insts)).
		Msg("instrumented routine")
	return ir
}
