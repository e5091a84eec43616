// Package engine is the instrumentation boundary. It discovers routines,
// classifies their instructions and delivers analysis callbacks to a Tool
// in program order.
package engine

import "wintrace/internal/disasm"

// Entry describes one routine activation, delivered before the routine's
// first instruction executes.
type Entry struct {
	Name string // resolved routine name, "" when unknown
	Addr uint64
	Arg0 uint64 // first argument at entry, 0 when the log carries none
}

// Retired describes one dynamically executed instruction.
type Retired struct {
	PC     uint64
	Class  disasm.Class
	Reads  []uint64 // effective read addresses, one per access
	Writes []uint64 // effective write addresses, one per access

	// Inferred marks a return the engine synthesized when execution came
	// back from an unmapped callee. No instruction of a known routine
	// retired; PC is the return address.
	Inferred bool
}

// Tool receives the analysis callbacks. All calls happen on one goroutine
// in program order.
type Tool interface {
	OnRoutineEntry(e Entry)
	OnInstructionRetired(r Retired)
	// OnProcessExit is called exactly once; code is -1 when the process
	// terminated without reporting an exit status.
	OnProcessExit(code int) error
}
