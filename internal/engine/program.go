package engine

import (
	"sort"

	"wintrace/internal/disasm"
	"wintrace/internal/elfx"
)

// Routine is a discovered function of the target program.
type Routine struct {
	Name string
	Addr uint64
	Size uint64
	Code []byte
}

// Program supplies routine discovery to the engine.
type Program interface {
	Arch() disasm.Arch
	// RoutineAt returns the routine containing addr with its code loaded.
	RoutineAt(addr uint64) (*Routine, bool)
}

// ELFProgram discovers routines from an ELF symbol table.
type ELFProgram struct {
	f *elfx.File
}

// NewELFProgram wraps an opened ELF file.
func NewELFProgram(f *elfx.File) *ELFProgram {
	return &ELFProgram{f: f}
}

func (p *ELFProgram) Arch() disasm.Arch { return p.f.Arch() }

func (p *ELFProgram) RoutineAt(addr uint64) (*Routine, bool) {
	fn, ok := p.f.FuncAt(addr)
	if !ok || fn.Size == 0 {
		return nil, false
	}
	code, err := p.f.Code(fn)
	if err != nil {
		return nil, false
	}
	return &Routine{Name: fn.Name, Addr: fn.Addr, Size: fn.Size, Code: code}, true
}

// StaticProgram is an in-memory program, mainly for tests and synthetic
// traces.
type StaticProgram struct {
	arch     disasm.Arch
	routines []*Routine // sorted by Addr
}

// NewStaticProgram builds a program from routines. Size defaults to the
// code length.
func NewStaticProgram(arch disasm.Arch, routines ...Routine) *StaticProgram {
	p := &StaticProgram{arch: arch}
	for i := range routines {
		r := routines[i]
		if r.Size == 0 {
			r.Size = uint64(len(r.Code))
		}
		p.routines = append(p.routines, &r)
	}
	sort.Slice(p.routines, func(i, j int) bool { return p.routines[i].Addr < p.routines[j].Addr })
	return p
}

func (p *StaticProgram) Arch() disasm.Arch { return p.arch }

func (p *StaticProgram) RoutineAt(addr uint64) (*Routine, bool) {
	i := sort.Search(len(p.routines), func(i int) bool { return p.routines[i].Addr > addr })
	if i == 0 {
		return nil, false
	}
	r := p.routines[i-1]
	if addr >= r.Addr+r.Size {
		return nil, false
	}
	return r, true
}
