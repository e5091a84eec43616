// Package elfx provides ELF loading helpers for traced executables: the
// function symbol table, routine name resolution and code extraction.
package elfx

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"wintrace/internal/disasm"
)

var (
	ErrNotELF       = errors.New("elfx: not an ELF file")
	ErrUnsupported  = errors.New("elfx: unsupported machine (want AArch64 or x86-64)")
	ErrNot64Bit     = errors.New("elfx: not 64-bit ELF")
	ErrNotLoadable  = errors.New("elfx: not an executable or shared object")
	ErrNoSymbol     = errors.New("elfx: symbol not found")
	ErrNoSegment    = errors.New("elfx: no PT_LOAD segment covers address")
	ErrSymbolNoSize = errors.New("elfx: symbol has zero size")
)

// Func is one function symbol.
type Func struct {
	Name string
	Addr uint64
	Size uint64
}

// Contains reports whether addr lies inside the function body.
func (fn Func) Contains(addr uint64) bool {
	return addr >= fn.Addr && addr < fn.Addr+fn.Size
}

// File wraps a debug/elf.File with the lookups the tracer needs.
type File struct {
	ELF   *elf.File
	raw   io.ReaderAt
	size  int64
	funcs []Func // sorted by Addr, lazily built
}

// Open opens an ELF file and validates it is a 64-bit AArch64 or x86-64
// executable or shared object.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elfx: stat: %w", err)
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}

	if ef.Class != elf.ELFCLASS64 {
		ef.Close()
		f.Close()
		return nil, ErrNot64Bit
	}
	if ef.Machine != elf.EM_AARCH64 && ef.Machine != elf.EM_X86_64 {
		ef.Close()
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ef.Machine)
	}
	if ef.Type != elf.ET_DYN && ef.Type != elf.ET_EXEC {
		ef.Close()
		f.Close()
		return nil, ErrNotLoadable
	}

	return &File{ELF: ef, raw: f, size: info.Size()}, nil
}

// Close releases resources.
func (f *File) Close() error {
	err := f.ELF.Close()
	if c, ok := f.raw.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// FileSize returns the size of the underlying file.
func (f *File) FileSize() int64 { return f.size }

// Arch returns the decoder matching the ELF machine.
func (f *File) Arch() disasm.Arch {
	if f.ELF.Machine == elf.EM_X86_64 {
		return disasm.ArchAMD64
	}
	return disasm.ArchARM64
}

// Funcs returns every sized STT_FUNC symbol from .symtab and .dynsym,
// one per address, sorted by address. Static names win over dynamic ones.
func (f *File) Funcs() []Func {
	if f.funcs != nil {
		return f.funcs
	}

	byAddr := make(map[uint64]Func)
	add := func(syms []elf.Symbol) {
		for _, s := range syms {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 || s.Name == "" {
				continue
			}
			if _, ok := byAddr[s.Value]; ok {
				continue
			}
			byAddr[s.Value] = Func{Name: s.Name, Addr: s.Value, Size: s.Size}
		}
	}
	// Missing tables are normal for stripped or static binaries.
	if syms, err := f.ELF.Symbols(); err == nil {
		add(syms)
	}
	if syms, err := f.ELF.DynamicSymbols(); err == nil {
		add(syms)
	}

	funcs := make([]Func, 0, len(byAddr))
	for _, fn := range byAddr {
		funcs = append(funcs, fn)
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Addr < funcs[j].Addr })
	f.funcs = funcs
	return funcs
}

// Symbol looks up a function symbol by exact name.
func (f *File) Symbol(name string) (Func, error) {
	for _, fn := range f.Funcs() {
		if fn.Name == name {
			if fn.Size == 0 {
				return fn, fmt.Errorf("%w: %s", ErrSymbolNoSize, name)
			}
			return fn, nil
		}
	}
	return Func{}, fmt.Errorf("%w: %s", ErrNoSymbol, name)
}

// FuncAt returns the function whose body contains addr.
func (f *File) FuncAt(addr uint64) (Func, bool) {
	funcs := f.Funcs()
	i := sort.Search(len(funcs), func(i int) bool { return funcs[i].Addr > addr })
	if i == 0 {
		return Func{}, false
	}
	fn := funcs[i-1]
	if fn.Contains(addr) || (fn.Size == 0 && fn.Addr == addr) {
		return fn, true
	}
	return Func{}, false
}

// ResolveName returns the name of the routine containing addr, or "" when
// no symbol covers it.
func (f *File) ResolveName(addr uint64) string {
	fn, _ := f.FuncAt(addr)
	return fn.Name
}

// VAToFileOffset converts a virtual address to a file offset using PT_LOAD segments.
func (f *File) VAToFileOffset(va uint64) (uint64, error) {
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if va >= p.Vaddr && va < p.Vaddr+p.Filesz {
			offset := va - p.Vaddr + p.Off
			if offset >= uint64(f.size) {
				return 0, fmt.Errorf("elfx: VA 0x%x maps to offset 0x%x beyond file size 0x%x", va, offset, f.size)
			}
			return offset, nil
		}
	}
	return 0, fmt.Errorf("%w: VA 0x%x", ErrNoSegment, va)
}

// ReadBytesAtVA reads n bytes starting at the given virtual address.
func (f *File) ReadBytesAtVA(va uint64, n int) ([]byte, error) {
	off, err := f.VAToFileOffset(va)
	if err != nil {
		return nil, err
	}
	// Clamp to file size.
	avail := f.size - int64(off)
	if int64(n) > avail {
		n = int(avail)
	}
	buf := make([]byte, n)
	_, err = f.raw.ReadAt(buf, int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("elfx: read at 0x%x: %w", off, err)
	}
	return buf, nil
}

// Code returns the body bytes of fn.
func (f *File) Code(fn Func) ([]byte, error) {
	if fn.Size == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNoSize, fn.Name)
	}
	return f.ReadBytesAtVA(fn.Addr, int(fn.Size))
}

// SegmentInfo describes a PT_LOAD segment.
type SegmentInfo struct {
	Vaddr  uint64
	Memsz  uint64
	Filesz uint64
	Offset uint64
	Flags  elf.ProgFlag
}

// LoadSegments returns all PT_LOAD segments.
func (f *File) LoadSegments() []SegmentInfo {
	var segs []SegmentInfo
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		segs = append(segs, SegmentInfo{
			Vaddr:  p.Vaddr,
			Memsz:  p.Memsz,
			Filesz: p.Filesz,
			Offset: p.Off,
			Flags:  p.Flags,
		})
	}
	return segs
}
