// Package disasm decodes routine bodies and classifies each instruction for
// the analysis hooks: call, return, memory read, memory write.
package disasm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// Arch selects the instruction decoder.
type Arch int

const (
	ArchARM64 Arch = iota
	ArchAMD64
)

func (a Arch) String() string {
	switch a {
	case ArchARM64:
		return "arm64"
	case ArchAMD64:
		return "amd64"
	}
	return fmt.Sprintf("arch(%d)", int(a))
}

// ParseArch maps a command-line name to an Arch.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "arm64", "aarch64":
		return ArchARM64, nil
	case "amd64", "x86-64", "x86_64":
		return ArchAMD64, nil
	}
	return 0, fmt.Errorf("disasm: unknown arch %q", s)
}

// Inst is a decoded instruction with address, raw bytes and classification.
type Inst struct {
	Addr     uint64
	Raw      uint32 // first four bytes, little-endian
	Size     int
	Mnemonic string
	Operands string
	Text     string // full disassembly line
	Class    Class
}

// SymbolLookup resolves an address to a symbolic name. Returns ("", false) if unknown.
type SymbolLookup func(addr uint64) (name string, ok bool)

// Options controls disassembly behavior.
type Options struct {
	Arch     Arch
	BaseAddr uint64 // VA of the first byte in Data
	MaxSteps int    // maximum instructions to decode; 0 = 10M
}

const defaultMaxSteps = 10_000_000

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// Disassemble decodes and classifies instructions from a byte region.
// Returns decoded instructions up to MaxSteps or end of data.
func Disassemble(data []byte, opts Options) []Inst {
	if opts.Arch == ArchAMD64 {
		return disassembleAMD64(data, opts)
	}
	return disassembleARM64(data, opts)
}

func disassembleARM64(data []byte, opts Options) []Inst {
	maxSteps := opts.effectiveMax()
	n := len(data) / 4
	if n > maxSteps {
		n = maxSteps
	}

	result := make([]Inst, 0, n)
	for i := 0; i < n; i++ {
		off := i * 4
		raw := binary.LittleEndian.Uint32(data[off : off+4])
		addr := opts.BaseAddr + uint64(off)

		inst, err := arm64asm.Decode(data[off : off+4])
		var mnemonic, operands, text string
		var class Class
		if err != nil {
			mnemonic = ".word"
			operands = fmt.Sprintf("0x%08x", raw)
			text = fmt.Sprintf(".word 0x%08x", raw)
		} else {
			text = inst.String()
			mnemonic, operands = splitText(text)
			class = classifyARM64(inst)
		}
		class |= classifyARM64Raw(raw)

		result = append(result, Inst{
			Addr:     addr,
			Raw:      raw,
			Size:     4,
			Mnemonic: mnemonic,
			Operands: operands,
			Text:     text,
			Class:    class,
		})
	}
	return result
}

func disassembleAMD64(data []byte, opts Options) []Inst {
	maxSteps := opts.effectiveMax()
	var result []Inst
	for off := 0; off < len(data) && len(result) < maxSteps; {
		addr := opts.BaseAddr + uint64(off)
		var raw [4]byte
		copy(raw[:], data[off:])

		inst, err := x86asm.Decode(data[off:], 64)
		if err != nil {
			// Resynchronise one byte later.
			result = append(result, Inst{
				Addr:     addr,
				Raw:      binary.LittleEndian.Uint32(raw[:]),
				Size:     1,
				Mnemonic: ".byte",
				Operands: fmt.Sprintf("0x%02x", data[off]),
				Text:     fmt.Sprintf(".byte 0x%02x", data[off]),
			})
			off++
			continue
		}
		text := x86asm.IntelSyntax(inst, addr, nil)
		mnemonic, operands := splitText(text)
		result = append(result, Inst{
			Addr:     addr,
			Raw:      binary.LittleEndian.Uint32(raw[:]),
			Size:     inst.Len,
			Mnemonic: mnemonic,
			Operands: operands,
			Text:     text,
			Class:    classifyAMD64(inst),
		})
		off += inst.Len
	}
	return result
}

func splitText(text string) (mnemonic, operands string) {
	parts := strings.SplitN(text, " ", 2)
	mnemonic = parts[0]
	if len(parts) > 1 {
		operands = parts[1]
	}
	return mnemonic, operands
}

// Format renders a slice of instructions as stable text output.
// Each line: <addr>  <disasm>  ; <class> <symbol>
func Format(insts []Inst, lookup SymbolLookup) string {
	var b strings.Builder
	for _, inst := range insts {
		line := fmt.Sprintf("0x%08x  %-40s", inst.Addr, inst.Text)
		var notes []string
		if inst.Class != 0 {
			notes = append(notes, inst.Class.String())
		}
		if lookup != nil {
			if name, ok := lookup(inst.Addr); ok {
				notes = append(notes, "<"+name+">")
			}
		}
		if len(notes) > 0 {
			line += "  ; " + strings.Join(notes, " ")
		}
		b.WriteString(strings.TrimRight(line, " "))
		b.WriteByte('\n')
	}
	return b.String()
}

// PlaceholderLookup returns a SymbolLookup backed by a fixed map of
// function entry points.
func PlaceholderLookup(entryPoints map[uint64]string) SymbolLookup {
	return func(addr uint64) (string, bool) {
		if name, ok := entryPoints[addr]; ok {
			return name, true
		}
		return "", false
	}
}
