package main

import (
	"flag"
	"fmt"
	"os"

	"wintrace/internal/disasm"
	"wintrace/internal/elfx"
)

func cmdClassify(args []string) error {
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	elfPath := fs.String("elf", "", "path to the traced executable")
	routine := fs.String("routine", "", "routine name")
	maxSteps := fs.Int("max-steps", 0, "maximum instructions to decode")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *elfPath == "" || *routine == "" {
		return fmt.Errorf("--elf and --routine are required")
	}

	ef, err := elfx.Open(*elfPath)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer ef.Close()

	fn, err := ef.Symbol(*routine)
	if err != nil {
		return err
	}
	code, err := ef.Code(fn)
	if err != nil {
		return fmt.Errorf("code: %w", err)
	}

	insts := disasm.Disassemble(code, disasm.Options{
		Arch:     ef.Arch(),
		BaseAddr: fn.Addr,
		MaxSteps: *maxSteps,
	})
	// Annotate the entry and every direct call with a symbol name.
	names := map[uint64]string{fn.Addr: fn.Name}
	for _, in := range insts {
		if bi := disasm.DecodeBranch(in.Raw, in.Addr); ef.Arch() == disasm.ArchARM64 && bi != nil && bi.IsCall && bi.Target != 0 {
			if name := ef.ResolveName(bi.Target); name != "" {
				names[in.Addr] = name
			}
		}
	}
	lookup := disasm.PlaceholderLookup(names)

	var calls, rets, reads, writes int
	for _, in := range insts {
		if in.Class.Has(disasm.ClassCall) {
			calls++
		}
		if in.Class.Has(disasm.ClassRet) {
			rets++
		}
		if in.Class.Has(disasm.ClassRead) {
			reads++
		}
		if in.Class.Has(disasm.ClassWrite) {
			writes++
		}
	}
	fmt.Print(disasm.Format(insts, lookup))
	fmt.Fprintf(os.Stderr, "%s: %d instructions, %d calls, %d returns, %d reads, %d writes\n",
		fn.Name, len(insts), calls, rets, reads, writes)
	return nil
}
