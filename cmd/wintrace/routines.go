package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"

	"wintrace/internal/elfx"
)

type routineEntry struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
	Size uint64 `json:"size"`
}

func cmdRoutines(args []string) error {
	fs := flag.NewFlagSet("routines", flag.ExitOnError)
	elfPath := fs.String("elf", "", "path to the traced executable")
	filter := fs.String("filter", "", "only names matching this regexp")
	jsonOut := fs.Bool("json", false, "output as JSON lines")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *elfPath == "" {
		return fmt.Errorf("--elf is required")
	}
	var re *regexp.Regexp
	if *filter != "" {
		var err error
		if re, err = regexp.Compile(*filter); err != nil {
			return fmt.Errorf("--filter: %w", err)
		}
	}

	ef, err := elfx.Open(*elfPath)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer ef.Close()

	funcs := ef.Funcs()
	fmt.Fprintf(os.Stderr, "ELF: %s, %d bytes, %d load segments, %d routines\n",
		ef.Arch(), ef.FileSize(), len(ef.LoadSegments()), len(funcs))

	enc := json.NewEncoder(os.Stdout)
	for _, fn := range funcs {
		if re != nil && !re.MatchString(fn.Name) {
			continue
		}
		if *jsonOut {
			if err := enc.Encode(routineEntry{Name: fn.Name, Addr: fmt.Sprintf("0x%x", fn.Addr), Size: fn.Size}); err != nil {
				return err
			}
			continue
		}
		fmt.Printf("0x%08x  %6d  %s\n", fn.Addr, fn.Size, fn.Name)
	}
	return nil
}
