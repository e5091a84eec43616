package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "routines":
		err = cmdRoutines(os.Args[2:])
	case "classify":
		err = cmdClassify(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `wintrace: windowed call, instruction and memory tracer

Usage:
  wintrace run      --elf <path> --log <file|-> --out <dir>   Replay an execution log and write traces
  wintrace routines --elf <path> [--filter <re>]             List discovered routines
  wintrace classify --elf <path> --routine <name>             Disassemble a routine with hook classes

Run flags:
  --traces <list>     calltrace,instcount,memtrace,callgraph or all (default calltrace,instcount,memtrace)
  --start <marker>    window start: name, re:<regexp> or 0xLO-0xHI (default main)
  --end <marker>      window end (default exit)
  --rearm             reopen the window on a later start marker
  --footer <text>     trailing line for inst_count.out and mem_trace.out
  --profile cpu|mem   profile the tracer itself into --out
  -v                  debug logging
`)
}
