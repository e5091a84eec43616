package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/pkg/profile"
	"github.com/rs/zerolog"

	"wintrace/internal/elfx"
	"wintrace/internal/engine"
	"wintrace/internal/output"
	"wintrace/internal/trace"
	"wintrace/internal/window"
)

type runConfig struct {
	elf     string
	logPath string
	outDir  string
	trace   trace.Config
	profile string
	summary bool
}

func parseRunFlags(args []string) (runConfig, bool, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	elfPath := fs.String("elf", "", "path to the traced executable")
	logPath := fs.String("log", "-", "execution log (- for stdin)")
	outDir := fs.String("out", ".", "output directory")
	traces := fs.String("traces", "calltrace,instcount,memtrace", "trace kinds to write")
	start := fs.String("start", window.DefaultStart, "window start marker")
	end := fs.String("end", window.DefaultEnd, "window end marker")
	rearm := fs.Bool("rearm", false, "reopen the window on a later start marker")
	footer := fs.String("footer", "", "trailing line for inst_count.out and mem_trace.out")
	prof := fs.String("profile", "", "profile the tracer: cpu or mem")
	summary := fs.Bool("summary", true, "write summary.json")
	verbose := fs.Bool("v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return runConfig{}, false, err
	}
	if *elfPath == "" {
		return runConfig{}, false, fmt.Errorf("--elf is required")
	}

	kinds, err := trace.ParseKinds(*traces)
	if err != nil {
		return runConfig{}, false, err
	}
	startM, err := window.ParseMatcher(*start)
	if err != nil {
		return runConfig{}, false, fmt.Errorf("--start: %w", err)
	}
	endM, err := window.ParseMatcher(*end)
	if err != nil {
		return runConfig{}, false, fmt.Errorf("--end: %w", err)
	}
	switch *prof {
	case "", "cpu", "mem":
	default:
		return runConfig{}, false, fmt.Errorf("--profile must be cpu or mem")
	}

	cfg := runConfig{
		elf:     *elfPath,
		logPath: *logPath,
		outDir:  *outDir,
		profile: *prof,
		summary: *summary,
		trace: trace.Config{
			Window: window.Config{Start: startM, End: endM},
			Kinds:  kinds,
			Footer: *footer,
		},
	}
	if *rearm {
		cfg.trace.Window.Policy = window.Rearm
	}
	return cfg, *verbose, nil
}

func cmdRun(args []string) error {
	cfg, verbose, err := parseRunFlags(args)
	if err != nil {
		return err
	}
	log := newLogger(verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return runTrace(ctx, cfg, log)
}

// runTrace opens the target and every sink before replaying anything, so
// a sink failure aborts the run with no partial trace.
func runTrace(ctx context.Context, cfg runConfig, log zerolog.Logger) (err error) {
	ef, err := elfx.Open(cfg.elf)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer ef.Close()

	dir, err := output.Prepare(cfg.outDir)
	if err != nil {
		return err
	}

	if p := startProfile(cfg.profile, dir.Path); p != nil {
		defer p.Stop()
	}

	var in io.Reader = os.Stdin
	if cfg.logPath != "-" {
		f, err := os.Open(cfg.logPath)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer f.Close()
		in = f
	}

	tcfg := cfg.trace
	tcfg.Logger = &log
	sess, err := trace.Open(tcfg, dir.Sink)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	prog := engine.NewELFProgram(ef)
	log.Info().
		Str("target", cfg.elf).
		Str("arch", prog.Arch().String()).
		Int("funcs", len(ef.Funcs())).
		Msg("replaying execution log")

	eng := engine.New(prog, engine.Options{Logger: &log})
	code, err := eng.Run(ctx, in, sess)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn().Msg("interrupted")
		}
		return fmt.Errorf("replay: %w", err)
	}

	st := eng.Stats()
	files := make(map[string]string, len(tcfg.Kinds))
	for _, k := range tcfg.Kinds {
		files[string(k)] = k.FileName()
	}
	log.Info().
		Int("exit", code).
		Int("records", st.Records).
		Int("unmapped", st.Unmapped).
		Int("routines", st.Routines).
		Str("window", sess.Window().State().String()).
		Str("out", dir.Path).
		Msg("trace complete")
	if sess.Window().Opens() == 0 {
		log.Warn().Msg("start marker never matched; traces are empty")
	}

	if !cfg.summary {
		return nil
	}
	sum := output.Summary{
		Target:   cfg.elf,
		Arch:     prog.Arch().String(),
		ExitCode: code,
		Window:   sess.Window().State().String(),
		Opens:    sess.Window().Opens(),
		Depth:    sess.Depth(),
		Stats:    st,
		Files:    files,
	}
	if sess.Counter != nil {
		sum.Routines = len(sess.Counter.Order())
	}
	return dir.WriteSummaryJSON(sum)
}

// startProfile starts a cpu or mem profile written to dir, or returns nil
// for an empty mode. Interrupts stay with the caller so the sinks are
// flushed before exit.
func startProfile(mode, dir string) interface{ Stop() } {
	opts := []func(*profile.Profile){profile.ProfilePath(dir), profile.Quiet, profile.NoShutdownHook}
	switch mode {
	case "cpu":
		opts = append(opts, profile.CPUProfile)
	case "mem":
		opts = append(opts, profile.MemProfile)
	default:
		return nil
	}
	return profile.Start(opts...)
}
