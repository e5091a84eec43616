package trace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"wintrace/internal/window"
)

// Kind names one trace output.
type Kind string

const (
	KindCalls Kind = "calltrace"
	KindInsts Kind = "instcount"
	KindMem   Kind = "memtrace"
	KindGraph Kind = "callgraph"
)

// AllKinds lists every kind in output order.
var AllKinds = []Kind{KindCalls, KindInsts, KindMem, KindGraph}

// FileName returns the output file name for k.
func (k Kind) FileName() string {
	switch k {
	case KindCalls:
		return "call_trace.out"
	case KindInsts:
		return "inst_count.out"
	case KindMem:
		return "mem_trace.out"
	case KindGraph:
		return "callgraph.dot"
	}
	return string(k) + ".out"
}

// ParseKinds parses a comma-separated kind list; "all" selects every kind.
func ParseKinds(s string) ([]Kind, error) {
	var kinds []Kind
	seen := make(map[Kind]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "all" {
			return AllKinds, nil
		}
		k := Kind(part)
		switch k {
		case KindCalls, KindInsts, KindMem, KindGraph:
		default:
			return nil, fmt.Errorf("trace: unknown trace kind %q", part)
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("trace: no trace kinds selected")
	}
	return kinds, nil
}

// Config selects the consumers of one run.
type Config struct {
	Window window.Config
	Kinds  []Kind
	// Footer is an optional trailing line for the tally and memory trace.
	Footer string
	Logger *zerolog.Logger // nil = no logging
}

// SinkFactory creates the sink for one kind.
type SinkFactory func(k Kind) (*Sink, error)

// Session is a configured Context together with the sinks it owns.
type Session struct {
	*Context
	Counter *InstCounter // nil unless KindInsts is selected
	Graph   *CallGraph   // nil unless KindGraph is selected
	sinks   []*Sink
}

// Open creates every sink and consumer. If any sink cannot be created the
// sinks opened so far are closed and the error is returned, before any
// event can be traced.
func Open(cfg Config, create SinkFactory) (*Session, error) {
	if len(cfg.Kinds) == 0 {
		return nil, fmt.Errorf("trace: no trace kinds selected")
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	s := &Session{}
	var consumers []Consumer
	for _, k := range cfg.Kinds {
		sink, err := create(k)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("trace: open %s: %w", k, err)
		}
		s.sinks = append(s.sinks, sink)

		switch k {
		case KindCalls:
			consumers = append(consumers, NewCallTracer(sink))
		case KindInsts:
			s.Counter = NewInstCounter(sink, cfg.Footer)
			consumers = append(consumers, s.Counter)
		case KindMem:
			consumers = append(consumers, NewMemTracer(sink, cfg.Footer))
		case KindGraph:
			s.Graph = NewCallGraph(sink, "callgraph")
			consumers = append(consumers, s.Graph)
		default:
			s.Close()
			return nil, fmt.Errorf("trace: unknown trace kind %q", k)
		}
	}
	s.Context = NewContext(window.New(cfg.Window), log, consumers...)
	return s, nil
}

// Close closes every sink. It is safe to call more than once.
func (s *Session) Close() error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
