package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrSinkClosed is returned for writes after Close.
var ErrSinkClosed = errors.New("trace: sink closed")

// Sink is the append-only output stream of one trace kind. Write errors are
// sticky: the first one is kept and returned by every later call, including
// Close.
type Sink struct {
	name   string
	w      *bufio.Writer
	c      io.Closer
	err    error
	closed bool
}

// CreateSink opens path for writing, truncating it. Failure here is fatal
// for the run and must happen before instrumentation starts.
func CreateSink(path string) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("trace: create sink: %w", err)
	}
	return &Sink{name: path, w: bufio.NewWriter(f), c: f}, nil
}

// NewSink wraps an existing writer. Close flushes but does not close w.
func NewSink(name string, w io.Writer) *Sink {
	return &Sink{name: name, w: bufio.NewWriter(w)}
}

// Name returns the path or label the sink was created with.
func (s *Sink) Name() string { return s.name }

// Printf appends formatted text.
func (s *Sink) Printf(format string, args ...any) {
	if s.err != nil {
		return
	}
	if s.closed {
		s.err = ErrSinkClosed
		return
	}
	if _, err := fmt.Fprintf(s.w, format, args...); err != nil {
		s.err = fmt.Errorf("trace: write %s: %w", s.name, err)
	}
}

// WriteString appends s verbatim.
func (s *Sink) WriteString(str string) {
	if s.err != nil {
		return
	}
	if s.closed {
		s.err = ErrSinkClosed
		return
	}
	if _, err := s.w.WriteString(str); err != nil {
		s.err = fmt.Errorf("trace: write %s: %w", s.name, err)
	}
}

// Err returns the first write error.
func (s *Sink) Err() error { return s.err }

// Close flushes and closes the sink. Only the first call has an effect.
func (s *Sink) Close() error {
	if s.closed {
		return s.err
	}
	s.closed = true
	if err := s.w.Flush(); err != nil && s.err == nil {
		s.err = fmt.Errorf("trace: flush %s: %w", s.name, err)
	}
	if s.c != nil {
		if err := s.c.Close(); err != nil && s.err == nil {
			s.err = fmt.Errorf("trace: close %s: %w", s.name, err)
		}
	}
	return s.err
}
