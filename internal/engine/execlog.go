package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMalformed reports an execution log line that cannot be parsed.
var ErrMalformed = errors.New("engine: malformed log record")

// Record is one line of an execution log: either an executed instruction
// or the process exit status.
//
//	0x400500 r=0x1000 w=0x2000 a0=0x5
//	exit=0
type Record struct {
	PC      uint64
	Reads   []uint64
	Writes  []uint64
	Arg0    uint64
	HasArg0 bool

	Exit bool
	Code int
}

func (r Record) String() string {
	if r.Exit {
		return fmt.Sprintf("exit=%d", r.Code)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "0x%x", r.PC)
	for _, ea := range r.Reads {
		fmt.Fprintf(&b, " r=0x%x", ea)
	}
	for _, ea := range r.Writes {
		fmt.Fprintf(&b, " w=0x%x", ea)
	}
	if r.HasArg0 {
		fmt.Fprintf(&b, " a0=0x%x", r.Arg0)
	}
	return b.String()
}

// LogReader parses an execution log line by line.
type LogReader struct {
	sc   *bufio.Scanner
	line int
}

// NewLogReader returns a reader over r.
func NewLogReader(r io.Reader) *LogReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &LogReader{sc: sc}
}

// Line returns the number of the last line read.
func (lr *LogReader) Line() int { return lr.line }

// Next returns the next record. It returns io.EOF at the end of input.
func (lr *LogReader) Next() (Record, error) {
	for lr.sc.Scan() {
		lr.line++
		text := lr.sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		rec, err := parseRecord(fields)
		if err != nil {
			return Record{}, fmt.Errorf("%w: line %d: %v", ErrMalformed, lr.line, err)
		}
		return rec, nil
	}
	if err := lr.sc.Err(); err != nil {
		return Record{}, fmt.Errorf("engine: read log: %w", err)
	}
	return Record{}, io.EOF
}

func parseRecord(fields []string) (Record, error) {
	var rec Record
	if v, ok := strings.CutPrefix(fields[0], "exit="); ok {
		if len(fields) > 1 {
			return rec, fmt.Errorf("trailing fields after exit")
		}
		code, err := strconv.Atoi(v)
		if err != nil {
			return rec, fmt.Errorf("exit code %q", v)
		}
		rec.Exit, rec.Code = true, code
		return rec, nil
	}

	pc, err := strconv.ParseUint(fields[0], 0, 64)
	if err != nil {
		return rec, fmt.Errorf("pc %q", fields[0])
	}
	rec.PC = pc

	for _, f := range fields[1:] {
		key, val, ok := strings.Cut(f, "=")
		if !ok {
			return rec, fmt.Errorf("field %q", f)
		}
		n, err := strconv.ParseUint(val, 0, 64)
		if err != nil {
			return rec, fmt.Errorf("value %q", f)
		}
		switch key {
		case "r":
			rec.Reads = append(rec.Reads, n)
		case "w":
			rec.Writes = append(rec.Writes, n)
		case "a0":
			rec.Arg0, rec.HasArg0 = n, true
		default:
			return rec, fmt.Errorf("unknown key %q", key)
		}
	}
	return rec, nil
}
