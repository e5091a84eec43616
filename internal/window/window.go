// Package window gates tracing between a start routine and an end routine
// and tracks call depth inside that interval.
package window

import "fmt"

// State is the window lifecycle position.
type State int

const (
	Before State = iota // start marker not seen yet
	Active              // recording
	Closed              // end marker seen
)

func (s State) String() string {
	switch s {
	case Before:
		return "before"
	case Active:
		return "active"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Policy decides what a start marker does once the window has closed.
type Policy int

const (
	// Terminal keeps the window closed for the rest of the process.
	Terminal Policy = iota
	// Rearm reopens the window on the next start marker.
	Rearm
)

// Config configures a Window. Zero values select the defaults.
type Config struct {
	Start  Matcher // default ExactName("main")
	End    Matcher // default ExactName("exit")
	Policy Policy
}

const (
	DefaultStart = "main"
	DefaultEnd   = "exit"
)

// Gate is the outcome of one routine entry.
type Gate struct {
	// Record is true when consumers must process this entry.
	Record bool
	// Opened is true when this entry opened the window.
	Opened bool
	// Closes is true when this entry is the end marker; the caller must
	// call Close once the entry has been processed.
	Closes bool
}

// Window is the execution window tracker.
type Window struct {
	start  Matcher
	end    Matcher
	policy Policy
	state  State
	opens  int
}

// New returns a Window in the Before state.
func New(cfg Config) *Window {
	w := &Window{start: cfg.Start, end: cfg.End, policy: cfg.Policy}
	if w.start == nil {
		w.start = ExactName(DefaultStart)
	}
	if w.end == nil {
		w.end = ExactName(DefaultEnd)
	}
	return w
}

// Enter observes a routine activation. An unresolved routine arrives as the
// empty name and is treated like any other non-matching name.
func (w *Window) Enter(name string, addr uint64) Gate {
	var g Gate
	if w.start(name, addr) && w.canOpen() {
		w.state = Active
		w.opens++
		g.Opened = true
	}
	if w.state != Active {
		return g
	}
	g.Record = true
	g.Closes = w.end(name, addr)
	return g
}

func (w *Window) canOpen() bool {
	switch w.state {
	case Before:
		return true
	case Closed:
		return w.policy == Rearm
	}
	return false
}

// Close ends the window. Per-instruction events after Close are not recorded.
func (w *Window) Close() {
	if w.state == Active {
		w.state = Closed
	}
}

// Active reports whether events happening now must be recorded.
func (w *Window) Active() bool { return w.state == Active }

// State returns the current lifecycle position.
func (w *Window) State() State { return w.state }

// Opens returns how many times the window has opened.
func (w *Window) Opens() int { return w.opens }
