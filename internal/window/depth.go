package window

import "strings"

// Depth is the call-nesting counter.
//
// Convention: a call is counted when the call instruction retires, before
// the callee's entry hook runs, and a return is counted when the return
// instruction retires, before control reaches the caller. The depth read by
// a routine-entry hook is therefore the number of tracked calls still open,
// which is 0 for the start routine, 1 for its callees and so on.
//
// The counter may go negative when the window opens mid-stack and the
// program returns past the start routine. Only rendering clamps it.
type Depth struct {
	n int
}

// Call records a retired call instruction.
func (d *Depth) Call() { d.n++ }

// Return records a retired return instruction.
func (d *Depth) Return() { d.n-- }

// Reset sets the counter back to 0.
func (d *Depth) Reset() { d.n = 0 }

// Level returns the raw counter, possibly negative.
func (d *Depth) Level() int { return d.n }

// Indent renders a depth as one space per level; negative depths render
// as no indentation.
func Indent(level int) string {
	if level <= 0 {
		return ""
	}
	return strings.Repeat(" ", level)
}
