package trace

import "wintrace/internal/engine"

// InstCounter tallies retired instructions per routine. Instructions are
// attributed to the most recently entered routine, so code running after a
// return is charged to the callee until the next entry.
type InstCounter struct {
	out    *Sink
	footer string
	order  []string
	counts map[string]uint64
}

// NewInstCounter returns a counter that writes its tally to out at exit,
// followed by footer when it is not empty.
func NewInstCounter(out *Sink, footer string) *InstCounter {
	return &InstCounter{out: out, footer: footer, counts: make(map[string]uint64)}
}

func (c *InstCounter) Enter(f Frame) {
	c.register(f.Name)
}

func (c *InstCounter) register(name string) {
	if _, ok := c.counts[name]; !ok {
		c.order = append(c.order, name)
		c.counts[name] = 0
	}
}

func (c *InstCounter) Retire(_ engine.Retired, routine string) {
	c.register(routine)
	c.counts[routine]++
}

// Order returns routine names in first-seen order.
func (c *InstCounter) Order() []string { return c.order }

// Count returns the tally for name.
func (c *InstCounter) Count(name string) uint64 { return c.counts[name] }

func (c *InstCounter) Finish(int) error {
	for _, name := range c.order {
		c.out.Printf("%s:%d\n", name, c.counts[name])
	}
	if c.footer != "" {
		c.out.Printf("%s\n", c.footer)
	}
	return c.out.Err()
}
