package window

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Matcher decides whether a routine activation is a window marker.
type Matcher func(name string, addr uint64) bool

// ExactName matches routines whose resolved name equals name.
func ExactName(name string) Matcher {
	return func(n string, _ uint64) bool { return n == name }
}

// Pattern matches routine names against re.
func Pattern(re *regexp.Regexp) Matcher {
	return func(n string, _ uint64) bool { return re.MatchString(n) }
}

// AddrRange matches routines whose entry address lies in [lo, hi).
func AddrRange(lo, hi uint64) Matcher {
	return func(_ string, addr uint64) bool { return addr >= lo && addr < hi }
}

// ParseMatcher builds a Matcher from its command-line form:
//
//	name          exact routine name
//	re:<regexp>   routine name pattern
//	0xLO-0xHI     entry address range, hi exclusive
func ParseMatcher(s string) (Matcher, error) {
	if s == "" {
		return nil, fmt.Errorf("window: empty marker")
	}
	if expr, ok := strings.CutPrefix(s, "re:"); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("window: marker %q: %w", s, err)
		}
		return Pattern(re), nil
	}
	if lo, hi, ok := strings.Cut(s, "-"); ok && strings.HasPrefix(lo, "0x") {
		l, err := strconv.ParseUint(lo, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("window: marker %q: %w", s, err)
		}
		h, err := strconv.ParseUint(hi, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("window: marker %q: %w", s, err)
		}
		if h <= l {
			return nil, fmt.Errorf("window: marker %q: empty range", s)
		}
		return AddrRange(l, h), nil
	}
	return ExactName(s), nil
}
