package trigger

import (
	"fmt"
	"strings"

	"logicsniffer/pkg/signals"
)

// Pos is a position in the specification text. Line and Col start at 1.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Mode tells how the terms of a specification are combined.
type Mode int

const (
	// Single is a specification with one term.
	Single Mode = iota
	// Sequential terms must match in order ("then").
	Sequential
	// Parallel terms may match in any order ("or").
	Parallel
)

func (m Mode) String() string {
	switch m {
	case Sequential:
		return "then"
	case Parallel:
		return "or"
	}
	return "single"
}

// Spec is a parsed trigger specification. An empty Spec has no terms.
type Spec struct {
	Mode  Mode
	Terms []*Term
}

// Empty reports whether the specification asks for no trigger at all.
func (s *Spec) Empty() bool {
	return s == nil || len(s.Terms) == 0
}

func (s *Spec) String() string {
	parts := make([]string, len(s.Terms))
	for i, t := range s.Terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " "+s.Mode.String()+" ")
}

// Term is one logical trigger: either a set of conditions compared at once
// or a waveform on one signal, with an optional delay.
type Term struct {
	Pos   Pos
	Conds []*Cond
	Timed *Timed
	Delay *Duration
}

func (t *Term) String() string {
	var s string
	if t.Timed != nil {
		s = t.Timed.String()
	} else {
		parts := make([]string, len(t.Conds))
		for i, c := range t.Conds {
			parts[i] = c.String()
		}
		s = strings.Join(parts, " and ")
	}
	if t.Delay != nil {
		s += " after " + t.Delay.String()
	}
	return s
}

// Cond requires Signal to equal Value.
type Cond struct {
	Pos    Pos
	Signal *signals.Signal
	Value  uint32
}

func (c *Cond) String() string {
	return fmt.Sprintf("%s=%#x", c.Signal.Name, c.Value)
}

// Timed is a waveform on one signal.
type Timed struct {
	Pos    Pos
	Signal *signals.Signal
	Steps  []*Step
}

func (t *Timed) String() string {
	parts := make([]string, len(t.Steps))
	for i, s := range t.Steps {
		parts[i] = fmt.Sprintf("%#x:%s", s.Value, s.Duration)
	}
	return fmt.Sprintf("%s=[%s]", t.Signal.Name, strings.Join(parts, ","))
}

// Step holds Value for Duration.
type Step struct {
	Pos      Pos
	Value    uint32
	Duration *Duration
}

// Duration is either a sample count or, when Timed is set, a time in
// seconds.
type Duration struct {
	Pos     Pos
	Samples int64
	Seconds float64
	Timed   bool
}

func (d *Duration) String() string {
	if d.Timed {
		return fmt.Sprintf("%gs", d.Seconds)
	}
	return fmt.Sprintf("%d", d.Samples)
}
