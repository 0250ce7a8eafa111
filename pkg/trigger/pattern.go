package trigger

import (
	"logicsniffer/pkg/errors"
	"logicsniffer/pkg/signals"
)

// Pattern is a condition over the full 32-bit sample word. Only bits set in
// Mask are compared.
type Pattern struct {
	Value uint32
	Mask  uint32
}

// MakePattern matches sig against value, where bit i of value is the
// desired level of the i-th channel of the signal.
func MakePattern(sig *signals.Signal, value uint32) Pattern {
	return Pattern{Value: sig.Value(value), Mask: sig.Mask}
}

// Merge combines two patterns into one that requires both. The patterns are
// expected to constrain different channels; overlapping bits are simply ORed.
func Merge(a, b Pattern) Pattern {
	return Pattern{Value: a.Value | b.Value, Mask: a.Mask | b.Mask}
}

// Overlaps reports whether a and b constrain a common channel.
func Overlaps(a, b Pattern) bool {
	return a.Mask&b.Mask != 0
}

// Trigger is a logical trigger: the stages that together implement one
// condition, plus the delay applied when it is activated.
type Trigger struct {
	// Delay in samples, written to every stage on activation.
	Delay int

	// Stages holds one handle for a pattern trigger and one per signal bit
	// for a timed trigger. It is shorter when the pool ran out.
	Stages []StageHandle
}

// Bound reports whether the trigger got all the stages it asked for.
func (t *Trigger) Bound() bool {
	return len(t.Stages) > 0
}

// PatternTrigger compiles p into a single parallel stage. When no stage is
// left the returned trigger has no stages and the pass is marked failed.
func (c *Context) PatternTrigger(p Pattern) *Trigger {
	t := &Trigger{}
	h, ok := c.pool.Allocate()
	if !ok {
		c.record(errors.StageExhaustedError("pattern trigger"))
		return t
	}
	st := c.pool.Stage(h)
	st.Mask = p.Mask
	st.Values = p.Value
	st.Channel = 0
	st.Serial = false
	t.Stages = append(t.Stages, h)
	return t
}
