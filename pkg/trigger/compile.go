package trigger

import (
	"math"

	"logicsniffer/pkg/log"
	"logicsniffer/pkg/signals"
	"logicsniffer/pkg/sump"
)

// Compile parses src against reg and compiles it into stages. A parse
// error is returned as an error and leaves stages untouched; compile
// problems are reported in the result. Stages must only be sent to the
// device when Result.Success is set.
func Compile(reg *signals.Registry, sampleRate uint32, src string, stages *sump.Stages) (*Result, error) {
	spec, err := Parse(src, reg)
	if err != nil {
		return nil, err
	}
	return CompileSpec(spec, sampleRate, stages), nil
}

// CompileSpec compiles a parsed specification into stages, which are
// zeroed first. Without any term every stage is marked as start so the
// capture begins immediately.
func CompileSpec(spec *Spec, sampleRate uint32, stages *sump.Stages) *Result {
	c := NewContext(stages, sampleRate)
	if spec.Empty() {
		for i := range stages {
			stages[i].Start = true
		}
		logger.Debug("no trigger specified, capturing immediately")
		return c.Result()
	}

	ts := make([]*Trigger, 0, len(spec.Terms))
	for _, term := range spec.Terms {
		ts = append(ts, c.compileTerm(term))
	}
	if spec.Mode == Parallel {
		c.ActivateParallel(ts)
	} else {
		c.ActivateSequential(ts)
	}

	res := c.Result()
	logger.WithFields(log.Fields{
		"stages":   res.Used,
		"mode":     spec.Mode.String(),
		"success":  res.Success,
		"problems": len(res.Problems),
	}).Debug("trigger compiled")
	return res
}

func (c *Context) compileTerm(term *Term) *Trigger {
	var t *Trigger
	if term.Timed != nil {
		steps := make([]TimedValue, 0, len(term.Timed.Steps))
		for _, s := range term.Timed.Steps {
			if s.Duration.Timed {
				steps = append(steps, c.TimedValue(s.Value, s.Duration.Seconds))
			} else {
				steps = append(steps, SampleValue(s.Value, clampInt(s.Duration.Samples)))
			}
		}
		t = c.TimedTrigger(term.Timed.Signal, steps)
	} else {
		p := MakePattern(term.Conds[0].Signal, term.Conds[0].Value)
		for _, cond := range term.Conds[1:] {
			q := MakePattern(cond.Signal, cond.Value)
			if Overlaps(p, q) {
				logger.Debug("%s: condition on %s overlaps earlier conditions (mask 0x%08x)",
					cond.Pos, cond.Signal.Name, p.Mask&q.Mask)
			}
			p = Merge(p, q)
		}
		t = c.PatternTrigger(p)
	}

	if d := term.Delay; d != nil {
		if d.Timed {
			c.TimeDelay(t, d.Seconds)
		} else {
			c.SampleDelay(t, d.Samples)
		}
	}
	return t
}

func clampInt(n int64) int {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}
