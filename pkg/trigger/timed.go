package trigger

import (
	"math"

	"logicsniffer/pkg/errors"
	"logicsniffer/pkg/signals"
)

// SerialWindow is the number of samples a serial stage can compare.
const SerialWindow = 32

// TimedValue is one step of a waveform: the signal holds Value for Samples
// consecutive samples.
type TimedValue struct {
	Value   uint32
	Samples int
}

// SampleValue returns a step with a duration given in samples.
func SampleValue(value uint32, samples int) TimedValue {
	return TimedValue{Value: value, Samples: samples}
}

// TimedValue returns a step with a duration given in seconds. A duration
// that cannot be represented within 10% is reported as a warning.
func (c *Context) TimedValue(value uint32, seconds float64) TimedValue {
	samples := c.toSamples(seconds)
	c.checkPrecision(seconds, samples)
	if samples > math.MaxInt32 {
		samples = math.MaxInt32
	}
	return TimedValue{Value: value, Samples: int(samples)}
}

// TimedTrigger compiles a waveform on sig into serial stages, one per
// signal bit in channel order. Stage b watches sig.Channels[b]; bit s of
// its mask is set for every constrained sample s, and the matching values
// bit when bit b of the step value is one.
//
// A waveform longer than the serial window fails the pass but the stages
// are still filled in. Running out of stages fails the pass and returns the
// stages bound so far.
func (c *Context) TimedTrigger(sig *signals.Signal, steps []TimedValue) *Trigger {
	t := &Trigger{}
	total := 0
	for _, step := range steps {
		if step.Samples > 0 {
			total += step.Samples
		}
	}
	if total > SerialWindow {
		c.record(errors.SerialWindowError(sig.Name, total))
	}

	for b, ch := range sig.Channels {
		h, ok := c.pool.Allocate()
		if !ok {
			c.record(errors.StageExhaustedError("pattern sequence trigger for signal " + sig.Name))
			return t
		}
		t.Stages = append(t.Stages, h)
		st := c.pool.Stage(h)
		st.Channel = uint8(ch)
		st.Serial = true
		st.Mask, st.Values = serialBits(steps, b)
	}
	return t
}

// serialBits returns the mask and values registers of the serial stage for
// signal bit b. Samples past the window are dropped.
func serialBits(steps []TimedValue, b int) (mask, values uint32) {
	s := 0
	for _, step := range steps {
		if step.Samples <= 0 {
			continue
		}
		high := step.Value&(1<<uint(b)) != 0
		for i := 0; i < step.Samples && s+i < SerialWindow; i++ {
			bit := uint32(1) << uint(s+i)
			mask |= bit
			if high {
				values |= bit
			}
		}
		s += step.Samples
		if s >= SerialWindow {
			break
		}
	}
	return mask, values
}
