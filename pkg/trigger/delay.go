package trigger

import (
	"fmt"
	"math"

	"logicsniffer/pkg/errors"
	"logicsniffer/pkg/sump"
)

// PrecisionLimit is the relative error above which a converted time delay
// is reported.
const PrecisionLimit = 0.10

// toSamples converts seconds to a sample count, rounding towards zero.
func (c *Context) toSamples(seconds float64) int64 {
	if seconds <= 0 || c.sampleRate == 0 {
		return 0
	}
	raw := math.Trunc(float64(c.sampleRate) * seconds)
	if raw > math.MaxInt64/2 {
		return math.MaxInt64 / 2
	}
	return int64(raw)
}

// checkPrecision warns when samples differs from seconds by more than the
// precision limit.
func (c *Context) checkPrecision(seconds float64, samples int64) {
	if seconds <= 0 || c.sampleRate == 0 {
		return
	}
	actual := float64(samples) / float64(c.sampleRate)
	if math.Abs(actual-seconds)/seconds > PrecisionLimit {
		c.record(errors.TimingPrecisionWarning(seconds, samples))
	}
}

// TimeDelay sets the delay of t from a duration in seconds. Delays beyond
// the delay register are clamped and fail the pass.
func (c *Context) TimeDelay(t *Trigger, seconds float64) *Trigger {
	samples := c.toSamples(seconds)
	if samples > sump.MaxDelay {
		c.record(errors.DelayOverflowError(fmt.Sprintf("%es", seconds), samples))
		t.Delay = sump.MaxDelay
		return t
	}
	t.Delay = int(samples)
	c.checkPrecision(seconds, samples)
	return t
}

// SampleDelay sets the delay of t in samples. Delays beyond the delay
// register are clamped and fail the pass.
func (c *Context) SampleDelay(t *Trigger, samples int64) *Trigger {
	if samples > sump.MaxDelay {
		c.record(errors.DelayOverflowError(fmt.Sprintf("%d samples", samples), samples))
		t.Delay = sump.MaxDelay
		return t
	}
	if samples < 0 {
		samples = 0
	}
	t.Delay = int(samples)
	return t
}
