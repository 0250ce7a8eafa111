package trigger

import (
	"logicsniffer/pkg/errors"
	"logicsniffer/pkg/log"
	"logicsniffer/pkg/sump"
)

var logger = log.GetLogger("trigger")

// Context carries the state of one compile pass: the stage pool, the
// success flag and every problem recorded so far. A failed request clears
// the flag for the rest of the pass but never stops compilation, so one run
// reports all problems of a specification.
type Context struct {
	pool       *Pool
	sampleRate uint32
	success    bool
	problems   []*errors.HostError
}

// NewContext starts a compile pass writing into stages. The stages are
// zeroed. sampleRate is in Hz and is used for time based delays.
func NewContext(stages *sump.Stages, sampleRate uint32) *Context {
	return &Context{
		pool:       NewPool(stages),
		sampleRate: sampleRate,
		success:    true,
	}
}

// Pool returns the stage pool of the pass.
func (c *Context) Pool() *Pool {
	return c.pool
}

// SampleRate returns the sample rate used for time conversions.
func (c *Context) SampleRate() uint32 {
	return c.sampleRate
}

// Success reports whether every request so far could be satisfied.
func (c *Context) Success() bool {
	return c.success
}

// Problems returns the recorded problems in the order they occurred.
func (c *Context) Problems() []*errors.HostError {
	return c.problems
}

// record stores a problem and logs it. Anything but a precision warning
// marks the pass unsuccessful.
func (c *Context) record(p *errors.HostError) {
	c.problems = append(c.problems, p)
	if p.Fatal() {
		c.success = false
		logger.Error("%s", p.Message)
	} else {
		logger.Warn("%s", p.Message)
	}
}

// Result is the outcome of a compile pass.
type Result struct {
	// Success is false if the stages must not be sent to the device.
	Success bool `json:"success"`

	// Problems lists errors and warnings in the order found.
	Problems []*errors.HostError `json:"-"`

	// Stages is a copy of the stage registers after the pass.
	Stages sump.Stages `json:"stages"`

	// Used is the number of stages allocated.
	Used int `json:"used"`
}

// Result snapshots the pass.
func (c *Context) Result() *Result {
	return &Result{
		Success:  c.success,
		Problems: c.problems,
		Stages:   *c.pool.Stages(),
		Used:     c.pool.InUse(),
	}
}

// Err returns the first fatal problem, or nil when the pass succeeded.
func (r *Result) Err() error {
	for _, p := range r.Problems {
		if p.Fatal() {
			return p
		}
	}
	return nil
}

// Messages returns the problem messages, for reporting.
func (r *Result) Messages() []string {
	out := make([]string, 0, len(r.Problems))
	for _, p := range r.Problems {
		out = append(out, p.Error())
	}
	return out
}
