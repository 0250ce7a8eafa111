package trigger

// Activate writes level, start and the trigger delay into every stage of t,
// so a multi-stage trigger always fires as one unit.
func (c *Context) Activate(t *Trigger, level int, start bool) *Trigger {
	for _, h := range t.Stages {
		st := c.pool.Stage(h)
		st.Level = uint8(level)
		st.Start = start
		st.Delay = uint16(t.Delay)
	}
	return t
}

// ActivateSequential chains ts: the i-th trigger gets level i and only the
// last one starts the capture. Chains longer than the number of levels are
// the caller's to reject.
func (c *Context) ActivateSequential(ts []*Trigger) {
	for i, t := range ts {
		c.Activate(t, i, i == len(ts)-1)
	}
}

// ActivateParallel puts every trigger of ts on level 0. Only the last one
// starts the capture.
func (c *Context) ActivateParallel(ts []*Trigger) {
	for i, t := range ts {
		c.Activate(t, 0, i == len(ts)-1)
	}
}
