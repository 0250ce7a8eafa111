package trigger

import "logicsniffer/pkg/sump"

// StageHandle identifies an allocated hardware stage by its slot number.
type StageHandle int

// Slot returns the physical slot addressed by the handle.
func (h StageHandle) Slot() int {
	return int(h)
}

// Pool hands out the hardware trigger stages of one compile pass. Slots are
// given out last-available-first, so the first allocation returns slot 3.
type Pool struct {
	stages    *sump.Stages
	remaining int
}

// NewPool returns a pool over stages, reset for a new pass.
func NewPool(stages *sump.Stages) *Pool {
	p := &Pool{stages: stages}
	p.Reset()
	return p
}

// Reset zeroes every stage and makes all of them available again.
func (p *Pool) Reset() {
	p.stages.Reset()
	p.remaining = sump.NumStages
}

// Allocate returns an unused stage. ok is false once the pool is empty.
func (p *Pool) Allocate() (h StageHandle, ok bool) {
	if p.remaining == 0 {
		return 0, false
	}
	p.remaining--
	return StageHandle(p.remaining), true
}

// Remaining returns the number of stages not yet handed out.
func (p *Pool) Remaining() int {
	return p.remaining
}

// InUse returns the number of stages handed out this pass.
func (p *Pool) InUse() int {
	return sump.NumStages - p.remaining
}

// Stage returns the registers behind h.
func (p *Pool) Stage(h StageHandle) *sump.TriggerStage {
	return &p.stages[h]
}

// Stages returns the stage array the pool writes into.
func (p *Pool) Stages() *sump.Stages {
	return p.stages
}
