package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logicsniffer/pkg/errors"
	"logicsniffer/pkg/signals"
	"logicsniffer/pkg/sump"
)

const rate100M = 100000000

func testRegistry(t *testing.T) *signals.Registry {
	t.Helper()
	reg := signals.NewRegistry()
	defs := []struct {
		name     string
		channels []int
	}{
		{"data", []int{0, 1, 2, 3, 4, 5, 6, 7}},
		{"clk", []int{8}},
		{"cs", []int{9}},
		{"addr", []int{19, 18, 17, 16}},
		{"pair", []int{24, 25}},
	}
	for _, d := range defs {
		_, err := reg.Add(d.name, d.channels)
		require.NoError(t, err)
	}
	return reg
}

func problemCodes(ps []*errors.HostError) []errors.ErrorCode {
	var out []errors.ErrorCode
	for _, p := range ps {
		out = append(out, p.Code)
	}
	return out
}

func TestPoolAllocatesLastFirst(t *testing.T) {
	var stages sump.Stages
	stages[1].Mask = 0xFF
	p := NewPool(&stages)

	assert.Equal(t, sump.Stages{}, stages, "new pool zeroes stages")
	var got []int
	for i := 0; i < sump.NumStages; i++ {
		h, ok := p.Allocate()
		require.True(t, ok)
		got = append(got, h.Slot())
	}
	assert.Equal(t, []int{3, 2, 1, 0}, got)
	assert.Equal(t, 0, p.Remaining())
	assert.Equal(t, sump.NumStages, p.InUse())

	_, ok := p.Allocate()
	assert.False(t, ok)

	p.Stage(2).Values = 7
	p.Reset()
	assert.Equal(t, sump.NumStages, p.Remaining())
	assert.Equal(t, sump.Stages{}, stages)
}

func TestMakePattern(t *testing.T) {
	reg := testRegistry(t)
	for _, sig := range reg.Signals() {
		for _, v := range []uint32{0, 1, 2, 5, 0xA, 0xFF, 0xFFFFFFFF} {
			p := MakePattern(sig, v)
			assert.Equal(t, sig.Mask, p.Mask, "%s=%#x", sig.Name, v)
			assert.Zero(t, p.Value&^sig.Mask, "%s=%#x", sig.Name, v)
		}
	}

	// addr lists channels high to low, so bit 0 of the value is channel 19
	addr := reg.Lookup("addr")
	assert.Equal(t, uint32(1<<19), MakePattern(addr, 0x1).Value)
	assert.Equal(t, uint32(1<<16|1<<18), MakePattern(addr, 0xA).Value)
}

func TestMerge(t *testing.T) {
	a := Pattern{Value: 0x01, Mask: 0x0F}
	b := Pattern{Value: 0x100, Mask: 0x300}
	c := Pattern{Value: 0x10000, Mask: 0x10000}

	m := Merge(a, b)
	assert.Equal(t, a.Mask|b.Mask, m.Mask)
	assert.Equal(t, uint32(0x101), m.Value)
	assert.Equal(t, Merge(a, b), Merge(b, a))
	assert.Equal(t, Merge(Merge(a, b), c), Merge(a, Merge(b, c)))
	assert.False(t, Overlaps(a, b))
	assert.True(t, Overlaps(a, Pattern{Mask: 0x08}))
}

func TestPatternTrigger(t *testing.T) {
	var stages sump.Stages
	c := NewContext(&stages, rate100M)
	tr := c.PatternTrigger(Pattern{Value: 0x05, Mask: 0x0F})

	require.Len(t, tr.Stages, 1)
	assert.Equal(t, 3, tr.Stages[0].Slot())
	assert.Equal(t, sump.TriggerStage{Mask: 0x0F, Values: 0x05}, stages[3])
	assert.True(t, c.Success())
}

func TestPoolExhaustion(t *testing.T) {
	var stages sump.Stages
	c := NewContext(&stages, rate100M)
	var ts []*Trigger
	for i := 0; i < 6; i++ {
		ts = append(ts, c.PatternTrigger(Pattern{Value: 1, Mask: 1}))
	}
	for i := 0; i < 4; i++ {
		assert.Len(t, ts[i].Stages, 1, "trigger %d", i)
	}
	assert.Empty(t, ts[4].Stages)
	assert.Empty(t, ts[5].Stages)
	assert.False(t, c.Success())
	assert.Equal(t, []errors.ErrorCode{errors.ErrStageExhausted, errors.ErrStageExhausted},
		problemCodes(c.Problems()))

	// activating an unbound trigger is harmless
	c.ActivateSequential(ts[3:])
	assert.Equal(t, uint8(0), stages[0].Level)
	assert.False(t, stages[0].Start)
}

func TestTimedTrigger(t *testing.T) {
	reg := testRegistry(t)
	pair := reg.Lookup("pair")

	var stages sump.Stages
	c := NewContext(&stages, rate100M)
	// 0b01 for 2 samples, 0b10 for 3, 0b11 for 1
	tr := c.TimedTrigger(pair, []TimedValue{
		SampleValue(0x1, 2),
		SampleValue(0x2, 3),
		SampleValue(0x3, 1),
	})
	require.True(t, c.Success())
	require.Len(t, tr.Stages, 2)

	bit0 := stages[tr.Stages[0]]
	assert.Equal(t, sump.TriggerStage{Mask: 0x3F, Values: 0x23, Channel: 24, Serial: true}, bit0)
	bit1 := stages[tr.Stages[1]]
	assert.Equal(t, sump.TriggerStage{Mask: 0x3F, Values: 0x3C, Channel: 25, Serial: true}, bit1)
}

func TestTimedTriggerWindow(t *testing.T) {
	reg := testRegistry(t)
	clk := reg.Lookup("clk")

	var stages sump.Stages
	c := NewContext(&stages, rate100M)
	c.TimedTrigger(clk, []TimedValue{SampleValue(1, 16), SampleValue(0, 16)})
	assert.True(t, c.Success(), "exactly 32 samples fit")
	assert.Equal(t, uint32(0xFFFFFFFF), stages[3].Mask)
	assert.Equal(t, uint32(0x0000FFFF), stages[3].Values)

	c = NewContext(&stages, rate100M)
	c.TimedTrigger(clk, []TimedValue{SampleValue(1, 16), SampleValue(0, 17)})
	assert.False(t, c.Success(), "33 samples overflow")
	assert.Equal(t, []errors.ErrorCode{errors.ErrSerialWindowOverflow}, problemCodes(c.Problems()))
	assert.Equal(t, uint32(0xFFFFFFFF), stages[3].Mask, "encoding still completes")
}

func TestTimedTriggerExhaustion(t *testing.T) {
	reg := testRegistry(t)
	data := reg.Lookup("data")

	var stages sump.Stages
	c := NewContext(&stages, rate100M)
	tr := c.TimedTrigger(data, []TimedValue{SampleValue(0xFF, 1)})
	assert.Len(t, tr.Stages, sump.NumStages, "stages bound before exhaustion are kept")
	assert.False(t, c.Success())
	assert.Equal(t, []errors.ErrorCode{errors.ErrStageExhausted}, problemCodes(c.Problems()))
	for _, h := range tr.Stages {
		st := stages[h]
		assert.True(t, st.Serial)
		assert.Equal(t, uint32(1), st.Mask)
	}
}

func TestActivation(t *testing.T) {
	var stages sump.Stages
	c := NewContext(&stages, rate100M)
	a := c.PatternTrigger(Pattern{Value: 1, Mask: 1})
	b := c.PatternTrigger(Pattern{Value: 2, Mask: 2})
	cc := c.PatternTrigger(Pattern{Value: 4, Mask: 4})
	ts := []*Trigger{a, b, cc}

	levels := func() []uint8 {
		return []uint8{stages[a.Stages[0]].Level, stages[b.Stages[0]].Level, stages[cc.Stages[0]].Level}
	}
	starts := func() []bool {
		return []bool{stages[a.Stages[0]].Start, stages[b.Stages[0]].Start, stages[cc.Stages[0]].Start}
	}

	c.ActivateSequential(ts)
	assert.Equal(t, []uint8{0, 1, 2}, levels())
	assert.Equal(t, []bool{false, false, true}, starts())

	c.ActivateParallel(ts)
	assert.Equal(t, []uint8{0, 0, 0}, levels())
	assert.Equal(t, []bool{false, false, true}, starts())
}

func TestActivateMultiStage(t *testing.T) {
	reg := testRegistry(t)
	var stages sump.Stages
	c := NewContext(&stages, rate100M)
	tr := c.TimedTrigger(reg.Lookup("pair"), []TimedValue{SampleValue(3, 4)})
	c.SampleDelay(tr, 17)
	c.Activate(tr, 2, true)
	for _, h := range tr.Stages {
		assert.Equal(t, uint8(2), stages[h].Level)
		assert.True(t, stages[h].Start)
		assert.Equal(t, uint16(17), stages[h].Delay)
	}
}

func TestTimeDelay(t *testing.T) {
	var stages sump.Stages

	c := NewContext(&stages, rate100M)
	tr := c.TimeDelay(&Trigger{}, 0.00001)
	assert.Equal(t, 1000, tr.Delay)
	assert.True(t, c.Success())
	assert.Empty(t, c.Problems())

	c = NewContext(&stages, rate100M)
	tr = c.TimeDelay(&Trigger{}, 1.5)
	assert.Equal(t, sump.MaxDelay, tr.Delay)
	assert.False(t, c.Success())
	assert.Equal(t, []errors.ErrorCode{errors.ErrDelayOverflow}, problemCodes(c.Problems()))

	// 15ns at 100MHz is 1 sample = 10ns, a third off
	c = NewContext(&stages, rate100M)
	tr = c.TimeDelay(&Trigger{}, 15e-9)
	assert.Equal(t, 1, tr.Delay)
	assert.True(t, c.Success(), "precision problems are warnings")
	assert.Equal(t, []errors.ErrorCode{errors.ErrTimingPrecision}, problemCodes(c.Problems()))

	c = NewContext(&stages, rate100M)
	c.TimeDelay(&Trigger{}, 0)
	assert.Empty(t, c.Problems())
}

func TestSampleDelay(t *testing.T) {
	var stages sump.Stages
	c := NewContext(&stages, rate100M)
	assert.Equal(t, 65535, c.SampleDelay(&Trigger{}, 65535).Delay)
	assert.True(t, c.Success())
	assert.Equal(t, 65535, c.SampleDelay(&Trigger{}, 65536).Delay)
	assert.False(t, c.Success())
}

func TestTimedValue(t *testing.T) {
	var stages sump.Stages
	c := NewContext(&stages, 1000)
	v := c.TimedValue(0x3, 0.25)
	assert.Equal(t, TimedValue{Value: 3, Samples: 250}, v)
	assert.Empty(t, c.Problems())

	// 1.5ms at 1kHz truncates to one sample, a third short
	c = NewContext(&stages, 1000)
	v = c.TimedValue(0x1, 0.0015)
	assert.Equal(t, TimedValue{Value: 1, Samples: 1}, v)
	assert.True(t, c.Success(), "precision problems are warnings")
	assert.Equal(t, []errors.ErrorCode{errors.ErrTimingPrecision}, problemCodes(c.Problems()))
}

func TestCompileTimedPrecisionWarning(t *testing.T) {
	reg := testRegistry(t)
	var stages sump.Stages
	res, err := Compile(reg, 1000, "clk=[1:1500us, 0:2ms]", &stages)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Messages())
	assert.NoError(t, res.Err())
	assert.Equal(t, []errors.ErrorCode{errors.ErrTimingPrecision}, problemCodes(res.Problems))
	assert.Equal(t, sump.TriggerStage{Mask: 0x7, Values: 0x1, Channel: 8, Serial: true, Start: true}, stages[3])
}

func TestCompileEmpty(t *testing.T) {
	reg := testRegistry(t)
	stages := sump.Stages{{Mask: 0xFF, Level: 2}}
	for _, src := range []string{"", "   \n", "# nothing\n"} {
		res, err := Compile(reg, rate100M, src, &stages)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 0, res.Used)
		for i, st := range stages {
			assert.Equal(t, sump.TriggerStage{Start: true}, st, "slot %d", i)
		}
	}
}

func TestCompileSequential(t *testing.T) {
	reg := testRegistry(t)
	var stages sump.Stages
	res, err := Compile(reg, rate100M, "cs=0 then data=0x55 and clk=1 after 10us then addr=0xA", &stages)
	require.NoError(t, err)
	require.True(t, res.Success, res.Messages())
	assert.Equal(t, 3, res.Used)

	assert.Equal(t, sump.TriggerStage{Mask: 1 << 9, Values: 0, Level: 0}, stages[3])
	assert.Equal(t, sump.TriggerStage{Mask: 0x1FF, Values: 0x155, Level: 1, Delay: 1000}, stages[2])
	assert.Equal(t, sump.TriggerStage{Mask: 0xF0000, Values: 1<<16 | 1<<18, Level: 2, Start: true}, stages[1])
	assert.Equal(t, sump.TriggerStage{}, stages[0])
	assert.Equal(t, stages, res.Stages)
}

func TestCompileParallel(t *testing.T) {
	reg := testRegistry(t)
	var stages sump.Stages
	res, err := Compile(reg, rate100M, "clk=1 or cs=1 or pair=3", &stages)
	require.NoError(t, err)
	require.True(t, res.Success)
	for slot := 1; slot <= 3; slot++ {
		assert.Equal(t, uint8(0), stages[slot].Level)
	}
	assert.False(t, stages[3].Start)
	assert.False(t, stages[2].Start)
	assert.True(t, stages[1].Start)
}

func TestCompileTimed(t *testing.T) {
	reg := testRegistry(t)
	var stages sump.Stages
	res, err := Compile(reg, rate100M, "cs=0 then clk=[1:4, 0:4] after 100", &stages)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, sump.TriggerStage{Mask: 0xFF, Values: 0x0F, Channel: 8, Serial: true, Level: 1, Start: true, Delay: 100}, stages[2])
}

func TestCompileCollectsAllProblems(t *testing.T) {
	reg := testRegistry(t)
	var stages sump.Stages
	res, err := Compile(reg, rate100M, "clk=[1:40] after 2s then data=[0xFF:1]", &stages)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []errors.ErrorCode{
		errors.ErrSerialWindowOverflow,
		errors.ErrDelayOverflow,
		errors.ErrStageExhausted,
	}, problemCodes(res.Problems))
	assert.Error(t, res.Err())
}

func TestCompileParseError(t *testing.T) {
	reg := testRegistry(t)
	stages := sump.Stages{{Mask: 0xAB}}
	res, err := Compile(reg, rate100M, "bogus=1", &stages)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTriggerParse))
	assert.Equal(t, uint32(0xAB), stages[0].Mask, "stages untouched on parse error")
}

func TestCompiledStagesEncode(t *testing.T) {
	reg := testRegistry(t)
	var stages sump.Stages
	res, err := Compile(reg, rate100M, "addr=[0xF:2, 0x0:3] then pair=2", &stages)
	require.NoError(t, err)
	require.False(t, res.Success, "four addr stages plus one pattern do not fit")

	res, err = Compile(reg, rate100M, "pair=[3:2, 0:3] then addr=0x5", &stages)
	require.NoError(t, err)
	require.True(t, res.Success)
	for slot, st := range stages {
		recs, err := sump.EncodeStage(slot, st)
		require.NoError(t, err)
		gotSlot, got, err := sump.DecodeStage(recs)
		require.NoError(t, err)
		assert.Equal(t, slot, gotSlot)
		assert.Equal(t, st, got)
	}
}
