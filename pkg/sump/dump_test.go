package sump

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDump(t *testing.T) {
	var stream []byte
	stream = append(stream, EncodeReset()...)
	stream = append(stream, CMD_ID)
	div := EncodeDivider(0)
	stream = append(stream, div[:]...)
	recs, err := EncodeStage(3, TriggerStage{Mask: 0xFF, Values: 0x0F, Level: 1, Start: true})
	require.NoError(t, err)
	for _, r := range recs {
		stream = append(stream, r[:]...)
	}
	stream = append(stream, CMD_RUN)

	lines, err := DumpLines(stream)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"reset", "reset", "reset", "reset", "reset",
		"id",
		"set_divider divider=0",
		"set_trigger_mask slot=3 mask=0x000000ff",
		"set_trigger_values slot=3 values=0x0000000f",
		"set_trigger_conf slot=3 delay=0 level=1 channel=0 serial=0 start=1",
		"run",
	}, lines)
}

func TestParseDumpTruncated(t *testing.T) {
	cmds, err := ParseDump([]byte{CMD_RUN, CMD_SET_FLAGS, 0x01})
	assert.Error(t, err)
	assert.Len(t, cmds, 1)
}

func TestDecoderSplitFeed(t *testing.T) {
	var d Decoder
	flags := EncodeFlags(0x12345678)

	assert.Empty(t, d.Feed(flags[:2]))
	assert.Equal(t, 2, d.Buffered())

	cmds := d.Feed(append(flags[2:], CMD_RUN))
	require.Len(t, cmds, 2)
	assert.Equal(t, Command{Op: CMD_SET_FLAGS, Payload: 0x12345678, Long: true}, cmds[0])
	assert.Equal(t, Command{Op: CMD_RUN}, cmds[1])
	assert.Equal(t, 0, d.Buffered())
}

func TestFormatStages(t *testing.T) {
	var s Stages
	s[0].Start = true
	out := FormatStages(&s)
	assert.Contains(t, out, "stage 0: mask=0x00000000 values=0x00000000 delay=0 level=0 channel=0 serial=0 start=1")
	assert.Contains(t, out, "stage 3:")
}
