package sump

import (
	"fmt"
	"strings"
)

// Command is one decoded host-to-device command.
type Command struct {
	Op      byte
	Payload uint32
	Long    bool
}

// String renders the command in a readable form, e.g.
// "set_trigger_conf slot=2 delay=0 level=1 channel=0 serial=0 start=1".
func (c Command) String() string {
	if slot, family, ok := TriggerSlot(c.Op); ok {
		switch family {
		case CMD_SET_TRIGGER_MASK:
			return fmt.Sprintf("set_trigger_mask slot=%d mask=0x%08x", slot, c.Payload)
		case CMD_SET_TRIGGER_VALUES:
			return fmt.Sprintf("set_trigger_values slot=%d values=0x%08x", slot, c.Payload)
		default:
			var st TriggerStage
			st.applyConfigWord(c.Payload)
			return fmt.Sprintf("set_trigger_conf slot=%d delay=%d level=%d channel=%d serial=%d start=%d",
				slot, st.Delay, st.Level, st.Channel, b2i(st.Serial), b2i(st.Start))
		}
	}
	switch c.Op {
	case CMD_RESET:
		return "reset"
	case CMD_RUN:
		return "run"
	case CMD_ID:
		return "id"
	case CMD_XON:
		return "xon"
	case CMD_XOFF:
		return "xoff"
	case CMD_SET_DIVIDER:
		return fmt.Sprintf("set_divider divider=%d", c.Payload&0x00FFFFFF)
	case CMD_SET_READ_AND_DELAY_COUNT:
		rc, dc := DecodeSize(c.Payload)
		return fmt.Sprintf("set_size read_count=%d delay_count=%d", rc, dc)
	case CMD_SET_FLAGS:
		return fmt.Sprintf("set_flags flags=0x%08x", c.Payload)
	}
	if c.Long {
		return fmt.Sprintf("unknown op=0x%02x payload=0x%08x", c.Op, c.Payload)
	}
	return fmt.Sprintf("unknown op=0x%02x", c.Op)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Decoder splits a host-to-device byte stream into commands. Long commands
// may arrive split across Feed calls.
type Decoder struct {
	pending []byte
}

// Feed appends data to the stream and returns every complete command.
func (d *Decoder) Feed(data []byte) []Command {
	d.pending = append(d.pending, data...)
	var out []Command
	for len(d.pending) > 0 {
		op := d.pending[0]
		if !IsLong(op) {
			out = append(out, Command{Op: op})
			d.pending = d.pending[1:]
			continue
		}
		if len(d.pending) < RecordSize {
			break
		}
		var r Record
		copy(r[:], d.pending[:RecordSize])
		out = append(out, Command{Op: op, Payload: r.Payload(), Long: true})
		d.pending = d.pending[RecordSize:]
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return out
}

// Buffered returns the number of bytes of an incomplete command.
func (d *Decoder) Buffered() int {
	return len(d.pending)
}

// ParseDump decodes a complete captured command stream.
func ParseDump(data []byte) ([]Command, error) {
	var d Decoder
	cmds := d.Feed(data)
	if d.Buffered() != 0 {
		return cmds, fmt.Errorf("sump: truncated command at end of stream (%d bytes)", d.Buffered())
	}
	return cmds, nil
}

// DumpLines decodes a command stream into readable lines.
func DumpLines(data []byte) ([]string, error) {
	cmds, err := ParseDump(data)
	lines := make([]string, 0, len(cmds))
	for _, c := range cmds {
		lines = append(lines, c.String())
	}
	return lines, err
}

// FormatStages renders the stage table for logs and diagnostics.
func FormatStages(stages *Stages) string {
	var sb strings.Builder
	for i, st := range stages {
		fmt.Fprintf(&sb, "stage %d: mask=0x%08x values=0x%08x delay=%d level=%d channel=%d serial=%d start=%d\n",
			i, st.Mask, st.Values, st.Delay, st.Level, st.Channel, b2i(st.Serial), b2i(st.Start))
	}
	return sb.String()
}
