// Package emulator simulates a SUMP logic analyzer. It decodes the command
// stream, answers the ID query, keeps the programmed registers and, when
// armed, runs the trigger stages over a sample source and sends back the
// captured buffer the way the hardware does.
package emulator

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"logicsniffer/pkg/log"
	"logicsniffer/pkg/signals"
	"logicsniffer/pkg/sump"
)

var logger = log.GetLogger("emulator")

// DefaultMaxSamples bounds how long an armed capture waits for its trigger.
const DefaultMaxSamples = 1 << 20

// Source produces the 32 channel sample at time i. i may be negative for
// samples taken before acquisition started.
type Source interface {
	Sample(i int) uint32
}

// SourceFunc adapts a function to Source.
type SourceFunc func(i int) uint32

func (f SourceFunc) Sample(i int) uint32 { return f(i) }

// Counter returns the sample index itself, so channel n toggles every 2^n
// samples.
var Counter = SourceFunc(func(i int) uint32 { return uint32(i) })

// Repeat plays samples in a loop.
func Repeat(samples ...uint32) Source {
	return SourceFunc(func(i int) uint32 {
		n := len(samples)
		return samples[((i%n)+n)%n]
	})
}

// Device is the simulated analyzer state.
type Device struct {
	mu         sync.Mutex
	src        Source
	maxSamples int

	stages     sump.Stages
	divider    uint32
	flags      uint32
	readCount  uint16
	delayCount uint16

	commands []sump.Command
	trigger  int
	runs     int
}

// New creates a device sampling src.
func New(src Source) *Device {
	if src == nil {
		src = Counter
	}
	return &Device{src: src, maxSamples: DefaultMaxSamples, trigger: -1}
}

// SetMaxSamples bounds the trigger search.
func (d *Device) SetMaxSamples(n int) {
	d.mu.Lock()
	d.maxSamples = n
	d.mu.Unlock()
}

// Handle applies one command and returns the reply bytes, if any. RUN
// performs the acquisition; a nil reply means the trigger never fired.
func (d *Device) Handle(cmd sump.Command) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.commands = append(d.commands, cmd)
	logger.Debug("<- %s", cmd)

	if slot, family, ok := sump.TriggerSlot(cmd.Op); ok {
		st := &d.stages[slot]
		switch family {
		case sump.CMD_SET_TRIGGER_MASK:
			st.Mask = cmd.Payload
		case sump.CMD_SET_TRIGGER_VALUES:
			st.Values = cmd.Payload
		default:
			var recs [3]sump.Record
			recs[0] = sump.NewRecord(sump.CMD_SET_TRIGGER_MASK+byte(4*slot), st.Mask)
			recs[1] = sump.NewRecord(sump.CMD_SET_TRIGGER_VALUES+byte(4*slot), st.Values)
			recs[2] = sump.NewRecord(cmd.Op, cmd.Payload)
			if _, decoded, err := sump.DecodeStage(recs); err == nil {
				*st = decoded
			}
		}
		return nil
	}

	switch cmd.Op {
	case sump.CMD_ID:
		id := uint32(sump.DeviceID)
		return []byte{byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24)}
	case sump.CMD_SET_DIVIDER:
		d.divider = cmd.Payload & 0x00FFFFFF
	case sump.CMD_SET_FLAGS:
		d.flags = cmd.Payload
	case sump.CMD_SET_READ_AND_DELAY_COUNT:
		d.readCount, d.delayCount = sump.DecodeSize(cmd.Payload)
	case sump.CMD_RUN:
		d.runs++
		data, trig, ok := d.acquire()
		if !ok {
			logger.Warn("trigger did not fire within %d samples", d.maxSamples)
			d.trigger = -1
			return nil
		}
		d.trigger = trig
		return data
	}
	return nil
}

// action is a stage match waiting out its delay.
type action struct {
	at   int
	slot int
}

// acquire runs the trigger state machine and returns the captured buffer,
// newest sample first, and the sample index the capture triggered at.
// A stage with an empty mask that does not start the capture is treated
// as unprogrammed.
func (d *Device) acquire() ([]byte, int, bool) {
	level := 0
	var shift [sump.NumStages]uint32
	var busy [sump.NumStages]bool
	var pending []action

	for i := 0; i < d.maxSamples; i++ {
		s := d.src.Sample(i)

		var due []int
		rest := pending[:0]
		for _, a := range pending {
			if a.at == i {
				due = append(due, a.slot)
			} else {
				rest = append(rest, a)
			}
		}
		pending = rest

		for slot, st := range d.stages {
			if st.Serial {
				shift[slot] = shift[slot]<<1 | (s>>st.Channel)&1
			}
			if !st.Start && st.Mask == 0 {
				continue
			}
			if int(st.Level) > level || busy[slot] {
				continue
			}
			word := s
			if st.Serial {
				word = shift[slot]
			}
			if (word^st.Values)&st.Mask != 0 {
				continue
			}
			if st.Delay == 0 {
				due = append(due, slot)
			} else {
				busy[slot] = true
				pending = append(pending, action{at: i + int(st.Delay), slot: slot})
			}
		}

		for _, slot := range due {
			busy[slot] = false
			st := d.stages[slot]
			if st.Start {
				return d.window(i), i, true
			}
			if next := int(st.Level) + 1; next > level && next <= sump.MaxLevel {
				level = next
			}
		}
	}
	return nil, 0, false
}

// window serializes the samples around trigger t.
func (d *Device) window(t int) []byte {
	total := (int(d.readCount) + 1) * 4
	post := (int(d.delayCount) + 1) * 4
	if post > total {
		post = total
	}
	pre := total - post

	var groups []int
	for g := 0; g < signals.NumGroups; g++ {
		if d.flags&sump.GroupDisabledFlag(g) == 0 {
			groups = append(groups, g)
		}
	}

	out := make([]byte, 0, total*len(groups))
	for i := t + post - 1; i >= t-pre; i-- {
		s := d.src.Sample(i)
		for _, g := range groups {
			out = append(out, byte(s>>(uint(g)*signals.GroupWidth)))
		}
	}
	return out
}

// Serve reads commands from conn and writes replies until the connection
// fails or done is closed.
func (d *Device) Serve(conn net.Conn, done <-chan struct{}) error {
	var dec sump.Decoder
	buf := make([]byte, 256)
	for {
		select {
		case <-done:
			return nil
		default:
		}
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		for _, cmd := range dec.Feed(buf[:n]) {
			if reply := d.Handle(cmd); len(reply) > 0 {
				if _, err := conn.Write(reply); err != nil {
					return err
				}
			}
		}
	}
}

// Stages returns the programmed trigger stages.
func (d *Device) Stages() sump.Stages {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stages
}

// Divider returns the programmed clock divider.
func (d *Device) Divider() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.divider
}

// Flags returns the programmed flags register.
func (d *Device) Flags() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flags
}

// Size returns the programmed read and delay counts.
func (d *Device) Size() (readCount, delayCount uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readCount, d.delayCount
}

// Commands returns every command received so far.
func (d *Device) Commands() []sump.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sump.Command(nil), d.commands...)
}

// Trigger returns the sample index of the last capture trigger, or -1.
func (d *Device) Trigger() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.trigger
}

// Runs returns the number of RUN commands received.
func (d *Device) Runs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}
