// Package vcd writes a capture buffer as a Value Change Dump that waveform
// viewers such as GTKWave can open.
package vcd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"logicsniffer/pkg/signals"
)

// DefaultVersion is written to the $version block when none is given.
const DefaultVersion = "Logic sniffer capture tool"

// Options describes the capture being dumped.
type Options struct {
	SampleRate uint32

	// Holdoff is the index of the trigger sample, counted from the oldest
	// sample.
	Holdoff int

	// Trigger is the trigger specification; when non-empty a trigger event
	// is emitted at Holdoff.
	Trigger string

	Version string
	Date    time.Time
}

// Timescale returns the $timescale of one sample, choosing the unit so that
// each sample keeps at least three digits.
func Timescale(sampleRate uint32) string {
	rate := uint64(sampleRate)
	if rate == 0 {
		rate = 1
	}
	switch {
	case rate > 1000000:
		return fmt.Sprintf("%dps", 1000000000000/rate)
	case rate > 1000:
		return fmt.Sprintf("%dns", 1000000000/rate)
	}
	return fmt.Sprintf("%dus", 1000000/rate)
}

// Identifier returns the short VCD identifier of the signal with the given
// registry index.
func Identifier(index int) string {
	return string(rune('!' + index))
}

// Unpack converts a device buffer into samples in time order, oldest first.
// The device sends the newest sample first, each sample as one byte per
// enabled channel group in ascending group order.
func Unpack(buf []byte, channelsInUse uint32) []uint32 {
	groups := signals.Groups(channelsInUse)
	if len(groups) == 0 {
		return nil
	}
	n := len(buf) / len(groups)
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		rec := buf[i*len(groups) : (i+1)*len(groups)]
		var v uint32
		for j, g := range groups {
			v |= uint32(rec[j]) << uint(g*signals.GroupWidth)
		}
		out[n-1-i] = v
	}
	return out
}

// Writer emits one capture.
type Writer struct {
	w    *bufio.Writer
	reg  *signals.Registry
	opts Options
}

// NewWriter creates a Writer for the signals in reg.
func NewWriter(w io.Writer, reg *signals.Registry, opts Options) *Writer {
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.Date.IsZero() {
		opts.Date = time.Now()
	}
	return &Writer{w: bufio.NewWriter(w), reg: reg, opts: opts}
}

// WriteHeader writes the declarations section.
func (vw *Writer) WriteHeader(samples int) error {
	w := vw.w
	fmt.Fprintf(w, "$date\n  %s\n$end\n", vw.opts.Date.Format("Mon Jan _2 15:04:05 2006"))
	fmt.Fprintf(w, "$version\n  %s\n$end\n", vw.opts.Version)
	fmt.Fprintf(w, "$comment\n")
	fmt.Fprintf(w, "  Sample rate %d Hz\n", vw.opts.SampleRate)
	fmt.Fprintf(w, "  Number of samples %d\n", samples)
	if vw.opts.Trigger != "" {
		fmt.Fprintf(w, "  Trigger %s\n", strings.Join(strings.Fields(vw.opts.Trigger), " "))
	}
	fmt.Fprintf(w, "$end\n")
	fmt.Fprintf(w, "$timescale %s $end\n", Timescale(vw.opts.SampleRate))
	fmt.Fprintf(w, "$scope module logic $end\n")
	for _, s := range vw.reg.Signals() {
		fmt.Fprintf(w, "$var wire %d %s %s $end\n", s.Bits(), Identifier(s.Index), s.Name)
	}
	if vw.opts.Trigger != "" {
		fmt.Fprintf(w, "$var event 1 trigg sniffer_trigger $end\n")
	}
	fmt.Fprintf(w, "$upscope $end\n")
	fmt.Fprintf(w, "$enddefinitions $end\n")
	return vw.w.Flush()
}

func (vw *Writer) value(s *signals.Signal, sample uint32) {
	v := s.Extract(sample)
	if s.Bits() == 1 {
		fmt.Fprintf(vw.w, "%d%s\n", v, Identifier(s.Index))
		return
	}
	fmt.Fprintf(vw.w, "b%0*b %s\n", s.Bits(), v, Identifier(s.Index))
}

// WriteSamples writes the initial values and every change. samples are in
// time order.
func (vw *Writer) WriteSamples(samples []uint32) error {
	if len(samples) == 0 {
		return vw.w.Flush()
	}
	sigs := vw.reg.Signals()
	inUse := vw.reg.ChannelsInUse()
	trigger := vw.opts.Trigger != ""
	last := len(samples) - 1

	fmt.Fprintf(vw.w, "$dumpvars\n")
	for _, s := range sigs {
		vw.value(s, samples[0])
	}
	fmt.Fprintf(vw.w, "$end\n")
	if trigger && vw.opts.Holdoff == 0 {
		fmt.Fprintf(vw.w, "#0\n1trigg\n")
	}

	for i := 1; i <= last; i++ {
		diff := (samples[i-1] ^ samples[i]) & inUse
		atTrigger := trigger && i == vw.opts.Holdoff
		if diff == 0 && !atTrigger && i != last {
			continue
		}
		fmt.Fprintf(vw.w, "#%d\n", i)
		if atTrigger {
			fmt.Fprintf(vw.w, "1trigg\n")
		}
		for _, s := range sigs {
			if s.Mask&diff != 0 {
				vw.value(s, samples[i])
			}
		}
	}
	return vw.w.Flush()
}

// Dump writes a complete VCD file for a raw device buffer.
func Dump(w io.Writer, reg *signals.Registry, opts Options, buf []byte) error {
	samples := Unpack(buf, reg.ChannelsInUse())
	vw := NewWriter(w, reg, opts)
	if err := vw.WriteHeader(len(samples)); err != nil {
		return err
	}
	return vw.WriteSamples(samples)
}
