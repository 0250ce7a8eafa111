package device

import (
	"fmt"

	herrors "logicsniffer/pkg/errors"
	"logicsniffer/pkg/signals"
	"logicsniffer/pkg/sump"
)

// ClockFrequency is the device's internal sample clock in Hz.
const ClockFrequency = 100000000

// Setup is the acquisition configuration sent before the trigger stages.
type Setup struct {
	SampleRate          uint32
	ExternalClock       bool
	InvertExternalClock bool
	Filter              bool

	// ChannelsInUse selects the enabled channel groups.
	ChannelsInUse uint32

	// Holdoff is the number of samples kept before the trigger.
	Holdoff int
}

// NewSetup derives the channel usage from a signal registry.
func NewSetup(reg *signals.Registry, sampleRate uint32, holdoff int) Setup {
	return Setup{
		SampleRate:    sampleRate,
		ChannelsInUse: reg.ChannelsInUse(),
		Holdoff:       holdoff,
	}
}

// ActiveGroups returns the number of enabled channel groups.
func (s Setup) ActiveGroups() int {
	return signals.ActiveGroups(s.ChannelsInUse)
}

// Capacity returns the number of samples the device stores.
func (s Setup) Capacity() int {
	return signals.Capacity(s.ChannelsInUse)
}

// BufferSize returns the number of bytes a capture returns.
func (s Setup) BufferSize() int {
	return s.Capacity() * s.ActiveGroups()
}

// Demux reports whether the rate needs the double data rate mode.
func (s Setup) Demux() bool {
	return s.SampleRate > ClockFrequency
}

// Divider returns the clock divider for the sample rate.
func (s Setup) Divider() uint32 {
	if s.Demux() {
		return 2*ClockFrequency/s.SampleRate - 1
	}
	return ClockFrequency/s.SampleRate - 1
}

// Registers computes the divider and flags register values.
func (s Setup) Registers() (divider, flags uint32, err error) {
	if s.SampleRate == 0 {
		return 0, 0, herrors.DeviceSetupError("sample rate must be positive")
	}
	if s.ActiveGroups() == 0 {
		return 0, 0, herrors.DeviceSetupError("no channel groups in use")
	}
	if s.Demux() {
		if groups := s.ActiveGroups(); groups > 2 {
			return 0, 0, herrors.DeviceSetupError(fmt.Sprintf(
				"cannot handle a sample rate of %d Hz when %d channel groups are used", s.SampleRate, groups))
		}
		if s.Filter {
			return 0, 0, herrors.DeviceSetupError("cannot use the filter at the current sample rate")
		}
		flags |= sump.FLAG_DEMUX
	}
	if s.Filter {
		flags |= sump.FLAG_FILTER
	}
	if s.ExternalClock {
		flags |= sump.FLAG_EXTERNAL_CLOCK
	}
	if s.InvertExternalClock {
		flags |= sump.FLAG_INVERT_EXTERNAL_CLOCK
	}
	for g := 0; g < signals.NumGroups; g++ {
		if s.ChannelsInUse&signals.GroupMask(g) == 0 {
			flags |= sump.GroupDisabledFlag(g)
		}
	}
	return s.Divider(), flags, nil
}

// SizeCounts returns the read and delay counts in units of four samples.
func (s Setup) SizeCounts() (readCount, delayCount uint16, err error) {
	capacity := s.Capacity()
	if capacity < 4 {
		return 0, 0, herrors.DeviceSetupError("no sample memory available")
	}
	holdoff := s.Holdoff
	if holdoff < 0 {
		holdoff = 0
	}
	if holdoff > capacity-4 {
		holdoff = capacity - 4
	}
	return uint16(capacity>>2 - 1), uint16((capacity-holdoff)>>2 - 1), nil
}

// TriggerIndex returns the position of the trigger sample in a capture,
// counted from the oldest sample. The delay count is in units of four
// samples, so this is Holdoff rounded up to the device granularity.
func (s Setup) TriggerIndex() int {
	_, delayCount, err := s.SizeCounts()
	if err != nil {
		return 0
	}
	return s.Capacity() - (int(delayCount)+1)*4
}
