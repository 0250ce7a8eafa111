// Package signals maps user-named signals onto the analyzer's 32 input
// channels and derives the channel-group usage that determines how deep the
// sample buffer is.
package signals

import (
	"fmt"
	"math/bits"
	"sync"
)

const (
	// NumChannels is the number of physical input channels.
	NumChannels = 32

	// NumGroups is the number of 8-channel groups the device samples.
	NumGroups = 4

	// GroupWidth is the number of channels per group.
	GroupWidth = 8

	// MemorySize is the total sample memory of the device in bytes.
	MemorySize = 24 * 1024
)

// Signal is a named, ordered set of channels. Bit i of a signal value maps to
// Channels[i].
type Signal struct {
	Name     string
	Channels []int
	Index    int
	Mask     uint32
}

// Bits returns the width of the signal.
func (s *Signal) Bits() int {
	return len(s.Channels)
}

// Value spreads a signal-local value onto the 32-bit channel space.
func (s *Signal) Value(v uint32) uint32 {
	var r uint32
	for i, ch := range s.Channels {
		if v&(1<<uint(i)) != 0 {
			r |= 1 << uint(ch)
		}
	}
	return r
}

// Extract gathers the signal's bits out of a full 32-bit sample.
func (s *Signal) Extract(sample uint32) uint32 {
	var r uint32
	for i, ch := range s.Channels {
		if sample&(1<<uint(ch)) != 0 {
			r |= 1 << uint(i)
		}
	}
	return r
}

// Registry holds the signals of one capture session in registration order.
type Registry struct {
	mu      sync.RWMutex
	signals []*Signal
	byName  map[string]*Signal
	inUse   uint32
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Signal),
	}
}

// Add registers a signal. Channel order is preserved.
func (r *Registry) Add(name string, channels []int) (*Signal, error) {
	if name == "" {
		return nil, fmt.Errorf("signals: empty signal name")
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("signals: signal %q has no channels", name)
	}
	if len(channels) > NumChannels {
		return nil, fmt.Errorf("signals: signal %q has %d channels, at most %d supported", name, len(channels), NumChannels)
	}

	var mask uint32
	for _, ch := range channels {
		if ch < 0 || ch >= NumChannels {
			return nil, fmt.Errorf("signals: unsupported channel number %d in signal %q", ch, name)
		}
		if mask&(1<<uint(ch)) != 0 {
			return nil, fmt.Errorf("signals: channel %d listed twice in signal %q", ch, name)
		}
		mask |= 1 << uint(ch)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("signals: signal %q already defined", name)
	}

	sig := &Signal{
		Name:     name,
		Channels: append([]int(nil), channels...),
		Index:    len(r.signals),
		Mask:     mask,
	}
	r.signals = append(r.signals, sig)
	r.byName[name] = sig
	r.inUse |= mask
	return sig, nil
}

// Lookup returns the named signal, or nil if none is registered.
func (r *Registry) Lookup(name string) *Signal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// Signals returns the registered signals in registration order.
func (r *Registry) Signals() []*Signal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Signal, len(r.signals))
	copy(out, r.signals)
	return out
}

// Len returns the number of registered signals.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.signals)
}

// ChannelsInUse returns the union of all registered signal masks.
func (r *Registry) ChannelsInUse() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inUse
}

// GroupMask returns the channel mask of group g.
func GroupMask(g int) uint32 {
	return 0xFF << uint(g*GroupWidth)
}

// GroupInUse reports whether any channel of group g is used.
func (r *Registry) GroupInUse(g int) bool {
	return r.ChannelsInUse()&GroupMask(g) != 0
}

// ActiveGroups returns the number of channel groups with at least one used
// channel.
func (r *Registry) ActiveGroups() int {
	return ActiveGroups(r.ChannelsInUse())
}

// BufferCapacity returns the number of samples the device can store with the
// current channel usage. Unused groups are not stored, so fewer groups give a
// deeper buffer. Returns 0 when no signal is registered.
func (r *Registry) BufferCapacity() int {
	return Capacity(r.ChannelsInUse())
}

// Groups returns the indexes of the groups touched by inUse, ascending.
func Groups(inUse uint32) []int {
	var out []int
	for g := 0; g < NumGroups; g++ {
		if inUse&GroupMask(g) != 0 {
			out = append(out, g)
		}
	}
	return out
}

// ActiveGroups returns the number of groups touched by inUse.
func ActiveGroups(inUse uint32) int {
	return len(Groups(inUse))
}

// Capacity returns the sample depth for the channel usage inUse, or 0 when
// no channel is used.
func Capacity(inUse uint32) int {
	groups := ActiveGroups(inUse)
	if groups == 0 {
		return 0
	}
	return MemorySize / groups
}

// UsedChannels returns the number of channels referenced by any signal.
func (r *Registry) UsedChannels() int {
	return bits.OnesCount32(r.ChannelsInUse())
}
