package config

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"logicsniffer/pkg/signals"
)

// Baudrates lists the serial speeds the device firmware supports.
var Baudrates = []int{115200, 57600, 38400, 19200}

const (
	// ClockFrequency is the device's internal sample clock in Hz.
	ClockFrequency = 100000000

	// MaxSampleRate is reached with the demultiplexer, at twice the clock.
	MaxSampleRate = 2 * ClockFrequency
)

var signalName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseBool accepts 1/true/yes/on and 0/false/no/off, case insensitive.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, errors.Errorf("%q is not a boolean value", s)
}

// ParseBaudrate parses one of the supported serial speeds.
func ParseBaudrate(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid baudrate %q", s)
	}
	for _, b := range Baudrates {
		if v == b {
			return v, nil
		}
	}
	return 0, errors.Errorf("baudrate %d is not supported, use one of 115200, 57600, 38400 or 19200", v)
}

// ParseSampleRate parses a rate in Hz with an optional k or M suffix.
func ParseSampleRate(s string) (uint32, error) {
	text := strings.TrimSpace(s)
	mult := int64(1)
	switch {
	case strings.HasSuffix(text, "M"):
		mult, text = 1000000, strings.TrimSuffix(text, "M")
	case strings.HasSuffix(text, "k"):
		mult, text = 1000, strings.TrimSuffix(text, "k")
	}
	v, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot parse %q as a sample rate", s)
	}
	v *= mult
	if v <= 0 || v > MaxSampleRate {
		return 0, errors.Errorf("sample rate %d Hz is outside the supported range", v)
	}
	return uint32(v), nil
}

// ParseChannelList parses channel lists such as "3", "0-7", "7-0" and
// "0,2,4-6". Descending ranges keep their order.
func ParseChannelList(s string) ([]int, error) {
	var out []int
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, errors.Errorf("expected channel number in %q", s)
		}
		lo, hi, isRange := strings.Cut(item, "-")
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, errors.Wrapf(err, "expected channel number at %q", item)
		}
		if !isRange {
			out = append(out, from)
			continue
		}
		to, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, errors.Wrapf(err, "expected channel number following '-' in %q", item)
		}
		step := 1
		if to < from {
			step = -1
		}
		for ch := from; ; ch += step {
			out = append(out, ch)
			if ch == to {
				break
			}
		}
	}
	return out, nil
}

// ParseSignal parses a "name:chlist" definition.
func ParseSignal(def string) (name string, channels []int, err error) {
	name, list, ok := strings.Cut(def, ":")
	name = strings.TrimSpace(name)
	if !ok {
		return "", nil, errors.Errorf("expected channel list in signal definition %q", def)
	}
	if !signalName.MatchString(name) {
		return "", nil, errors.Errorf("invalid signal name %q", name)
	}
	channels, err = ParseChannelList(list)
	if err != nil {
		return "", nil, err
	}
	return name, channels, nil
}

// AddSignals parses definitions and registers them in order.
func AddSignals(reg *signals.Registry, defs []string) error {
	for _, def := range defs {
		name, channels, err := ParseSignal(def)
		if err != nil {
			return err
		}
		if _, err := reg.Add(name, channels); err != nil {
			return errors.Wrapf(err, "signal %q", def)
		}
	}
	return nil
}

var splitUnits = map[string]float64{
	"s":  1,
	"ms": 1e3,
	"us": 1e6,
	"ns": 1e9,
	"ps": 1e12,
}

// ParseSplit converts a trigger split into a number of samples kept before
// the trigger point. It accepts a percentage of capacity ("25%"), a sample
// count ("1000") or a time ("10us").
func ParseSplit(s string, capacity int, sampleRate uint32) (int, error) {
	text := strings.TrimSpace(s)
	i := strings.IndexFunc(text, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r == '.' || r == '-' || r == '+' || r == 'e' || r == 'E')
	})
	num, suffix := text, ""
	if i >= 0 {
		num, suffix = text[:i], strings.ToLower(text[i:])
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot parse %q as a trigger split", s)
	}
	if v < 0 {
		return 0, errors.Errorf("trigger split %q is negative", s)
	}
	switch suffix {
	case "":
		return int(v), nil
	case "%":
		return int(v * 0.01 * float64(capacity)), nil
	}
	div, ok := splitUnits[suffix]
	if !ok {
		return 0, errors.Errorf("trigger split %q: the suffix %q is not supported", s, text[i:])
	}
	return int(float64(sampleRate) * v / div), nil
}
