package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"logicsniffer/pkg/errors"
	"logicsniffer/pkg/log"
	"logicsniffer/pkg/signals"
)

var logger = log.GetLogger("config")

// DefaultFileName is looked up in the user configuration directory when no
// file is given.
const DefaultFileName = "logicsniffer.rc"

// DefaultPath returns $XDG_CONFIG_HOME/logicsniffer.rc or the platform
// equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(dir, DefaultFileName)
}

// Source tells where a setting came from.
type Source int

const (
	FromDefault Source = iota
	FromConfig
	FromCommandLine
)

func (s Source) String() string {
	switch s {
	case FromConfig:
		return "in the configuration file"
	case FromCommandLine:
		return "on the command line"
	}
	return "by default"
}

// Value is a raw setting and its origin.
type Value struct {
	Raw    string
	Source Source
}

// option describes one configurable setting.
type option struct {
	section string
	name    string
	def     string
}

var (
	optDevice        = option{"device", "device", "/dev/ttyACM0"}
	optBaudrate      = option{"device", "baudrate", "115200"}
	optSampleRate    = option{"clock", "sample-rate", "100M"}
	optExternalClock = option{"clock", "external-clock", "false"}
	optInvertClock   = option{"clock", "invert-external-clock", "false"}
	optFilter        = option{"capture", "filter", "true"}
	optSplit         = option{"capture", "split", "0%"}
	optMetricsAddr   = option{"metrics", "address", ""}
	optMetricsUser   = option{"metrics", "username", ""}
	optMetricsPass   = option{"metrics", "password", ""}
)

// baudChoices are the accepted spellings of Baudrates.
var baudChoices = func() []string {
	out := make([]string, len(Baudrates))
	for i, b := range Baudrates {
		out[i] = strconv.Itoa(b)
	}
	return out
}()

// Overrides holds values given on the command line. Empty strings mean
// "not given".
type Overrides struct {
	Device              string
	Baudrate            string
	SampleRate          string
	ExternalClock       string
	InvertExternalClock string
	Filter              string
	Split               string
	Trigger             string
	Output              string
	MetricsAddress      string
	Signals             []string
}

// Settings is the fully resolved configuration of one capture.
type Settings struct {
	Device              string
	Baudrate            int
	SampleRate          uint32
	ExternalClock       bool
	InvertExternalClock bool
	Filter              bool

	// Holdoff is the number of samples kept before the trigger point.
	Holdoff int

	// Trigger is the trigger specification text, empty for none.
	Trigger string

	// Output is the VCD file name, empty for stdout.
	Output string

	// Metrics is the Prometheus endpoint, disabled when its address is
	// empty.
	Metrics MetricsSettings

	Signals *signals.Registry
}

// MetricsSettings configures the Prometheus endpoint. Credentials are only
// read from the file.
type MetricsSettings struct {
	Address  string
	Username string
	Password string
}

// lookup resolves an option: command line first, then the file, then the
// built-in default.
func lookup(cfg *Config, opt option, cmdline string) Value {
	if cmdline != "" {
		return Value{Raw: cmdline, Source: FromCommandLine}
	}
	if sec := cfg.GetSectionOptional(opt.section); sec != nil {
		if v, err := sec.Get(opt.name); err == nil {
			return Value{Raw: v, Source: FromConfig}
		}
	}
	return Value{Raw: opt.def, Source: FromDefault}
}

// fileSection returns the section holding opt when the file sets it and the
// command line does not.
func fileSection(cfg *Config, opt option, cmdline string) *Section {
	if cmdline != "" {
		return nil
	}
	sec := cfg.GetSectionOptional(opt.section)
	if sec == nil || !sec.HasOption(opt.name) {
		return nil
	}
	return sec
}

// resolveBool resolves a boolean option. File values are read through the
// section so type errors carry the section and option.
func resolveBool(cfg *Config, opt option, cmdline string) (bool, error) {
	if sec := fileSection(cfg, opt, cmdline); sec != nil {
		b, err := sec.GetBool(opt.name)
		if err != nil {
			return false, invalid(opt, lookup(cfg, opt, cmdline), err)
		}
		return b, nil
	}
	v := lookup(cfg, opt, cmdline)
	b, err := ParseBool(v.Raw)
	if err != nil {
		return false, invalid(opt, v, err)
	}
	return b, nil
}

// resolveBaudrate resolves the serial speed, which must be one of
// Baudrates.
func resolveBaudrate(cfg *Config, cmdline string) (int, error) {
	v := lookup(cfg, optBaudrate, cmdline)
	raw := v.Raw
	if sec := fileSection(cfg, optBaudrate, cmdline); sec != nil {
		choice, err := sec.GetChoice(optBaudrate.name, baudChoices)
		if err != nil {
			return 0, invalid(optBaudrate, v, err)
		}
		raw = choice
	}
	baud, err := ParseBaudrate(raw)
	if err != nil {
		return 0, invalid(optBaudrate, v, err)
	}
	return baud, nil
}

func invalid(opt option, v Value, err error) error {
	return errors.Wrap(err, errors.ErrConfigValidation,
		fmt.Sprintf("%s.%s %q as specified %s: %v", opt.section, opt.name, v.Raw, v.Source, err)).
		SetSection(opt.section).
		SetOption(opt.name)
}

// Resolve merges cfg (which may be nil) with the command line overrides.
// Signals come from the command line, or from the [signals] section when
// none are given there. At least one signal is required.
func Resolve(cfg *Config, o Overrides) (*Settings, error) {
	s := &Settings{
		Device:  lookup(cfg, optDevice, o.Device).Raw,
		Trigger: o.Trigger,
		Output:  o.Output,
		Signals: signals.NewRegistry(),
	}

	baud, err := resolveBaudrate(cfg, o.Baudrate)
	if err != nil {
		return nil, err
	}
	s.Baudrate = baud

	s.Metrics = MetricsSettings{
		Address:  lookup(cfg, optMetricsAddr, o.MetricsAddress).Raw,
		Username: lookup(cfg, optMetricsUser, "").Raw,
		Password: lookup(cfg, optMetricsPass, "").Raw,
	}

	v := lookup(cfg, optSampleRate, o.SampleRate)
	rate, err := ParseSampleRate(v.Raw)
	if err != nil {
		return nil, invalid(optSampleRate, v, err)
	}
	s.SampleRate = rate

	for _, b := range []struct {
		opt  option
		cmd  string
		dest *bool
	}{
		{optExternalClock, o.ExternalClock, &s.ExternalClock},
		{optInvertClock, o.InvertExternalClock, &s.InvertExternalClock},
		{optFilter, o.Filter, &s.Filter},
	} {
		flag, err := resolveBool(cfg, b.opt, b.cmd)
		if err != nil {
			return nil, err
		}
		*b.dest = flag
	}

	defs := o.Signals
	if len(defs) == 0 {
		defs = configSignals(cfg)
	}
	if len(defs) == 0 {
		return nil, errors.New(errors.ErrConfigSignal, "no signals defined, refusing to perform an empty capture")
	}
	for _, def := range defs {
		name, channels, err := ParseSignal(def)
		if err != nil {
			return nil, errors.SignalError(def, err)
		}
		if _, err := s.Signals.Add(name, channels); err != nil {
			return nil, errors.SignalError(def, err)
		}
	}

	// the split depends on the buffer capacity, so it comes last
	v = lookup(cfg, optSplit, o.Split)
	capacity := s.Signals.BufferCapacity()
	holdoff, err := ParseSplit(v.Raw, capacity, s.SampleRate)
	if err != nil {
		return nil, invalid(optSplit, v, err)
	}
	if holdoff > capacity {
		logger.Warn("with the current configuration there are %d samples available, the trigger split would use %d samples",
			capacity, holdoff)
	}
	s.Holdoff = holdoff

	if cfg != nil {
		for _, u := range cfg.Unused() {
			logger.Warn("unused configuration entry %s in %s", u, cfg.Path())
		}
	}
	return s, nil
}

// configSignals returns the [signals] section as "name:chlist" entries in
// file order.
func configSignals(cfg *Config) []string {
	sec := cfg.GetSectionOptional("signals")
	if sec == nil {
		return nil
	}
	var defs []string
	for _, name := range sec.Options() {
		v, _ := sec.Get(name)
		defs = append(defs, name+":"+v)
	}
	return defs
}

// LoadDefault reads path, or the default file when path is empty. A missing
// default file is not an error; the built-in defaults apply.
func LoadDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	path = DefaultPath()
	cfg, err := Load(path)
	if err != nil {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			logger.Debug("no configuration file at %s, using defaults", path)
			return nil, nil
		}
		return nil, err
	}
	return cfg, nil
}
