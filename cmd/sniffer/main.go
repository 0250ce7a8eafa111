// sniffer captures samples from a SUMP compatible logic analyzer and
// writes them as a Value Change Dump.
//
// Usage:
//
//	sniffer -s name:channels [-s ...] [-t trigger] [options]
//
// Options:
//
//	-C string       Configuration file (default $XDG_CONFIG_HOME/logicsniffer.rc)
//	-D string       Serial device or emulator socket
//	-B int          Baud rate
//	-r string       Sample rate, e.g. 100M or 250k
//	-S string       Split: samples kept before the trigger, as N%, samples or time
//	-t string       Trigger specification
//	-f, -e, -i      Filter, external clock, inverted external clock
//	-o string       Output file (default stdout)
//	-monitor string Serve the monitor API on this address during the capture
//	-metrics string Serve Prometheus metrics on this address during the capture
//	-dump-trigger   Print the compiled trigger stages and exit
//
// The exit status is 2 for configuration errors, 3 for device errors and 1
// for anything else.
//
// Examples:
//
//	# Trigger when the 8 bit bus reads 0x42 while cs is low
//	sniffer -s bus:0-7 -s cs:8 -t 'bus=0x42 and cs=0' -o capture.vcd
//
//	# Against the emulator
//	mock-sump -socket /tmp/sump.sock &
//	sniffer -D /tmp/sump.sock -s data:0-7 -t 'data=0x10'
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"logicsniffer/pkg/capture"
	"logicsniffer/pkg/config"
	"logicsniffer/pkg/device"
	"logicsniffer/pkg/errors"
	"logicsniffer/pkg/log"
	"logicsniffer/pkg/metrics"
	"logicsniffer/pkg/monitor"
	"logicsniffer/pkg/serial"
	"logicsniffer/pkg/sump"
)

var logger = log.GetLogger("sniffer")

// stringList collects a repeated flag.
type stringList []string

func (l *stringList) String() string     { return strings.Join(*l, " ") }
func (l *stringList) Set(s string) error { *l = append(*l, s); return nil }

func main() {
	var sigs stringList
	configFile := flag.String("C", "", "Configuration file")
	dev := flag.String("D", "", "Serial device or emulator socket")
	baud := flag.String("B", "", "Baud rate")
	rate := flag.String("r", "", "Sample rate")
	split := flag.String("S", "", "Samples kept before the trigger (N%, samples or time)")
	trig := flag.String("t", "", "Trigger specification")
	filter := flag.Bool("f", false, "Enable the noise filter")
	extClock := flag.Bool("e", false, "Use the external clock")
	invClock := flag.Bool("i", false, "Invert the external clock")
	output := flag.String("o", "", "Output file (default stdout)")
	flag.Var(&sigs, "s", "Signal definition name:channels (repeatable)")
	logFile := flag.String("logfile", "", "Log file path")
	trace := flag.Bool("trace", false, "Enable debug logging")
	monitorAddr := flag.String("monitor", "", "Monitor API address, e.g. :7125")
	metricsAddr := flag.String("metrics", "", "Prometheus metrics address, e.g. :9100")
	dumpTrigger := flag.Bool("dump-trigger", false, "Print the compiled trigger stages and exit")
	timeout := flag.Duration("timeout", 0, "Give up waiting for the trigger after this long")
	listPorts := flag.Bool("list-ports", false, "List serial ports and exit")
	flag.Parse()

	if *trace {
		log.Default().SetLevel(log.DEBUG)
	}
	if *logFile != "" {
		fw, err := log.AttachFile(log.Default(), log.RotationConfig{Filename: *logFile}, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer fw.Close()
	}

	if *listPorts {
		ports, err := serial.ListPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing ports: %v\n", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	overrides := config.Overrides{
		Device:     *dev,
		Baudrate:   *baud,
		SampleRate: *rate,
		Split:      *split,
		Trigger:    *trig,
		Output:     *output,
		Signals:    sigs,

		MetricsAddress: *metricsAddr,
	}
	// boolean flags only override the file when given
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "f":
			overrides.Filter = strconv.FormatBool(*filter)
		case "e":
			overrides.ExternalClock = strconv.FormatBool(*extClock)
		case "i":
			overrides.InvertExternalClock = strconv.FormatBool(*invClock)
		}
	})

	if err := run(*configFile, overrides, *monitorAddr, *dumpTrigger, *timeout); err != nil {
		logger.Error("%v", err)
		switch {
		case errors.IsConfig(err):
			os.Exit(2)
		case errors.IsDevice(err):
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run(configFile string, overrides config.Overrides, monitorAddr string, dumpTrigger bool, timeout time.Duration) error {
	cfg, err := config.LoadDefault(configFile)
	if err != nil {
		return err
	}
	settings, err := config.Resolve(cfg, overrides)
	if err != nil {
		return err
	}
	reg := settings.Signals

	setup := device.NewSetup(reg, settings.SampleRate, settings.Holdoff)
	setup.Filter = settings.Filter
	setup.ExternalClock = settings.ExternalClock
	setup.InvertExternalClock = settings.InvertExternalClock
	if _, _, err := setup.Registers(); err != nil {
		return err
	}

	m := metrics.GlobalMetrics()
	session := capture.New(capture.Config{Registry: reg, Setup: setup, Metrics: m})

	res, err := session.Compile(settings.Trigger)
	if err != nil {
		return err
	}
	for _, msg := range res.Messages() {
		fmt.Fprintln(os.Stderr, msg)
	}
	if !res.Success {
		return fmt.Errorf("trigger %q cannot be programmed", settings.Trigger)
	}
	if dumpTrigger {
		fmt.Print(sump.FormatStages(&res.Stages))
		return nil
	}

	if monitorAddr != "" {
		mon := monitor.New(monitor.Config{Addr: monitorAddr, Session: session, Metrics: m})
		go func() {
			if err := mon.Start(); err != nil {
				logger.Warn("monitor stopped: %v", err)
			}
		}()
		defer mon.Stop()
	}

	if settings.Metrics.Address != "" {
		stopMetrics := serveMetrics(settings.Metrics, m, session)
		defer stopMetrics()
	}

	port, err := openDevice(settings)
	if err != nil {
		return err
	}
	defer port.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger.WithFields(log.Fields{
		"device":  settings.Device,
		"rate":    settings.SampleRate,
		"holdoff": setup.TriggerIndex(),
		"signals": reg.Len(),
	}).Info("starting capture")
	capt, err := session.Capture(ctx, port)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if settings.Output != "" {
		f, err := os.Create(settings.Output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", settings.Output, err)
		}
		defer f.Close()
		w = f
	}
	return capt.WriteVCD(w, reg)
}

// serveMetrics starts the Prometheus endpoint, ready while the session holds
// a programmable trigger. The returned function stops it.
func serveMetrics(ms config.MetricsSettings, m *metrics.SnifferMetrics, session *capture.Session) func() {
	cfg := metrics.DefaultServerConfig()
	cfg.Address = ms.Address
	cfg.Username = ms.Username
	cfg.Password = ms.Password
	cfg.Ready = session.Ready

	server := metrics.NewServerWithConfig(m, cfg)
	errCh := server.StartAsync()
	go func() {
		for err := range errCh {
			logger.Warn("metrics server stopped: %v", err)
		}
	}()
	logger.Info("serving metrics on %s", server.Address())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown: %v", err)
		}
	}
}

// openDevice opens a serial port, or connects to the emulator when the
// device path is a Unix socket.
func openDevice(settings *config.Settings) (*serial.Port, error) {
	if info, err := os.Stat(settings.Device); err == nil && info.Mode()&os.ModeSocket != 0 {
		return serial.OpenSocket(settings.Device, 5*time.Second)
	}
	path, err := serial.ResolveDevice(settings.Device)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(serial.Config{Device: path, BaudRate: settings.Baudrate})
	if err != nil {
		return nil, err
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}
