// hardware-test checks a SUMP logic analyzer step by step: the serial link,
// identification, register programming and a full capture.
//
// Usage:
//
//	hardware-test -device /dev/ttyACM0 [options]
//
// Options:
//
//	-device string    Serial device path or emulator socket (or use -config)
//	-config string    Sniffer configuration file (takes the device from [device])
//	-baud int         Baud rate (default: 115200)
//	-timeout duration Time allowed for each test (default: 10s)
//	-trace            Enable debug tracing
//	-test string      Test to run: serial, identify, registers, capture, all (default: identify)
//	-socket           Connect to a Unix socket (mock-sump) instead of a serial port
//
// Examples:
//
//	# Check the device answers its ID
//	hardware-test -device /dev/ttyACM0
//
//	# Run everything against the emulator
//	hardware-test -device /tmp/sump.sock -socket -test all -trace
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"logicsniffer/pkg/config"
	"logicsniffer/pkg/device"
	"logicsniffer/pkg/log"
	"logicsniffer/pkg/serial"
	"logicsniffer/pkg/sump"
)

type testFunc func(ctx context.Context, port *serial.Port) error

func main() {
	dev := flag.String("device", "", "Serial device path or emulator socket")
	configFile := flag.String("config", "", "Sniffer configuration file (optional)")
	baud := flag.Int("baud", 115200, "Baud rate")
	timeout := flag.Duration("timeout", 10*time.Second, "Time allowed for each test")
	trace := flag.Bool("trace", false, "Enable debug tracing")
	test := flag.String("test", "identify", "Test to run: serial, identify, registers, capture, all")
	socket := flag.Bool("socket", false, "Connect to a Unix socket instead of a serial port")
	flag.Parse()

	if *trace {
		log.Default().SetLevel(log.DEBUG)
	}

	if *configFile != "" && *dev == "" {
		cfg, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
			os.Exit(1)
		}
		if sec := cfg.GetSectionOptional("device"); sec != nil {
			*dev, _ = sec.Get("device", "")
			if raw, _ := sec.Get("baudrate", "115200"); raw != "" {
				if b, err := config.ParseBaudrate(raw); err == nil {
					*baud = b
				}
			}
		}
	}
	if *dev == "" {
		fmt.Fprintf(os.Stderr, "Error: -device or -config is required\n")
		flag.Usage()
		os.Exit(1)
	}

	tests := map[string]testFunc{
		"serial":    testSerial,
		"identify":  testIdentify,
		"registers": testRegisters,
		"capture":   testCapture,
	}
	order := []string{"serial", "identify", "registers", "capture"}
	if *test != "all" {
		if _, ok := tests[*test]; !ok {
			fmt.Fprintf(os.Stderr, "Unknown test %q\n", *test)
			os.Exit(2)
		}
		order = []string{*test}
	}

	fmt.Println("========================================")
	fmt.Println("SUMP Hardware Test")
	fmt.Println("========================================")
	fmt.Printf("Device: %s\n", *dev)
	if !*socket {
		fmt.Printf("Baud: %d\n", *baud)
	}

	failed := 0
	for _, name := range order {
		port, err := open(*dev, *baud, *socket)
		if err != nil {
			fmt.Printf("FAIL %-10s %v\n", name, err)
			failed++
			break
		}
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		start := time.Now()
		err = tests[name](ctx, port)
		cancel()
		port.Close()
		if err != nil {
			fmt.Printf("FAIL %-10s %v\n", name, err)
			failed++
			continue
		}
		fmt.Printf("ok   %-10s %v\n", name, time.Since(start).Round(time.Millisecond))
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func open(path string, baud int, socket bool) (*serial.Port, error) {
	if socket {
		return serial.OpenSocket(path, 5*time.Second)
	}
	resolved, err := serial.ResolveDevice(path)
	if err != nil {
		return nil, err
	}
	return serial.Open(serial.Config{Device: resolved, BaudRate: baud})
}

// testSerial checks the link is usable: stale input drains and a reset can
// be written.
func testSerial(ctx context.Context, port *serial.Port) error {
	if !port.IsSocket() {
		if err := port.Flush(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	c := device.NewClient(port, device.Options{})
	if err := c.Drain(ctx); err != nil {
		return err
	}
	return c.Reset(ctx)
}

// testIdentify resets the device and checks its ID reply.
func testIdentify(ctx context.Context, port *serial.Port) error {
	c := device.NewClient(port, device.Options{})
	if err := c.Drain(ctx); err != nil {
		return err
	}
	if err := c.Reset(ctx); err != nil {
		return err
	}
	id, err := c.Identify(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("     device id 0x%08x (%q)\n", id, []byte{byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24)})
	return nil
}

// testRegisters programs every register without running a capture. A
// device that drops the link on a malformed command fails the identify
// that follows.
func testRegisters(ctx context.Context, port *serial.Port) error {
	c := device.NewClient(port, device.Options{})
	setup := device.Setup{SampleRate: 1000000, ChannelsInUse: 0xFFFFFFFF, Holdoff: 1024}
	divider, flags, err := setup.Registers()
	if err != nil {
		return err
	}
	readCount, delayCount, err := setup.SizeCounts()
	if err != nil {
		return err
	}
	var stages sump.Stages
	for i := range stages {
		stages[i] = sump.TriggerStage{Mask: 1 << uint(i), Values: 1 << uint(i), Level: uint8(i)}
	}
	stages[3].Start = true

	if err := c.Drain(ctx); err != nil {
		return err
	}
	if err := c.Reset(ctx); err != nil {
		return err
	}
	steps := []func() error{
		func() error { return c.SetDivider(ctx, divider) },
		func() error { return c.SetFlags(ctx, flags) },
		func() error { return c.SetTriggers(ctx, &stages) },
		func() error { return c.SetSize(ctx, readCount, delayCount) },
		func() error { _, err := c.Identify(ctx); return err },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// testCapture runs an immediate capture on the first channel group and
// checks the buffer size.
func testCapture(ctx context.Context, port *serial.Port) error {
	var stages sump.Stages
	for i := range stages {
		stages[i].Start = true
	}
	setup := device.Setup{SampleRate: 10000000, ChannelsInUse: 0xFF}
	received := 0
	c := device.NewClient(port, device.Options{OnRead: func(n int) { received += n }})
	data, err := c.Capture(ctx, setup, &stages)
	if err != nil {
		return fmt.Errorf("capture (%d of %d bytes): %w", received, setup.BufferSize(), err)
	}
	if len(data) != setup.BufferSize() {
		return fmt.Errorf("got %d bytes, want %d", len(data), setup.BufferSize())
	}
	distinct := 0
	var seen [256]bool
	for _, b := range data {
		if !seen[b] {
			seen[b] = true
			distinct++
		}
	}
	fmt.Printf("     %d bytes, %d distinct values, first %x\n", len(data), distinct, data[:8])
	if bytes.Count(data, data[:1]) == len(data) {
		fmt.Println("     all samples equal: are the inputs connected?")
	}
	return nil
}
