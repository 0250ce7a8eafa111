// mock-sump serves a simulated SUMP logic analyzer on a Unix socket so the
// sniffer can be exercised without hardware.
//
// Usage:
//
//	mock-sump -socket /tmp/sump.sock [-source counter|walk] [-trace]
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"logicsniffer/pkg/emulator"
	"logicsniffer/pkg/log"
)

func main() {
	socketPath := flag.String("socket", "/tmp/sump.sock", "Unix socket path")
	source := flag.String("source", "counter", "Sample source: counter or walk")
	maxSamples := flag.Int("max-samples", emulator.DefaultMaxSamples, "Samples to scan for a trigger")
	trace := flag.Bool("trace", false, "Log every received command")
	flag.Parse()

	if *trace {
		log.Default().SetLevel(log.DEBUG)
	}
	logger := log.GetLogger("mock-sump")

	var src emulator.Source
	switch *source {
	case "counter":
		src = emulator.Counter
	case "walk":
		// a single one walking across all 32 channels
		src = emulator.SourceFunc(func(i int) uint32 { return 1 << uint(((i%32)+32)%32) })
	default:
		fmt.Fprintf(os.Stderr, "Unknown source %q\n", *source)
		os.Exit(2)
	}

	os.Remove(*socketPath)
	listener, err := net.Listen("unix", *socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating socket: %v\n", err)
		os.Exit(1)
	}
	defer listener.Close()
	defer os.Remove(*socketPath)

	logger.Info("mock SUMP device listening on %s (source %s)", *socketPath, *source)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	connCh := make(chan net.Conn, 1)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			connCh <- conn
		}
	}()

	for {
		select {
		case <-sigCh:
			logger.Info("shutting down")
			close(done)
			return
		case conn := <-connCh:
			logger.Info("client connected")
			dev := emulator.New(src)
			dev.SetMaxSamples(*maxSamples)
			go func() {
				defer conn.Close()
				if err := dev.Serve(conn, done); err != nil {
					logger.Warn("connection closed: %v", err)
				}
				logger.Info("client disconnected after %d commands", len(dev.Commands()))
			}()
		}
	}
}
