// Package device drives a SUMP logic analyzer over a byte transport: it
// resets and identifies the device, programs the clock, flags, trigger
// stages and buffer size, starts a capture and reads the samples back.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	herrors "logicsniffer/pkg/errors"
	"logicsniffer/pkg/log"
	"logicsniffer/pkg/sump"
)

var logger = log.GetLogger("device")

// Default timeouts
const (
	DefaultWriteTimeout = time.Second
	DefaultReplyTimeout = 200 * time.Millisecond
	DefaultDrainQuiet   = 100 * time.Millisecond

	// pollInterval bounds how long a blocking read waits before checking
	// the context again.
	pollInterval = 250 * time.Millisecond

	drainBufferSize = 256
)

// Transport is the byte stream to the device. Both *serial.Port and
// net.Conn satisfy it.
type Transport interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
}

// writeDeadliner is implemented by transports that can bound a write.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Options configures a Client.
type Options struct {
	WriteTimeout time.Duration
	ReplyTimeout time.Duration
	DrainQuiet   time.Duration

	// OnRead is called with the number of sample bytes received while
	// reading a capture.
	OnRead func(n int)
}

// Client speaks the SUMP protocol over a Transport. It is not safe for
// concurrent use.
type Client struct {
	t    Transport
	opts Options
}

// NewClient wraps a transport. Zero option fields take their defaults.
func NewClient(t Transport, opts Options) *Client {
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.ReplyTimeout == 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}
	if opts.DrainQuiet == 0 {
		opts.DrainQuiet = DefaultDrainQuiet
	}
	return &Client{t: t, opts: opts}
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// send writes one complete command sequence.
func (c *Client) send(ctx context.Context, op string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return herrors.DeviceIOError(op, err)
	}
	if wd, ok := c.t.(writeDeadliner); ok {
		wd.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
		defer wd.SetWriteDeadline(time.Time{})
	}
	if logger.Enabled(log.DEBUG) {
		if lines, err := sump.DumpLines(data); err == nil {
			for _, l := range lines {
				logger.Debug("-> %s", l)
			}
		}
	}
	for len(data) > 0 {
		n, err := c.t.Write(data)
		if err != nil {
			return herrors.DeviceIOError(op, err)
		}
		data = data[n:]
	}
	return nil
}

func (c *Client) sendRecords(ctx context.Context, op string, recs ...sump.Record) error {
	buf := make([]byte, 0, len(recs)*sump.RecordSize)
	for _, r := range recs {
		buf = append(buf, r[:]...)
	}
	return c.send(ctx, op, buf)
}

// readFull fills buf. Each read waits at most timeout for data; a zero
// timeout waits until the context is done. onRead may be nil.
func (c *Client) readFull(ctx context.Context, op string, buf []byte, timeout time.Duration, onRead func(int)) error {
	defer c.t.SetReadDeadline(time.Time{})
	got := 0
	for got < len(buf) {
		if err := ctx.Err(); err != nil {
			return herrors.DeviceIOError(op, err)
		}
		wait := timeout
		if wait == 0 {
			wait = pollInterval
		}
		deadline := time.Now().Add(wait)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := c.t.SetReadDeadline(deadline); err != nil {
			return herrors.DeviceIOError(op, err)
		}
		n, err := c.t.Read(buf[got:])
		got += n
		if n > 0 && onRead != nil {
			onRead(n)
		}
		if err != nil {
			if isTimeout(err) && timeout == 0 {
				continue
			}
			if isTimeout(err) {
				err = fmt.Errorf("no reply after %v (%d of %d bytes): %w", timeout, got, len(buf), err)
			}
			return herrors.DeviceIOError(op, err)
		}
	}
	return nil
}

// Drain discards input until the line has been quiet for the drain period.
func (c *Client) Drain(ctx context.Context) error {
	defer c.t.SetReadDeadline(time.Time{})
	buf := make([]byte, drainBufferSize)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return herrors.DeviceIOError("drain", err)
		}
		if err := c.t.SetReadDeadline(time.Now().Add(c.opts.DrainQuiet)); err != nil {
			return herrors.DeviceIOError("drain", err)
		}
		n, err := c.t.Read(buf)
		total += n
		if err != nil {
			if isTimeout(err) {
				if total > 0 {
					logger.Debug("drained %d stale bytes", total)
				}
				return nil
			}
			return herrors.DeviceIOError("drain", err)
		}
	}
}

// Reset sends the reset sequence.
func (c *Client) Reset(ctx context.Context) error {
	return c.send(ctx, "reset", sump.EncodeReset())
}

// Identify asks the device for its ID and checks it.
func (c *Client) Identify(ctx context.Context) (uint32, error) {
	if err := c.send(ctx, "identify", []byte{sump.CMD_ID}); err != nil {
		return 0, err
	}
	var reply [4]byte
	if err := c.readFull(ctx, "identify", reply[:], c.opts.ReplyTimeout, nil); err != nil {
		return 0, err
	}
	id := uint32(reply[0]) | uint32(reply[1])<<8 | uint32(reply[2])<<16 | uint32(reply[3])<<24
	if id != sump.DeviceID {
		return id, herrors.DeviceIdentifyError(id)
	}
	return id, nil
}

// SetDivider programs the sample clock divider.
func (c *Client) SetDivider(ctx context.Context, divider uint32) error {
	return c.sendRecords(ctx, "set divider", sump.EncodeDivider(divider))
}

// SetFlags programs the flags register.
func (c *Client) SetFlags(ctx context.Context, flags uint32) error {
	return c.sendRecords(ctx, "set flags", sump.EncodeFlags(flags))
}

// SetTriggers sends all four stages in ascending slot order, three records
// each.
func (c *Client) SetTriggers(ctx context.Context, stages *sump.Stages) error {
	recs := make([]sump.Record, 0, 3*sump.NumStages)
	for slot, st := range stages {
		enc, err := sump.EncodeStage(slot, st)
		if err != nil {
			return herrors.DeviceSetupError(fmt.Sprintf("stage %d: %v", slot, err))
		}
		recs = append(recs, enc[:]...)
	}
	return c.sendRecords(ctx, "set trigger", recs...)
}

// SetSize programs the read and delay counts.
func (c *Client) SetSize(ctx context.Context, readCount, delayCount uint16) error {
	return c.sendRecords(ctx, "set size", sump.EncodeSize(readCount, delayCount))
}

// Run arms the device.
func (c *Client) Run(ctx context.Context) error {
	return c.send(ctx, "run", []byte{sump.CMD_RUN})
}

// ReadCapture blocks until n sample bytes have arrived or ctx is done.
func (c *Client) ReadCapture(ctx context.Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := c.readFull(ctx, "read capture", buf, 0, c.opts.OnRead); err != nil {
		return nil, err
	}
	return buf, nil
}

// Capture runs a complete acquisition: drain, reset, identify, program the
// setup and stages, run, and read the sample buffer.
func (c *Client) Capture(ctx context.Context, setup Setup, stages *sump.Stages) ([]byte, error) {
	divider, flags, err := setup.Registers()
	if err != nil {
		return nil, err
	}
	readCount, delayCount, err := setup.SizeCounts()
	if err != nil {
		return nil, err
	}

	if err := c.Drain(ctx); err != nil {
		return nil, err
	}
	if err := c.Reset(ctx); err != nil {
		return nil, err
	}
	if _, err := c.Identify(ctx); err != nil {
		return nil, err
	}
	logger.Debug("device identified, divider=%d flags=0x%02x", divider, flags)

	if err := c.SetDivider(ctx, divider); err != nil {
		return nil, err
	}
	if err := c.SetFlags(ctx, flags); err != nil {
		return nil, err
	}
	if err := c.SetTriggers(ctx, stages); err != nil {
		return nil, err
	}
	if err := c.SetSize(ctx, readCount, delayCount); err != nil {
		return nil, err
	}
	if err := c.Run(ctx); err != nil {
		return nil, err
	}
	logger.Info("capture armed, waiting for %d bytes", setup.BufferSize())
	return c.ReadCapture(ctx, setup.BufferSize())
}
