// Package capture ties trigger compilation and device acquisition together.
// A Session owns the stage registers: it compiles a trigger specification
// into them and refuses to program the device unless the last pass
// succeeded.
package capture

import (
	"context"
	stderrors "errors"
	"io"
	"sync"
	"time"

	"logicsniffer/pkg/device"
	"logicsniffer/pkg/errors"
	"logicsniffer/pkg/log"
	"logicsniffer/pkg/metrics"
	"logicsniffer/pkg/signals"
	"logicsniffer/pkg/sump"
	"logicsniffer/pkg/trigger"
	"logicsniffer/pkg/vcd"
)

var logger = log.GetLogger("capture")

// State is the acquisition state of a session.
type State int

const (
	StateIdle State = iota
	StateCompiling
	StateArmed
	StateReading
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCompiling:
		return "compiling"
	case StateArmed:
		return "armed"
	case StateReading:
		return "reading"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is a state change notification.
type Event struct {
	State   State     `json:"state"`
	Message string    `json:"message,omitempty"`
	Bytes   int       `json:"bytes"`
	Total   int       `json:"total"`
	Time    time.Time `json:"time"`
}

// Config describes the acquisition a session performs.
type Config struct {
	Registry *signals.Registry
	Setup    device.Setup

	// Metrics is optional.
	Metrics *metrics.SnifferMetrics

	// Client options for each capture; OnRead is chained, not replaced.
	ClientOptions device.Options
}

// Capture is the result of one acquisition.
type Capture struct {
	// Data is the raw device buffer, newest sample first.
	Data []byte

	Setup    device.Setup
	Trigger  string
	Duration time.Duration
}

// Options returns the VCD options for the capture.
func (c *Capture) Options() vcd.Options {
	return vcd.Options{
		SampleRate: c.Setup.SampleRate,
		Holdoff:    c.Setup.TriggerIndex(),
		Trigger:    c.Trigger,
	}
}

// WriteVCD dumps the capture.
func (c *Capture) WriteVCD(w io.Writer, reg *signals.Registry) error {
	if err := vcd.Dump(w, reg, c.Options(), c.Data); err != nil {
		return errors.Wrap(err, errors.ErrCaptureOutput, "writing VCD")
	}
	return nil
}

// Session serializes compilation and capture over one set of stages.
type Session struct {
	cfg Config

	// runMu is held by a compile pass or a capture for its whole run; mu
	// only guards the fields below, so readers never wait on device I/O.
	runMu sync.Mutex

	mu     sync.Mutex
	stages sump.Stages
	result *trigger.Result
	spec   string
	ready  bool

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
	last   Event
}

// New creates a session. The registry must not change afterwards.
func New(cfg Config) *Session {
	return &Session{
		cfg:  cfg,
		subs: make(map[int]chan Event),
		last: Event{State: StateIdle, Time: time.Now()},
	}
}

// Registry returns the signals the session captures.
func (s *Session) Registry() *signals.Registry {
	return s.cfg.Registry
}

// Setup returns the acquisition setup.
func (s *Session) Setup() device.Setup {
	return s.cfg.Setup
}

// Compile compiles spec into the session's stages. A parse error is
// returned as an error; compile problems are in the result. Capture is
// only allowed after a successful pass.
func (s *Session) Compile(spec string) (*trigger.Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.publish(Event{State: StateCompiling})
	res, err := s.compile(spec, &s.stages)
	s.result = res
	s.spec = spec
	s.ready = err == nil && res.Success
	if err != nil {
		s.publish(Event{State: StateFailed, Message: err.Error()})
		return nil, err
	}
	if !res.Success {
		s.publish(Event{State: StateFailed, Message: res.Err().Error()})
		return res, nil
	}
	s.publish(Event{State: StateIdle})
	return res, nil
}

// Preview compiles spec into scratch stages without touching the session
// state, for inspecting what a specification would program.
func (s *Session) Preview(spec string) (*trigger.Result, error) {
	var scratch sump.Stages
	return s.compile(spec, &scratch)
}

func (s *Session) compile(spec string, stages *sump.Stages) (*trigger.Result, error) {
	res, err := trigger.Compile(s.cfg.Registry, s.cfg.Setup.SampleRate, spec, stages)
	if s.cfg.Metrics != nil {
		if err != nil {
			var he *errors.HostError
			var problems []*errors.HostError
			if stderrors.As(err, &he) {
				problems = append(problems, he)
			}
			s.cfg.Metrics.RecordCompile(false, 0, problems)
		} else {
			s.cfg.Metrics.RecordCompile(res.Success, res.Used, res.Problems)
		}
	}
	return res, err
}

// Stages returns the last compiled stages and whether they may be sent.
func (s *Session) Stages() (sump.Stages, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stages, s.ready
}

// Result returns the last compile result, or nil.
func (s *Session) Result() *trigger.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Ready returns nil when the session can be captured with: the last
// compile pass succeeded and the last capture did not fail.
func (s *Session) Ready() error {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	if !ready {
		return errors.New(errors.ErrCapture, "trigger has not been compiled successfully")
	}
	if ev := s.State(); ev.State == StateFailed {
		return errors.New(errors.ErrCapture, ev.Message)
	}
	return nil
}

// Capture programs the device behind t with the compiled stages, runs it
// and reads the sample buffer. It blocks until the buffer is complete or
// ctx is done.
func (s *Session) Capture(ctx context.Context, t device.Transport) (*Capture, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	stages, ready, spec := s.stages, s.ready, s.spec
	s.mu.Unlock()

	if !ready {
		err := errors.New(errors.ErrCapture, "trigger has not been compiled successfully")
		s.publish(Event{State: StateFailed, Message: err.Error()})
		return nil, err
	}

	setup := s.cfg.Setup
	total := setup.BufferSize()
	got := 0
	opts := s.cfg.ClientOptions
	chained := opts.OnRead
	opts.OnRead = func(n int) {
		if got == 0 {
			s.publish(Event{State: StateReading, Total: total})
		}
		got += n
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.AddBytesRead(n)
		}
		if chained != nil {
			chained(n)
		}
	}

	start := time.Now()
	s.publish(Event{State: StateArmed, Total: total})
	data, err := device.NewClient(t, opts).Capture(ctx, setup, &stages)
	elapsed := time.Since(start)

	if err != nil {
		result := "error"
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			result = "cancelled"
		}
		s.record(result, elapsed)
		s.publish(Event{State: StateFailed, Message: err.Error(), Bytes: got, Total: total})
		return nil, err
	}
	s.record("ok", elapsed)
	logger.WithFields(log.Fields{
		"bytes":    len(data),
		"duration": elapsed.Round(time.Millisecond).String(),
	}).Info("capture complete")
	s.publish(Event{State: StateDone, Bytes: got, Total: total})

	return &Capture{Data: data, Setup: setup, Trigger: spec, Duration: elapsed}, nil
}

func (s *Session) record(result string, d time.Duration) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordCapture(result, d)
	}
}

// State returns the latest state event.
func (s *Session) State() Event {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.last
}

// Subscribe returns a channel receiving state events and a function that
// ends the subscription. Events are dropped for a subscriber that does not
// keep up.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan Event, 16)
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetCaptureState(int(ev.State))
	}
	logger.Debug("state %s", ev.State)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.last = ev
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			logger.Warn("dropping state event for subscriber %d", id)
		}
	}
}
