package treadmill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"treadctl/internal/ble"
	"treadctl/internal/config"
	"treadctl/internal/protocol"
	"treadctl/internal/util"
)

var ErrShortWrite = errors.New("short characteristic write")

// StepKind is the kind of a sequence step.
type StepKind int

const (
	StepWrite StepKind = iota
	StepWait
)

// Step is one entry of a command sequence: a frame write or a fixed wait.
type Step struct {
	Kind  StepKind
	Name  string
	Frame protocol.Frame
	Delay time.Duration
}

func (s Step) String() string {
	if s.Kind == StepWait {
		return "wait " + s.Delay.String()
	}
	return fmt.Sprintf("write %s [%s]", s.Name, s.Frame)
}

// WriteStep writes frame to the command characteristic.
func WriteStep(name string, frame protocol.Frame) Step {
	return Step{Kind: StepWrite, Name: name, Frame: frame}
}

// WaitStep pauses the sequence.
func WaitStep(d time.Duration) Step {
	return Step{Kind: StepWait, Name: "wait", Delay: d}
}

// DefaultSteps is the speed sequence: resume the belt, give the firmware
// time to accept the next command, then send the speed frame.
func DefaultSteps(powerOn, setSpeed protocol.Frame, delay time.Duration) []Step {
	return []Step{
		WriteStep(protocol.PowerOn, powerOn),
		WaitStep(delay),
		WriteStep(protocol.SetSpeed, setSpeed),
	}
}

// EventKind identifies a sequencer progress event.
type EventKind int

const (
	EventConnecting EventKind = iota
	EventConnected
	EventStep
	EventDisconnected
)

// Event reports sequencer progress. Index is zero-based; Total is the
// number of steps.
type Event struct {
	Kind    EventKind
	Address string
	Step    Step
	Index   int
	Total   int
}

// Sequencer plays a fixed sequence of frames to a treadmill.
type Sequencer struct {
	Connector ble.Connector
	Steps     []Step
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Observer, when set, receives progress events synchronously.
	Observer func(Event)
	Log      logrus.FieldLogger
}

// NewSequencer returns a Sequencer for steps after validating every frame.
func NewSequencer(conn ble.Connector, steps []Step) (*Sequencer, error) {
	if err := validateSteps(steps); err != nil {
		return nil, err
	}
	return &Sequencer{Connector: conn, Steps: steps}, nil
}

// FromConfig builds the default speed sequence from cfg.
func FromConfig(conn ble.Connector, cfg *config.Config) (*Sequencer, error) {
	powerOn, setSpeed, err := cfg.Frames()
	if err != nil {
		return nil, err
	}
	return NewSequencer(conn, DefaultSteps(powerOn, setSpeed, cfg.Sequence.Delay))
}

func validateSteps(steps []Step) error {
	for i, s := range steps {
		switch s.Kind {
		case StepWrite:
			if err := s.Frame.Validate(); err != nil {
				return fmt.Errorf("step %d (%s): %w", i+1, s.Name, err)
			}
		case StepWait:
			if s.Delay < 0 {
				return fmt.Errorf("step %d: negative delay %s", i+1, s.Delay)
			}
		default:
			return fmt.Errorf("step %d: unknown kind %d", i+1, s.Kind)
		}
	}
	return nil
}

func (s *Sequencer) log() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return config.Log
}

func (s *Sequencer) emit(e Event) {
	if s.Observer != nil {
		s.Observer(e)
	}
}

func (s *Sequencer) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplySpeed connects to the treadmill at address and plays the sequence.
//
// The speed frame is sent as configured: the vendor encoding of speed is not
// known, so speed is logged but not encoded into any frame.
func (s *Sequencer) ApplySpeed(ctx context.Context, address string, speed uint8) error {
	log := s.log().WithFields(logrus.Fields{
		"run":   ulid.Make().String(),
		"speed": speed,
	})
	log.Debug("Speed is not encoded; sending the configured set-speed frame")
	return s.run(ctx, address, s.Steps, log)
}

// Send connects to address and writes frames in order, without waits.
func (s *Sequencer) Send(ctx context.Context, address string, frames ...protocol.Frame) error {
	steps := make([]Step, len(frames))
	for i, f := range frames {
		steps[i] = WriteStep(fmt.Sprintf("frame %d", i+1), f)
	}
	log := s.log().WithField("run", ulid.Make().String())
	return s.run(ctx, address, steps, log)
}

// Explore connects to address and lists its services and characteristics.
func (s *Sequencer) Explore(ctx context.Context, address string) ([]ble.ServiceInfo, error) {
	log := s.log()
	sess, err := s.open(ctx, address, 0, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sess.Disconnect(); err != nil {
			log.WithField("address", sess.Address()).WithError(err).Warn("Disconnect failed")
		}
	}()

	infos, err := sess.Explore()
	if err != nil {
		return nil, fmt.Errorf("explore %s: %w", sess.Address(), err)
	}
	return infos, nil
}

// open parses address, powers the adapter on and connects. Address errors
// are reported before the adapter is touched.
func (s *Sequencer) open(ctx context.Context, address string, total int, log logrus.FieldLogger) (ble.Session, error) {
	addr, err := ble.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if s.Connector == nil {
		return nil, ErrNoAdapters
	}

	if err := s.Connector.Enable(); err != nil {
		return nil, err
	}

	s.emit(Event{Kind: EventConnecting, Address: addr, Total: total})
	log.WithField("address", addr).Info("Connecting")
	sess, err := s.Connector.Connect(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return sess, nil
}

func (s *Sequencer) run(ctx context.Context, address string, steps []Step, log logrus.FieldLogger) error {
	if _, err := ble.ParseAddress(address); err != nil {
		return err
	}
	if err := validateSteps(steps); err != nil {
		return err
	}

	sess, err := s.open(ctx, address, len(steps), log)
	if err != nil {
		return err
	}
	log = log.WithField("address", sess.Address())

	// Disconnect on every path; motor state is not rolled back on failure.
	disconnected := false
	defer func() {
		if !disconnected {
			if derr := sess.Disconnect(); derr != nil {
				log.WithError(derr).Warn("Disconnect failed")
			}
		}
	}()

	s.emit(Event{Kind: EventConnected, Address: sess.Address(), Total: len(steps)})

	char, err := sess.Characteristic(ble.TreadmillServiceUUID, ble.CommandCharUUID)
	if err != nil {
		return fmt.Errorf("locate command characteristic: %w", err)
	}

	for i, step := range steps {
		s.emit(Event{Kind: EventStep, Address: sess.Address(), Step: step, Index: i, Total: len(steps)})

		switch step.Kind {
		case StepWait:
			log.Debugf("Waiting %s", step.Delay)
			if err := s.sleep(ctx, step.Delay); err != nil {
				return fmt.Errorf("step %d (%s): %w", i+1, step, err)
			}
		case StepWrite:
			log.WithField("frame", step.Frame.String()).Infof("Writing %s", step.Name)
			if config.Verbose {
				config.Debugf("Frame %s:\n%s", step.Name, util.HexDump(step.Frame))
			}
			n, err := char.Write(step.Frame)
			if err != nil {
				return fmt.Errorf("write %s frame: %w", step.Name, err)
			}
			if n != len(step.Frame) {
				return fmt.Errorf("write %s frame: %w (%d of %d bytes)", step.Name, ErrShortWrite, n, len(step.Frame))
			}
		}
	}

	disconnected = true
	if err := sess.Disconnect(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	s.emit(Event{Kind: EventDisconnected, Address: sess.Address(), Index: len(steps), Total: len(steps)})
	log.Info("Disconnected")
	return nil
}
