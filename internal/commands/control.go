package commands

import (
	"context"
	"errors"
	"fmt"

	"treadctl/internal/config"
	"treadctl/internal/protocol"
	"treadctl/internal/treadmill"
)

// progress prints sequencer events as they happen.
func progress(s Streams) func(treadmill.Event) {
	return func(e treadmill.Event) {
		switch e.Kind {
		case treadmill.EventConnecting:
			s.printf("Connecting to %s...\n", e.Address)
		case treadmill.EventConnected:
			s.println("Connected")
		case treadmill.EventStep:
			prefix := fmt.Sprintf("[%d/%d]", e.Index+1, e.Total)
			switch e.Step.Kind {
			case treadmill.StepWait:
				s.printf("%s Waiting %s...\n", prefix, e.Step.Delay)
			case treadmill.StepWrite:
				s.printf("%s Writing %s frame: %s\n", prefix, e.Step.Name, e.Step.Frame)
			}
		case treadmill.EventDisconnected:
			s.println("Disconnected")
		}
	}
}

// SetSpeed plays the speed sequence to the treadmill at address.
func SetSpeed(ctx context.Context, s Streams, seq *treadmill.Sequencer, address string, speed uint8) error {
	seq.Observer = progress(s)
	if err := seq.ApplySpeed(ctx, address, speed); err != nil {
		return err
	}
	s.printf("Speed command sent to %s\n", address)
	return nil
}

// Send resolves each argument as a frame name or hex frame and writes them
// in order. With appendChecksum, hex frames are given without their checksum.
// Nothing is sent unless every argument resolves.
func Send(ctx context.Context, s Streams, seq *treadmill.Sequencer, address string, args []string, appendChecksum bool) error {
	resolve := protocol.Resolve
	if appendChecksum {
		resolve = protocol.ResolveBody
	}

	frames := make([]protocol.Frame, 0, len(args))
	for _, arg := range args {
		f, err := resolve(arg)
		if err != nil {
			return err
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return errors.New("no frames given")
	}

	seq.Observer = progress(s)
	if config.Verbose {
		for _, f := range frames {
			s.printf("  %s\n%s\n", f, hexBlock(f))
		}
	}
	if err := seq.Send(ctx, address, frames...); err != nil {
		return err
	}
	s.printf("%d frame(s) sent to %s\n", len(frames), address)
	return nil
}

// Explore lists every service and characteristic of the peripheral at
// address. It only discovers, it writes nothing.
func Explore(ctx context.Context, s Streams, seq *treadmill.Sequencer, address string) error {
	s.println("Discovering services...")

	infos, err := seq.Explore(ctx, address)
	if err != nil {
		return err
	}

	s.printf("\nFound %d services:\n\n", len(infos))
	for i, info := range infos {
		s.printf("Service #%d: %s\n", i+1, describeUUID(info.UUID))
		for j, c := range info.Characteristics {
			s.printf("  [%d] %s\n", j+1, describeUUID(c))
		}
		s.println()
	}
	return nil
}

// Frames prints the frame table with each frame's checksum status.
func Frames(s Streams) {
	for _, nf := range protocol.Frames {
		status := "ok"
		if err := nf.Frame.Validate(); err != nil {
			status = "BAD: " + err.Error()
		}
		group, code := nf.Frame.Command()
		s.printf("%-12s %-44s cmd %02x/%02x  %s\n", nf.Name, nf.Frame, group, code, status)
		s.printf("%-12s %s\n", "", nf.Description)
	}
}
