package commands

import (
	"context"
	"errors"
	"time"

	"treadctl/internal/treadmill"
)

// Scan looks for the first treadmill within timeout and prints it.
// A miss prints "No treadmill device found" to Err and returns
// treadmill.ErrNotFound.
func Scan(ctx context.Context, s Streams, d *treadmill.Discoverer, timeout time.Duration) (treadmill.Handle, error) {
	s.printf("Scanning for treadmill (up to %s)...\n", timeout)

	h, err := d.ScanForTreadmill(ctx, timeout)
	if errors.Is(err, treadmill.ErrNotFound) {
		s.errorf("No treadmill device found\n")
		return treadmill.Handle{}, err
	}
	if err != nil {
		return treadmill.Handle{}, err
	}

	s.printf("Found device: %s\n", h)
	return h, nil
}

// ScanAll scans for the whole window and prints every treadmill seen.
func ScanAll(ctx context.Context, s Streams, d *treadmill.Discoverer, timeout time.Duration) ([]treadmill.Handle, error) {
	s.printf("Scanning for treadmills for %s...\n", timeout)

	handles, err := d.ScanAll(ctx, timeout)
	if err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		s.errorf("No treadmill device found\n")
		return nil, treadmill.ErrNotFound
	}

	for _, h := range handles {
		if len(d.Adapters) > 1 {
			s.printf("Found device: %s via %s\n", h, h.Adapter)
		} else {
			s.printf("Found device: %s\n", h)
		}
	}
	s.printf("\n%d treadmill(s) found\n", len(handles))
	return handles, nil
}
