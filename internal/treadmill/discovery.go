// Package treadmill finds treadmills over BLE and drives their command
// characteristic.
package treadmill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"tinygo.org/x/bluetooth"

	"treadctl/internal/ble"
	"treadctl/internal/config"
)

// queryTimeout bounds connecting to and querying one peripheral in enumerate mode.
const queryTimeout = 10 * time.Second

var (
	ErrNotFound        = errors.New("no treadmill device found")
	ErrNoAdapters      = errors.New("no bluetooth adapters configured")
	ErrModeUnsupported = errors.New("scan mode not supported by adapter")
)

// Mode selects the discovery strategy.
type Mode string

const (
	// ModeAuto streams when the adapter can, and enumerates otherwise.
	ModeAuto Mode = config.ModeAuto
	// ModeStream inspects advertisements as they arrive and stops at the first match.
	ModeStream Mode = config.ModeStream
	// ModeEnumerate scans for the whole window, then connects to every
	// peripheral seen and queries its services.
	ModeEnumerate Mode = config.ModeEnumerate
)

// Handle identifies a discovered treadmill. It holds no connection.
type Handle struct {
	Address string
	Name    string
	Adapter string
}

// DisplayName returns the advertised name or "Unnamed".
func (h Handle) DisplayName() string {
	if h.Name == "" {
		return "Unnamed"
	}
	return h.Name
}

func (h Handle) String() string {
	return fmt.Sprintf("%s (%s)", h.DisplayName(), h.Address)
}

// IsTreadmill reports whether a peripheral's service set identifies a treadmill.
func IsTreadmill(services []bluetooth.UUID) bool {
	return ble.ContainsUUID(services, ble.TreadmillServiceUUID)
}

// Discoverer finds treadmills using one or more adapters.
type Discoverer struct {
	Adapters []ble.Adapter
	Mode     Mode
	Log      logrus.FieldLogger
}

// NewDiscoverer returns a Discoverer over adapters.
func NewDiscoverer(mode Mode, adapters ...ble.Adapter) *Discoverer {
	return &Discoverer{Adapters: adapters, Mode: mode}
}

func (d *Discoverer) log() logrus.FieldLogger {
	if d.Log != nil {
		return d.Log
	}
	return config.Log
}

// Strategy returns the mode that will be used, resolving ModeAuto by
// adapter capability.
func (d *Discoverer) Strategy() (Mode, error) {
	if len(d.Adapters) == 0 {
		return "", ErrNoAdapters
	}

	_, canStream := d.Adapters[0].(ble.Streamer)
	canEnumerate := true
	for _, a := range d.Adapters {
		if _, ok := a.(ble.Enumerator); !ok {
			canEnumerate = false
		}
	}

	switch d.Mode {
	case ModeStream:
		if !canStream || len(d.Adapters) > 1 {
			return "", fmt.Errorf("%w: %s cannot stream", ErrModeUnsupported, d.adapterNames())
		}
		return ModeStream, nil
	case ModeEnumerate:
		if !canEnumerate {
			return "", fmt.Errorf("%w: %s cannot enumerate", ErrModeUnsupported, d.adapterNames())
		}
		return ModeEnumerate, nil
	case ModeAuto, "":
		if canStream && len(d.Adapters) == 1 {
			return ModeStream, nil
		}
		if canEnumerate {
			return ModeEnumerate, nil
		}
		return "", fmt.Errorf("%w: %s can neither stream nor enumerate", ErrModeUnsupported, d.adapterNames())
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrModeUnsupported, d.Mode)
	}
}

func (d *Discoverer) adapterNames() string {
	names := make([]string, len(d.Adapters))
	for i, a := range d.Adapters {
		names[i] = a.Name()
	}
	return strings.Join(names, ",")
}

// ScanForTreadmill returns the first treadmill found within timeout. It
// returns ErrNotFound once timeout has elapsed without a match, and
// immediately when timeout <= 0. The scan is stopped on every return path.
func (d *Discoverer) ScanForTreadmill(ctx context.Context, timeout time.Duration) (Handle, error) {
	mode, err := d.Strategy()
	if err != nil {
		return Handle{}, err
	}
	if timeout <= 0 {
		return Handle{}, ErrNotFound
	}

	if mode == ModeEnumerate {
		handles, err := d.ScanAll(ctx, timeout)
		if err != nil {
			return Handle{}, err
		}
		if len(handles) == 0 {
			return Handle{}, ErrNotFound
		}
		return handles[0], nil
	}

	streamer := d.Adapters[0].(ble.Streamer)
	log := d.log().WithField("adapter", streamer.Name())
	if err := streamer.Enable(); err != nil {
		return Handle{}, err
	}

	log.Infof("Discovering devices using Bluetooth adapter %s", streamer.Name())

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu    sync.Mutex
		found *Handle
	)
	err = streamer.Stream(scanCtx, func(ad ble.Advertisement) bool {
		// Removal is not tracked: a treadmill that disappears shows up as a
		// connection failure later.
		log.WithField("address", ad.Address).Debug("Device added")
		if !ad.HasService(ble.TreadmillServiceUUID) {
			return true
		}

		mu.Lock()
		defer mu.Unlock()
		if found == nil {
			found = &Handle{Address: ad.Address, Name: ad.Name, Adapter: streamer.Name()}
		}
		return false
	})
	if err != nil {
		return Handle{}, err
	}

	mu.Lock()
	h := found
	mu.Unlock()
	if h != nil {
		log.WithField("address", h.Address).Infof("Found treadmill %s", h.DisplayName())
		return *h, nil
	}

	// A provider may end its stream before the deadline; not-found is only
	// reported once the window has fully elapsed.
	<-scanCtx.Done()
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	return Handle{}, ErrNotFound
}

// ScanAll scans every adapter concurrently for the full timeout, then
// connects to each peripheral seen to query its services. Peripherals that
// cannot be connected or queried are skipped. The result is sorted by
// address, holds each treadmill once, and is empty when timeout <= 0.
func (d *Discoverer) ScanAll(ctx context.Context, timeout time.Duration) ([]Handle, error) {
	if len(d.Adapters) == 0 {
		return nil, ErrNoAdapters
	}
	if timeout <= 0 {
		return nil, nil
	}

	enumerators := make([]ble.Enumerator, len(d.Adapters))
	for i, a := range d.Adapters {
		e, ok := a.(ble.Enumerator)
		if !ok {
			return nil, fmt.Errorf("%w: %s cannot enumerate", ErrModeUnsupported, a.Name())
		}
		enumerators[i] = e
	}

	var (
		mu      sync.Mutex
		handles = make(map[string]Handle)
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range enumerators {
		g.Go(func() error {
			found, err := d.enumerate(gctx, e, timeout)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, h := range found {
				if _, dup := handles[h.Address]; !dup {
					handles[h.Address] = h
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make([]Handle, 0, len(handles))
	for _, h := range handles {
		result = append(result, h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result, nil
}

func (d *Discoverer) enumerate(ctx context.Context, e ble.Enumerator, timeout time.Duration) ([]Handle, error) {
	log := d.log().WithField("adapter", e.Name())
	if err := e.Enable(); err != nil {
		return nil, err
	}

	log.Infof("Discovering devices using Bluetooth adapter %s for %s", e.Name(), timeout)
	windowCtx, cancel := context.WithTimeout(ctx, timeout)
	ads, err := e.Enumerate(windowCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name(), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var found []Handle
	for _, ad := range ads {
		plog := log.WithField("address", ad.Address)
		if ad.HasService(ble.TreadmillServiceUUID) {
			plog.Debug("Treadmill service advertised")
			found = append(found, Handle{Address: ad.Address, Name: ad.Name, Adapter: e.Name()})
			continue
		}

		ok, err := queryServices(ctx, e, ad.Address)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			plog.WithError(err).Warn("Skipping peripheral")
			continue
		}
		if ok {
			found = append(found, Handle{Address: ad.Address, Name: ad.Name, Adapter: e.Name()})
		}
	}
	return found, nil
}

// queryServices connects to address, reads its service list and disconnects.
func queryServices(ctx context.Context, c ble.Connector, address string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sess, err := c.Connect(ctx, address)
	if err != nil {
		return false, err
	}
	defer func() {
		if err := sess.Disconnect(); err != nil {
			config.Debugf("Disconnect %s: %v", address, err)
		}
	}()

	services, err := sess.Services()
	if err != nil {
		return false, err
	}
	return IsTreadmill(services), nil
}
