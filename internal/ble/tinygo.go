package ble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"treadctl/internal/config"

	"tinygo.org/x/bluetooth"
)

// defaultAdapterID is the BlueZ adapter behind bluetooth.DefaultAdapter.
const defaultAdapterID = "hci0"

// stopRetryInterval is how often StopScan is retried while waiting for a scan
// that had not started yet when the caller gave up.
const stopRetryInterval = 100 * time.Millisecond

// TinyGo is a provider backed by tinygo.org/x/bluetooth (BlueZ over D-Bus on
// Linux, CoreBluetooth on macOS, WinRT on Windows). It can both stream and
// enumerate.
type TinyGo struct {
	adapter *bluetooth.Adapter
	id      string

	// Swapped out by tests.
	enableAdapter func() error
	powerOn       func(id string) error

	mu      sync.Mutex // one scan or enable at a time
	enabled bool
}

var (
	_ Streamer   = (*TinyGo)(nil)
	_ Enumerator = (*TinyGo)(nil)
)

// NewTinyGo wraps adapter, or the default adapter when adapter is nil.
func NewTinyGo(adapter *bluetooth.Adapter) *TinyGo {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	return &TinyGo{
		adapter:       adapter,
		id:            defaultAdapterID,
		enableAdapter: adapter.Enable,
		powerOn:       powerOn,
	}
}

func (t *TinyGo) Name() string {
	return "default"
}

func (t *TinyGo) Enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.enabled {
		return nil
	}
	if err := t.enableAdapter(); err != nil {
		return fmt.Errorf("%w: %v", ErrAdapter, err)
	}
	if err := t.powerOn(t.id); err != nil {
		return fmt.Errorf("%w: %v", ErrAdapter, err)
	}
	t.enabled = true
	config.Debugf("Bluetooth adapter enabled")
	return nil
}

func (t *TinyGo) Stream(ctx context.Context, fn func(Advertisement) bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stopped atomic.Bool
	return t.scan(ctx, func(result bluetooth.ScanResult) bool {
		if stopped.Load() {
			return false
		}
		if !fn(advertisementFromScan(result)) {
			stopped.Store(true)
			return false
		}
		return true
	})
}

func (t *TinyGo) Enumerate(ctx context.Context) ([]Advertisement, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// BlueZ reports a device again whenever one of its properties changes, so
	// sightings are merged per address.
	var mu sync.Mutex
	seen := make(map[string]*Advertisement)

	err := t.scan(ctx, func(result bluetooth.ScanResult) bool {
		ad := advertisementFromScan(result)

		mu.Lock()
		defer mu.Unlock()
		prev, ok := seen[ad.Address]
		if !ok {
			config.Debugf("Device added: %s (%s)", ad.Address, ad.DisplayName())
			seen[ad.Address] = &ad
			return true
		}
		if ad.Name != "" {
			prev.Name = ad.Name
		}
		prev.RSSI = ad.RSSI
		for _, u := range ad.Services {
			if !ContainsUUID(prev.Services, u) {
				prev.Services = append(prev.Services, u)
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	ads := make([]Advertisement, 0, len(seen))
	for _, ad := range seen {
		ads = append(ads, *ad)
	}
	SortAdvertisements(ads)
	return ads, nil
}

// scan runs adapter.Scan on its own goroutine until fn returns false or ctx
// is done. The scan is always stopped and the goroutine joined before scan
// returns.
func (t *TinyGo) scan(ctx context.Context, fn func(bluetooth.ScanResult) bool) error {
	if ctx.Err() != nil {
		return nil
	}

	scanErr := make(chan error, 1)
	go func() {
		scanErr <- t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !fn(result) {
				adapter.StopScan()
			}
		})
	}()

	select {
	case err := <-scanErr:
		if err != nil {
			return fmt.Errorf("scan error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// StopScan fails if Scan has not registered yet; keep trying until the
	// scan goroutine exits.
	for {
		if err := t.adapter.StopScan(); err != nil {
			config.Debugf("StopScan: %v", err)
		}
		select {
		case err := <-scanErr:
			if err != nil {
				config.Debugf("Scan ended after cancel: %v", err)
			}
			return nil
		case <-time.After(stopRetryInterval):
		}
	}
}

func advertisementFromScan(result bluetooth.ScanResult) Advertisement {
	return Advertisement{
		Address:  result.Address.String(),
		Name:     result.LocalName(),
		Services: result.AdvertisementPayload.ServiceUUIDs(),
		RSSI:     result.RSSI,
	}
}

func (t *TinyGo) Connect(ctx context.Context, address string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var addr bluetooth.Address
	addr.Set(address)

	config.Debugf("Connecting to %s...", address)
	device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return &tinyGoSession{device: device, address: address}, nil
}

type tinyGoSession struct {
	device  bluetooth.Device
	address string
}

func (s *tinyGoSession) Address() string {
	return s.address
}

func (s *tinyGoSession) Services() ([]bluetooth.UUID, error) {
	services, err := s.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}
	uuids := make([]bluetooth.UUID, len(services))
	for i := range services {
		uuids[i] = services[i].UUID()
	}
	return uuids, nil
}

func (s *tinyGoSession) Characteristic(service, char bluetooth.UUID) (Characteristic, error) {
	config.Debugf("Discovering services...")
	services, err := s.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	var svc *bluetooth.DeviceService
	for i := range services {
		if services[i].UUID() == service {
			svc = &services[i]
			config.Debugf("Found service: %s", service)
			break
		}
	}
	if svc == nil {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, service)
	}

	chars, err := svc.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics: %w", err)
	}
	for i := range chars {
		config.Debugf("Found characteristic: %s", chars[i].UUID())
		if chars[i].UUID() == char {
			return &tinyGoCharacteristic{char: chars[i]}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, char)
}

func (s *tinyGoSession) Explore() ([]ServiceInfo, error) {
	services, err := s.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	infos := make([]ServiceInfo, 0, len(services))
	for i := range services {
		info := ServiceInfo{UUID: services[i].UUID()}
		chars, err := services[i].DiscoverCharacteristics(nil)
		if err != nil {
			config.Debugf("Failed to discover characteristics of %s: %v", info.UUID, err)
		}
		for _, c := range chars {
			info.Characteristics = append(info.Characteristics, c.UUID())
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *tinyGoSession) Disconnect() error {
	return s.device.Disconnect()
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) UUID() bluetooth.UUID {
	return c.char.UUID()
}

func (c *tinyGoCharacteristic) Write(p []byte) (int, error) {
	return writeChar(c.char, p)
}
