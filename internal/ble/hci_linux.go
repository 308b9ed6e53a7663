//go:build linux

package ble

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paypal/gatt"

	"treadctl/internal/config"

	"tinygo.org/x/bluetooth"
)

// powerOnTimeout bounds how long Enable waits for the HCI device to report
// StatePoweredOn.
const powerOnTimeout = 10 * time.Second

// defaultLookupTimeout bounds the scan Connect runs for a peripheral the
// controller has not reported yet.
const defaultLookupTimeout = 15 * time.Second

// HCI is a provider talking to a local controller over a raw HCI socket
// (github.com/paypal/gatt). It cannot stream: advertisements carry no
// service list for many peripherals, so every candidate is connected and
// queried after the scan window closes.
type HCI struct {
	id int

	enableOnce sync.Once
	enableErr  error
	dev        gatt.Device
	powered    chan struct{}

	scanMu        sync.Mutex // one Enumerate or lookup scan at a time
	lookupTimeout time.Duration

	mu          sync.Mutex
	peripherals map[string]gatt.Peripheral
	pending     map[string]chan error
	onDiscover  func(Advertisement)
}

var _ Enumerator = (*HCI)(nil)

// NewHCI returns a provider for the controller hci<id>.
func NewHCI(id int) *HCI {
	return &HCI{
		id:            id,
		powered:       make(chan struct{}),
		lookupTimeout: defaultLookupTimeout,
		peripherals:   make(map[string]gatt.Peripheral),
		pending:       make(map[string]chan error),
	}
}

func (h *HCI) Name() string {
	return "hci" + strconv.Itoa(h.id)
}

func (h *HCI) Enable() error {
	h.enableOnce.Do(func() {
		dev, err := gatt.NewDevice(gatt.LnxDeviceID(h.id, false))
		if err != nil {
			h.enableErr = fmt.Errorf("%w: %s: %v", ErrAdapter, h.Name(), err)
			return
		}
		h.dev = dev

		dev.Handle(
			gatt.PeripheralDiscovered(h.peripheralDiscovered),
			gatt.PeripheralConnected(h.peripheralConnected),
			gatt.PeripheralDisconnected(h.peripheralDisconnected),
		)

		var once sync.Once
		if err := dev.Init(func(d gatt.Device, s gatt.State) {
			config.Debugf("%s state: %s", h.Name(), s)
			if s == gatt.StatePoweredOn {
				once.Do(func() { close(h.powered) })
			}
		}); err != nil {
			h.enableErr = fmt.Errorf("%w: %s: %v", ErrAdapter, h.Name(), err)
			return
		}

		select {
		case <-h.powered:
		case <-time.After(powerOnTimeout):
			h.enableErr = fmt.Errorf("%w: %s did not power on within %s", ErrAdapter, h.Name(), powerOnTimeout)
		}
	})
	return h.enableErr
}

func (h *HCI) peripheralDiscovered(p gatt.Peripheral, a *gatt.Advertisement, rssi int) {
	ad := Advertisement{
		Address: strings.ToUpper(p.ID()),
		Name:    p.Name(),
		RSSI:    int16(rssi),
	}
	if a != nil {
		if a.LocalName != "" {
			ad.Name = a.LocalName
		}
		for _, u := range a.Services {
			if bu, err := uuidFromGATT(u); err == nil {
				ad.Services = append(ad.Services, bu)
			}
		}
	}

	h.mu.Lock()
	h.peripherals[ad.Address] = p
	fn := h.onDiscover
	h.mu.Unlock()

	if fn != nil {
		fn(ad)
	}
}

func (h *HCI) peripheralConnected(p gatt.Peripheral, err error) {
	h.mu.Lock()
	ch, ok := h.pending[strings.ToUpper(p.ID())]
	delete(h.pending, strings.ToUpper(p.ID()))
	h.mu.Unlock()

	if ok {
		ch <- err
	}
}

func (h *HCI) peripheralDisconnected(p gatt.Peripheral, err error) {
	config.Debugf("%s: %s disconnected (%v)", h.Name(), p.ID(), err)
	h.peripheralConnected(p, fmt.Errorf("disconnected before connection completed: %v", err))
}

// scan runs a discovery session until ctx is done or fn returns false.
func (h *HCI) scan(ctx context.Context, fn func(Advertisement) bool) {
	h.scanMu.Lock()
	defer h.scanMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	done := make(chan struct{})
	var once sync.Once
	h.mu.Lock()
	h.onDiscover = func(ad Advertisement) {
		if !fn(ad) {
			once.Do(func() { close(done) })
		}
	}
	h.mu.Unlock()

	h.dev.Scan([]gatt.UUID{}, false)
	select {
	case <-ctx.Done():
	case <-done:
	}
	h.dev.StopScanning()

	h.mu.Lock()
	h.onDiscover = nil
	h.mu.Unlock()
}

func (h *HCI) Enumerate(ctx context.Context) ([]Advertisement, error) {
	if err := h.Enable(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	seen := make(map[string]Advertisement)
	h.scan(ctx, func(ad Advertisement) bool {
		mu.Lock()
		defer mu.Unlock()
		if prev, ok := seen[ad.Address]; ok {
			for _, u := range prev.Services {
				if !ContainsUUID(ad.Services, u) {
					ad.Services = append(ad.Services, u)
				}
			}
			if ad.Name == "" {
				ad.Name = prev.Name
			}
		} else {
			config.Debugf("%s: device added: %s", h.Name(), ad.Address)
		}
		seen[ad.Address] = ad
		return true
	})

	mu.Lock()
	defer mu.Unlock()
	ads := make([]Advertisement, 0, len(seen))
	for _, ad := range seen {
		ads = append(ads, ad)
	}
	SortAdvertisements(ads)
	return ads, nil
}

// lookup returns the peripheral for address. When the controller has not
// reported it yet, lookup scans until it is seen or lookupTimeout elapses.
func (h *HCI) lookup(ctx context.Context, address string) (gatt.Peripheral, error) {
	h.mu.Lock()
	p, ok := h.peripherals[address]
	h.mu.Unlock()
	if ok {
		return p, nil
	}

	config.Debugf("%s: scanning for %s...", h.Name(), address)
	scanCtx, cancel := context.WithTimeout(ctx, h.lookupTimeout)
	defer cancel()
	h.scan(scanCtx, func(ad Advertisement) bool {
		return ad.Address != address
	})

	h.mu.Lock()
	p, ok = h.peripherals[address]
	h.mu.Unlock()
	if ok {
		return p, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s not seen within %s", ErrPeripheralNotFound, address, h.lookupTimeout)
}

func (h *HCI) Connect(ctx context.Context, address string) (Session, error) {
	if err := h.Enable(); err != nil {
		return nil, err
	}
	address = strings.ToUpper(address)

	p, err := h.lookup(ctx, address)
	if err != nil {
		return nil, err
	}

	result := make(chan error, 1)
	h.mu.Lock()
	h.pending[address] = result
	h.mu.Unlock()

	config.Debugf("%s: connecting to %s...", h.Name(), address)
	h.dev.Connect(p)

	select {
	case err := <-result:
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
		}
	case <-ctx.Done():
		h.mu.Lock()
		delete(h.pending, address)
		h.mu.Unlock()
		h.dev.CancelConnection(p)
		return nil, fmt.Errorf("failed to connect to %s: %w", address, ctx.Err())
	}

	return &hciSession{dev: h.dev, p: p, address: address}, nil
}

type hciSession struct {
	dev     gatt.Device
	p       gatt.Peripheral
	address string
}

func (s *hciSession) Address() string {
	return s.address
}

func (s *hciSession) discover() ([]*gatt.Service, error) {
	services, err := s.p.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}
	return services, nil
}

func (s *hciSession) Services() ([]bluetooth.UUID, error) {
	services, err := s.discover()
	if err != nil {
		return nil, err
	}
	uuids := make([]bluetooth.UUID, 0, len(services))
	for _, svc := range services {
		if u, err := uuidFromGATT(svc.UUID()); err == nil {
			uuids = append(uuids, u)
		}
	}
	return uuids, nil
}

func (s *hciSession) Characteristic(service, char bluetooth.UUID) (Characteristic, error) {
	services, err := s.discover()
	if err != nil {
		return nil, err
	}

	for _, svc := range services {
		if u, err := uuidFromGATT(svc.UUID()); err != nil || u != service {
			continue
		}
		chars, err := s.p.DiscoverCharacteristics(nil, svc)
		if err != nil {
			return nil, fmt.Errorf("failed to discover characteristics: %w", err)
		}
		for _, c := range chars {
			if u, err := uuidFromGATT(c.UUID()); err == nil && u == char {
				return &hciCharacteristic{p: s.p, c: c, uuid: u}, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, char)
	}
	return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, service)
}

func (s *hciSession) Explore() ([]ServiceInfo, error) {
	services, err := s.discover()
	if err != nil {
		return nil, err
	}

	infos := make([]ServiceInfo, 0, len(services))
	for _, svc := range services {
		u, err := uuidFromGATT(svc.UUID())
		if err != nil {
			continue
		}
		info := ServiceInfo{UUID: u}
		chars, err := s.p.DiscoverCharacteristics(nil, svc)
		if err != nil {
			config.Debugf("Failed to discover characteristics of %s: %v", u, err)
		}
		for _, c := range chars {
			if cu, err := uuidFromGATT(c.UUID()); err == nil {
				info.Characteristics = append(info.Characteristics, cu)
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *hciSession) Disconnect() error {
	s.dev.CancelConnection(s.p)
	return nil
}

type hciCharacteristic struct {
	p    gatt.Peripheral
	c    *gatt.Characteristic
	uuid bluetooth.UUID
}

func (c *hciCharacteristic) UUID() bluetooth.UUID {
	return c.uuid
}

func (c *hciCharacteristic) Write(p []byte) (int, error) {
	if err := c.p.WriteCharacteristic(c.c, p, false); err != nil {
		return 0, err
	}
	return len(p), nil
}

// uuidFromGATT converts a gatt UUID (16-bit or 128-bit, printed as bare hex)
// to the bluetooth.UUID used everywhere else.
func uuidFromGATT(u gatt.UUID) (bluetooth.UUID, error) {
	return parseBareUUID(u.String())
}
