// Package bletest provides in-memory BLE providers for tests.
package bletest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"treadctl/internal/ble"

	"tinygo.org/x/bluetooth"
)

// Peripheral is a simulated remote device.
type Peripheral struct {
	Advertisement ble.Advertisement
	// Services returned once connected. Defaults to Advertisement.Services.
	Services []bluetooth.UUID
	// Characteristics per service, for Characteristic and Explore.
	Characteristics map[bluetooth.UUID][]bluetooth.UUID
	// Delay before the advertisement is reported by Stream.
	Delay time.Duration
	// ConnectErr fails Connect.
	ConnectErr error
	// WriteErr fails every characteristic write.
	WriteErr error
	// ShortWrite makes writes report one byte fewer than given.
	ShortWrite bool
	// DisconnectErr fails Disconnect. The session is closed regardless.
	DisconnectErr error
}

// Op is one recorded provider call.
type Op struct {
	Kind    string // enable, connect, write, disconnect, stream, enumerate
	Address string
	Data    []byte
	At      time.Time
}

// Provider implements ble.Streamer and ble.Enumerator over a fixed set of
// peripherals and records every call.
type Provider struct {
	AdapterName string
	Peripherals []*Peripheral
	EnableErr   error
	// StreamEndsEarly makes Stream return once every peripheral has been
	// reported instead of waiting for ctx.
	StreamEndsEarly bool

	mu  sync.Mutex
	ops []Op
}

var (
	_ ble.Streamer   = (*Provider)(nil)
	_ ble.Enumerator = (*Provider)(nil)
)

func (p *Provider) record(kind, address string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, Op{Kind: kind, Address: address, Data: append([]byte(nil), data...), At: time.Now()})
}

// Ops returns every recorded call in order.
func (p *Provider) Ops() []Op {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Op(nil), p.ops...)
}

// OpsOf returns the recorded calls of one kind.
func (p *Provider) OpsOf(kind string) []Op {
	var out []Op
	for _, op := range p.Ops() {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

func (p *Provider) Name() string {
	if p.AdapterName == "" {
		return "fake"
	}
	return p.AdapterName
}

func (p *Provider) Enable() error {
	p.record("enable", "", nil)
	if p.EnableErr != nil {
		return fmt.Errorf("%w: %v", ble.ErrAdapter, p.EnableErr)
	}
	return nil
}

func (p *Provider) Stream(ctx context.Context, fn func(ble.Advertisement) bool) error {
	p.record("stream", "", nil)
	start := time.Now()
	for _, per := range p.Peripherals {
		wait := per.Delay - time.Since(start)
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if !fn(per.Advertisement) {
			return nil
		}
	}
	if p.StreamEndsEarly {
		return nil
	}
	<-ctx.Done()
	return nil
}

func (p *Provider) Enumerate(ctx context.Context) ([]ble.Advertisement, error) {
	p.record("enumerate", "", nil)
	<-ctx.Done()
	ads := make([]ble.Advertisement, 0, len(p.Peripherals))
	for _, per := range p.Peripherals {
		ads = append(ads, per.Advertisement)
	}
	ble.SortAdvertisements(ads)
	return ads, nil
}

func (p *Provider) find(address string) *Peripheral {
	for _, per := range p.Peripherals {
		if per.Advertisement.Address == address {
			return per
		}
	}
	return nil
}

func (p *Provider) Connect(ctx context.Context, address string) (ble.Session, error) {
	p.record("connect", address, nil)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	per := p.find(address)
	if per == nil {
		return nil, fmt.Errorf("%w: %s", ble.ErrPeripheralNotFound, address)
	}
	if per.ConnectErr != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, per.ConnectErr)
	}
	return &session{provider: p, per: per}, nil
}

// Treadmill returns a peripheral that advertises the treadmill service and
// exposes the command characteristic.
func Treadmill(address, name string) *Peripheral {
	return &Peripheral{
		Advertisement: ble.Advertisement{
			Address:  address,
			Name:     name,
			Services: []bluetooth.UUID{ble.TreadmillServiceUUID},
		},
		Characteristics: map[bluetooth.UUID][]bluetooth.UUID{
			ble.TreadmillServiceUUID: {ble.NotifyCharUUID, ble.CommandCharUUID},
		},
	}
}

// Other returns a peripheral advertising only the device information service.
func Other(address, name string) *Peripheral {
	return &Peripheral{
		Advertisement: ble.Advertisement{
			Address:  address,
			Name:     name,
			Services: []bluetooth.UUID{ble.DeviceInfoServiceUUID},
		},
	}
}

var errNotConnected = errors.New("not connected")

type session struct {
	provider *Provider
	per      *Peripheral

	mu     sync.Mutex
	closed bool
}

func (s *session) Address() string {
	return s.per.Advertisement.Address
}

func (s *session) services() []bluetooth.UUID {
	if s.per.Services != nil {
		return s.per.Services
	}
	return s.per.Advertisement.Services
}

func (s *session) Services() ([]bluetooth.UUID, error) {
	if s.isClosed() {
		return nil, errNotConnected
	}
	return s.services(), nil
}

func (s *session) Characteristic(service, char bluetooth.UUID) (ble.Characteristic, error) {
	if s.isClosed() {
		return nil, errNotConnected
	}
	if !ble.ContainsUUID(s.services(), service) {
		return nil, fmt.Errorf("%w: %s", ble.ErrServiceNotFound, service)
	}
	if !ble.ContainsUUID(s.per.Characteristics[service], char) {
		return nil, fmt.Errorf("%w: %s", ble.ErrCharacteristicNotFound, char)
	}
	return &characteristic{s: s, uuid: char}, nil
}

func (s *session) Explore() ([]ble.ServiceInfo, error) {
	if s.isClosed() {
		return nil, errNotConnected
	}
	var infos []ble.ServiceInfo
	for _, u := range s.services() {
		infos = append(infos, ble.ServiceInfo{UUID: u, Characteristics: s.per.Characteristics[u]})
	}
	return infos, nil
}

func (s *session) Disconnect() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.provider.record("disconnect", s.Address(), nil)
	return s.per.DisconnectErr
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type characteristic struct {
	s    *session
	uuid bluetooth.UUID
}

func (c *characteristic) UUID() bluetooth.UUID {
	return c.uuid
}

func (c *characteristic) Write(p []byte) (int, error) {
	if c.s.isClosed() {
		return 0, errNotConnected
	}
	if c.s.per.WriteErr != nil {
		return 0, c.s.per.WriteErr
	}
	c.s.provider.record("write", c.s.Address(), p)
	if c.s.per.ShortWrite && len(p) > 0 {
		return len(p) - 1, nil
	}
	return len(p), nil
}

// EnumerateOnly hides the Stream method of a provider, like the HCI provider.
type EnumerateOnly struct {
	P *Provider
}

var _ ble.Enumerator = EnumerateOnly{}

func (e EnumerateOnly) Name() string  { return e.P.Name() }
func (e EnumerateOnly) Enable() error { return e.P.Enable() }
func (e EnumerateOnly) Enumerate(ctx context.Context) ([]ble.Advertisement, error) {
	return e.P.Enumerate(ctx)
}
func (e EnumerateOnly) Connect(ctx context.Context, address string) (ble.Session, error) {
	return e.P.Connect(ctx, address)
}
