package ble

import (
	"context"
	"errors"
	"sort"
	"strings"

	"tinygo.org/x/bluetooth"
)

var (
	ErrAdapter                = errors.New("bluetooth adapter unavailable")
	ErrInvalidAddress         = errors.New("invalid device address")
	ErrServiceNotFound        = errors.New("service not found")
	ErrCharacteristicNotFound = errors.New("characteristic not found")
	ErrPeripheralNotFound     = errors.New("peripheral not seen by adapter")
	ErrUnsupported            = errors.New("not supported on this platform")
)

// Advertisement is one peripheral sighting reported by a scan.
type Advertisement struct {
	Address  string
	Name     string
	Services []bluetooth.UUID
	RSSI     int16
}

// HasService reports whether the advertisement lists uuid.
func (a Advertisement) HasService(uuid bluetooth.UUID) bool {
	return ContainsUUID(a.Services, uuid)
}

// DisplayName returns the advertised name or "Unnamed".
func (a Advertisement) DisplayName() string {
	if a.Name == "" {
		return "Unnamed"
	}
	return a.Name
}

// Adapter is the radio side of a BLE provider.
type Adapter interface {
	// Name identifies the adapter in logs (e.g. "hci0").
	Name() string
	// Enable attaches to the adapter and powers its radio on. Calling it
	// again after a success is a no-op.
	Enable() error
}

// Connector opens GATT sessions to peripherals by address.
type Connector interface {
	Adapter
	Connect(ctx context.Context, address string) (Session, error)
}

// Streamer reports peripherals as they are seen. Stream returns when fn
// returns false or ctx is done, and the radio scan is stopped before it returns.
type Streamer interface {
	Adapter
	Stream(ctx context.Context, fn func(Advertisement) bool) error
}

// Enumerator scans until ctx is done and returns every distinct peripheral
// seen. The radio scan is stopped before it returns.
type Enumerator interface {
	Connector
	Enumerate(ctx context.Context) ([]Advertisement, error)
}

// Session is an open GATT connection.
type Session interface {
	Address() string
	// Services lists the UUIDs of every primary service on the peripheral.
	Services() ([]bluetooth.UUID, error)
	// Characteristic resolves char inside service.
	Characteristic(service, char bluetooth.UUID) (Characteristic, error)
	// Explore lists every service with its characteristics.
	Explore() ([]ServiceInfo, error)
	Disconnect() error
}

// Characteristic is a writable GATT characteristic.
type Characteristic interface {
	UUID() bluetooth.UUID
	// Write sends p to the characteristic. Whether the peripheral
	// acknowledges it depends on the provider and platform.
	Write(p []byte) (int, error)
}

// ServiceInfo describes one service found by Explore.
type ServiceInfo struct {
	UUID            bluetooth.UUID
	Characteristics []bluetooth.UUID
}

// ContainsUUID reports whether list contains uuid.
func ContainsUUID(list []bluetooth.UUID, uuid bluetooth.UUID) bool {
	for _, u := range list {
		if u == uuid {
			return true
		}
	}
	return false
}

// SortAdvertisements orders advertisements by address.
func SortAdvertisements(ads []Advertisement) {
	sort.Slice(ads, func(i, j int) bool {
		return strings.Compare(ads[i].Address, ads[j].Address) < 0
	})
}
