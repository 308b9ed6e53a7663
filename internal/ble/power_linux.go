//go:build linux

package ble

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"treadctl/internal/config"
)

const (
	bluezBus      = "org.bluez"
	bluezAdapter1 = "org.bluez.Adapter1"
)

// powerOn switches a BlueZ adapter on through its Powered property.
// bluetooth.Adapter.Enable only attaches to the adapter on Linux.
func powerOn(id string) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("system bus: %w", err)
	}
	// The system bus connection is shared; it is not closed here.
	obj := conn.Object(bluezBus, dbus.ObjectPath("/org/bluez/"+id))

	v, err := obj.GetProperty(bluezAdapter1 + ".Powered")
	if err != nil {
		return fmt.Errorf("read power state of %s: %w", id, err)
	}
	if powered, ok := v.Value().(bool); ok && powered {
		return nil
	}

	config.Debugf("Powering on %s", id)
	if err := obj.SetProperty(bluezAdapter1+".Powered", dbus.MakeVariant(true)); err != nil {
		return fmt.Errorf("power on %s: %w", id, err)
	}
	return nil
}
