//go:build !linux

package ble

import "tinygo.org/x/bluetooth"

// charWriter is the acknowledged write call of CoreBluetooth and WinRT.
type charWriter interface {
	Write(p []byte) (int, error)
}

var _ charWriter = bluetooth.DeviceCharacteristic{}

func writeChar(c charWriter, p []byte) (int, error) {
	return c.Write(p)
}
