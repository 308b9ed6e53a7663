//go:build linux

package ble

import "tinygo.org/x/bluetooth"

// charWriter is the write call BlueZ characteristics support.
type charWriter interface {
	WriteWithoutResponse(p []byte) (int, error)
}

var _ charWriter = bluetooth.DeviceCharacteristic{}

func writeChar(c charWriter, p []byte) (int, error) {
	return c.WriteWithoutResponse(p)
}
