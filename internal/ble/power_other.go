//go:build !linux

package ble

// powerOn is a no-op where the OS owns the radio state.
func powerOn(string) error {
	return nil
}
