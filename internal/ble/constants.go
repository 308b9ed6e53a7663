package ble

import "tinygo.org/x/bluetooth"

const (
	// TreadmillServiceUUIDString identifies the treadmill's vendor service.
	TreadmillServiceUUIDString = "0000fff0-0000-1000-8000-00805f9b34fb"

	// CommandCharUUIDString is the characteristic command frames are written to (handle 0x0013).
	CommandCharUUIDString = "0000fff2-0000-1000-8000-00805f9b34fb"

	// NotifyCharUUIDString is the notify characteristic (handle 0x0011). Unused for control.
	NotifyCharUUIDString = "0000fff1-0000-1000-8000-00805f9b34fb"

	// DeviceInfoServiceUUIDString is the standard device information service.
	DeviceInfoServiceUUIDString = "0000180a-0000-1000-8000-00805f9b34fb"
)

var (
	TreadmillServiceUUID  = mustParseUUID(TreadmillServiceUUIDString)
	CommandCharUUID       = mustParseUUID(CommandCharUUIDString)
	NotifyCharUUID        = mustParseUUID(NotifyCharUUIDString)
	DeviceInfoServiceUUID = mustParseUUID(DeviceInfoServiceUUIDString)
)

func mustParseUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic("ble: bad uuid " + s + ": " + err.Error())
	}
	return u
}
