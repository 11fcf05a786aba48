//go:build !darwin && !windows

package ble

import "tinygo.org/x/bluetooth"

// acknowledgedWrites is false where the stack only offers write commands
// (BlueZ in tinygo-org/bluetooth v0.14).
const acknowledgedWrites = false

func writeWithResponse(ch bluetooth.DeviceCharacteristic, buf []byte) (int, error) {
	return ch.WriteWithoutResponse(buf)
}
