//go:build darwin || windows

package ble

import "tinygo.org/x/bluetooth"

// acknowledgedWrites reports whether the stack can wait for a write
// response from the peer.
const acknowledgedWrites = true

func writeWithResponse(ch bluetooth.DeviceCharacteristic, buf []byte) (int, error) {
	return ch.Write(buf)
}
