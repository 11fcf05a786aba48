// Package ble implements both BLE roles of the alcohol meter. Central binds
// the meter's GATT service and exchanges framed messages with it; Peripheral
// serves that service on the device. Each role is an event-driven state
// machine over a small transport interface, with tinygo-backed transports
// for real hardware.
package ble

import (
	"errors"
	"fmt"
	"strings"
)

// Default GATT layout of the meter.
const (
	ServiceUUID = "00001813-0000-1000-8000-00805f9b34fb"
	RXCharUUID  = "0000ab01-0000-1000-8000-00805f9b34fb" // commands into the device
	TXCharUUID  = "0000ab02-0000-1000-8000-00805f9b34fb" // data out of the device
	CCCDUUID    = "00002902-0000-1000-8000-00805f9b34fb"
)

// Client characteristic configuration values.
var (
	NotifyEnable   = []byte{0x01, 0x00}
	IndicateEnable = []byte{0x02, 0x00}
)

var (
	ErrNotReady               = errors.New("ble: session not ready")
	ErrBusy                   = errors.New("ble: session busy")
	ErrDeviceNotFound         = errors.New("ble: no matching device found")
	ErrServiceNotFound        = errors.New("ble: service not found")
	ErrCharacteristicNotFound = errors.New("ble: required characteristic not found")
)

// TransportError wraps a failure reported by the BLE stack.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ble: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Property is a GATT characteristic property bit set.
type Property uint8

const (
	PropRead Property = 1 << iota
	PropWrite
	PropWriteNoResponse
	PropNotify
	PropIndicate
)

// Has reports whether any bit of q is set in p.
func (p Property) Has(q Property) bool { return p&q != 0 }

func (p Property) String() string {
	var names []string
	for _, f := range []struct {
		bit  Property
		name string
	}{
		{PropRead, "read"},
		{PropWrite, "write"},
		{PropWriteNoResponse, "write-no-response"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
	} {
		if p.Has(f.bit) {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// CharacteristicInfo describes a discovered or served characteristic.
type CharacteristicInfo struct {
	UUID        string
	Properties  Property
	Descriptors []string
}

// HasDescriptor reports whether the characteristic carries the descriptor.
func (c CharacteristicInfo) HasDescriptor(uuid string) bool {
	for _, d := range c.Descriptors {
		if sameUUID(d, uuid) {
			return true
		}
	}
	return false
}

// ServiceDefinition is a GATT service a peripheral registers.
type ServiceDefinition struct {
	UUID            string
	Characteristics []CharacteristicInfo
}

// CentralTransport is the central-role BLE stack. Every method returns
// without waiting for the radio; outcomes arrive later as events through the
// handler installed with SetHandler.
type CentralTransport interface {
	SetHandler(h func(Event))
	// StartScan reports DeviceDiscovered events and finally ScanFinished.
	StartScan() error
	StopScan() error
	// Connect reports Connected, or TransportFailed on failure.
	Connect(address string) error
	// Disconnect reports Disconnected once the link is gone.
	Disconnect() error
	DiscoverServices() error
	DiscoverCharacteristics(service string) error
	// WriteDescriptor reports DescriptorWritten.
	WriteDescriptor(characteristic, descriptor string, value []byte) error
	WriteCharacteristic(characteristic string, data []byte, withResponse bool) error
}

// PeripheralTransport is the peripheral-role BLE stack. Connection changes
// and characteristic writes arrive as events through the handler.
type PeripheralTransport interface {
	SetHandler(h func(Event))
	AddService(svc ServiceDefinition) error
	StartAdvertising() error
	StopAdvertising() error
	// Notify pushes data to subscribers of a notify characteristic.
	Notify(characteristic string, data []byte) error
}

// FrameCounter observes every frame a session sends or receives. err is
// non-nil for frames that failed to encode, write or decode.
type FrameCounter interface {
	CountFrame(direction string, err error)
}

// Frame directions reported to a FrameCounter.
const (
	FrameIn  = "in"
	FrameOut = "out"
)

type nopCounter struct{}

func (nopCounter) CountFrame(string, error) {}
