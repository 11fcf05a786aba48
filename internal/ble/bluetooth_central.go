package ble

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

var errNoLink = errors.New("no connection")

// BluetoothCentral is a CentralTransport on tinygo-org/bluetooth. Operations
// run in order on one worker goroutine; scanning runs on its own goroutine
// because the stack's Scan blocks until StopScan.
//
// The stack does not report characteristic properties portably, so they are
// taken from the Layout. Enabling notifications through the CCCD is mapped
// onto EnableNotifications. On Linux every write goes out without response
// because the BlueZ backend has no acknowledged write.
type BluetoothCentral struct {
	adapter     *bluetooth.Adapter
	layout      Layout
	scanTimeout time.Duration
	log         logrus.FieldLogger
	jobs        chan func()

	mu        sync.Mutex
	handler   func(Event)
	addresses map[string]bluetooth.Address
	device    *bluetooth.Device
	address   string
	pending   string // address of an in-flight Connect
	abandon   bool   // disconnect the in-flight Connect when it lands
	services  map[string]bluetooth.DeviceService
	chars     map[string]bluetooth.DeviceCharacteristic
}

// NewBluetoothCentral wraps the default adapter.
func NewBluetoothCentral(layout Layout, scanTimeout time.Duration, log logrus.FieldLogger) *BluetoothCentral {
	return &BluetoothCentral{
		adapter:     bluetooth.DefaultAdapter,
		layout:      layout,
		scanTimeout: scanTimeout,
		log:         log.WithField("transport", "bluetooth-central"),
		jobs:        make(chan func(), 16),
		handler:     func(Event) {},
	}
}

// Enable powers on the adapter and starts the worker.
func (b *BluetoothCentral) Enable() error {
	if err := b.adapter.Enable(); err != nil {
		return &TransportError{Op: "enable", Err: err}
	}
	if !acknowledgedWrites {
		b.log.Debug("stack has no acknowledged writes, using write without response")
	}

	b.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		b.mu.Lock()
		current := b.address
		if addr == current {
			b.device, b.address = nil, ""
			b.services, b.chars = nil, nil
		}
		b.mu.Unlock()
		if addr == current {
			b.post(Disconnected{Address: addr})
		}
	})

	go func() {
		for job := range b.jobs {
			job()
		}
	}()
	return nil
}

func (b *BluetoothCentral) SetHandler(h func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

func (b *BluetoothCentral) post(ev Event) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	h(ev)
}

func (b *BluetoothCentral) submit(job func()) error {
	select {
	case b.jobs <- job:
		return nil
	default:
		return errors.New("ble: transport queue full")
	}
}

func (b *BluetoothCentral) StartScan() error {
	b.mu.Lock()
	b.addresses = make(map[string]bluetooth.Address)
	b.mu.Unlock()

	go func() {
		timer := time.AfterFunc(b.scanTimeout, func() {
			b.log.Debug("scan timeout")
			if err := b.adapter.StopScan(); err != nil {
				b.log.WithError(err).Debug("stop scan")
			}
		})
		err := b.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			addr := result.Address.String()
			b.mu.Lock()
			_, seen := b.addresses[addr]
			b.addresses[addr] = result.Address
			b.mu.Unlock()
			if seen {
				return
			}
			b.post(DeviceDiscovered{Address: addr, Name: result.LocalName(), LowEnergy: true})
		})
		timer.Stop()
		b.post(ScanFinished{Err: err})
	}()
	return nil
}

func (b *BluetoothCentral) StopScan() error {
	return b.adapter.StopScan()
}

func (b *BluetoothCentral) Connect(address string) error {
	b.mu.Lock()
	addr, ok := b.addresses[address]
	if ok {
		b.pending, b.abandon = address, false
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown address %s", address)
	}

	return b.submit(func() {
		device, err := b.adapter.Connect(addr, bluetooth.ConnectionParams{})

		b.mu.Lock()
		abandon := b.abandon
		b.pending, b.abandon = "", false
		if err == nil && !abandon {
			b.device, b.address = &device, address
		}
		b.mu.Unlock()

		switch {
		case abandon:
			if err == nil {
				if derr := device.Disconnect(); derr != nil {
					b.log.WithError(derr).Debug("disconnect abandoned link")
				}
			}
			b.post(Disconnected{Address: address})
		case err != nil:
			b.post(TransportFailed{Op: "connect", Err: err})
		default:
			b.post(Connected{Address: address})
		}
	})
}

func (b *BluetoothCentral) Disconnect() error {
	b.mu.Lock()
	device := b.device
	if device == nil && b.pending != "" {
		b.abandon = true
		b.mu.Unlock()
		return nil
	}
	address := b.address
	b.device, b.address = nil, ""
	b.services, b.chars = nil, nil
	b.mu.Unlock()
	if device == nil {
		return errNoLink
	}

	// The stack's connect handler is not guaranteed to fire for a local
	// disconnect, so report it here.
	err := device.Disconnect()
	b.post(Disconnected{Address: address})
	return err
}

func (b *BluetoothCentral) DiscoverServices() error {
	return b.submit(func() {
		b.mu.Lock()
		device := b.device
		b.mu.Unlock()
		if device == nil {
			b.post(ServicesDiscovered{Err: errNoLink})
			return
		}

		svcs, err := device.DiscoverServices(nil)
		if err != nil {
			b.post(ServicesDiscovered{Err: err})
			return
		}
		byUUID := make(map[string]bluetooth.DeviceService, len(svcs))
		ids := make([]string, 0, len(svcs))
		for _, svc := range svcs {
			id := svc.UUID().String()
			byUUID[id] = svc
			ids = append(ids, id)
		}
		b.mu.Lock()
		b.services = byUUID
		b.mu.Unlock()
		b.post(ServicesDiscovered{Services: ids})
	})
}

func (b *BluetoothCentral) DiscoverCharacteristics(service string) error {
	return b.submit(func() {
		b.mu.Lock()
		svc, ok := b.services[service]
		b.mu.Unlock()
		if !ok {
			b.post(CharacteristicsDiscovered{Service: service, Err: errNoLink})
			return
		}

		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			b.post(CharacteristicsDiscovered{Service: service, Err: err})
			return
		}
		byUUID := make(map[string]bluetooth.DeviceCharacteristic, len(chars))
		infos := make([]CharacteristicInfo, 0, len(chars))
		for _, ch := range chars {
			id := ch.UUID().String()
			byUUID[id] = ch
			infos = append(infos, b.layout.properties(id))
		}
		b.mu.Lock()
		b.chars = byUUID
		b.mu.Unlock()
		b.post(CharacteristicsDiscovered{Service: service, Characteristics: infos})
	})
}

func (b *BluetoothCentral) characteristic(id string) (bluetooth.DeviceCharacteristic, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.chars[id]
	return ch, ok
}

func (b *BluetoothCentral) WriteDescriptor(characteristic, descriptor string, value []byte) error {
	if !sameUUID(descriptor, CCCDUUID) {
		return fmt.Errorf("descriptor %s not supported", descriptor)
	}
	return b.submit(func() {
		ch, ok := b.characteristic(characteristic)
		if !ok {
			b.post(DescriptorWritten{Characteristic: characteristic, Err: errNoLink})
			return
		}

		var cb func([]byte)
		if len(value) > 0 && value[0] != 0 {
			cb = func(buf []byte) {
				data := make([]byte, len(buf))
				copy(data, buf)
				b.post(Notification{Characteristic: characteristic, Data: data})
			}
		}
		err := ch.EnableNotifications(cb)
		b.post(DescriptorWritten{Characteristic: characteristic, Err: err})
	})
}

func (b *BluetoothCentral) WriteCharacteristic(characteristic string, data []byte, withResponse bool) error {
	ch, ok := b.characteristic(characteristic)
	if !ok {
		return errNoLink
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	return b.submit(func() {
		var err error
		if withResponse {
			_, err = writeWithResponse(ch, buf)
		} else {
			_, err = ch.WriteWithoutResponse(buf)
		}
		if err != nil {
			b.post(TransportFailed{Op: "write", Err: err})
		}
	})
}

var _ CentralTransport = (*BluetoothCentral)(nil)
