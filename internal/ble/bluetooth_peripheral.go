package ble

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// BluetoothPeripheral is a PeripheralTransport on tinygo-org/bluetooth.
type BluetoothPeripheral struct {
	adapter *bluetooth.Adapter
	name    string
	log     logrus.FieldLogger

	mu      sync.Mutex
	handler func(Event)
	adv     *bluetooth.Advertisement
	handles map[string]*bluetooth.Characteristic
}

// NewBluetoothPeripheral wraps the default adapter; name is the advertised
// local name.
func NewBluetoothPeripheral(name string, log logrus.FieldLogger) *BluetoothPeripheral {
	return &BluetoothPeripheral{
		adapter: bluetooth.DefaultAdapter,
		name:    name,
		log:     log.WithField("transport", "bluetooth-peripheral"),
		handler: func(Event) {},
		handles: make(map[string]*bluetooth.Characteristic),
	}
}

// Enable powers on the adapter and routes connection changes to the handler.
func (b *BluetoothPeripheral) Enable() error {
	if err := b.adapter.Enable(); err != nil {
		return &TransportError{Op: "enable", Err: err}
	}
	b.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addr := device.Address.String()
		if connected {
			b.post(PeerConnected{Address: addr})
			return
		}
		b.post(PeerDisconnected{Address: addr})
	})
	return nil
}

func (b *BluetoothPeripheral) SetHandler(h func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

func (b *BluetoothPeripheral) post(ev Event) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	h(ev)
}

func (b *BluetoothPeripheral) AddService(def ServiceDefinition) error {
	svcUUID, err := bluetoothUUID(def.UUID)
	if err != nil {
		return fmt.Errorf("service uuid: %w", err)
	}

	configs := make([]bluetooth.CharacteristicConfig, 0, len(def.Characteristics))
	handles := make(map[string]*bluetooth.Characteristic, len(def.Characteristics))
	for _, info := range def.Characteristics {
		charUUID, err := bluetoothUUID(info.UUID)
		if err != nil {
			return fmt.Errorf("characteristic uuid: %w", err)
		}
		handle := new(bluetooth.Characteristic)
		handles[info.UUID] = handle

		cfg := bluetooth.CharacteristicConfig{
			Handle: handle,
			UUID:   charUUID,
			Flags:  permissions(info.Properties),
		}
		if info.Properties.Has(PropWrite | PropWriteNoResponse) {
			id := info.UUID
			cfg.WriteEvent = func(_ bluetooth.Connection, _ int, value []byte) {
				data := make([]byte, len(value))
				copy(data, value)
				b.post(CharacteristicWritten{Characteristic: id, Data: data})
			}
		}
		configs = append(configs, cfg)
	}

	if err := b.adapter.AddService(&bluetooth.Service{UUID: svcUUID, Characteristics: configs}); err != nil {
		return err
	}

	adv := b.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    b.name,
		ServiceUUIDs: []bluetooth.UUID{svcUUID},
	}); err != nil {
		return fmt.Errorf("configure advertisement: %w", err)
	}

	b.mu.Lock()
	b.adv = adv
	b.handles = handles
	b.mu.Unlock()
	return nil
}

func (b *BluetoothPeripheral) StartAdvertising() error {
	b.mu.Lock()
	adv := b.adv
	b.mu.Unlock()
	if adv == nil {
		return fmt.Errorf("no service registered")
	}
	return adv.Start()
}

func (b *BluetoothPeripheral) StopAdvertising() error {
	b.mu.Lock()
	adv := b.adv
	b.mu.Unlock()
	if adv == nil {
		return nil
	}
	return adv.Stop()
}

func (b *BluetoothPeripheral) Notify(characteristic string, data []byte) error {
	b.mu.Lock()
	handle, ok := b.handles[characteristic]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown characteristic %s", characteristic)
	}
	_, err := handle.Write(data)
	return err
}

func permissions(p Property) bluetooth.CharacteristicPermissions {
	var perm bluetooth.CharacteristicPermissions
	if p.Has(PropRead) {
		perm |= bluetooth.CharacteristicReadPermission
	}
	if p.Has(PropWrite) {
		perm |= bluetooth.CharacteristicWritePermission
	}
	if p.Has(PropWriteNoResponse) {
		perm |= bluetooth.CharacteristicWriteWithoutResponsePermission
	}
	if p.Has(PropNotify) {
		perm |= bluetooth.CharacteristicNotifyPermission
	}
	if p.Has(PropIndicate) {
		perm |= bluetooth.CharacteristicIndicatePermission
	}
	return perm
}

var _ PeripheralTransport = (*BluetoothPeripheral)(nil)
