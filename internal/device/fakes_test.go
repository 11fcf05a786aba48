package device

import (
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chaz8081/alcoholmeter/internal/ble"
	"github.com/chaz8081/alcoholmeter/internal/ble/protocol"
	"github.com/chaz8081/alcoholmeter/internal/meter"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type sent struct {
	cmd     protocol.Command
	dir     protocol.Direction
	payload []byte
}

type fakeNotifier struct {
	frames   []sent
	statuses []string
	err      error
}

func (f *fakeNotifier) Notify(cmd protocol.Command, dir protocol.Direction, payload []byte) error {
	f.frames = append(f.frames, sent{cmd, dir, payload})
	return f.err
}

func (f *fakeNotifier) SendStatus(text string) error {
	f.statuses = append(f.statuses, text)
	return f.err
}

type fakeController struct {
	calls []string
	err   error
}

func (f *fakeController) Start() error { f.calls = append(f.calls, "start"); return f.err }
func (f *fakeController) Stop() error { f.calls = append(f.calls, "stop"); return f.err }
func (f *fakeController) Calibrate() error { f.calls = append(f.calls, "calibrate"); return f.err }
func (f *fakeController) SendBaseline() { f.calls = append(f.calls, "r0") }
func (f *fakeController) ReadChannel(ch int) error {
	f.calls = append(f.calls, "adc"+string(rune('0'+ch)))
	return f.err
}

// stepScheduler holds timers until the test fires them.
type stepScheduler struct {
	mu     sync.Mutex
	timers []*stepTimer
}

type stepTimer struct {
	fn      func()
	once    bool
	stopped bool
}

func (s *stepScheduler) Every(_ time.Duration, fn func()) meter.Cancel {
	return s.add(&stepTimer{fn: fn})
}

func (s *stepScheduler) After(_ time.Duration, fn func()) meter.Cancel {
	return s.add(&stepTimer{fn: fn, once: true})
}

func (s *stepScheduler) add(t *stepTimer) meter.Cancel {
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		t.stopped = true
		s.mu.Unlock()
	}
}

// fire runs each live timer once.
func (s *stepScheduler) fire() {
	s.mu.Lock()
	var due []func()
	for _, t := range s.timers {
		if t.stopped {
			continue
		}
		due = append(due, t.fn)
		if t.once {
			t.stopped = true
		}
	}
	s.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}

// link connects a central session to a peripheral session in memory. Every
// delivery goes through the receiving session's non-blocking Post.
type link struct {
	mu         sync.Mutex
	layout     ble.Layout
	toCentral  func(ble.Event)
	toPeriph   func(ble.Event)
	deviceName string
}

func newLink() *link {
	return &link{layout: ble.DefaultLayout(), deviceName: "AlcoholMeter"}
}

func (l *link) central() func(ble.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.toCentral
}

func (l *link) peripheral() func(ble.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.toPeriph
}

type linkCentral struct{ *link }

func (c linkCentral) SetHandler(h func(ble.Event)) {
	c.mu.Lock()
	c.toCentral = h
	c.mu.Unlock()
}

func (c linkCentral) StartScan() error {
	c.central()(ble.DeviceDiscovered{Address: "device", Name: c.deviceName, LowEnergy: true})
	return nil
}

func (c linkCentral) StopScan() error { return nil }

func (c linkCentral) Connect(addr string) error {
	c.central()(ble.Connected{Address: addr})
	c.peripheral()(ble.PeerConnected{Address: "client"})
	return nil
}

func (c linkCentral) Disconnect() error {
	c.central()(ble.Disconnected{Address: "device"})
	c.peripheral()(ble.PeerDisconnected{Address: "client"})
	return nil
}

func (c linkCentral) DiscoverServices() error {
	c.central()(ble.ServicesDiscovered{Services: []string{c.layout.Service}})
	return nil
}

func (c linkCentral) DiscoverCharacteristics(svc string) error {
	c.central()(ble.CharacteristicsDiscovered{Service: svc, Characteristics: c.layout.Definition().Characteristics})
	return nil
}

func (c linkCentral) WriteDescriptor(char, _ string, _ []byte) error {
	c.central()(ble.DescriptorWritten{Characteristic: char})
	return nil
}

func (c linkCentral) WriteCharacteristic(char string, data []byte, _ bool) error {
	c.peripheral()(ble.CharacteristicWritten{Characteristic: char, Data: append([]byte(nil), data...)})
	return nil
}

type linkPeripheral struct{ *link }

func (p linkPeripheral) SetHandler(h func(ble.Event)) {
	p.mu.Lock()
	p.toPeriph = h
	p.mu.Unlock()
}

func (p linkPeripheral) AddService(ble.ServiceDefinition) error { return nil }
func (p linkPeripheral) StartAdvertising() error { return nil }
func (p linkPeripheral) StopAdvertising() error { return nil }

func (p linkPeripheral) Notify(char string, data []byte) error {
	p.central()(ble.Notification{Characteristic: char, Data: append([]byte(nil), data...)})
	return nil
}

var (
	_ ble.CentralTransport    = linkCentral{}
	_ ble.PeripheralTransport = linkPeripheral{}
)
