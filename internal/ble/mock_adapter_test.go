package ble

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// call is one recorded transport invocation.
type call struct {
	op   string
	arg  string
	data []byte
	flag bool
}

// mockCentral records every call; tests answer with synthetic events through
// the installed handler.
type mockCentral struct {
	mu      sync.Mutex
	handler func(Event)
	calls   []call
	fail    map[string]error
}

func newMockCentral() *mockCentral {
	return &mockCentral{fail: make(map[string]error)}
}

func (m *mockCentral) record(op, arg string, data []byte, flag bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cp []byte
	if data != nil {
		cp = append([]byte(nil), data...)
	}
	m.calls = append(m.calls, call{op: op, arg: arg, data: cp, flag: flag})
	return m.fail[op]
}

func (m *mockCentral) SetHandler(h func(Event)) { m.handler = h }
func (m *mockCentral) StartScan() error { return m.record("scan", "", nil, false) }
func (m *mockCentral) StopScan() error { return m.record("stop-scan", "", nil, false) }
func (m *mockCentral) Connect(addr string) error {
	return m.record("connect", addr, nil, false)
}
func (m *mockCentral) Disconnect() error { return m.record("disconnect", "", nil, false) }
func (m *mockCentral) DiscoverServices() error { return m.record("services", "", nil, false) }
func (m *mockCentral) DiscoverCharacteristics(svc string) error {
	return m.record("characteristics", svc, nil, false)
}
func (m *mockCentral) WriteDescriptor(char, desc string, value []byte) error {
	return m.record("descriptor", char, value, false)
}
func (m *mockCentral) WriteCharacteristic(char string, data []byte, withResponse bool) error {
	return m.record("write", char, data, withResponse)
}

// ops returns the recorded operation names in order.
func (m *mockCentral) ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.op
	}
	return out
}

// find returns every recorded call of op.
func (m *mockCentral) find(op string) []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []call
	for _, c := range m.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockCentral) failOn(op string, err error) {
	m.mu.Lock()
	m.fail[op] = err
	m.mu.Unlock()
}

// mockPeripheral records registrations, advertising and notifications.
type mockPeripheral struct {
	mu          sync.Mutex
	handler     func(Event)
	services    []ServiceDefinition
	advertising bool
	advStarts   int
	notified    []call
	fail        map[string]error
}

func newMockPeripheral() *mockPeripheral {
	return &mockPeripheral{fail: make(map[string]error)}
}

func (m *mockPeripheral) SetHandler(h func(Event)) { m.handler = h }

func (m *mockPeripheral) AddService(svc ServiceDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["add"]; err != nil {
		return err
	}
	m.services = append(m.services, svc)
	return nil
}

func (m *mockPeripheral) StartAdvertising() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["advertise"]; err != nil {
		return err
	}
	m.advertising = true
	m.advStarts++
	return nil
}

func (m *mockPeripheral) StopAdvertising() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advertising = false
	return nil
}

func (m *mockPeripheral) Notify(char string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["notify"]; err != nil {
		return err
	}
	m.notified = append(m.notified, call{op: "notify", arg: char, data: append([]byte(nil), data...)})
	return nil
}

func (m *mockPeripheral) isAdvertising() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advertising
}

func (m *mockPeripheral) notifications() []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]call(nil), m.notified...)
}

// countingFrames records FrameCounter calls.
type countingFrames struct {
	mu     sync.Mutex
	ok     map[string]int
	failed map[string]int
}

func newCountingFrames() *countingFrames {
	return &countingFrames{ok: map[string]int{}, failed: map[string]int{}}
}

func (c *countingFrames) CountFrame(direction string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed[direction]++
		return
	}
	c.ok[direction]++
}

var (
	_ CentralTransport    = (*mockCentral)(nil)
	_ PeripheralTransport = (*mockPeripheral)(nil)
)
