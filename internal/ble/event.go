package ble

import (
	"context"
	"sync"
)

// Event is a transport callback delivered to a session.
type Event interface {
	event()
}

// Central-role events.
type (
	// DeviceDiscovered is one advertisement seen while scanning.
	DeviceDiscovered struct {
		Address   string
		Name      string
		LowEnergy bool
	}
	// ScanFinished ends a scan. Err is nil when the scan timed out.
	ScanFinished struct {
		Err error
	}
	Connected struct {
		Address string
	}
	Disconnected struct {
		Address string
		Err     error
	}
	ServicesDiscovered struct {
		Services []string
		Err      error
	}
	CharacteristicsDiscovered struct {
		Service         string
		Characteristics []CharacteristicInfo
		Err             error
	}
	DescriptorWritten struct {
		Characteristic string
		Err            error
	}
	Notification struct {
		Characteristic string
		Data           []byte
	}
	// TransportFailed reports an asynchronous stack failure such as a failed
	// connect or write.
	TransportFailed struct {
		Op  string
		Err error
	}
)

// Peripheral-role events.
type (
	PeerConnected struct {
		Address string
	}
	PeerDisconnected struct {
		Address string
	}
	CharacteristicWritten struct {
		Characteristic string
		Data           []byte
	}
)

func (DeviceDiscovered) event()          {}
func (ScanFinished) event()              {}
func (Connected) event()                 {}
func (Disconnected) event()              {}
func (ServicesDiscovered) event()        {}
func (CharacteristicsDiscovered) event() {}
func (DescriptorWritten) event()         {}
func (Notification) event()              {}
func (TransportFailed) event()           {}
func (PeerConnected) event()             {}
func (PeerDisconnected) event()          {}
func (CharacteristicWritten) event()     {}

// eventQueue is an unbounded FIFO. Posting never blocks, so a transport may
// post from inside a call made by the session itself.
type eventQueue struct {
	mu    sync.Mutex
	items []Event
	ready chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// run feeds queued events to handle in arrival order until ctx is done.
func (q *eventQueue) run(ctx context.Context, handle func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.ready:
			for _, ev := range q.drain() {
				handle(ev)
			}
		}
	}
}

// callbacks collects observer calls made while a session holds its lock so
// they can run, in order, after it is released.
type callbacks []func()

func (c *callbacks) add(fn func()) { *c = append(*c, fn) }

func (c callbacks) run() {
	for _, fn := range c {
		fn()
	}
}
