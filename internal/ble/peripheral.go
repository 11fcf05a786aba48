package ble

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/chaz8081/alcoholmeter/internal/ble/protocol"
)

// PeripheralState is the device-side connection lifecycle.
type PeripheralState int

const (
	PeripheralIdle PeripheralState = iota
	PeripheralAdvertising
	PeripheralConnected
	PeripheralServicesBound
	PeripheralDisconnected
)

func (s PeripheralState) String() string {
	switch s {
	case PeripheralIdle:
		return "idle"
	case PeripheralAdvertising:
		return "advertising"
	case PeripheralConnected:
		return "connected"
	case PeripheralServicesBound:
		return "services_bound"
	case PeripheralDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("peripheral_state(%d)", int(s))
	}
}

// PeripheralOptions configures a Peripheral.
type PeripheralOptions struct {
	Layout Layout
	Codec  *protocol.Codec // nil means protocol.DefaultCodec
	Frames FrameCounter
}

// Peripheral serves the meter's GATT service. It advertises whenever no
// central is connected, decodes command writes for its observers and
// notifies outgoing frames to the connected central.
type Peripheral struct {
	transport PeripheralTransport
	opts      PeripheralOptions
	codec     protocol.Codec
	log       logrus.FieldLogger
	queue     *eventQueue

	mu         sync.Mutex
	state      PeripheralState
	registered bool
	central    string
	rx, tx     string

	onState   []func(from, to PeripheralState)
	onMessage []func(protocol.Message)
}

// NewPeripheral builds an idle session and installs itself as the
// transport's event handler.
func NewPeripheral(t PeripheralTransport, opts PeripheralOptions, log logrus.FieldLogger) *Peripheral {
	if opts.Layout == (Layout{}) {
		opts.Layout = DefaultLayout()
	}
	codec := protocol.DefaultCodec
	if opts.Codec != nil {
		codec = *opts.Codec
	}
	if opts.Frames == nil {
		opts.Frames = nopCounter{}
	}
	p := &Peripheral{
		transport: t,
		opts:      opts,
		codec:     codec,
		log:       log.WithField("role", "peripheral"),
		queue:     newEventQueue(),
	}
	t.SetHandler(p.Post)
	return p
}

// OnStateChange registers fn to observe every transition.
func (p *Peripheral) OnStateChange(fn func(from, to PeripheralState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = append(p.onState, fn)
}

// OnMessage registers fn to receive every decoded command frame.
func (p *Peripheral) OnMessage(fn func(protocol.Message)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMessage = append(p.onMessage, fn)
}

// Post queues a transport event for Run. It never blocks.
func (p *Peripheral) Post(ev Event) {
	p.queue.push(ev)
}

// Run applies posted events in arrival order until ctx is done.
func (p *Peripheral) Run(ctx context.Context) error {
	return p.queue.run(ctx, p.Handle)
}

// State returns the current lifecycle state.
func (p *Peripheral) State() PeripheralState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Central returns the address of the connected central, if any.
func (p *Peripheral) Central() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.central
}

// Start registers the service on first use and begins advertising.
func (p *Peripheral) Start() error {
	var cbs callbacks
	p.mu.Lock()
	err := p.startLocked(&cbs)
	p.mu.Unlock()
	cbs.run()
	return err
}

func (p *Peripheral) startLocked(cbs *callbacks) error {
	if p.state != PeripheralIdle {
		return fmt.Errorf("%w: start while %s", ErrBusy, p.state)
	}
	if !p.registered {
		if err := p.transport.AddService(p.opts.Layout.Definition()); err != nil {
			return &TransportError{Op: "add service", Err: err}
		}
		p.registered = true
	}
	if err := p.transport.StartAdvertising(); err != nil {
		return &TransportError{Op: "advertise", Err: err}
	}
	p.log.WithField("service", p.opts.Layout.Service).Info("advertising")
	p.setState(PeripheralAdvertising, cbs)
	return nil
}

// Stop ends advertising and forgets the current central. Stopping an idle
// session is a no-op.
func (p *Peripheral) Stop() error {
	var cbs callbacks
	p.mu.Lock()
	if p.state == PeripheralIdle {
		p.mu.Unlock()
		return nil
	}
	if p.state == PeripheralAdvertising {
		if err := p.transport.StopAdvertising(); err != nil {
			p.log.WithError(err).Warn("stop advertising failed")
		}
	}
	p.resetLocked()
	p.setState(PeripheralIdle, &cbs)
	p.mu.Unlock()
	cbs.run()
	return nil
}

// Notify encodes a frame and pushes it to the connected central. With no
// central bound the frame is dropped and Notify returns nil.
func (p *Peripheral) Notify(cmd protocol.Command, dir protocol.Direction, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notifyLocked(cmd, dir, payload)
}

// SendStatus notifies text as one or more Status frames.
func (p *Peripheral) SendStatus(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, part := range protocol.SplitStatus(text) {
		if err := p.notifyLocked(protocol.Status, protocol.Write, []byte(part)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Peripheral) notifyLocked(cmd protocol.Command, dir protocol.Direction, payload []byte) error {
	if p.state != PeripheralServicesBound {
		p.log.WithField("command", cmd).Debug("no central, dropping frame")
		return nil
	}
	frame, err := p.codec.Encode(cmd, dir, payload)
	if err != nil {
		p.opts.Frames.CountFrame(FrameOut, err)
		return err
	}
	if err := p.transport.Notify(p.tx, frame); err != nil {
		terr := &TransportError{Op: "notify", Err: err}
		p.opts.Frames.CountFrame(FrameOut, terr)
		return terr
	}
	p.opts.Frames.CountFrame(FrameOut, nil)
	return nil
}

// Handle applies one transport event.
func (p *Peripheral) Handle(ev Event) {
	var cbs callbacks
	p.mu.Lock()
	switch ev := ev.(type) {
	case PeerConnected:
		p.centralConnected(ev, &cbs)
	case PeerDisconnected:
		p.centralDisconnected(ev, &cbs)
	case CharacteristicWritten:
		p.characteristicWritten(ev, &cbs)
	default:
		p.log.Debugf("ignoring %T", ev)
	}
	p.mu.Unlock()
	cbs.run()
}

func (p *Peripheral) centralConnected(ev PeerConnected, cbs *callbacks) {
	if p.state != PeripheralAdvertising && p.state != PeripheralDisconnected {
		p.log.WithField("address", ev.Address).Debug("ignoring connect")
		return
	}
	if p.state == PeripheralAdvertising {
		if err := p.transport.StopAdvertising(); err != nil {
			p.log.WithError(err).Warn("stop advertising failed")
		}
	}
	p.central = ev.Address
	p.log.WithField("address", ev.Address).Info("central connected")
	p.setState(PeripheralConnected, cbs)

	p.rx, p.tx = p.opts.Layout.RX, p.opts.Layout.TX
	p.setState(PeripheralServicesBound, cbs)
}

func (p *Peripheral) centralDisconnected(ev PeerDisconnected, cbs *callbacks) {
	if p.state != PeripheralConnected && p.state != PeripheralServicesBound {
		return
	}
	p.log.WithField("address", ev.Address).Info("central disconnected")
	p.resetLocked()
	p.setState(PeripheralDisconnected, cbs)

	if err := p.transport.StartAdvertising(); err != nil {
		p.log.WithError(err).Error("re-advertise failed")
		return
	}
	p.setState(PeripheralAdvertising, cbs)
}

func (p *Peripheral) characteristicWritten(ev CharacteristicWritten, cbs *callbacks) {
	if p.state != PeripheralServicesBound || !sameUUID(ev.Characteristic, p.rx) {
		p.log.WithField("characteristic", ev.Characteristic).Debug("ignoring write")
		return
	}
	msg, err := p.codec.Decode(ev.Data)
	p.opts.Frames.CountFrame(FrameIn, err)
	if err != nil {
		p.log.WithError(err).WithField("frame", fmt.Sprintf("% x", ev.Data)).Warn("dropping malformed frame")
		return
	}
	p.log.WithField("message", msg).Debug("frame received")
	for _, fn := range p.onMessage {
		cbs.add(func() { fn(msg) })
	}
}

func (p *Peripheral) resetLocked() {
	p.central, p.rx, p.tx = "", "", ""
}

func (p *Peripheral) setState(to PeripheralState, cbs *callbacks) {
	from := p.state
	if from == to {
		return
	}
	p.state = to
	p.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("state change")
	for _, fn := range p.onState {
		cbs.add(func() { fn(from, to) })
	}
}
