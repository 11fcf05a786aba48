package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/chaz8081/alcoholmeter/internal/ble/protocol"
)

// CentralState is the client-side connection lifecycle.
type CentralState int

const (
	CentralIdle CentralState = iota
	CentralScanning
	CentralDeviceFound
	CentralConnecting
	CentralConnected
	CentralDiscoveringServices
	CentralServiceBound
	CentralCharacteristicsBound
	CentralReady
	CentralDisconnected
	CentralError
)

var centralStateNames = [...]string{
	CentralIdle:                 "idle",
	CentralScanning:             "scanning",
	CentralDeviceFound:          "device_found",
	CentralConnecting:           "connecting",
	CentralConnected:            "connected",
	CentralDiscoveringServices:  "discovering_services",
	CentralServiceBound:         "service_bound",
	CentralCharacteristicsBound: "characteristics_bound",
	CentralReady:                "ready",
	CentralDisconnected:         "disconnected",
	CentralError:                "error",
}

func (s CentralState) String() string {
	if s >= 0 && int(s) < len(centralStateNames) {
		return centralStateNames[s]
	}
	return fmt.Sprintf("central_state(%d)", int(s))
}

// linked reports whether the transport may hold a connection in state s.
func (s CentralState) linked() bool {
	return s >= CentralConnecting && s <= CentralReady
}

// CentralOptions configures a Central.
type CentralOptions struct {
	NamePrefix string // advertised name prefix to connect to
	Layout     Layout
	Codec      *protocol.Codec // nil means protocol.DefaultCodec
	Frames     FrameCounter
}

// Central drives discovery, connection and GATT binding against one meter,
// then exchanges framed messages with it. All transitions happen in Handle,
// one event at a time; observers run after the session lock is released.
type Central struct {
	transport CentralTransport
	opts      CentralOptions
	codec     protocol.Codec
	log       logrus.FieldLogger
	queue     *eventQueue

	mu           sync.Mutex
	state        CentralState
	err          error
	device       string
	deviceName   string
	service      string
	command      CharacteristicInfo
	data         CharacteristicInfo
	withResponse bool
	tearingDown  bool

	onState   []func(from, to CentralState)
	onMessage []func(protocol.Message)
}

// NewCentral builds an idle session and installs itself as the transport's
// event handler.
func NewCentral(t CentralTransport, opts CentralOptions, log logrus.FieldLogger) *Central {
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
	c := &Central{
		transport: t,
		opts:      opts,
		codec:     codec,
		log:       log.WithField("role", "central"),
		queue:     newEventQueue(),
	}
	t.SetHandler(c.Post)
	return c
}

// OnStateChange registers fn to observe every transition.
func (c *Central) OnStateChange(fn func(from, to CentralState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// OnMessage registers fn to receive every decoded notification.
func (c *Central) OnMessage(fn func(protocol.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = append(c.onMessage, fn)
}

// Post queues a transport event for Run. It never blocks.
func (c *Central) Post(ev Event) {
	c.queue.push(ev)
}

// Run applies posted events in arrival order until ctx is done.
func (c *Central) Run(ctx context.Context) error {
	return c.queue.run(ctx, c.Handle)
}

// State returns the current lifecycle state.
func (c *Central) State() CentralState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the failure that put the session in Error or Disconnected.
func (c *Central) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Device returns the address and name of the bound device, if any.
func (c *Central) Device() (address, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device, c.deviceName
}

// Start begins scanning. It is valid from Idle, Disconnected and Error and
// discards every handle from a previous connection first.
func (c *Central) Start() error {
	var cbs callbacks
	c.mu.Lock()
	err := c.startLocked(&cbs)
	c.mu.Unlock()
	cbs.run()
	return err
}

func (c *Central) startLocked(cbs *callbacks) error {
	switch c.state {
	case CentralIdle, CentralDisconnected, CentralError:
	default:
		return fmt.Errorf("%w: start while %s", ErrBusy, c.state)
	}
	if c.tearingDown {
		return fmt.Errorf("%w: previous connection still closing", ErrBusy)
	}

	c.resetLocked()
	c.err = nil
	if err := c.transport.StartScan(); err != nil {
		c.err = &TransportError{Op: "scan", Err: err}
		c.setState(CentralError, cbs)
		return c.err
	}
	c.log.WithField("prefix", c.opts.NamePrefix).Info("scanning")
	c.setState(CentralScanning, cbs)
	return nil
}

// Stop abandons any scan or connection and returns to Idle. Stopping an idle
// session is a no-op.
func (c *Central) Stop() error {
	var cbs callbacks
	c.mu.Lock()
	switch {
	case c.state == CentralIdle:
		c.mu.Unlock()
		return nil
	case c.state == CentralScanning:
		if err := c.transport.StopScan(); err != nil {
			c.log.WithError(err).Warn("stop scan failed")
		}
	case c.state.linked():
		c.disconnectLocked()
	}
	c.resetLocked()
	c.setState(CentralIdle, &cbs)
	c.mu.Unlock()
	cbs.run()
	return nil
}

// Send encodes a frame and writes it to the command characteristic using
// the write mode recorded at discovery.
func (c *Central) Send(cmd protocol.Command, dir protocol.Direction, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CentralReady {
		return fmt.Errorf("%w: %s", ErrNotReady, c.state)
	}
	frame, err := c.codec.Encode(cmd, dir, payload)
	if err != nil {
		c.opts.Frames.CountFrame(FrameOut, err)
		return err
	}
	if err := c.transport.WriteCharacteristic(c.command.UUID, frame, c.withResponse); err != nil {
		terr := &TransportError{Op: "write", Err: err}
		c.opts.Frames.CountFrame(FrameOut, terr)
		return terr
	}
	c.opts.Frames.CountFrame(FrameOut, nil)
	c.log.WithFields(logrus.Fields{"command": cmd, "direction": dir}).Debug("frame sent")
	return nil
}

// Handle applies one transport event.
func (c *Central) Handle(ev Event) {
	var cbs callbacks
	c.mu.Lock()
	switch ev := ev.(type) {
	case DeviceDiscovered:
		c.deviceDiscovered(ev, &cbs)
	case ScanFinished:
		c.scanFinished(ev, &cbs)
	case Connected:
		c.connected(ev, &cbs)
	case Disconnected:
		c.disconnected(ev, &cbs)
	case ServicesDiscovered:
		c.servicesDiscovered(ev, &cbs)
	case CharacteristicsDiscovered:
		c.characteristicsDiscovered(ev, &cbs)
	case DescriptorWritten:
		c.descriptorWritten(ev, &cbs)
	case Notification:
		c.notification(ev, &cbs)
	case TransportFailed:
		c.transportFailed(ev, &cbs)
	default:
		c.log.Debugf("ignoring %T", ev)
	}
	c.mu.Unlock()
	cbs.run()
}

func (c *Central) deviceDiscovered(ev DeviceDiscovered, cbs *callbacks) {
	if c.state != CentralScanning {
		return
	}
	if !ev.LowEnergy || !strings.HasPrefix(ev.Name, c.opts.NamePrefix) {
		c.log.WithFields(logrus.Fields{"address": ev.Address, "name": ev.Name}).Debug("skipping device")
		return
	}

	c.device, c.deviceName = ev.Address, ev.Name
	c.setState(CentralDeviceFound, cbs)
	c.log.WithFields(logrus.Fields{"address": ev.Address, "name": ev.Name}).Info("device found")
	if err := c.transport.StopScan(); err != nil {
		c.log.WithError(err).Warn("stop scan failed")
	}

	c.setState(CentralConnecting, cbs)
	if err := c.transport.Connect(ev.Address); err != nil {
		c.fail(&TransportError{Op: "connect", Err: err}, cbs)
	}
}

func (c *Central) scanFinished(ev ScanFinished, cbs *callbacks) {
	if c.state != CentralScanning {
		return
	}
	if ev.Err != nil {
		c.fail(&TransportError{Op: "scan", Err: ev.Err}, cbs)
		return
	}
	c.fail(ErrDeviceNotFound, cbs)
}

func (c *Central) connected(ev Connected, cbs *callbacks) {
	if c.state != CentralConnecting || ev.Address != c.device {
		c.log.WithField("address", ev.Address).Debug("ignoring stale connect")
		return
	}
	c.log.WithField("address", ev.Address).Info("connected")
	c.setState(CentralConnected, cbs)

	c.setState(CentralDiscoveringServices, cbs)
	if err := c.transport.DiscoverServices(); err != nil {
		c.fail(&TransportError{Op: "discover services", Err: err}, cbs)
	}
}

func (c *Central) disconnected(ev Disconnected, cbs *callbacks) {
	if c.device != "" && ev.Address != "" && ev.Address != c.device {
		c.log.WithField("address", ev.Address).Debug("ignoring stale disconnect")
		return
	}
	c.tearingDown = false
	if !c.state.linked() {
		return
	}

	c.err = nil
	if ev.Err != nil {
		c.err = &TransportError{Op: "link", Err: ev.Err}
	}
	c.log.WithField("address", c.device).Info("disconnected")
	c.resetLocked()
	c.setState(CentralDisconnected, cbs)
}

func (c *Central) servicesDiscovered(ev ServicesDiscovered, cbs *callbacks) {
	if c.state != CentralDiscoveringServices {
		return
	}
	if ev.Err != nil {
		c.fail(&TransportError{Op: "discover services", Err: ev.Err}, cbs)
		return
	}

	want := c.opts.Layout.Service
	for _, svc := range ev.Services {
		if !sameUUID(svc, want) {
			continue
		}
		c.service = svc
		c.setState(CentralServiceBound, cbs)
		if err := c.transport.DiscoverCharacteristics(svc); err != nil {
			c.fail(&TransportError{Op: "discover characteristics", Err: err}, cbs)
		}
		return
	}
	c.fail(fmt.Errorf("%w: %s", ErrServiceNotFound, want), cbs)
}

func (c *Central) characteristicsDiscovered(ev CharacteristicsDiscovered, cbs *callbacks) {
	if c.state != CentralServiceBound || !sameUUID(ev.Service, c.service) {
		return
	}
	if ev.Err != nil {
		c.fail(&TransportError{Op: "discover characteristics", Err: ev.Err}, cbs)
		return
	}

	cmd, data, ok := selectCharacteristics(ev.Characteristics)
	if !ok {
		c.fail(fmt.Errorf("%w: need one writable and one notify or read characteristic in %s",
			ErrCharacteristicNotFound, c.service), cbs)
		return
	}
	c.command, c.data = cmd, data
	c.withResponse = cmd.Properties.Has(PropWrite)
	c.log.WithFields(logrus.Fields{
		"command":       cmd.UUID,
		"data":          data.UUID,
		"with_response": c.withResponse,
	}).Debug("characteristics bound")
	c.setState(CentralCharacteristicsBound, cbs)

	if !data.Properties.Has(PropNotify|PropIndicate) || !data.HasDescriptor(CCCDUUID) {
		c.setReady(cbs)
		return
	}
	value := NotifyEnable
	if !data.Properties.Has(PropNotify) {
		value = IndicateEnable
	}
	if err := c.transport.WriteDescriptor(data.UUID, CCCDUUID, value); err != nil {
		c.fail(&TransportError{Op: "enable notifications", Err: err}, cbs)
	}
}

func (c *Central) descriptorWritten(ev DescriptorWritten, cbs *callbacks) {
	if c.state != CentralCharacteristicsBound || !sameUUID(ev.Characteristic, c.data.UUID) {
		return
	}
	if ev.Err != nil {
		c.fail(&TransportError{Op: "enable notifications", Err: ev.Err}, cbs)
		return
	}
	c.setReady(cbs)
}

func (c *Central) setReady(cbs *callbacks) {
	c.log.WithField("address", c.device).Info("ready")
	c.setState(CentralReady, cbs)
}

func (c *Central) notification(ev Notification, cbs *callbacks) {
	if c.state != CentralReady || !sameUUID(ev.Characteristic, c.data.UUID) {
		c.log.WithField("characteristic", ev.Characteristic).Debug("ignoring notification")
		return
	}
	msg, err := c.codec.Decode(ev.Data)
	c.opts.Frames.CountFrame(FrameIn, err)
	if err != nil {
		c.log.WithError(err).WithField("frame", fmt.Sprintf("% x", ev.Data)).Warn("dropping malformed frame")
		return
	}
	for _, fn := range c.onMessage {
		cbs.add(func() { fn(msg) })
	}
}

func (c *Central) transportFailed(ev TransportFailed, cbs *callbacks) {
	switch c.state {
	case CentralIdle, CentralDisconnected, CentralError:
		c.log.WithError(ev.Err).WithField("op", ev.Op).Debug("transport failure while inactive")
		return
	}
	c.fail(&TransportError{Op: ev.Op, Err: ev.Err}, cbs)
}

// fail records err, tears down whatever the transport holds and enters
// Error.
func (c *Central) fail(err error, cbs *callbacks) {
	c.err = err
	c.log.WithError(err).Warn("central session failed")
	switch {
	case c.state == CentralScanning:
		if serr := c.transport.StopScan(); serr != nil {
			c.log.WithError(serr).Warn("stop scan failed")
		}
	case c.state.linked():
		c.disconnectLocked()
	}
	c.resetLocked()
	c.setState(CentralError, cbs)
}

func (c *Central) disconnectLocked() {
	if err := c.transport.Disconnect(); err != nil {
		c.log.WithError(err).Debug("disconnect")
		return
	}
	c.tearingDown = true
}

func (c *Central) resetLocked() {
	c.device, c.deviceName, c.service = "", "", ""
	c.command, c.data = CharacteristicInfo{}, CharacteristicInfo{}
	c.withResponse = false
}

func (c *Central) setState(to CentralState, cbs *callbacks) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("state change")
	for _, fn := range c.onState {
		cbs.add(func() { fn(from, to) })
	}
}

// selectCharacteristics picks the command characteristic (first writable)
// and the data characteristic (first other notify/indicate one, else first
// other readable one). A single characteristic serves both only when nothing
// else qualifies.
func selectCharacteristics(chars []CharacteristicInfo) (cmd, data CharacteristicInfo, ok bool) {
	cmdIdx := -1
	for i, ch := range chars {
		if ch.Properties.Has(PropWrite | PropWriteNoResponse) {
			cmdIdx = i
			break
		}
	}
	if cmdIdx < 0 {
		return cmd, data, false
	}

	dataIdx := -1
	for _, want := range []Property{PropNotify | PropIndicate, PropRead} {
		for i, ch := range chars {
			if i != cmdIdx && ch.Properties.Has(want) {
				dataIdx = i
				break
			}
		}
		if dataIdx >= 0 {
			break
		}
	}
	if dataIdx < 0 && chars[cmdIdx].Properties.Has(PropNotify|PropIndicate|PropRead) {
		dataIdx = cmdIdx
	}
	if dataIdx < 0 {
		return cmd, data, false
	}
	return chars[cmdIdx], chars[dataIdx], true
}
