package viewer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/chaz8081/alcoholmeter/internal/ble"
	"github.com/chaz8081/alcoholmeter/internal/ble/protocol"
	"github.com/chaz8081/alcoholmeter/internal/meter"
)

// Status lines the viewer shows for link changes.
const (
	StatusConnecting   = "Status: Connecting"
	StatusReady        = "Status: Ready"
	StatusDisconnected = "Status: Disconnected"
)

// Sender writes a frame to the meter.
type Sender interface {
	Send(cmd protocol.Command, dir protocol.Direction, payload []byte) error
}

// Viewer turns console commands into frames and meter frames into display
// updates.
type Viewer struct {
	send    Sender
	display *Display
	log     logrus.FieldLogger

	mu        sync.Mutex
	measuring bool
}

// New creates a Viewer.
func New(send Sender, display *Display, log logrus.FieldLogger) *Viewer {
	return &Viewer{send: send, display: display, log: log}
}

// Measuring reports whether the viewer believes a measurement is running.
func (v *Viewer) Measuring() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.measuring
}

// Execute sends the frame for cmd. Calibrate is refused locally while a
// measurement is running.
func (v *Viewer) Execute(cmd Command) error {
	switch cmd.Action {
	case ActionStart:
		if err := v.write(protocol.Start); err != nil {
			return err
		}
		v.setMeasuring(true)
	case ActionStop:
		if err := v.write(protocol.Stop); err != nil {
			return err
		}
		v.setMeasuring(false)
	case ActionCalibrate:
		if v.Measuring() {
			v.display.Warn(meter.StatusStopToCalibrate)
			return nil
		}
		return v.write(protocol.Calibrate)
	case ActionBaseline:
		return v.read(protocol.R0)
	case ActionChannel:
		cc, ok := protocol.ChannelCommand(cmd.Channel)
		if !ok {
			return fmt.Errorf("viewer: channel %d out of range", cmd.Channel)
		}
		return v.read(cc)
	case ActionHelp:
		v.display.Status(Usage)
	}
	return nil
}

// HandleMessage renders one frame from the meter. Only value frames are
// shown; read requests are not expected from the device.
func (v *Viewer) HandleMessage(msg protocol.Message) {
	if msg.Direction != protocol.Write {
		v.log.WithField("message", msg).Debug("ignoring non-write frame")
		return
	}
	switch msg.Command {
	case protocol.R0:
		v.display.Baseline(float64(msg.Float()))
	case protocol.CalcVal0:
		v.display.Reading(float64(msg.Float()))
	case protocol.CalcVal1, protocol.CalcVal2, protocol.CalcVal3:
		v.display.Channel(int(msg.Command-protocol.CalcVal0), float64(msg.Float()))
	case protocol.Status:
		text := strings.Join(strings.Fields(msg.Text()), " ")
		v.trackStatus(text)
		v.display.Status(text)
	default:
		v.log.WithField("command", msg.Command).Debug("ignoring frame")
	}
}

// HandleState follows the central session. When the link becomes usable
// the viewer asks for the current baseline.
func (v *Viewer) HandleState(_, to ble.CentralState) {
	switch to {
	case ble.CentralScanning:
		v.display.Status(StatusConnecting)
	case ble.CentralReady:
		v.display.Status(StatusReady)
		if err := v.read(protocol.R0); err != nil {
			v.log.WithError(err).Warn("baseline request failed")
		}
	case ble.CentralDisconnected:
		v.setMeasuring(false)
		v.display.Status(StatusDisconnected)
	case ble.CentralError:
		v.setMeasuring(false)
	}
}

// trackStatus keeps the measuring flag in line with what the device reports.
func (v *Viewer) trackStatus(text string) {
	switch {
	case strings.HasPrefix(text, "Warming up"), text == meter.StatusMeasuring:
		v.setMeasuring(true)
	case text == meter.StatusReady, text == meter.StatusSensorError:
		v.setMeasuring(false)
	}
}

func (v *Viewer) setMeasuring(on bool) {
	v.mu.Lock()
	v.measuring = on
	v.mu.Unlock()
}

func (v *Viewer) write(cmd protocol.Command) error {
	return v.send.Send(cmd, protocol.Write, nil)
}

func (v *Viewer) read(cmd protocol.Command) error {
	return v.send.Send(cmd, protocol.Read, nil)
}
