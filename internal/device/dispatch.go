package device

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/chaz8081/alcoholmeter/internal/ble/protocol"
)

// Controller is the pipeline as seen by incoming commands.
type Controller interface {
	Start() error
	Stop() error
	Calibrate() error
	ReadChannel(ch int) error
	SendBaseline()
}

// Dispatcher routes decoded command frames to a Controller.
//
//	write start/stop/calibrate  -> Start, Stop, Calibrate
//	read calc0..calc3           -> ReadChannel(0..3)
//	read r0                     -> SendBaseline
//
// Anything else is ignored. Frames beyond the limiter's rate are dropped
// before they reach the controller.
type Dispatcher struct {
	ctl       Controller
	limiter   *rate.Limiter // nil means unlimited
	throttled func()
	log       logrus.FieldLogger
}

// NewDispatcher returns a Dispatcher driving ctl. A nil limiter accepts
// every frame.
func NewDispatcher(ctl Controller, limiter *rate.Limiter, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{ctl: ctl, limiter: limiter, log: log}
}

// OnThrottled registers fn to run for every dropped frame.
func (d *Dispatcher) OnThrottled(fn func()) {
	d.throttled = fn
}

// HandleMessage applies one command. Controller errors are logged; the
// client learns the outcome from the status frames the pipeline sends.
func (d *Dispatcher) HandleMessage(msg protocol.Message) {
	log := d.log.WithFields(logrus.Fields{"command": msg.Command, "direction": msg.Direction})
	if d.limiter != nil && !d.limiter.Allow() {
		log.Debug("command rate exceeded, dropping")
		if d.throttled != nil {
			d.throttled()
		}
		return
	}

	var err error
	switch msg.Direction {
	case protocol.Write:
		switch msg.Command {
		case protocol.Start:
			err = d.ctl.Start()
		case protocol.Stop:
			err = d.ctl.Stop()
		case protocol.Calibrate:
			err = d.ctl.Calibrate()
		default:
			log.Debug("ignoring command")
			return
		}
	case protocol.Read:
		switch msg.Command {
		case protocol.CalcVal0, protocol.CalcVal1, protocol.CalcVal2, protocol.CalcVal3:
			err = d.ctl.ReadChannel(int(msg.Command - protocol.CalcVal0))
		case protocol.R0:
			d.ctl.SendBaseline()
		default:
			log.Debug("ignoring read request")
			return
		}
	default:
		log.Debug("ignoring frame with unknown direction")
		return
	}

	if err != nil {
		log.WithError(err).Warn("command rejected")
		return
	}
	log.Info("command applied")
}
