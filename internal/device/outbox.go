package device

import (
	"github.com/sirupsen/logrus"

	"github.com/chaz8081/alcoholmeter/internal/ble/protocol"
	"github.com/chaz8081/alcoholmeter/internal/metrics"
)

// Notifier sends frames to the connected central.
type Notifier interface {
	Notify(cmd protocol.Command, dir protocol.Direction, payload []byte) error
	SendStatus(text string) error
}

// Outbox turns pipeline output into frames. It implements meter.Sink.
type Outbox struct {
	n       Notifier
	metrics *metrics.AppMetrics // may be nil
	log     logrus.FieldLogger
}

// NewOutbox returns an Outbox writing through n.
func NewOutbox(n Notifier, m *metrics.AppMetrics, log logrus.FieldLogger) *Outbox {
	return &Outbox{n: n, metrics: m, log: log}
}

func (o *Outbox) Status(text string) {
	if err := o.n.SendStatus(text); err != nil {
		o.log.WithError(err).WithField("status", text).Warn("status not sent")
	}
}

func (o *Outbox) Concentration(mgPerL float64) {
	if o.metrics != nil {
		o.metrics.Concentration.Set(mgPerL)
	}
	o.send(protocol.CalcVal0, mgPerL)
}

func (o *Outbox) Voltage(volts float64) {
	o.send(protocol.Adc0, volts)
}

func (o *Outbox) Baseline(r0 float64) {
	if o.metrics != nil {
		o.metrics.Baseline.Set(r0)
	}
	o.send(protocol.R0, r0)
}

// Channel answers a raw channel read request on the channel's CalcVal
// command.
func (o *Outbox) Channel(ch int, raw float64) {
	cmd, ok := protocol.ChannelCommand(ch)
	if !ok {
		o.log.WithField("channel", ch).Warn("no command for channel")
		return
	}
	o.send(cmd, raw)
}

func (o *Outbox) send(cmd protocol.Command, v float64) {
	if err := o.n.Notify(cmd, protocol.Write, protocol.FloatToBytes(float32(v))); err != nil {
		o.log.WithError(err).WithField("command", cmd).Warn("frame not sent")
	}
}
