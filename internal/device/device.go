// Package device runs the meter's peripheral role: it serves the GATT
// service, feeds received commands to the measurement pipeline and notifies
// the pipeline's output back to the client.
package device

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/chaz8081/alcoholmeter/internal/ble"
	"github.com/chaz8081/alcoholmeter/internal/ble/protocol"
	"github.com/chaz8081/alcoholmeter/internal/meter"
	"github.com/chaz8081/alcoholmeter/internal/metrics"
)

// Options wires a Device.
type Options struct {
	Transport ble.PeripheralTransport
	Layout    ble.Layout
	Codec     *protocol.Codec // nil means protocol.DefaultCodec
	Hardware  meter.Hardware
	Meter     meter.Options
	Metrics   *metrics.AppMetrics // optional

	// CommandRate caps command frames per second from the central, with
	// bursts up to CommandBurst. Zero disables the cap.
	CommandRate  float64
	CommandBurst int

	// CalibrateOnStart runs one clean-air calibration as soon as the
	// service is up.
	CalibrateOnStart bool
}

// Status is the device's externally visible state.
type Status struct {
	Session  string            `json:"session"`
	Central  string            `json:"central,omitempty"`
	Pipeline string            `json:"pipeline"`
	Sensor   meter.SensorState `json:"sensor"`
}

// Device owns one peripheral session and one pipeline.
type Device struct {
	periph   *ble.Peripheral
	pipeline *meter.Pipeline
	opts     Options
	log      logrus.FieldLogger
}

// New builds the device. Nothing touches the transport or hardware until Run.
func New(opts Options, log logrus.FieldLogger) *Device {
	popts := ble.PeripheralOptions{Layout: opts.Layout, Codec: opts.Codec}
	if opts.Metrics != nil {
		popts.Frames = opts.Metrics.FrameCounter("peripheral")
	}
	periph := ble.NewPeripheral(opts.Transport, popts, log)

	mopts := opts.Meter
	if opts.Metrics != nil {
		m, next := opts.Metrics, mopts.OnCalibrated
		mopts.OnCalibrated = func(r0 float64, err error) {
			m.ObserveCalibration(err)
			if next != nil {
				next(r0, err)
			}
		}
		periph.OnStateChange(func(_, to ble.PeripheralState) {
			m.SetSessionState("peripheral", int(to))
		})
	}

	pipeline := meter.New(opts.Hardware, NewOutbox(periph, opts.Metrics, log), mopts, log.WithField("component", "pipeline"))
	var limiter *rate.Limiter
	if opts.CommandRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.CommandRate), max(opts.CommandBurst, 1))
	}
	dispatch := NewDispatcher(pipeline, limiter, log)
	if opts.Metrics != nil {
		dispatch.OnThrottled(opts.Metrics.Throttled.Inc)
	}
	periph.OnMessage(dispatch.HandleMessage)
	if opts.Metrics != nil {
		opts.Metrics.Baseline.Set(pipeline.Baseline())
	}

	return &Device{periph: periph, pipeline: pipeline, opts: opts, log: log}
}

// Peripheral returns the device's BLE session.
func (d *Device) Peripheral() *ble.Peripheral { return d.periph }

// Pipeline returns the device's measurement pipeline.
func (d *Device) Pipeline() *meter.Pipeline { return d.pipeline }

// Status returns a snapshot of the session and the latest readings.
func (d *Device) Status() Status {
	sensor := d.pipeline.Snapshot()
	return Status{
		Session:  d.periph.State().String(),
		Central:  d.periph.Central(),
		Pipeline: sensor.State,
		Sensor:   sensor,
	}
}

// Run advertises the service and processes transport events until ctx is
// cancelled. On return the sensor is powered down and advertising stopped.
func (d *Device) Run(ctx context.Context) error {
	if err := d.periph.Start(); err != nil {
		return err
	}
	defer func() {
		d.pipeline.Close()
		if err := d.periph.Stop(); err != nil {
			d.log.WithError(err).Warn("stopping peripheral")
		}
	}()

	if d.opts.CalibrateOnStart {
		if err := d.pipeline.Calibrate(); err != nil {
			d.log.WithError(err).Warn("startup calibration skipped")
		}
	}

	err := d.periph.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
