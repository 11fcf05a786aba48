package hw

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// BoardConfig names the buses and lines the sensor is wired to.
type BoardConfig struct {
	I2CBus     string // "" selects the first bus
	ADCAddress uint16
	PowerPin   string
	StatusPin  string // optional
}

// Board is the opened sensor hardware.
type Board struct {
	ADC    *ADS1115
	Power  *OutputPin
	Status *InputPin // nil when no status pin is configured

	bus i2c.BusCloser
}

// OpenBoard initializes the host drivers and opens every configured device.
// On error nothing is left open.
func OpenBoard(cfg BoardConfig, log logrus.FieldLogger) (*Board, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("hw: host init: %w", err)
	}
	for _, f := range state.Failed {
		log.WithField("driver", f.D.String()).WithError(f.Err).Debug("periph driver failed")
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("hw: open i2c bus %q: %w", cfg.I2CBus, err)
	}
	b := &Board{bus: bus}

	if b.ADC, err = OpenADS1115(bus, cfg.ADCAddress); err != nil {
		bus.Close()
		return nil, err
	}
	if b.Power, err = OpenOutput(cfg.PowerPin); err != nil {
		b.Close()
		return nil, err
	}
	if cfg.StatusPin != "" {
		if b.Status, err = OpenInput(cfg.StatusPin); err != nil {
			b.Close()
			return nil, err
		}
	}

	log.WithFields(logrus.Fields{
		"bus":   bus.String(),
		"adc":   fmt.Sprintf("0x%02x", cfg.ADCAddress),
		"power": cfg.PowerPin,
	}).Info("sensor hardware ready")
	return b, nil
}

// Close drives the power line low and releases the bus.
func (b *Board) Close() error {
	var errs []error
	if b.Power != nil {
		errs = append(errs, b.Power.Set(false))
	}
	if b.ADC != nil {
		errs = append(errs, b.ADC.Close())
	}
	errs = append(errs, b.bus.Close())
	return errors.Join(errs...)
}
