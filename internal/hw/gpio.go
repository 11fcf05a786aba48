package hw

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// OutputPin is a GPIO line driven by the meter, such as the MQ3 heater
// enable.
type OutputPin struct {
	pin gpio.PinIO
}

// OpenOutput looks up name (for example "GPIO17") and drives it low.
func OpenOutput(name string) (*OutputPin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("hw: no gpio named %q", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("hw: %s as output: %w", name, err)
	}
	return &OutputPin{pin: p}, nil
}

// Set drives the pin high or low.
func (o *OutputPin) Set(high bool) error {
	level := gpio.Low
	if high {
		level = gpio.High
	}
	if err := o.pin.Out(level); err != nil {
		return fmt.Errorf("hw: set %s: %w", o.pin.Name(), err)
	}
	return nil
}

// InputPin is a GPIO line read by the meter, such as the MQ3 comparator
// output.
type InputPin struct {
	pin gpio.PinIO
}

// OpenInput looks up name and configures it as a pulled-down input.
func OpenInput(name string) (*InputPin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("hw: no gpio named %q", name)
	}
	if err := p.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("hw: %s as input: %w", name, err)
	}
	return &InputPin{pin: p}, nil
}

// Read returns true when the line is high.
func (i *InputPin) Read() (bool, error) {
	return i.pin.Read() == gpio.High, nil
}
