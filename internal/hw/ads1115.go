// Package hw provides the meter's hardware drivers: an ADS1115 ADC and GPIO
// pins through periph.io, plus a simulated MQ3 for machines without the
// sensor attached.
package hw

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
)

const (
	// FullScale is the ADS1115 programmable gain range the MQ3 divider is
	// read with. Raw counts of 32767 correspond to this voltage.
	FullScale = 4096 * physic.MilliVolt

	// SampleRate is the conversion data rate per single-shot read.
	SampleRate = 860 * physic.Hertz

	channels = 4
)

// ADS1115 reads the four single-ended channels of an ADS1115.
type ADS1115 struct {
	dev *ads1x15.Dev

	mu   sync.Mutex
	pins [channels]ads1x15.PinADC
}

// OpenADS1115 binds the converter at addr on bus.
func OpenADS1115(bus i2c.Bus, addr uint16) (*ADS1115, error) {
	opts := ads1x15.DefaultOpts
	if addr != 0 {
		opts.I2cAddress = addr
	}
	dev, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		return nil, fmt.Errorf("hw: ads1115 at 0x%02x: %w", opts.I2cAddress, err)
	}
	return &ADS1115{dev: dev}, nil
}

// ReadChannel performs one single-shot conversion on ch (0-3). Negative
// readings from noise around ground are clamped to 0.
func (a *ADS1115) ReadChannel(ch int) (int, error) {
	if ch < 0 || ch >= channels {
		return 0, fmt.Errorf("hw: ads1115 channel %d out of range", ch)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pin := a.pins[ch]
	if pin == nil {
		var err error
		pin, err = a.dev.PinForChannel(ads1x15.Channel0+ads1x15.Channel(ch), FullScale, SampleRate, ads1x15.BestQuality)
		if err != nil {
			return 0, fmt.Errorf("hw: ads1115 channel %d: %w", ch, err)
		}
		a.pins[ch] = pin
	}

	sample, err := pin.Read()
	if err != nil {
		return 0, fmt.Errorf("hw: ads1115 read channel %d: %w", ch, err)
	}
	return max(int(sample.Raw), 0), nil
}

// Close halts every channel that was opened.
func (a *ADS1115) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var first error
	for i, pin := range a.pins {
		if pin == nil {
			continue
		}
		if err := pin.Halt(); err != nil && first == nil {
			first = err
		}
		a.pins[i] = nil
	}
	return first
}
