package hw

import (
	"math/rand/v2"
	"sync"

	"github.com/chaz8081/alcoholmeter/internal/meter"
)

// SimOptions tunes a Simulator.
type SimOptions struct {
	R0              float64 // the simulated sensor's true clean-air baseline
	Noise           float64 // standard deviation of raw counts
	DetectThreshold float64 // mg/L at which the comparator output goes high
	Seed            uint64
}

// DefaultSimOptions returns a sensor matching the stock calibration.
func DefaultSimOptions() SimOptions {
	return SimOptions{
		R0:              0.18,
		Noise:           8,
		DetectThreshold: 0.25,
		Seed:            1,
	}
}

// Simulator stands in for the MQ3, its ADC and its GPIO lines. Channel 0
// reads the divider voltage for the current alcohol level while powered and
// 0 otherwise; channels 1-3 read noise around ground.
type Simulator struct {
	opts SimOptions

	mu      sync.Mutex
	rng     *rand.Rand
	powered bool
	alcohol float64
}

// NewSimulator builds an unpowered simulator in clean air.
func NewSimulator(opts SimOptions) *Simulator {
	if opts.R0 <= 0 {
		opts.R0 = DefaultSimOptions().R0
	}
	return &Simulator{
		opts: opts,
		rng:  rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
}

// SetAlcohol sets the concentration the sensor is exposed to.
func (s *Simulator) SetAlcohol(mgPerL float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alcohol = max(mgPerL, 0)
}

// ReadChannel implements meter.ADC.
func (s *Simulator) ReadChannel(ch int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw float64
	if ch == 0 && s.powered {
		raw = dividerRaw(ratioFor(s.alcohol) * s.opts.R0)
	}
	raw += s.rng.NormFloat64() * s.opts.Noise
	return int(min(max(raw, 0), meter.Resolution)), nil
}

// Set implements meter.Pin for the heater enable line.
func (s *Simulator) Set(high bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.powered = high
	return nil
}

// Powered reports the heater line level.
func (s *Simulator) Powered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.powered
}

// Read implements meter.DigitalInput for the comparator output.
func (s *Simulator) Read() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.powered && s.alcohol >= s.opts.DetectThreshold, nil
}

// ratioFor inverts meter.Concentration. Clean air reads as CleanAirRatio.
func ratioFor(mgPerL float64) float64 {
	var r float64
	switch {
	case mgPerL <= 0:
		return meter.CleanAirRatio
	case mgPerL < 0.1:
		r = 0.1 * 20 / mgPerL
	case mgPerL <= 1:
		r = 20 - (mgPerL-0.1)*17/0.9
	default:
		r = 3 / mgPerL
	}
	return min(r, meter.CleanAirRatio)
}

// dividerRaw is the ADC count for a sensor resistance rs, in load-resistor
// units.
func dividerRaw(rs float64) float64 {
	volts := meter.SupplyVoltage / (rs + 1)
	return volts / meter.ADCRange * meter.Resolution
}
